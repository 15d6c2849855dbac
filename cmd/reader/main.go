package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-reader/internal/bridge"
	"github.com/liuscraft/orion-reader/internal/camera"
	"github.com/liuscraft/orion-reader/internal/config"
	"github.com/liuscraft/orion-reader/internal/imaging"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/ocr"
	"github.com/liuscraft/orion-reader/internal/reader"
	"github.com/liuscraft/orion-reader/internal/server"
	"github.com/liuscraft/orion-reader/internal/speech"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup always happens
// before the process ends.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "config file path (JSON or YAML)")
	imagePath := fs.String("image", "", "read the text of an image file")
	typed := fs.String("text", "", "speak typed text")
	capture := fs.Bool("capture", false, "capture a frame from the camera (Enter captures, q then Enter cancels)")
	serve := fs.Bool("serve", false, "run the web interface")
	lang := fs.String("lang", "", "OCR language (overrides ocr.default_language)")
	autoRead := fs.Bool("auto-read", true, "speak extracted text automatically")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*serve && *imagePath == "" && !*capture && *typed == "" {
		fs.Usage()
		return 2
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *lang != "" {
		appConfig.OCR.DefaultLanguage = *lang
		if err := appConfig.Validate(); err != nil {
			fmt.Fprintf(stderr, "Invalid config: %v\n", err)
			return 1
		}
	}
	if err := appConfig.ValidateKeys(); err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return 1
	}

	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(stderr, "Failed to init logger: %v\n", err)
		return 1
	}
	defer logging.Sync()
	logging.SetTraceID(logging.NewTraceID())

	limitOCRThreads(appConfig.OCR.OMPThreadLimit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := bridge.NewHub()
	backend, release, err := newBackend(appConfig.Speech, hub)
	if err != nil {
		logging.Errorf("Failed to create speech backend: %v", err)
		return 1
	}
	defer release()

	// Notices are printed on the caller's goroutine; the bus copy feeds
	// connected pages in serve mode.
	printNotice := func(level, message string) {
		fmt.Fprintf(stderr, "[%s] %s\n", level, message)
	}
	bus := reader.NewEventBus()
	publish := reader.NoticeNotifier(bus)
	announcer := speech.NewAnnouncer(backend, speech.AnnouncerConfig{
		Rate:          appConfig.Speech.Rate,
		Volume:        appConfig.Speech.Volume,
		NothingToRead: appConfig.Reader.Phrases.NothingToRead,
		Timeout:       appConfig.Timeouts.Speech(),
		Notify: func(level, message string) {
			printNotice(level, message)
			publish(level, message)
		},
	})
	if err := announcer.Start(ctx); err != nil {
		logging.Errorf("Failed to start speech: %v", err)
		return 1
	}
	defer announcer.Stop()

	extractor := ocr.NewExtractor(newEngine(appConfig.OCR), appConfig.OCR.Languages)
	extractor.SetTimeout(appConfig.Timeouts.OCR())

	orch := reader.NewOrchestrator(reader.Deps{
		Normalizer: imaging.NewNormalizer(appConfig.Image.MaxDimension, appConfig.Image.Threshold),
		Extractor:  extractor,
		Announcer:  announcer,
		Bus:        bus,
		Notify:     func(n reader.Notice) { printNotice(n.Level, n.Message) },
	}, reader.Options{
		AutoRead: *autoRead && appConfig.Reader.AutoRead,
		Language: appConfig.OCR.DefaultLanguage,
		Phrases:  appConfig.Reader.Phrases,
	})

	logging.Infof("Reader ready (backend=%s, language=%s)", backend.Name(), orch.Language())

	switch {
	case *serve:
		err = runServer(ctx, orch, announcer, hub, appConfig)
	case *imagePath != "":
		err = readImage(ctx, stdout, orch, *imagePath)
	case *capture:
		err = readCamera(ctx, stdout, orch, appConfig.Camera)
	default:
		err = orch.ReadTyped(ctx, *typed)
	}
	if err != nil && !errors.Is(err, camera.ErrCancelled) && !errors.Is(err, context.Canceled) {
		logging.Errorf("Reader: %v", err)
		return 1
	}
	return 0
}

// runServer serves until ctx ends; speech is silenced as soon as the
// server goes down.
func runServer(ctx context.Context, orch reader.Orchestrator, announcer *speech.Announcer, hub *bridge.Hub, cfg *config.AppConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(orch, hub, cfg).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return announcer.Stop()
	})
	return g.Wait()
}

func readImage(ctx context.Context, stdout io.Writer, orch reader.Orchestrator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := orch.ReadImage(ctx, reader.SourceUpload, data, "")
	if out.Text != "" {
		fmt.Fprintln(stdout, out.Text)
	}
	return err
}

func readCamera(ctx context.Context, stdout io.Writer, orch reader.Orchestrator, cfg config.CameraConfig) error {
	opener := camera.FFmpegOpener{
		Binary:    cfg.Binary,
		InputKind: cfg.InputKind,
		Device:    cfg.Device,
		FrameRate: cfg.FrameRate,
	}
	out, err := orch.ReadFromCamera(ctx, opener, camera.KeyEvents(os.Stdin), "")
	if out.Text != "" {
		fmt.Fprintln(stdout, out.Text)
	}
	return err
}

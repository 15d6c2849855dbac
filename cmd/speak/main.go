package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-reader/internal/audio"
	"github.com/liuscraft/orion-reader/internal/config"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/text"
	"github.com/liuscraft/orion-reader/internal/tts"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	inputText := flag.String("text", "Reading document from uploaded image. Hello world.", "Text to synthesize")
	providerName := flag.String("provider", "", "espeak, dashscope or edge (defaults to speech.provider)")
	rate := flag.Float64("rate", 1.0, "Speech rate multiplier")
	volume := flag.Float64("volume", 1.0, "Volume (0-1)")
	segmenterMax := flag.Int("segmenter-max", 200, "Max runes per sentence sent to the synthesizer")
	output := flag.String("output", "", "Write raw PCM16 to file instead of playing")
	flag.Parse()

	if err := logging.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetTraceID(logging.NewTraceID())

	appConfig, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("load config failed: %v", err)
	}
	speechCfg := appConfig.Speech
	if p := strings.TrimSpace(*providerName); p != "" {
		speechCfg.Provider = p
	}

	provider, cfg, err := providerFor(speechCfg)
	if err != nil {
		logging.Fatalf("%v", err)
	}
	cfg.Rate = *rate
	cfg.Volume = *volume

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := provider.Start(ctx, cfg)
	if err != nil {
		logging.Fatalf("start tts stream failed: %v", err)
	}
	logging.Infof("%s stream started (%d Hz, %d ch)", provider.Name(), stream.SampleRate(), stream.Channels())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sink(gctx, stream, *output)
	})
	g.Go(func() error {
		for _, sentence := range text.Split(*inputText, *segmenterMax) {
			if err := stream.WriteTextChunk(gctx, sentence); err != nil {
				return fmt.Errorf("send text chunk: %w", err)
			}
		}
		finishCtx, cancel := context.WithTimeout(gctx, 30*time.Second)
		defer cancel()
		return stream.Close(finishCtx)
	})
	if err := g.Wait(); err != nil {
		logging.Errorf("speak failed: %v", err)
		os.Exit(1)
	}
	logging.Infof("done")
}

func providerFor(cfg config.SpeechConfig) (tts.Provider, tts.Config, error) {
	switch cfg.Provider {
	case "espeak":
		return tts.NewEspeakProvider(cfg.Espeak.Binary, cfg.Espeak.WordsPerMinute), tts.Config{Voice: cfg.Espeak.Voice}, nil
	case "edge":
		return tts.NewEdgeProvider(cfg.Edge.Voice), tts.Config{Voice: cfg.Edge.Voice}, nil
	case "dashscope":
		return tts.NewDashScopeProvider(), tts.Config{
			APIKey:     cfg.DashScope.APIKey,
			Endpoint:   cfg.DashScope.Endpoint,
			Workspace:  cfg.DashScope.Workspace,
			Model:      cfg.DashScope.Model,
			Voice:      cfg.DashScope.Voice,
			SampleRate: cfg.DashScope.SampleRate,
		}, nil
	}
	return nil, tts.Config{}, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func sink(ctx context.Context, stream tts.Stream, output string) error {
	reader := stream.AudioReader()
	defer reader.Close()

	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		n, err := io.Copy(file, reader)
		logging.Infof("wrote %d bytes of PCM16 to %s", n, output)
		return err
	}

	player, err := audio.NewPortAudioPlayer()
	if err != nil {
		return err
	}
	defer player.Close()
	return player.Play(ctx, reader, stream.SampleRate(), stream.Channels())
}

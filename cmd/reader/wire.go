package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/liuscraft/orion-reader/internal/audio"
	"github.com/liuscraft/orion-reader/internal/bridge"
	"github.com/liuscraft/orion-reader/internal/config"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/ocr"
	"github.com/liuscraft/orion-reader/internal/ocr/tesseract"
	"github.com/liuscraft/orion-reader/internal/speech"
	"github.com/liuscraft/orion-reader/internal/tts"
)

// limitOCRThreads pins the engine's OpenMP pool unless the environment
// already chose a value.
func limitOCRThreads(limit int) {
	if limit <= 0 {
		return
	}
	if _, ok := os.LookupEnv("OMP_THREAD_LIMIT"); ok {
		return
	}
	_ = os.Setenv("OMP_THREAD_LIMIT", strconv.Itoa(limit))
}

func newEngine(cfg config.OCRConfig) ocr.Engine {
	if cfg.Engine == "cli" {
		return ocr.NewCLIEngine(cfg.Binary, cfg.TessdataPrefix)
	}
	return tesseract.NewEngine(cfg.TessdataPrefix)
}

func newProvider(cfg config.SpeechConfig) (tts.Provider, tts.Config) {
	switch cfg.Provider {
	case "dashscope":
		return tts.NewDashScopeProvider(), tts.Config{
			APIKey:     cfg.DashScope.APIKey,
			Endpoint:   cfg.DashScope.Endpoint,
			Workspace:  cfg.DashScope.Workspace,
			Model:      cfg.DashScope.Model,
			Voice:      cfg.DashScope.Voice,
			SampleRate: cfg.DashScope.SampleRate,
		}
	case "edge":
		return tts.NewEdgeProvider(cfg.Edge.Voice), tts.Config{Voice: cfg.Edge.Voice}
	default:
		return tts.NewEspeakProvider(cfg.Espeak.Binary, cfg.Espeak.WordsPerMinute), tts.Config{Voice: cfg.Espeak.Voice}
	}
}

// newBackend returns the configured speech backend and a release func for
// whatever device it holds.
func newBackend(cfg config.SpeechConfig, hub *bridge.Hub) (speech.Backend, func(), error) {
	switch cfg.Backend {
	case "browser":
		return speech.NewBrowserBackend(hub), func() {}, nil
	case "script":
		return speech.NewScriptBackend(hub), func() {}, nil
	case "local":
		player, err := audio.NewPortAudioPlayer()
		if err != nil {
			return nil, nil, fmt.Errorf("open audio output: %w", err)
		}
		provider, base := newProvider(cfg)
		logging.Infof("Speech: local backend with %s", provider.Name())
		return speech.NewLocalBackend(provider, player, base), func() { _ = player.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown speech backend %q", cfg.Backend)
	}
}

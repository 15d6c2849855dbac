package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	espeakSampleRate     = 22050
	espeakWordsPerMinute = 170
)

// EspeakProvider runs the espeak-ng binary offline. It is the default
// provider because it needs neither network nor credentials.
type EspeakProvider struct {
	Binary         string
	WordsPerMinute int
}

func NewEspeakProvider(binary string, wordsPerMinute int) *EspeakProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "espeak-ng"
	}
	if wordsPerMinute <= 0 {
		wordsPerMinute = espeakWordsPerMinute
	}
	return &EspeakProvider{Binary: binary, WordsPerMinute: wordsPerMinute}
}

func (p *EspeakProvider) Name() string { return "espeak" }

func (p *EspeakProvider) Start(ctx context.Context, cfg Config) (Stream, error) {
	path, err := exec.LookPath(p.Binary)
	if err != nil {
		return nil, err
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = espeakSampleRate
	}
	args := p.args(cfg)

	synth := func(ctx context.Context, text string) ([]byte, int, int, error) {
		cmd := exec.CommandContext(ctx, path, args...)
		cmd.Stdin = strings.NewReader(text)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, 0, ctxErr
			}
			return nil, 0, 0, fmt.Errorf("%s: %w: %s", p.Binary, err, strings.TrimSpace(stderr.String()))
		}
		format, data, err := parseWAV(stdout.Bytes())
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%s output: %w", p.Binary, err)
		}
		return data, format.SampleRate, format.Channels, nil
	}

	// espeak applies the volume itself through its amplitude flag.
	return newBatchStream(synth, rate, 1, 1), nil
}

func (p *EspeakProvider) args(cfg Config) []string {
	speed := cfg.Rate
	if speed <= 0 {
		speed = 1
	}
	volume := cfg.Volume
	if volume < 0 || volume > 1 {
		volume = 1
	}
	args := []string{"--stdout", "--stdin",
		"-s", strconv.Itoa(int(float64(p.WordsPerMinute) * speed)),
		"-a", strconv.Itoa(int(volume * 100)),
	}
	if cfg.Voice != "" {
		args = append(args, "-v", cfg.Voice)
	}
	return args
}

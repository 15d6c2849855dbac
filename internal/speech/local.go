package speech

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-reader/internal/audio"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/text"
	"github.com/liuscraft/orion-reader/internal/tts"
)

// segmentRunes caps a single chunk sent to streaming providers.
const segmentRunes = 200

// LocalBackend synthesizes on this machine and plays through the sound
// card. Speak blocks until playback ends or the utterance is cancelled.
type LocalBackend struct {
	provider tts.Provider
	player   audio.Player
	base     tts.Config

	// speakMu serializes utterances on the single output device.
	speakMu sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
}

func NewLocalBackend(provider tts.Provider, player audio.Player, base tts.Config) *LocalBackend {
	return &LocalBackend{provider: provider, player: player, base: base}
}

func (b *LocalBackend) Name() string   { return "local/" + b.provider.Name() }
func (b *LocalBackend) Blocking() bool { return true }

func (b *LocalBackend) Start(ctx context.Context) error { return nil }

func (b *LocalBackend) Stop() error {
	_ = b.Cancel()
	if c, ok := b.player.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *LocalBackend) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

func (b *LocalBackend) Speak(ctx context.Context, u Utterance) error {
	b.speakMu.Lock()
	defer b.speakMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	cfg := b.base
	cfg.Rate = u.Rate
	cfg.Volume = u.Volume
	stream, err := b.provider.Start(ctx, cfg)
	if err != nil {
		return err
	}
	audioReader := stream.AudioReader()
	defer audioReader.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := b.player.Play(gctx, audioReader, stream.SampleRate(), stream.Channels())
		if err != nil {
			// Unblocks a provider still writing audio nobody will read.
			_ = audioReader.Close()
		}
		return err
	})
	g.Go(func() error {
		for _, segment := range text.Split(u.Text, segmentRunes) {
			if err := stream.WriteTextChunk(gctx, segment); err != nil {
				_ = audioReader.Close()
				return err
			}
		}
		return stream.Close(gctx)
	})

	err = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	if err != nil {
		logging.Debugf("LocalBackend: utterance ended: %v", err)
	}
	return err
}

package speech

import (
	"context"
	"errors"

	"github.com/liuscraft/orion-reader/internal/bridge"
	"github.com/liuscraft/orion-reader/internal/text"
)

// Broadcaster is the part of bridge.Hub the browser backends use.
type Broadcaster interface {
	Broadcast(msg bridge.Message) (int, error)
}

// BrowserBackend asks the connected page to speak with its own
// speechSynthesis. Speak returns once the message is delivered.
type BrowserBackend struct {
	hub Broadcaster
}

func NewBrowserBackend(hub Broadcaster) *BrowserBackend {
	return &BrowserBackend{hub: hub}
}

func (b *BrowserBackend) Name() string                    { return "browser" }
func (b *BrowserBackend) Blocking() bool                  { return false }
func (b *BrowserBackend) Start(ctx context.Context) error { return nil }
func (b *BrowserBackend) Stop() error                     { return b.Cancel() }

func (b *BrowserBackend) Cancel() error {
	return ignoreNoClients(b.hub.Broadcast(bridge.Message{Type: bridge.TypeCancel}))
}

func (b *BrowserBackend) Speak(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return deliver(b.hub.Broadcast(bridge.Message{
		Type:   bridge.TypeSpeak,
		Text:   text.Flatten(u.Text),
		Rate:   u.Rate,
		Volume: u.Volume,
	}))
}

// ScriptBackend serves hosts that can only inject markup: each utterance
// travels as a ready-to-run <script> element.
type ScriptBackend struct {
	hub Broadcaster
}

func NewScriptBackend(hub Broadcaster) *ScriptBackend {
	return &ScriptBackend{hub: hub}
}

func (b *ScriptBackend) Name() string                    { return "script" }
func (b *ScriptBackend) Blocking() bool                  { return false }
func (b *ScriptBackend) Start(ctx context.Context) error { return nil }
func (b *ScriptBackend) Stop() error                     { return b.Cancel() }

func (b *ScriptBackend) Cancel() error {
	return ignoreNoClients(b.hub.Broadcast(bridge.Message{Type: bridge.TypeScript, Script: RenderCancelScript()}))
}

func (b *ScriptBackend) Speak(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return deliver(b.hub.Broadcast(bridge.Message{Type: bridge.TypeScript, Script: RenderSpeechScript(u)}))
}

func deliver(_ int, err error) error {
	if errors.Is(err, bridge.ErrNoClients) {
		return ErrNoListener
	}
	return err
}

// Cancelling with nobody connected has nothing to stop.
func ignoreNoClients(_ int, err error) error {
	if errors.Is(err, bridge.ErrNoClients) {
		return nil
	}
	return err
}

package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-reader/internal/audio/pcm"
)

func makeWAV(rate, channels int, samples []int16, dataSize uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(samples)*2))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm.Bytes(samples))
	return buf.Bytes()
}

func TestParseWAV(t *testing.T) {
	samples := []int16{1, 2, 3, 4}

	tests := []struct {
		name     string
		dataSize uint32
	}{
		{"sized", 8},
		{"streaming", 0xFFFFFFFF},
		{"zero", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, data, err := parseWAV(makeWAV(22050, 1, samples, tt.dataSize))
			if err != nil {
				t.Fatalf("parseWAV() error = %v", err)
			}
			if f.SampleRate != 22050 || f.Channels != 1 {
				t.Fatalf("format = %+v", f)
			}
			if len(data) != 8 {
				t.Fatalf("data length = %d, want 8", len(data))
			}
		})
	}

	if _, _, err := parseWAV([]byte("not a wav file")); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestBufferedPipe(t *testing.T) {
	p := newBufferedPipe(4)
	if _, err := p.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	p.Close()
	got, err := io.ReadAll(p)
	if err != nil || string(got) != "hello" {
		t.Fatalf("ReadAll() = %q, %v", got, err)
	}
	if _, err := p.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Write after close error = %v", err)
	}

	failed := newBufferedPipe(4)
	boom := errors.New("boom")
	failed.CloseWithError(boom)
	if _, err := io.ReadAll(failed); !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
}

func TestBatchStreamConverts(t *testing.T) {
	var gotText string
	synth := func(ctx context.Context, text string) ([]byte, int, int, error) {
		gotText = text
		// Two stereo frames at 48 kHz.
		return pcm.Bytes([]int16{100, 300, 200, 400}), 48000, 2, nil
	}
	s := newBatchStream(synth, 24000, 1, 0.5)

	ctx := context.Background()
	s.WriteTextChunk(ctx, "Reading typed text.")
	s.WriteTextChunk(ctx, "   ")
	s.WriteTextChunk(ctx, "test message")
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if gotText != "Reading typed text. test message" {
		t.Fatalf("synth text = %q", gotText)
	}

	data, err := io.ReadAll(s.AudioReader())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	got := pcm.Samples(data)
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("samples = %v, want [100]", got)
	}
}

func TestBatchStreamSynthError(t *testing.T) {
	boom := errors.New("engine down")
	s := newBatchStream(func(context.Context, string) ([]byte, int, int, error) {
		return nil, 0, 0, boom
	}, 22050, 1, 1)
	s.WriteTextChunk(context.Background(), "hello")

	if err := s.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := io.ReadAll(s.AudioReader()); !errors.Is(err, boom) {
		t.Fatalf("reader error = %v", err)
	}
}

func TestEspeakProvider(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	dir := t.TempDir()
	wav := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(wav, makeWAV(22050, 1, []int16{7, 8, 9}, 0xFFFFFFFF), 0o644); err != nil {
		t.Fatal(err)
	}
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "espeak-ng")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\ncat > /dev/null\ncat " + wav + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	p := NewEspeakProvider(script, 0)
	stream, err := p.Start(context.Background(), Config{Rate: 1, Volume: 1, Voice: "hi"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stream.WriteTextChunk(context.Background(), "नमस्ते")
	if err := stream.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, _ := io.ReadAll(stream.AudioReader())
	if got := pcm.Samples(data); len(got) != 3 || got[2] != 9 {
		t.Fatalf("samples = %v", got)
	}

	args, _ := os.ReadFile(argsFile)
	if strings.TrimSpace(string(args)) != "--stdout --stdin -s 170 -a 100 -v hi" {
		t.Fatalf("args = %q", args)
	}
}

func TestEspeakMissingBinary(t *testing.T) {
	p := NewEspeakProvider(filepath.Join(t.TempDir(), "missing-espeak"), 0)
	if _, err := p.Start(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestEdgeProviderErrors(t *testing.T) {
	tests := []struct {
		name  string
		fetch func(voice, text string) ([]byte, error)
		want  error
	}{
		{"fetch", func(string, string) ([]byte, error) { return nil, errors.New("offline") }, ErrTransient},
		{"decode", func(string, string) ([]byte, error) { return []byte("not mp3"), nil }, ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEdgeProvider("")
			p.fetch = tt.fetch
			stream, err := p.Start(context.Background(), Config{})
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			stream.WriteTextChunk(context.Background(), "hello")
			if err := stream.Close(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Close() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEdgeProviderCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := NewEdgeProvider("en-IN-NeerjaNeural")
	p.fetch = func(voice, text string) ([]byte, error) {
		<-release
		return nil, nil
	}

	stream, _ := p.Start(context.Background(), Config{})
	stream.WriteTextChunk(context.Background(), "hello")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := stream.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close() error = %v", err)
	}
}

// fakeDashScope plays the server side of the duplex protocol.
type fakeDashScope struct {
	mu      sync.Mutex
	actions []string
	texts   []string
	fail    bool
}

func (f *fakeDashScope) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		event := func(name string, extra map[string]string) {
			header := map[string]string{"event": name}
			for k, v := range extra {
				header[k] = v
			}
			conn.WriteJSON(map[string]any{"header": header, "payload": map[string]any{}})
		}

		for {
			var msg taskMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.actions = append(f.actions, msg.Header.Action)
			f.mu.Unlock()

			switch msg.Header.Action {
			case "run-task":
				if f.fail {
					event("task-failed", map[string]string{"error_code": "InvalidParameter", "error_message": "bad voice"})
					return
				}
				event("task-started", nil)
			case "continue-task":
				f.mu.Lock()
				f.texts = append(f.texts, msg.Payload.Input["text"].(string))
				f.mu.Unlock()
				conn.WriteMessage(websocket.BinaryMessage, pcm.Bytes([]int16{1, 2}))
			case "finish-task":
				event("task-finished", nil)
				return
			}
		}
	}
}

func TestDashScopeStream(t *testing.T) {
	fake := &fakeDashScope{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")

	p := NewDashScopeProvider()
	stream, err := p.Start(context.Background(), Config{APIKey: "test-key", Endpoint: endpoint})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if stream.SampleRate() != 22050 || stream.Channels() != 1 {
		t.Fatalf("format = %d/%d", stream.SampleRate(), stream.Channels())
	}

	ctx := context.Background()
	for _, s := range []string{"HELLO WORLD", "Second line."} {
		if err := stream.WriteTextChunk(ctx, s); err != nil {
			t.Fatalf("WriteTextChunk() error = %v", err)
		}
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := io.ReadAll(stream.AudioReader())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(data) != 8 {
		t.Fatalf("audio bytes = %d, want 8", len(data))
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	want := []string{"run-task", "continue-task", "continue-task", "finish-task"}
	if strings.Join(fake.actions, ",") != strings.Join(want, ",") {
		t.Fatalf("actions = %v, want %v", fake.actions, want)
	}
	if strings.Join(fake.texts, "|") != "HELLO WORLD|Second line." {
		t.Fatalf("texts = %v", fake.texts)
	}
}

func TestDashScopeErrors(t *testing.T) {
	fake := &fakeDashScope{fail: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")

	p := NewDashScopeProvider()
	if _, err := p.Start(context.Background(), Config{Endpoint: endpoint}); !errors.Is(err, ErrAuth) {
		t.Fatalf("missing key error = %v", err)
	}
	if _, err := p.Start(context.Background(), Config{APIKey: "wrong", Endpoint: endpoint}); !errors.Is(err, ErrAuth) {
		t.Fatalf("unauthorized error = %v", err)
	}
	if _, err := p.Start(context.Background(), Config{APIKey: "test-key", Endpoint: endpoint}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("task-failed error = %v", err)
	}
}

func TestMapDashScopeError(t *testing.T) {
	tests := []struct {
		code, msg string
		want      error
	}{
		{"Unauthorized", "", ErrAuth},
		{"InvalidParameter", "voice", ErrBadRequest},
		{"", "request timeout", ErrTransient},
	}
	for _, tt := range tests {
		if err := mapDashScopeError(tt.code, tt.msg); !errors.Is(err, tt.want) {
			t.Fatalf("mapDashScopeError(%q, %q) = %v", tt.code, tt.msg, err)
		}
	}
}

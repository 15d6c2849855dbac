package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-reader/internal/logging"
)

const (
	defaultDashScopeEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	defaultDashScopeModel    = "cosyvoice-v3-flash"
	defaultDashScopeVoice    = "longanyang"
	defaultDashScopeRate     = 22050
)

// DashScopeProvider streams text over the DashScope duplex websocket and
// receives raw PCM frames while later sentences are still being sent.
type DashScopeProvider struct {
	dialer *websocket.Dialer
}

func NewDashScopeProvider() *DashScopeProvider {
	return &DashScopeProvider{dialer: websocket.DefaultDialer}
}

func (p *DashScopeProvider) Name() string { return "dashscope" }

func (p *DashScopeProvider) Start(ctx context.Context, cfg Config) (Stream, error) {
	normalized, err := normalizeDashScopeConfig(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("bearer %s", normalized.APIKey))
	header.Set("X-DashScope-DataInspection", "enable")
	if ws := strings.TrimSpace(normalized.Workspace); ws != "" {
		header.Set("X-DashScope-WorkSpace", ws)
	}
	conn, resp, err := p.dialer.DialContext(ctx, normalized.Endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: dial dashscope: %v", ErrTransient, err)
	}

	stream := &dashScopeStream{
		cfg:       normalized,
		conn:      conn,
		audio:     newBufferedPipe(1024 * 1024),
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		errCh:     make(chan error, 1),
		taskID:    strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	go stream.receive()

	if err := stream.send("run-task", stream.runPayload()); err != nil {
		stream.abort(err)
		return nil, err
	}
	if err := stream.waitStarted(ctx); err != nil {
		stream.abort(err)
		return nil, err
	}
	return stream, nil
}

func normalizeDashScopeConfig(cfg Config) (Config, error) {
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("%w: DASHSCOPE_API_KEY is required", ErrAuth)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultDashScopeEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultDashScopeModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultDashScopeVoice
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultDashScopeRate
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 1
	}
	return cfg, nil
}

type dashScopeStream struct {
	cfg       Config
	conn      *websocket.Conn
	audio     *bufferedPipe
	writeMu   sync.Mutex
	startedCh chan struct{}
	doneCh    chan struct{}
	errCh     chan error
	taskID    string

	startedOnce sync.Once
	doneOnce    sync.Once
	finishOnce  sync.Once
}

func (s *dashScopeStream) AudioReader() io.ReadCloser { return s.audio }
func (s *dashScopeStream) SampleRate() int            { return s.cfg.SampleRate }
func (s *dashScopeStream) Channels() int              { return 1 }

func (s *dashScopeStream) WriteTextChunk(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := s.waitStarted(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send("continue-task", taskPayload{Input: map[string]any{"text": text}})
}

func (s *dashScopeStream) Close(ctx context.Context) error {
	var finishErr error
	s.finishOnce.Do(func() {
		finishErr = s.send("finish-task", taskPayload{Input: map[string]any{}})
	})
	if finishErr != nil {
		s.abort(finishErr)
		return finishErr
	}

	defer s.conn.Close()
	select {
	case <-s.doneCh:
		return s.streamErr()
	case <-ctx.Done():
		s.abort(ctx.Err())
		return ctx.Err()
	}
}

func (s *dashScopeStream) runPayload() taskPayload {
	return taskPayload{
		TaskGroup: "audio",
		Task:      "tts",
		Function:  "SpeechSynthesizer",
		Model:     s.cfg.Model,
		Parameters: map[string]any{
			"text_type":   "PlainText",
			"voice":       s.cfg.Voice,
			"format":      "pcm",
			"sample_rate": s.cfg.SampleRate,
			"volume":      int(s.cfg.Volume * 100),
			"rate":        s.cfg.Rate,
			"pitch":       1.0,
		},
		Input: map[string]any{},
	}
}

func (s *dashScopeStream) send(action string, payload taskPayload) error {
	data, err := json.Marshal(taskMessage{
		Header: taskHeader{
			Action:    action,
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: payload,
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *dashScopeStream) waitStarted(ctx context.Context) error {
	select {
	case <-s.startedCh:
		return nil
	case <-s.doneCh:
		if err := s.streamErr(); err != nil {
			return err
		}
		return errors.New("dashscope task ended before starting")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *dashScopeStream) receive() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if _, err := s.audio.Write(data); err != nil {
				s.finish(err)
				return
			}
		case websocket.TextMessage:
			var event taskMessage
			if err := json.Unmarshal(data, &event); err != nil {
				s.finish(err)
				return
			}
			if s.handleEvent(event.Header) {
				return
			}
		}
	}
}

func (s *dashScopeStream) handleEvent(h taskHeader) bool {
	switch h.Event {
	case "task-started":
		s.startedOnce.Do(func() { close(s.startedCh) })
	case "task-finished":
		s.finish(nil)
		return true
	case "task-failed":
		s.finish(mapDashScopeError(h.ErrorCode, h.ErrorMessage))
		return true
	}
	return false
}

func (s *dashScopeStream) abort(err error) {
	s.finish(err)
	_ = s.conn.Close()
}

func (s *dashScopeStream) finish(err error) {
	s.doneOnce.Do(func() {
		if err != nil {
			s.errCh <- err
		}
		_ = s.audio.CloseWithError(err)
		close(s.doneCh)
	})
}

func (s *dashScopeStream) streamErr() error {
	select {
	case err := <-s.errCh:
		s.errCh <- err
		return err
	default:
		return nil
	}
}

type taskMessage struct {
	Header  taskHeader  `json:"header"`
	Payload taskPayload `json:"payload"`
}

type taskHeader struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type taskPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input"`
}

func mapDashScopeError(code, message string) error {
	logging.Errorf("TTS error: code=%s, message=%s", code, message)
	lower := strings.ToLower(code + " " + message)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "authentication"):
		return fmt.Errorf("%w: %s", ErrAuth, message)
	case strings.Contains(lower, "invalidparameter"), strings.Contains(lower, "bad request"):
		return fmt.Errorf("%w: %s", ErrBadRequest, message)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "tempor"):
		return fmt.Errorf("%w: %s", ErrTransient, message)
	}
	if message == "" {
		message = "dashscope task failed"
	}
	return errors.New(message)
}

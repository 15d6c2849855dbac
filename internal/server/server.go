// Package server is the web host shell around the reader pipeline.
package server

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liuscraft/orion-reader/internal/apperrors"
	"github.com/liuscraft/orion-reader/internal/bridge"
	"github.com/liuscraft/orion-reader/internal/config"
	"github.com/liuscraft/orion-reader/internal/logging"
	"github.com/liuscraft/orion-reader/internal/reader"
)

// maxUploadBytes caps the multipart body of an OCR upload.
const maxUploadBytes = 32 << 20

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

type Server struct {
	engine   *gin.Engine
	orch     reader.Orchestrator
	hub      *bridge.Hub
	cfg      *config.AppConfig
	unsubs   []func()
	shutdown time.Duration
}

func New(orch reader.Orchestrator, hub *bridge.Hub, cfg *config.AppConfig) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:   gin.New(),
		orch:     orch,
		hub:      hub,
		cfg:      cfg,
		shutdown: 5 * time.Second,
	}
	s.engine.Use(gin.Recovery(), loggingMiddleware())
	s.routes()
	s.forwardEvents()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/ws", gin.WrapH(s.hub))

	api := s.engine.Group("/api")
	api.POST("/ocr", s.handleOCR)
	api.GET("/text", s.handleGetText)
	api.PUT("/text", s.handlePutText)
	api.POST("/read", s.handleRead)
	api.POST("/typed", s.handleTyped)
	api.GET("/config", s.handleGetConfig)
	api.PUT("/config", s.handlePutConfig)
}

// forwardEvents mirrors notices and fresh OCR text to connected pages.
func (s *Server) forwardEvents() {
	bus := s.orch.EventBus()
	s.unsubs = append(s.unsubs,
		bus.Subscribe(reader.EventTypeNotice, func(e reader.Event) {
			n := e.(*reader.NoticeEvent).Notice
			s.broadcast(bridge.Message{Type: bridge.TypeNotice, Text: n.Message, Level: n.Level})
		}),
		bus.Subscribe(reader.EventTypeTextExtracted, func(e reader.Event) {
			s.broadcast(bridge.Message{Type: bridge.TypeText, Text: e.(*reader.TextExtractedEvent).Text})
		}),
	)
}

func (s *Server) broadcast(msg bridge.Message) {
	if _, err := s.hub.Broadcast(msg); err != nil && !errors.Is(err, bridge.ErrNoClients) {
		logging.Warnf("Server: forward %s: %v", msg.Type, err)
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Server: listening on %s", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	for _, unsub := range s.unsubs {
		unsub()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Infof("[HTTP] %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

type indexData struct {
	FontSize  int
	Languages []string
	Language  string
	AutoRead  bool
	Text      string
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(c.Writer, indexData{
		FontSize:  s.cfg.Reader.FontSize,
		Languages: s.orch.Languages(),
		Language:  s.orch.Language(),
		AutoRead:  s.orch.AutoRead(),
		Text:      s.orch.Text(),
	})
	if err != nil {
		logging.Errorf("Server: render index: %v", err)
	}
}

// pipelineContext detaches work from the request so an utterance keeps
// playing after the HTTP response is written.
func pipelineContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) handleOCR(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		writeError(c, apperrors.ImageDecode("upload", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(c, apperrors.ImageDecode("upload", err))
		return
	}

	out, err := s.orch.ReadImage(pipelineContext(c), reader.SourceUpload, data, c.PostForm("lang"))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindSpeechBackend) {
			// Text was extracted; only the announcement failed.
			c.JSON(http.StatusOK, gin.H{"outcome": out, "text": out.Text, "stats": out.Stats, "speech_error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out, "text": out.Text, "stats": out.Stats})
}

func (s *Server) handleGetText(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"text": s.orch.Text(), "stats": s.orch.Stats()})
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePutText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "bad_request"})
		return
	}
	s.orch.SetText(req.Text)
	c.JSON(http.StatusOK, gin.H{"text": req.Text, "stats": s.orch.Stats()})
}

func (s *Server) handleRead(c *gin.Context) {
	if err := s.orch.ReadAloud(pipelineContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTyped(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "bad_request"})
		return
	}
	if err := s.orch.ReadTyped(pipelineContext(c), req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"languages":      s.orch.Languages(),
		"language":       s.orch.Language(),
		"auto_read":      s.orch.AutoRead(),
		"font_size":      s.cfg.Reader.FontSize,
		"speech_backend": s.cfg.Speech.Backend,
	})
}

type configRequest struct {
	Language *string `json:"language"`
	AutoRead *bool   `json:"auto_read"`
}

func (s *Server) handlePutConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "bad_request"})
		return
	}
	if req.Language != nil {
		if err := s.orch.SetLanguage(*req.Language); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.AutoRead != nil {
		s.orch.SetAutoRead(*req.AutoRead)
	}
	s.handleGetConfig(c)
}

func writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindImageDecode, apperrors.KindConfiguration:
		return http.StatusBadRequest
	case apperrors.KindSpeechBackend, apperrors.KindCamera:
		return http.StatusServiceUnavailable
	case apperrors.KindOCREngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

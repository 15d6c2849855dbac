package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string
	Format string
}

// logContext is what every line is tagged with: the process trace and the
// pipeline run (upload, capture, typed text, read aloud) in flight.
type logContext struct {
	traceID string
	request string
	source  string
	started time.Time
	logger  *zap.SugaredLogger
}

func (c *logContext) rebind() *logContext {
	next := *c
	next.logger = sugar.With(
		"trace_id", next.traceID,
		"request_id", next.request,
		"source", next.source,
	)
	return &next
}

var (
	baseLogger *zap.Logger
	sugar      *zap.SugaredLogger
	current    atomic.Pointer[logContext]
	requestSeq atomic.Uint64
)

func init() {
	baseLogger = zap.NewNop()
	sugar = baseLogger.Sugar()
	current.Store((&logContext{traceID: "trace-unknown", request: "none", source: "none"}).rebind())
}

func active() *logContext { return current.Load() }

func InitFromEnv() error {
	return Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

func Init(cfg Config) error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "console"
	}

	var zapCfg zap.Config
	switch format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Format)
	}

	atomLevel := zap.NewAtomicLevel()
	if err := atomLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.Level)
	}
	zapCfg.Level = atomLevel

	logger, err := zapCfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.Fields(zap.String("app", "orion-reader")),
	)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	baseLogger = logger
	sugar = logger.Sugar()
	current.Store(active().rebind())
	return nil
}

func Sync() {
	_ = baseLogger.Sync()
}

func SetTraceID(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	next := *active()
	next.traceID = id
	current.Store(next.rebind())
}

func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// StartRequest tags subsequent lines with a new pipeline run until the
// next call. The id is "<source>-<n>" with n counting runs in this process.
func StartRequest(source string) string {
	id := fmt.Sprintf("%s-%d", source, requestSeq.Add(1))
	next := *active()
	next.request = id
	next.source = source
	next.started = time.Now()
	current.Store(next.rebind())
	return id
}

// RequestElapsed is the time since the current run started, or zero
// outside a run.
func RequestElapsed() time.Duration {
	c := active()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func Debugf(format string, args ...interface{}) { active().logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { active().logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { active().logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { active().logger.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { active().logger.Fatalf(format, args...) }

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/liuscraft/orion-reader/internal/apperrors"
)

const DefaultPath = "config/reader.json"

type AppConfig struct {
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	OCR      OCRConfig      `json:"ocr" yaml:"ocr"`
	Image    ImageConfig    `json:"image" yaml:"image"`
	Speech   SpeechConfig   `json:"speech" yaml:"speech"`
	Reader   ReaderConfig   `json:"reader" yaml:"reader"`
	Camera   CameraConfig   `json:"camera" yaml:"camera"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Timeouts TimeoutsConfig `json:"timeouts" yaml:"timeouts"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type OCRConfig struct {
	// Engine is "tesseract" (libtesseract through cgo) or "cli" (tesseract binary).
	Engine          string   `json:"engine" yaml:"engine"`
	Languages       []string `json:"languages" yaml:"languages"`
	DefaultLanguage string   `json:"default_language" yaml:"default_language"`
	TessdataPrefix  string   `json:"tessdata_prefix" yaml:"tessdata_prefix"`
	Binary          string   `json:"binary" yaml:"binary"`
	OMPThreadLimit  int      `json:"omp_thread_limit" yaml:"omp_thread_limit"`
}

type ImageConfig struct {
	MaxDimension int `json:"max_dimension" yaml:"max_dimension"`
	Threshold    int `json:"threshold" yaml:"threshold"`
}

type SpeechConfig struct {
	// Backend is "local", "browser" or "script".
	Backend string `json:"backend" yaml:"backend"`
	// Provider selects the synthesizer of the local backend: "espeak", "dashscope" or "edge".
	Provider  string          `json:"provider" yaml:"provider"`
	Rate      float64         `json:"rate" yaml:"rate"`
	Volume    float64         `json:"volume" yaml:"volume"`
	Espeak    EspeakConfig    `json:"espeak" yaml:"espeak"`
	DashScope DashScopeConfig `json:"dashscope" yaml:"dashscope"`
	Edge      EdgeConfig      `json:"edge" yaml:"edge"`
}

type EspeakConfig struct {
	Binary         string `json:"binary" yaml:"binary"`
	Voice          string `json:"voice" yaml:"voice"`
	WordsPerMinute int    `json:"words_per_minute" yaml:"words_per_minute"`
}

type DashScopeConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	Model      string `json:"model" yaml:"model"`
	Voice      string `json:"voice" yaml:"voice"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

type EdgeConfig struct {
	Voice string `json:"voice" yaml:"voice"`
}

type ReaderConfig struct {
	AutoRead bool          `json:"auto_read" yaml:"auto_read"`
	FontSize int           `json:"font_size" yaml:"font_size"`
	Phrases  PhrasesConfig `json:"phrases" yaml:"phrases"`
}

// PhrasesConfig holds the spoken prefixes and notices.
type PhrasesConfig struct {
	Upload        string `json:"upload" yaml:"upload"`
	Capture       string `json:"capture" yaml:"capture"`
	Typed         string `json:"typed" yaml:"typed"`
	NoText        string `json:"no_text" yaml:"no_text"`
	NothingToRead string `json:"nothing_to_read" yaml:"nothing_to_read"`
	CameraOpen    string `json:"camera_open" yaml:"camera_open"`
	CameraError   string `json:"camera_error" yaml:"camera_error"`
}

type CameraConfig struct {
	Binary    string `json:"binary" yaml:"binary"`
	InputKind string `json:"input_kind" yaml:"input_kind"`
	Device    string `json:"device" yaml:"device"`
	FrameRate int    `json:"frame_rate" yaml:"frame_rate"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type TimeoutsConfig struct {
	OCRMillis    int `json:"ocr_ms" yaml:"ocr_ms"`
	SpeechMillis int `json:"speech_ms" yaml:"speech_ms"`
}

func (t TimeoutsConfig) OCR() time.Duration {
	return time.Duration(t.OCRMillis) * time.Millisecond
}

func (t TimeoutsConfig) Speech() time.Duration {
	return time.Duration(t.SpeechMillis) * time.Millisecond
}

var (
	ocrEngines     = []string{"tesseract", "cli"}
	speechBackends = []string{"local", "browser", "script"}
	speechProvider = []string{"espeak", "dashscope", "edge"}
)

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		OCR: OCRConfig{
			Engine:          "tesseract",
			Languages:       []string{"eng", "hin", "kan", "tam"},
			DefaultLanguage: "eng",
			Binary:          "tesseract",
			OMPThreadLimit:  1,
		},
		Image: ImageConfig{
			MaxDimension: 1200,
			Threshold:    150,
		},
		Speech: SpeechConfig{
			Backend:  "local",
			Provider: "espeak",
			Rate:     1.0,
			Volume:   1.0,
			Espeak: EspeakConfig{
				Binary:         "espeak-ng",
				WordsPerMinute: 170,
			},
			DashScope: DashScopeConfig{
				Model:      "cosyvoice-v3-flash",
				Voice:      "longanyang",
				SampleRate: 22050,
			},
			Edge: EdgeConfig{
				Voice: "en-US-AriaNeural",
			},
		},
		Reader: ReaderConfig{
			AutoRead: true,
			FontSize: 18,
			Phrases: PhrasesConfig{
				Upload:        "Reading document from uploaded image.",
				Capture:       "Reading captured text.",
				Typed:         "Reading typed text.",
				NoText:        "No readable text detected in the image.",
				NothingToRead: "No text to read.",
				CameraOpen:    "Opening camera. Press space to capture, escape to cancel.",
				CameraError:   "Camera error.",
			},
		},
		Camera: CameraConfig{
			Binary:    "ffmpeg",
			InputKind: "v4l2",
			Device:    "/dev/video0",
			FrameRate: 10,
		},
		Server: ServerConfig{
			Addr: ":8501",
		},
	}
}

// Load reads JSON or YAML (by extension) on top of the defaults. A missing
// file is not an error. Variables from a local .env file are applied before
// the process environment is consulted.
func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, apperrors.Configuration("load", fmt.Errorf("read config %s: %w", path, err))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, apperrors.Configuration("load", fmt.Errorf("parse config %s: %w", path, err))
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
	if key := strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")); key != "" {
		c.Speech.DashScope.APIKey = key
	}
	if lang := strings.TrimSpace(os.Getenv("READER_LANG")); lang != "" {
		c.OCR.DefaultLanguage = lang
	}
	if backend := strings.TrimSpace(os.Getenv("READER_SPEECH_BACKEND")); backend != "" {
		c.Speech.Backend = backend
	}
	if prefix := strings.TrimSpace(os.Getenv("TESSDATA_PREFIX")); prefix != "" && c.OCR.TessdataPrefix == "" {
		c.OCR.TessdataPrefix = prefix
	}
}

func (c *AppConfig) Validate() error {
	if err := c.validate(); err != nil {
		return apperrors.Configuration("validate", err)
	}
	return nil
}

func (c *AppConfig) validate() error {
	if !slices.Contains(ocrEngines, c.OCR.Engine) {
		return fmt.Errorf("invalid ocr.engine: %s", c.OCR.Engine)
	}
	if len(c.OCR.Languages) == 0 {
		return errors.New("ocr.languages must not be empty")
	}
	if !slices.Contains(c.OCR.Languages, c.OCR.DefaultLanguage) {
		return fmt.Errorf("ocr.default_language %q is not in ocr.languages", c.OCR.DefaultLanguage)
	}
	if c.OCR.OMPThreadLimit < 0 {
		return errors.New("ocr.omp_thread_limit must be non-negative")
	}

	if c.Image.MaxDimension <= 0 {
		return errors.New("image.max_dimension must be positive")
	}
	if c.Image.Threshold < 0 || c.Image.Threshold > 255 {
		return errors.New("image.threshold must be within 0-255")
	}

	if !slices.Contains(speechBackends, c.Speech.Backend) {
		return fmt.Errorf("invalid speech.backend: %s", c.Speech.Backend)
	}
	if c.Speech.Backend == "local" && !slices.Contains(speechProvider, c.Speech.Provider) {
		return fmt.Errorf("invalid speech.provider: %s", c.Speech.Provider)
	}
	if c.Speech.Rate <= 0 {
		return errors.New("speech.rate must be positive")
	}
	if c.Speech.Volume <= 0 || c.Speech.Volume > 1 {
		return errors.New("speech.volume must be above 0 and at most 1")
	}

	if c.Reader.FontSize < 14 || c.Reader.FontSize > 28 || c.Reader.FontSize%2 != 0 {
		return fmt.Errorf("reader.font_size must be an even value within 14-28, got %d", c.Reader.FontSize)
	}

	if c.Camera.FrameRate <= 0 {
		return errors.New("camera.frame_rate must be positive")
	}
	if c.Timeouts.OCRMillis < 0 || c.Timeouts.SpeechMillis < 0 {
		return errors.New("timeouts must be non-negative")
	}
	return nil
}

// ValidateKeys checks credentials for the synthesizer actually selected.
func (c *AppConfig) ValidateKeys() error {
	if c.Speech.Backend == "local" && c.Speech.Provider == "dashscope" &&
		strings.TrimSpace(c.Speech.DashScope.APIKey) == "" {
		return apperrors.Configuration("keys", errors.New("speech.dashscope.api_key is required"))
	}
	return nil
}

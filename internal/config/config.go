// Package config loads callgest settings from environment variables with an
// optional INI file underneath.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultFile is read when CALLGEST_CONFIG is unset and the file exists.
const DefaultFile = "callgest.ini"

type Config struct {
	Port string

	// Auth
	APIKey string

	// Sentiment classification
	SentimentProvider string
	AnthropicAPIKey   string
	AnthropicModel    string
	OpenAIAPIKey      string
	OpenAIKeyFile     string
	OpenAIModel       string
	Temperature       float64
	StatsWindow       time.Duration

	// Segmentation
	MaxBlockChars int

	// Worker pool
	WorkerCount           int
	MaxQueueSize          int
	MaxConcurrentClassify int
	CallInterval          time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Batch and watch directories
	TranscriptsDir string
	OutputCSV      string
	WatchDir       string

	// SQL persistence, disabled when DBDSN is empty
	DBDriver string
	DBDSN    string

	// Pathstore sink, disabled unless both are set
	PathstoreURL    string
	PathstoreAPIKey string
	PathstorePrefix string
}

// Load reads the INI file named by CALLGEST_CONFIG (or DefaultFile when
// present) and overlays environment variables on top of it.
func Load() (Config, error) {
	path := os.Getenv("CALLGEST_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	var file *ini.File
	if _, err := os.Stat(path); err == nil || explicit {
		file, err = ini.Load(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return load(source{file: file}), nil
}

func load(src source) Config {
	cfg := Config{
		Port: src.or("PORT", "8091"),

		APIKey: src.or("CALLGEST_API_KEY", ""),

		SentimentProvider: strings.ToLower(src.or("SENTIMENT_PROVIDER", "openai")),
		AnthropicAPIKey:   src.or("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    src.or("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		OpenAIAPIKey:      src.or("OPENAI_API_KEY", ""),
		OpenAIKeyFile:     src.or("OPENAI_KEY_FILE", "openai_key.txt"),
		OpenAIModel:       src.or("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:       src.float("LLM_TEMPERATURE", 0),
		StatsWindow:       src.duration("LLM_STATS_WINDOW", time.Hour),

		MaxBlockChars: src.int("MAX_BLOCK_CHARS", 8000),

		WorkerCount:           src.int("WORKER_COUNT", 2),
		MaxQueueSize:          src.int("MAX_QUEUE_SIZE", 100),
		MaxConcurrentClassify: src.int("MAX_CONCURRENT_CLASSIFY", 4),
		CallInterval:          src.duration("CALL_INTERVAL", 200*time.Millisecond),

		MaxUploadBytes: src.int64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: src.duration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: src.bool("PDF_FALLBACK_PDFTOTEXT", true),

		TranscriptsDir: src.or("TRANSCRIPTS_DIR", "./transcripts"),
		OutputCSV:      src.or("OUTPUT_CSV", "earnings_sentiment.csv"),
		WatchDir:       src.or("WATCH_DIR", ""),

		DBDriver: src.or("DB_DRIVER", "sqlite"),
		DBDSN:    src.or("DB_DSN", ""),

		PathstoreURL:    src.or("PATHSTORE_URL", ""),
		PathstoreAPIKey: src.or("PATHSTORE_API_KEY", ""),
		PathstorePrefix: src.or("PATHSTORE_PREFIX", "earnings"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentClassify <= 0 {
		cfg.MaxConcurrentClassify = 4
	}
	if cfg.CallInterval < 0 {
		cfg.CallInterval = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate checks the settings the HTTP server cannot run without.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("CALLGEST_API_KEY is required")
	}
	return c.ValidateClassifier()
}

// ValidateClassifier checks that the chosen sentiment provider has a key.
func (c Config) ValidateClassifier() error {
	switch c.SentimentProvider {
	case "none":
		return nil
	case "anthropic", "openai":
	default:
		return fmt.Errorf("SENTIMENT_PROVIDER must be anthropic, openai or none, got %q", c.SentimentProvider)
	}
	_, err := c.ClassifierKey()
	return err
}

// ClassifierKey returns the API key for the configured provider. The OpenAI
// key falls back to the first line of OpenAIKeyFile.
func (c Config) ClassifierKey() (string, error) {
	switch c.SentimentProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
		return c.AnthropicAPIKey, nil
	case "openai":
		if c.OpenAIAPIKey != "" {
			return c.OpenAIAPIKey, nil
		}
		key, err := readKeyFile(c.OpenAIKeyFile)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", fmt.Errorf("OPENAI_API_KEY is not set and %s was not found", c.OpenAIKeyFile)
		}
		return key, nil
	}
	return "", nil
}

// ClassifierModel returns the model name for the configured provider.
func (c Config) ClassifierModel() string {
	if c.SentimentProvider == "anthropic" {
		return c.AnthropicModel
	}
	return c.OpenAIModel
}

// PathstoreEnabled reports whether rows should be mirrored to pathstore.
func (c Config) PathstoreEnabled() bool {
	return c.PathstoreURL != "" && c.PathstoreAPIKey != ""
}

func readKeyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(first), nil
}

// source resolves a key from the environment, then the INI default section
// under the lowercased key name.
type source struct {
	file *ini.File
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if s.file == nil {
		return ""
	}
	return strings.TrimSpace(s.file.Section("").Key(strings.ToLower(key)).String())
}

func (s source) or(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if v := s.lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) int64(key string, fallback int64) int64 {
	if v := s.lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) float(key string, fallback float64) float64 {
	if v := s.lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) bool(key string, fallback bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

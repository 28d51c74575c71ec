package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	API      APIConfig
	Ollama   OllamaConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type APIConfig struct {
	// Token guards the HTTP API when set.
	Token string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// LLMConfig selects and bounds the language-model provider.
type LLMConfig struct {
	// Provider is "ollama" or "openrouter".
	Provider         string
	OpenRouterAPIKey string
	OpenRouterModel  string
	Timeout          string
	MaxAttempts      int
	RatePerSecond    float64
}

type StorageConfig struct {
	DataDir string
}

type PipelineConfig struct {
	MinClusterSize int
	MinSamples     int
	TopCandidates  int
	KeywordCount   int
	Workers        int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			OpenRouterModel: "openai/gpt-4o-mini",
			Timeout:         "60s",
			MaxAttempts:     5,
			RatePerSecond:   2,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			MinClusterSize: 5,
			TopCandidates:  5,
			KeywordCount:   10,
			Workers:        1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// TimeoutDuration parses LLM.Timeout, falling back to 60s.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// SlogLevel maps Log.Level to a slog level. Unknown names mean info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration in layers: built-in defaults, the YAML file at
// $XDG_CONFIG_HOME/faqscope/config.yaml, a .env file in the working
// directory, then FAQSCOPE_* environment variables. Later layers win.
// Secrets are read from the environment (or .env) only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, dotenvPath string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(dotenvPath)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vals, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "ollama":
	case "openrouter":
		if cfg.LLM.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. " +
				"Set it via environment variable FAQSCOPE_OPENROUTER_API_KEY or llm.provider=ollama")
		}
	default:
		return fmt.Errorf("invalid llm.provider %q: want ollama or openrouter", cfg.LLM.Provider)
	}
	if cfg.Pipeline.MinClusterSize < 2 {
		return fmt.Errorf("invalid pipeline.min_cluster_size %d: must be at least 2", cfg.Pipeline.MinClusterSize)
	}
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("invalid pipeline.workers %d: must be at least 1", cfg.Pipeline.Workers)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "faqscope-data"
		}
	}
	return filepath.Join(dir, "faqscope")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "faqscope", "config.yaml")
}

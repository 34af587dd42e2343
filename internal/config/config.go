// Package config loads starcoach settings from defaults, a TOML file and
// STARCOACH_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Media      MediaConfig
	Log        LogConfig
	Transcribe TranscribeConfig
	LLM        LLMConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Pipeline   PipelineConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type MediaConfig struct {
	// RecordingsDir defaults to <data_dir>/recordings when empty.
	RecordingsDir string
	MaxUploadMB   int
}

type LogConfig struct {
	Level string
}

type TranscribeConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LLMConfig struct {
	Backend string
	Timeout time.Duration
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenRouterConfig struct {
	APIKey string
	Model  string
}

type PipelineConfig struct {
	MaxConcurrentRuns int
	PollInterval      time.Duration
}

func defaults() Config {
	return Config{
		Server:     ServerConfig{Port: 8000},
		Storage:    StorageConfig{DataDir: defaultDataDir()},
		Media:      MediaConfig{MaxUploadMB: 500},
		Log:        LogConfig{Level: "info"},
		Transcribe: TranscribeConfig{BaseURL: "http://localhost:9000", Timeout: 10 * time.Minute},
		LLM:        LLMConfig{Backend: "ollama", Timeout: 2 * time.Minute},
		Ollama:     OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-001"},
		Pipeline:   PipelineConfig{MaxConcurrentRuns: 4, PollInterval: 500 * time.Millisecond},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/starcoach/config.toml and applies STARCOACH_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Media.RecordingsDir == "" {
		cfg.Media.RecordingsDir = filepath.Join(cfg.Storage.DataDir, "recordings")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Backend {
	case "ollama":
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("llm.backend is openrouter but no API key is set; export STARCOACH_OPENROUTER_API_KEY")
		}
	default:
		return fmt.Errorf("llm.backend must be ollama or openrouter, got %q", c.LLM.Backend)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Pipeline.MaxConcurrentRuns < 1 {
		return fmt.Errorf("pipeline.max_concurrent_runs must be at least 1")
	}
	if c.Media.MaxUploadMB < 1 {
		return fmt.Errorf("media.max_upload_mb must be at least 1")
	}
	return nil
}

// MaxUploadBytes is the recording size limit in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Media.MaxUploadMB) * 1024 * 1024
}

// Model returns the chat model of the selected LLM backend.
func (c Config) Model() string {
	if c.LLM.Backend == "openrouter" {
		return c.OpenRouter.Model
	}
	return c.Ollama.Model
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "starcoach-data"
		}
	}
	return filepath.Join(dir, "starcoach")
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Embed   EmbedConfig
	Runner  RunnerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type EmbedConfig struct {
	BaseURL string
	Model   string
	APIKeys []string
}

type RunnerConfig struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	JobTimeout  time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embed: EmbedConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Runner: RunnerConfig{
			BatchSize:   25,
			Concurrency: 4,
			MaxAttempts: 3,
			JobTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".praxis"
	}
	return filepath.Join(home, ".praxis")
}

// Load reads configuration from a local .env file (if present) and PRAXIS_*
// environment variables layered over defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Server.Port = getenvInt("PRAXIS_PORT", cfg.Server.Port)
	cfg.Server.Token = getenv("PRAXIS_API_TOKEN", cfg.Server.Token)
	cfg.Storage.DataDir = getenv("PRAXIS_DATA_DIR", cfg.Storage.DataDir)
	cfg.Embed.BaseURL = getenv("PRAXIS_EMBED_BASE_URL", cfg.Embed.BaseURL)
	cfg.Embed.Model = getenv("PRAXIS_EMBED_MODEL", cfg.Embed.Model)
	cfg.Embed.APIKeys = getenvList("PRAXIS_EMBED_API_KEYS")
	cfg.Runner.BatchSize = getenvInt("PRAXIS_RUNNER_BATCH_SIZE", cfg.Runner.BatchSize)
	cfg.Runner.Concurrency = getenvInt("PRAXIS_RUNNER_CONCURRENCY", cfg.Runner.Concurrency)
	cfg.Runner.MaxAttempts = getenvInt("PRAXIS_RUNNER_MAX_ATTEMPTS", cfg.Runner.MaxAttempts)
	cfg.Log.Level = getenv("PRAXIS_LOG_LEVEL", cfg.Log.Level)

	if v := getenv("PRAXIS_RUNNER_JOB_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing PRAXIS_RUNNER_JOB_TIMEOUT: %w", err)
		}
		cfg.Runner.JobTimeout = d
	}

	if cfg.Runner.BatchSize <= 0 {
		return Config{}, fmt.Errorf("runner batch size must be positive")
	}
	if cfg.Runner.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("runner max attempts must be positive")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

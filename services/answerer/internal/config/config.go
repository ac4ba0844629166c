package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`
	GenerationTimeout  string `yaml:"generationTimeout"`

	QueueStream   string `yaml:"queueStream"`
	Concurrency   int    `yaml:"concurrency"`
	MaxRetries    int    `yaml:"maxRetries"`
	RetryDelay    string `yaml:"retryDelay"`
	ContextBudget int    `yaml:"contextBudget"`
}

// Load reads path (ConfigPath when empty), applies environment overrides,
// fills defaults and validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	// Override with environment variables
	for key, field := range map[string]*string{
		"DATABASE_URL":        &cfg.DatabaseURL,
		"REDIS_ADDR":          &cfg.RedisAddr,
		"REDIS_PASSWORD":      &cfg.RedisPassword,
		"LOG_LEVEL":           &cfg.LogLevel,
		"GENERATION_PROVIDER": &cfg.GenerationProvider,
		"GENERATION_BASE_URL": &cfg.GenerationBaseURL,
		"GENERATION_API_KEY":  &cfg.GenerationAPIKey,
		"GENERATION_MODEL":    &cfg.GenerationModel,
		"QUEUE_STREAM":        &cfg.QueueStream,
	} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANSWERER_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "ollama"
	}
	if cfg.GenerationTimeout == "" {
		cfg.GenerationTimeout = "60s"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "chapterwise:answers"
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == "" {
		cfg.RetryDelay = "2s"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or GENERATION_MODEL)")
	}
	if cfg.Concurrency < 0 || cfg.MaxRetries < 0 || cfg.ContextBudget < 0 {
		return errors.New("config: concurrency, maxRetries and contextBudget must not be negative")
	}
	if _, err := cfg.Timeout(); err != nil {
		return err
	}
	if _, err := cfg.Backoff(); err != nil {
		return err
	}
	return nil
}

// Timeout parses GenerationTimeout.
func (c FileConfig) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.GenerationTimeout))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid generationTimeout %q", c.GenerationTimeout)
	}
	return d, nil
}

// Backoff parses RetryDelay; zero disables the pause between attempts.
func (c FileConfig) Backoff() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.RetryDelay))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid retryDelay %q", c.RetryDelay)
	}
	return d, nil
}

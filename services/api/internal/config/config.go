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
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`

	TokenSecret   string `yaml:"tokenSecret"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenAudience string `yaml:"tokenAudience"`

	QueueStream        string   `yaml:"queueStream"`
	QuestionRateLimit  int      `yaml:"questionRateLimit"`
	QuestionRateWindow string   `yaml:"questionRateWindow"`
	MaxQuestionLength  int      `yaml:"maxQuestionLength"`
	CORSOrigins        []string `yaml:"corsOrigins"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	ShutdownTimeout    string   `yaml:"shutdownTimeout"`

	// Chapter publishing. An empty key path lets any reader publish.
	PublishPublicKeyPath string   `yaml:"publishPublicKeyPath"`
	PublishIssuers       []string `yaml:"publishIssuers"`

	// Optional chapter archive; disabled when ArchiveEndpoint is empty.
	ArchiveEndpoint  string `yaml:"archiveEndpoint"`
	ArchiveAccessKey string `yaml:"archiveAccessKey"`
	ArchiveSecretKey string `yaml:"archiveSecretKey"`
	ArchiveBucket    string `yaml:"archiveBucket"`
	ArchiveUseSSL    bool   `yaml:"archiveUseSSL"`
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
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	overrides := map[string]*string{
		"PORT":           &cfg.Port,
		"DATABASE_URL":   &cfg.DatabaseURL,
		"REDIS_ADDR":     &cfg.RedisAddr,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"LOG_LEVEL":      &cfg.LogLevel,
		"TOKEN_SECRET":   &cfg.TokenSecret,
		"QUEUE_STREAM":   &cfg.QueueStream,

		"PUBLISH_PUBLIC_KEY_PATH": &cfg.PublishPublicKeyPath,
		"ARCHIVE_ENDPOINT":        &cfg.ArchiveEndpoint,
		"ARCHIVE_ACCESS_KEY":      &cfg.ArchiveAccessKey,
		"ARCHIVE_SECRET_KEY":      &cfg.ArchiveSecretKey,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUESTION_RATE_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QuestionRateLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "chapterwise:answers"
	}
	if cfg.QuestionRateLimit == 0 {
		cfg.QuestionRateLimit = 20
	}
	if cfg.QuestionRateWindow == "" {
		cfg.QuestionRateWindow = "1m"
	}
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 1000
	}
	if cfg.ShutdownTimeout == "" {
		cfg.ShutdownTimeout = "15s"
	}
	if cfg.PublishPublicKeyPath != "" && len(cfg.PublishIssuers) == 0 {
		cfg.PublishIssuers = []string{"importer"}
	}
	if cfg.ArchiveEndpoint != "" && cfg.ArchiveBucket == "" {
		cfg.ArchiveBucket = "chapterwise-chapters"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if len(strings.TrimSpace(cfg.TokenSecret)) < 32 {
		return errors.New("config: tokenSecret must be at least 32 characters (set in config.yaml or TOKEN_SECRET)")
	}
	if cfg.QuestionRateLimit < 0 {
		return errors.New("config: questionRateLimit must not be negative")
	}
	if cfg.MaxQuestionLength < 0 {
		return errors.New("config: maxQuestionLength must not be negative")
	}
	if _, err := cfg.RateWindow(); err != nil {
		return err
	}
	if _, err := cfg.ShutdownGrace(); err != nil {
		return err
	}
	return nil
}

// RateWindow parses QuestionRateWindow.
func (c FileConfig) RateWindow() (time.Duration, error) {
	return parsePositiveDuration("questionRateWindow", c.QuestionRateWindow)
}

// ShutdownGrace parses ShutdownTimeout.
func (c FileConfig) ShutdownGrace() (time.Duration, error) {
	return parsePositiveDuration("shutdownTimeout", c.ShutdownTimeout)
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PIPELINEWATCH_"

// Config represents configuration data for the pipeline watcher.
type Config struct {
	DeploymentURL       string `yaml:"deployment_url"`
	IntervalSeconds     int    `yaml:"interval_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	RetryDelayMillis    int    `yaml:"retry_delay_ms"`
	ProbeTimeoutSeconds int    `yaml:"probe_timeout_seconds"`
	DataDirectory       string `yaml:"data_directory"`
	HistoryLimit        int    `yaml:"history_limit"`
	LogLevel            string `yaml:"log_level"`
	Auth                Auth   `yaml:"auth"`
}

// Auth holds the credentials used to (re-)authenticate against the deployment.
type Auth struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		IntervalSeconds:     10,
		MaxAttempts:         3,
		RetryDelayMillis:    2000,
		ProbeTimeoutSeconds: 10,
		DataDirectory:       filepath.Join(".dist", "data"),
		HistoryLimit:        2048,
		LogLevel:            "info",
	}
}

// Interval is the polling period between probe cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RetryDelay is the fixed wait between failed attempts of one cycle.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// ProbeTimeout bounds a single liveness call.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Load reads configuration from a yaml file, then applies .env files and
// PIPELINEWATCH_* environment overrides. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	loadEnvFiles()
	applyEnv(&cfg)
	return normalize(cfg)
}

func loadEnvFiles() {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func applyEnv(cfg *Config) {
	if v := envString("DEPLOYMENT_URL"); v != "" {
		cfg.DeploymentURL = v
	}
	if v, ok := envInt("INTERVAL_SECONDS"); ok {
		cfg.IntervalSeconds = v
	}
	if v, ok := envInt("MAX_ATTEMPTS"); ok {
		cfg.MaxAttempts = v
	}
	if v, ok := envInt("RETRY_DELAY_MS"); ok {
		cfg.RetryDelayMillis = v
	}
	if v, ok := envInt("PROBE_TIMEOUT_SECONDS"); ok {
		cfg.ProbeTimeoutSeconds = v
	}
	if v := envString("DATA_DIRECTORY"); v != "" {
		cfg.DataDirectory = v
	}
	if v, ok := envInt("HISTORY_LIMIT"); ok {
		cfg.HistoryLimit = v
	}
	if v := envString("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envString("AUTH_EMAIL"); v != "" {
		cfg.Auth.Email = v
	}
	if v := envString("AUTH_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
}

func normalize(cfg Config) (Config, error) {
	defaults := DefaultConfig()
	cfg.DeploymentURL = strings.TrimSuffix(strings.TrimSpace(cfg.DeploymentURL), "/")
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = defaults.IntervalSeconds
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryDelayMillis < 0 {
		cfg.RetryDelayMillis = defaults.RetryDelayMillis
	}
	if cfg.ProbeTimeoutSeconds <= 0 {
		cfg.ProbeTimeoutSeconds = defaults.ProbeTimeoutSeconds
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = defaults.DataDirectory
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.DeploymentURL != "" {
		u, err := url.Parse(cfg.DeploymentURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("deployment_url %q must be an absolute URL", cfg.DeploymentURL)
		}
	}
	if (cfg.Auth.Email == "") != (cfg.Auth.Password == "") {
		return Config{}, errors.New("auth requires both email and password")
	}
	return cfg, nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string) (int, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

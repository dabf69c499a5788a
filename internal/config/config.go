package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ollama-agent/internal/retry"
)

// Config is the full runtime configuration. Values resolve in order: YAML
// file, then environment overrides, then defaults for anything still unset.
type Config struct {
	Ollama struct {
		BaseURL           string `yaml:"base_url"`
		Model             string `yaml:"model"`
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	} `yaml:"ollama"`
	Retry struct {
		MaxAttempts int  `yaml:"max_attempts"`
		BaseDelayMs int  `yaml:"base_delay_ms"`
		MaxDelayMs  int  `yaml:"max_delay_ms"`
		Jitter      bool `yaml:"jitter"`
	} `yaml:"retry"`
	Log struct {
		Dir string `yaml:"dir"`
	} `yaml:"log"`
}

// Load reads the optional YAML file at path, applies environment overrides,
// fills defaults, and validates. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); v != "" {
		c.Ollama.Model = v
	}
	c.Ollama.RequestTimeoutSec = envInt("OLLAMA_TIMEOUT_SEC", c.Ollama.RequestTimeoutSec)
	c.Retry.MaxAttempts = envInt("OLLAMA_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelayMs = envInt("OLLAMA_BASE_DELAY_MS", c.Retry.BaseDelayMs)
	c.Retry.MaxDelayMs = envInt("OLLAMA_MAX_DELAY_MS", c.Retry.MaxDelayMs)
	if v := strings.TrimSpace(os.Getenv("OLLAMA_LOG_DIR")); v != "" {
		c.Log.Dir = v
	}
}

func (c *Config) applyDefaults() {
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "deepseek-r1:7b"
	}
	if c.Ollama.RequestTimeoutSec == 0 {
		c.Ollama.RequestTimeoutSec = 120
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs == 0 {
		c.Retry.BaseDelayMs = 1000
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
}

func (c Config) validate() error {
	u, err := url.Parse(c.Ollama.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid ollama.base_url %q", c.Ollama.BaseURL)
	}
	if c.Ollama.RequestTimeoutSec < 0 {
		return errors.New("config: ollama.request_timeout_sec must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("config: retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < 0 {
		return errors.New("config: retry delays must not be negative")
	}
	return nil
}

// RequestTimeout returns the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Ollama.RequestTimeoutSec) * time.Second
}

// RetryPolicy builds the completion retry schedule from the config.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      c.Retry.Jitter,
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

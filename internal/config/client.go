package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finsight/pkg/retry"
)

// ClientConfig - настройки CLI клиента
type ClientConfig struct {
	APIURL string // REST API, например http://localhost:8080
	WSURL  string // пусто - выводится из APIURL

	SessionFile       string // пусто - сессия не сохраняется
	SessionPassphrase string

	HTTPTimeout  time.Duration
	FetchTimeout time.Duration

	// Повторы идемпотентных GET
	MaxRetries   int
	RetryBackoff time.Duration

	// Live-потоки
	ConnectTimeout      time.Duration
	ReconnectMaxRetries int // 0 - без переподключения
	ReconnectBackoff    time.Duration
	ReconnectMaxDelay   time.Duration

	Logging LoggingConfig
}

// LoadClient загружает конфигурацию клиента из окружения (и .env)
func LoadClient() (*ClientConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		APIURL:              getEnv("FINSIGHT_API_URL", "http://localhost:8080"),
		WSURL:               getEnv("FINSIGHT_WS_URL", ""),
		SessionFile:         getEnv("FINSIGHT_SESSION_FILE", defaultSessionFile()),
		SessionPassphrase:   getEnv("FINSIGHT_SESSION_PASSPHRASE", ""),
		HTTPTimeout:         getEnvAsDuration("FINSIGHT_HTTP_TIMEOUT", 15*time.Second),
		FetchTimeout:        getEnvAsDuration("FINSIGHT_FETCH_TIMEOUT", 10*time.Second),
		MaxRetries:          getEnvAsInt("FINSIGHT_MAX_RETRIES", 3),
		RetryBackoff:        getEnvAsDuration("FINSIGHT_RETRY_BACKOFF", 200*time.Millisecond),
		ConnectTimeout:      getEnvAsDuration("FINSIGHT_CONNECT_TIMEOUT", 10*time.Second),
		ReconnectMaxRetries: getEnvAsInt("FINSIGHT_RECONNECT_MAX_RETRIES", 8),
		ReconnectBackoff:    getEnvAsDuration("FINSIGHT_RECONNECT_BACKOFF", 500*time.Millisecond),
		ReconnectMaxDelay:   getEnvAsDuration("FINSIGHT_RECONNECT_MAX_DELAY", 30*time.Second),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "warn"),
			Format: getEnv("LOG_FORMAT", "text"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("FINSIGHT_API_URL is required")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("FINSIGHT_MAX_RETRIES must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.ReconnectMaxRetries < 0 || c.ReconnectMaxRetries > 100 {
		return fmt.Errorf("FINSIGHT_RECONNECT_MAX_RETRIES must be between 0 and 100, got %d", c.ReconnectMaxRetries)
	}
	if c.HTTPTimeout <= 0 || c.FetchTimeout <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ReconnectBackoff <= 0 || c.ReconnectMaxDelay < c.ReconnectBackoff {
		return fmt.Errorf("FINSIGHT_RECONNECT_MAX_DELAY must not be below FINSIGHT_RECONNECT_BACKOFF")
	}
	return nil
}

// RetryConfig - повторы REST GET
func (c *ClientConfig) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.InitialDelay = c.RetryBackoff
	return cfg
}

// ReconnectConfig - backoff переподключения live-потоков
func (c *ClientConfig) ReconnectConfig() retry.Config {
	cfg := retry.ReconnectConfig()
	cfg.MaxRetries = c.ReconnectMaxRetries
	cfg.InitialDelay = c.ReconnectBackoff
	cfg.MaxDelay = c.ReconnectMaxDelay
	return cfg
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "finsight", "session.json")
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит конфигурацию сервера FinSight
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Simulator SimulatorConfig
	Hub       HubConfig
	Cleanup   CleanupConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки аутентификации
type SecurityConfig struct {
	TokenTTL      time.Duration // время жизни токена сессии
	BcryptCost    int
	LoginRate     float64 // попыток входа в секунду на адрес
	LoginBurst    int
	SeedUserEmail string // пользователь, создаваемый при старте (пусто - не создаётся)
	SeedUserPass  string
}

// SimulatorConfig - генератор котировок (режим без внешнего провайдера)
type SimulatorConfig struct {
	Enabled      bool
	TickInterval time.Duration
	BasePrice    float64
	Spread       float64 // цена = BasePrice ± Spread/2
	Volume       int64
}

// HubConfig - рассылка live-сообщений
type HubConfig struct {
	ClientBuffer int // буфер исходящих сообщений клиента
}

// CleanupConfig - фоновая очистка
type CleanupConfig struct {
	Interval              time.Duration // период очистки токенов и уведомлений
	NotificationRetention time.Duration // прочитанные уведомления старше удаляются
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию сервера из переменных окружения
// (и .env, если он есть)
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "finsight"),
			User:     getEnv("DB_USER", "finsight"),
			Password: getEnv("DB_PASSWORD", "finsight"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			TokenTTL:      getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
			BcryptCost:    getEnvAsInt("BCRYPT_COST", 12),
			LoginRate:     getEnvAsFloat("LOGIN_RATE", 0.2),
			LoginBurst:    getEnvAsInt("LOGIN_BURST", 5),
			SeedUserEmail: getEnv("SEED_USER_EMAIL", ""),
			SeedUserPass:  getEnv("SEED_USER_PASSWORD", ""),
		},
		Simulator: SimulatorConfig{
			Enabled:      getEnvAsBool("SIMULATOR_ENABLED", true),
			TickInterval: getEnvAsDuration("SIMULATOR_TICK_INTERVAL", time.Second),
			BasePrice:    getEnvAsFloat("SIMULATOR_BASE_PRICE", 150),
			Spread:       getEnvAsFloat("SIMULATOR_SPREAD", 5),
			Volume:       int64(getEnvAsInt("SIMULATOR_VOLUME", 1000)),
		},
		Hub: HubConfig{
			ClientBuffer: getEnvAsInt("HUB_CLIENT_BUFFER", 256),
		},
		Cleanup: CleanupConfig{
			Interval:              getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
			NotificationRetention: getEnvAsDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	if c.Security.TokenTTL < time.Minute {
		return fmt.Errorf("TOKEN_TTL must be at least 1m, got %v", c.Security.TokenTTL)
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Security.BcryptCost)
	}
	if c.Security.LoginRate <= 0 || c.Security.LoginBurst < 1 {
		return fmt.Errorf("LOGIN_RATE must be positive and LOGIN_BURST at least 1")
	}
	if (c.Security.SeedUserEmail == "") != (c.Security.SeedUserPass == "") {
		return fmt.Errorf("SEED_USER_EMAIL and SEED_USER_PASSWORD must be set together")
	}

	if c.Simulator.TickInterval < 10*time.Millisecond {
		return fmt.Errorf("SIMULATOR_TICK_INTERVAL must be at least 10ms, got %v", c.Simulator.TickInterval)
	}
	if c.Simulator.BasePrice <= 0 || c.Simulator.Spread < 0 || c.Simulator.Spread >= c.Simulator.BasePrice*2 {
		return fmt.Errorf("SIMULATOR_BASE_PRICE must be positive and SIMULATOR_SPREAD below twice the base price")
	}
	if c.Hub.ClientBuffer < 1 {
		return fmt.Errorf("HUB_CLIENT_BUFFER must be positive, got %d", c.Hub.ClientBuffer)
	}
	if c.Cleanup.Interval < time.Second || c.Cleanup.NotificationRetention < time.Hour {
		return fmt.Errorf("CLEANUP_INTERVAL must be at least 1s and NOTIFICATION_RETENTION at least 1h")
	}
	return nil
}

// Addr - адрес для net/http
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// LoadDotEnv подгружает переменные из файлов .env (по умолчанию ./.env).
// Уже заданные переменные окружения не перезаписываются; отсутствующий
// файл - не ошибка.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList - значения через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

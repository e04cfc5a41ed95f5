package utils

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка логирования
//
// Структурированное логирование на базе zap.
// Форматы: json (production) и text (консоль).
// Если файл вывода недоступен - пишем в stderr.

// LogConfig - параметры логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool
}

// Logger - zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации. Никогда не возвращает nil.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return newLogger(core, opts...)
}

func newLogger(core zapcore.Core, opts ...zap.Option) *Logger {
	return &Logger{Logger: zap.New(core, opts...)}
}

// parseLevel переводит строковый уровень в zapcore.Level (по умолчанию info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт логгер и делает его глобальным.
// Пакеты, получившие nil вместо логгера, пишут в глобальный (OrGlobal).
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return l
}

// global возвращает глобальный логгер, создавая логгер по умолчанию при первом вызове
func global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// OrGlobal возвращает l или глобальный логгер, если l == nil
func OrGlobal(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return global()
}

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithComponent - дочерний логгер с полем component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithSlot - дочерний логгер с полем slot
func (l *Logger) WithSlot(slot string) *Logger {
	return l.With(Slot(slot))
}

// ============================================================
// Доменные поля
// ============================================================

func Ticker(v string) zap.Field        { return zap.String("ticker", v) }
func NotificationID(v int64) zap.Field { return zap.Int64("notification_id", v) }
func AlertID(v int64) zap.Field        { return zap.Int64("alert_id", v) }
func Generation(v uint64) zap.Field    { return zap.Uint64("generation", v) }
func Slot(v string) zap.Field          { return zap.String("slot", v) }
func State(v string) zap.Field         { return zap.String("state", v) }
func Key(v string) zap.Field           { return zap.String("key", v) }
func UserID(v int64) zap.Field         { return zap.Int64("user_id", v) }
func RequestID(v string) zap.Field     { return zap.String("request_id", v) }
func Component(v string) zap.Field     { return zap.String("component", v) }
func Attempt(v int) zap.Field          { return zap.Int("attempt", v) }
func Latency(ms float64) zap.Field     { return zap.Float64("latency_ms", ms) }
func Delay(d time.Duration) zap.Field  { return zap.Duration("delay", d) }
func HTTPStatus(code int) zap.Field    { return zap.Int("status", code) }
func Count(n int) zap.Field            { return zap.Int("count", n) }

// Переэкспорт базовых конструкторов zap
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)

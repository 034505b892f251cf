package core

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu       sync.RWMutex
	loggerInstance = NewDevelopmentLogger() // default to development logger
)

// SetLogger sets the global logger instance
func SetLogger(logger *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return loggerInstance
}

// LogConfig selects the encoder and minimum level of a zap-backed Logger.
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// LogConfigFromEnv reads LOG_LEVEL and LOG_FORMAT.
func LogConfigFromEnv() LogConfig {
	cfg := LogConfig{Level: "info", Format: "console"}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	return cfg
}

// Logger is a small structured logger. Attributes are carried as a map and
// merged with slog-style key/value pairs passed to each call.
type Logger struct {
	handlerFunc func(level string, msg string, attrs map[string]interface{})
	attrs       map[string]interface{}
	sync        func() error
}

func NewLogger(handler func(level string, msg string, attrs map[string]interface{})) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
	}
}

// NewZapLogger wraps a zap logger. FATAL exits the process and PANIC panics,
// matching zap's own semantics for those levels.
func NewZapLogger(z *zap.Logger) *Logger {
	z = z.WithOptions(zap.AddCallerSkip(3))
	handler := func(level string, msg string, attrs map[string]interface{}) {
		fields := make([]zap.Field, 0, len(attrs))
		for k, v := range attrs {
			fields = append(fields, zap.Any(k, v))
		}
		switch level {
		case "TRACE", "DEBUG":
			z.Debug(msg, fields...)
		case "WARN":
			z.Warn(msg, fields...)
		case "ERROR":
			z.Error(msg, fields...)
		case "FATAL":
			z.Fatal(msg, fields...)
		case "PANIC":
			z.Panic(msg, fields...)
		default:
			z.Info(msg, fields...)
		}
	}
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
		sync:        z.Sync,
	}
}

// NewLoggerFromConfig builds a zap-backed logger. "json" selects the
// production encoder, anything else the development console encoder.
// An unparseable level falls back to info.
func NewLoggerFromConfig(cfg LogConfig) (*Logger, error) {
	var zapConfig zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	z, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return NewZapLogger(z), nil
}

// NewDevelopmentLogger creates a console logger at debug level.
func NewDevelopmentLogger() *Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
	return NewZapLogger(zap.New(zcore, zap.AddCaller()))
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewZapLogger(zap.NewNop())
}

func (l *Logger) log(level string, msg string, args ...interface{}) {
	if l == nil || l.handlerFunc == nil {
		return
	}
	if len(args) > 0 {
		// Detect slog-style key-value pairs: even number of args where
		// odd-positioned args (keys) are strings.
		if isKeyValuePairs(args) {
			attrs := make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log("DEBUG", msg, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log("INFO", msg, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log("WARN", msg, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.log("ERROR", msg, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", format, args...)
}

func (l *Logger) With(attrs map[string]interface{}) *Logger {
	if l == nil {
		return GetLogger().With(attrs)
	}
	combinedAttrs := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combinedAttrs[k] = v
	}
	for k, v := range attrs {
		combinedAttrs[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combinedAttrs,
		sync:        l.sync,
	}
}

// Sync flushes any buffered entries of the underlying zap logger.
func (l *Logger) Sync() error {
	if l == nil || l.sync == nil {
		return nil
	}
	return l.sync()
}

package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the global logger. Zero value means production JSON
// output at INFO.
type Options struct {
	Level       Level
	Development bool
}

var (
	mu         sync.Mutex
	logger     *zap.SugaredLogger
	loggerOnce sync.Once
	atomicLvl  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger builds the default production logger on first use.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if logger == nil {
			logger = build(Options{})
		}
	})
}

// Setup replaces the global logger. Safe to call more than once; the last
// call wins.
func Setup(opts Options) {
	loggerOnce.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	if opts.Level != "" {
		atomicLvl.SetLevel(zapLevel(opts.Level))
	}
	old := logger
	logger = build(opts)
	if old != nil {
		_ = old.Sync()
	}
}

func build(opts Options) *zap.SugaredLogger {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = atomicLvl
	cfg.DisableStacktrace = !opts.Development

	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: failed to build zap logger, using nop: %v\n", err)
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func SetLevel(l Level) {
	initLogger()
	atomicLvl.SetLevel(zapLevel(l))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Sync flushes buffered entries.
func Sync() error {
	return current().Sync()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func logWithLevel(level Level, msg string, kv ...any) {
	l := current()
	// Odd trailing key is dropped rather than reported as a zap DPanic.
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}
	switch level {
	case LevelDebug:
		l.Debugw(msg, kv...)
	case LevelWarn:
		l.Warnw(msg, kv...)
	case LevelError:
		l.Errorw(msg, kv...)
	default:
		l.Infow(msg, kv...)
	}
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

package logx

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileConfig configures NewRollingLogger.
type FileConfig struct {
	Name       string
	Level      string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console mirrors output to stderr with a console encoder.
	Console bool
	// Writer replaces stderr as the console destination.
	Writer io.Writer
}

// ParseLevel parses a zap level name, falling back to info.
func ParseLevel(name string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewRollingLogger builds a zap logger writing JSON lines to a lumberjack
// rotated file, optionally teed to a console core. The returned close func
// syncs the logger and closes the file.
func NewRollingLogger(cfg FileConfig) (*ZapLogger, func() error) {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	var cores []zapcore.Core

	var file *lumberjack.Logger
	if cfg.Filename != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    max(1, cfg.MaxSizeMB),
			MaxBackups: max(0, cfg.MaxBackups),
			MaxAge:     max(0, cfg.MaxAgeDays),
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), level))
	}
	if cfg.Console || cfg.Filename == "" {
		var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
		if cfg.Writer != nil {
			out = zapcore.AddSync(cfg.Writer)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), out, level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Name != "" {
		l = l.Named(cfg.Name)
	}
	closer := func() error {
		_ = l.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return NewZapLogger(l), closer
}

// Package logging builds the zap loggers used by the supervisor and the shell.
//
// Records are always written as JSON to a log file in the platform log
// directory. Standard output receives the same records, rendered with the
// console encoder when it is attached to a terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/Paintersrp/minicars/internal/config"
)

// FileName is the name of the log file created inside the log directory.
const FileName = "minicars.log"

// Options controls logger construction.
type Options struct {
	Level  string
	Dir    string
	Format string

	// Stdout overrides the console sink. Nil means os.Stdout.
	Stdout io.Writer
	// DisableFile skips the log file sink entirely.
	DisableFile bool
}

// FromConfig derives logger options from the loaded configuration.
func FromConfig(cfg config.LoggingSpec) Options {
	return Options{Level: cfg.Level, Dir: cfg.Dir, Format: cfg.Format}
}

// New constructs a logger according to opts. The returned cleanup function
// syncs and closes the file sink.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder(opts.Format, stdout), zapcore.AddSync(stdout), atom),
	}

	var file *os.File
	if !opts.DisableFile {
		dir := opts.Dir
		if dir == "" {
			dir = DefaultDir()
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), atom))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(zapcore.AddSync(os.Stderr)))
	cleanup := func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return logger, cleanup, nil
}

// DefaultDir returns the standard log directory for the current OS.
// Falls back to a temporary directory when a platform path cannot be resolved.
func DefaultDir() string {
	fallback := filepath.Join(os.TempDir(), "minicars", "logs")

	switch runtime.GOOS {
	case "darwin":
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, "Library", "Logs", "minicars")
		}
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "minicars", "logs")
		}
	default:
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, ".minicars", "logs")
		}
	}
	return fallback
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func stdoutEncoder(format string, w io.Writer) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig())
	case "console":
		return consoleEncoder()
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return consoleEncoder()
	}
	return zapcore.NewJSONEncoder(encoderConfig())
}

func consoleEncoder() zapcore.Encoder {
	cfg := encoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return zapcore.NewConsoleEncoder(cfg)
}

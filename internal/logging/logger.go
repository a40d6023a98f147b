package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"edgenode/internal/config"
)

// New builds the process logger. The returned closer flushes the rotating
// log file, if one was configured.
func New(cfg config.Logging, version string, appName string) (*slog.Logger, io.Closer) {
	return newWithWriter(os.Stdout, cfg, version, appName)
}

func newWithWriter(stdout io.Writer, cfg config.Logging, version string, appName string) (*slog.Logger, io.Closer) {
	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}

	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.LogFile != "",
		})
		return slog.New(h).With("app", appName), closer
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

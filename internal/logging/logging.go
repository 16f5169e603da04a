// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rustyeddy/breakout/config"
)

// Setup applies level, format and output from cfg to the standard logrus
// logger. When cfg.File is set, output is tee'd to a rotating file.
// The returned closer flushes the file writer and is never nil.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return apply(logrus.StandardLogger(), cfg, os.Stderr)
}

func apply(l *logrus.Logger, cfg config.LogConfig, console io.Writer) (io.Closer, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nopCloser{}, err
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nopCloser{}, fmt.Errorf("unknown log format %q (supported: text, json)", cfg.Format)
	}

	if cfg.File == "" {
		l.SetOutput(console)
		return nopCloser{}, nil
	}

	rot := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	l.SetOutput(io.MultiWriter(console, rot))
	return rot, nil
}

// ParseLevel accepts debug, info, warn/warning and error; empty means info.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

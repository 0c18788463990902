package klog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a configured level name into a slog.Level. Unknown
// names fall back to INFO and return an error describing the fallback.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q, using INFO", level)
	}
}

// New returns a text logger writing to w at the given level. A bad level is
// reported through the returned error but still yields a usable INFO logger.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init builds the process-wide logger, writing to stdout and, when path is
// not empty, appending to the file at path as well. The logger is installed
// as the slog default.
func Init(path, level string) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	logger, err := New(w, level)
	slog.SetDefault(logger)
	if err != nil {
		logger.Warn(err.Error())
	}
	logger.Debug("logger configured", "path", path, "level", level)
	return logger, closer, nil
}

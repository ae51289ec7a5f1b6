// Package proxylog builds the one *slog.Logger each proxy process
// constructs at startup and passes down explicitly to every subsystem.
package proxylog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New returns a text-handler slog.Logger writing to path (or stderr if
// path is empty), at the given level.
func New(path string, level slog.Level) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("proxylog: open %s: %w", path, err)
		}
		w = f
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), nil
}

// ParseLevel maps the -log-level flag's string value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("proxylog: invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Package logging builds the process logger: human readable text on the
// terminal, fanned out to a rotated JSON file when one is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	Level slog.Level
	// Terminal receives text records, nil to disable.
	Terminal io.Writer
	// File is a JSON log file, "" to disable.
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// ParseLevel accepts debug, info, warn and error, case-insensitively. The
// empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level: %s", s)
}

// New returns the logger and a closer for its file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	ho := &slog.HandlerOptions{Level: opts.Level}
	var handlers []slog.Handler
	if opts.Terminal != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Terminal, ho))
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		w, err := NewRotatingFileWriter(opts.File, opts.MaxSizeMB, opts.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(w, ho))
		closer = w
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

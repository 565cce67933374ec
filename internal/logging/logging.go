// Package logging builds the structured loggers used across the evaluator.
//
// Components take a *slog.Logger and never construct their own; a nil
// logger is replaced with Discard().
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region config
// Config selects level and output format.
type Config struct {
	Level   string // debug | info | warn | error
	Format  string // text | json
	Service string // attached to every record when set
}

// DefaultConfig logs info and above as text.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// #endregion config

// #region constructors
// New returns a logger writing to w (stderr when nil).
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := slog.New(h)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or Discard() when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// #endregion constructors

// #region attrs
// Rollout groups the fields identifying a finished trajectory.
func Rollout(t *trajectory.Trajectory) slog.Attr {
	attrs := []any{
		slog.String("puzzle_id", t.PuzzleID()),
		slog.String("outcome", t.Outcome().String()),
		slog.Int("steps", t.Len()),
	}
	if st, ok := t.FirstInvalid(); ok {
		attrs = append(attrs, slog.String("invalid_kind", string(st.InvalidKind)))
	}
	return slog.Group("rollout", attrs...)
}

// #endregion attrs

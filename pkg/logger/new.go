package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// New creates a *slog.Logger for CLI-facing output. The default handler is
// slog's text handler; WithPretty switches to the charmbracelet handler for
// colorized operator output, WithJSON to structured JSON.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(c)
	}

	var w io.Writer = os.Stdout
	if len(c.writers) == 1 {
		w = c.writers[0]
	} else if len(c.writers) > 1 {
		w = io.MultiWriter(c.writers...)
	}

	var handler slog.Handler
	switch {
	case c.pretty:
		charmLevel := charmlog.InfoLevel
		if c.level <= slog.LevelDebug {
			charmLevel = charmlog.DebugLevel
		}
		handler = charmlog.NewWithOptions(w, charmlog.Options{
			Level:        charmLevel,
			ReportCaller: c.source,
		})
	case c.json:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source})
	}

	return slog.New(handler)
}

// Nop returns a *slog.Logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Package logging maps the simplified level vocabulary of a system config to
// per-category log levels and provides a slog.Handler enforcing them.
//
// Records are categorized by their "category" attribute; records without
// one, or with an unknown category, use the [DefaultCategory] level.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	// CategoryKey is the attribute that selects the category of a record.
	CategoryKey = "category"
	// DefaultCategory applies to records without a configured category.
	DefaultCategory = "Default"
	// SystemCategory and TransportCategory scope the runtime's own records.
	// Actor records use the name of their behavior as category.
	SystemCategory    = "System"
	TransportCategory = "Transport"
)

// Config is the logging part of a system config. Actors, when set, maps
// category names to levels and takes precedence over Level.
type Config struct {
	Level  string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	Actors map[string]string `json:"actorCategories,omitempty" yaml:"actorCategories,omitempty"`
}

// NormalizeLevel maps a level name to the vocabulary of the runtime:
// fatal becomes error, trace becomes debug, empty becomes info.
func NormalizeLevel(level string) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "":
		return "info"
	case "fatal":
		return "error"
	case "trace":
		return "debug"
	default:
		return l
	}
}

// Categories returns the category to level mapping for cfg.
func Categories(cfg Config) map[string]string {
	if len(cfg.Actors) > 0 {
		out := make(map[string]string, len(cfg.Actors))
		for k, v := range cfg.Actors {
			out[k] = v
		}
		return out
	}
	return map[string]string{DefaultCategory: NormalizeLevel(cfg.Level)}
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch NormalizeLevel(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// Levels parses a category mapping. Unknown level names are reported.
func Levels(categories map[string]string) (map[string]slog.Level, error) {
	out := make(map[string]slog.Level, len(categories))
	for name, l := range categories {
		lvl, err := ParseLevel(l)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		out[name] = lvl
	}
	if _, ok := out[DefaultCategory]; !ok {
		out[DefaultCategory] = slog.LevelInfo
	}
	return out, nil
}

// Handler filters records by the level of their category.
type Handler struct {
	next     slog.Handler
	levels   map[string]slog.Level
	min      slog.Level
	category string
}

// NewHandler wraps next. next should accept every level; filtering happens
// here.
func NewHandler(next slog.Handler, levels map[string]slog.Level) *Handler {
	h := &Handler{next: next, levels: levels, category: DefaultCategory}
	h.min = levels[DefaultCategory]
	for _, l := range levels {
		h.min = min(h.min, l)
	}
	return h
}

func (h *Handler) level(category string) slog.Level {
	if l, ok := h.levels[category]; ok {
		return l
	}
	return h.levels[DefaultCategory]
}

// Enabled is a coarse check; the category may still be set on the record.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.min }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	category := h.category
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == CategoryKey {
			category = a.Value.String()
			return false
		}
		return true
	})
	if r.Level < h.level(category) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	for _, a := range attrs {
		if a.Key == CategoryKey {
			c.category = a.Value.String()
		}
	}
	c.next = h.next.WithAttrs(attrs)
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}

// New builds a text logger writing to w with the levels of cfg.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	levels, err := Levels(Categories(cfg))
	if err != nil {
		return nil, err
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewHandler(base, levels)), nil
}

// Category scopes log to a category.
func Category(log *slog.Logger, name string) *slog.Logger {
	return log.With(slog.String(CategoryKey, name))
}

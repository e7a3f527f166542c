package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategories(t *testing.T) {
	require.Equal(t, map[string]string{"Default": "info"}, Categories(Config{}))
	require.Equal(t, map[string]string{"Default": "error"}, Categories(Config{Level: "fatal"}))
	require.Equal(t, map[string]string{"Default": "debug"}, Categories(Config{Level: "TRACE"}))
	require.Equal(t, map[string]string{"Default": "warn"}, Categories(Config{Level: "warn"}))

	actors := map[string]string{"Default": "debug", "Transport": "error"}
	require.Equal(t, actors, Categories(Config{Level: "info", Actors: actors}))
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"trace": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"Info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"fatal": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestHandler_filters_by_category(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Config{Actors: map[string]string{"Default": "warn", "Transport": "debug"}})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept-default")
	Category(log, "Transport").Debug("kept-transport")
	log.Debug("inline", slog.String(CategoryKey, "Transport"))
	Category(log, "Other").Info("dropped-other")

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "kept-default")
	require.Contains(t, out, "kept-transport")
	require.Contains(t, out, "inline")
}

func TestNew_invalid_level(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Config{Actors: map[string]string{"x": "loud"}})
	require.ErrorContains(t, err, `category "x"`)
}

package logger

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, opts Options) (*Logger, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	opts.Dir = t.TempDir()
	opts.Console = &console
	l := NewLogger(opts)
	t.Cleanup(l.Close)
	return l, &console
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestNewLogger(t *testing.T) {
	l, console := newTestLogger(t, Options{})

	l.Info("Test info message", "TEST")
	l.Warn("Test warning message", "TEST")
	l.System("Test system message", "TEST")
	l.Success("Test success message", "TEST")

	out := console.String()
	assert.Contains(t, out, "[TEST]: Test info message")
	assert.Contains(t, out, "SUCCESS")
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelCritical, "CRITICAL"},
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelSuccess, "SUCCESS"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{LevelSystem, "SYSTEM"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
			assert.NotEmpty(t, tt.level.Color())
		})
	}
}

func TestLogLevelDiscordColor(t *testing.T) {
	tests := []struct {
		level LogLevel
		color int
	}{
		{LevelCritical, 0xFF0000},
		{LevelError, 0xFF0000},
		{LevelWarn, 0xFFFF00},
		{LevelSuccess, 0x00FF00},
		{LevelInfo, 0x0000FF},
		{LevelDebug, 0x800080},
		{LevelSystem, 0x808080},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.color, tt.level.DiscordColor())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"":         LevelInfo,
		"info":     LevelInfo,
		"DEBUG":    LevelDebug,
		" warn ":   LevelWarn,
		"warning":  LevelWarn,
		"error":    LevelError,
		"critical": LevelError,
		"success":  LevelSuccess,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestMinLevelFiltersDebug(t *testing.T) {
	l, console := newTestLogger(t, Options{})
	l.Debug("hidden", "TEST")
	assert.NotContains(t, console.String(), "hidden")

	l, console = newTestLogger(t, Options{MinLevel: LevelDebug})
	l.Debug("shown", "TEST")
	assert.Contains(t, console.String(), "shown")

	l, console = newTestLogger(t, Options{MinLevel: LevelError})
	l.Warn("quiet warning", "TEST")
	l.System("always", "TEST")
	assert.NotContains(t, console.String(), "quiet warning")
	assert.Contains(t, console.String(), "always")
}

func TestLogFiles(t *testing.T) {
	var console bytes.Buffer
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	l := NewLogger(Options{Dir: dir, Console: &console})

	l.Info("stored record", "LogStore")
	l.Error("write failed", "Ingest")
	l.Critical("panic recovered", "ErrorHandler")
	l.Close()

	combined := readFile(t, filepath.Join(dir, "combined.log"))
	assert.Contains(t, combined, "stored record")
	assert.Contains(t, combined, "prefix=LogStore")
	assert.Contains(t, combined, "severity=CRITICAL")

	errs := readFile(t, filepath.Join(dir, "error.log"))
	assert.Contains(t, errs, "write failed")
	assert.Contains(t, errs, "panic recovered")
	assert.NotContains(t, errs, "stored record")

	// closing twice and logging after close must not panic
	l.Close()
	l.Info("after close", "TEST")
}

func TestErrorWebhook(t *testing.T) {
	got := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p webhookPayload
		if json.Unmarshal(body, &p) == nil {
			got <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	l, _ := newTestLogger(t, Options{ErrorWebhook: srv.URL})
	l.Info("not sent", "TEST")
	l.Error("disk full", "LogStore")

	select {
	case p := <-got:
		require.Len(t, p.Embeds, 1)
		assert.Equal(t, "[ERROR] LogStore", p.Embeds[0].Title)
		assert.Equal(t, "```disk full```", p.Embeds[0].Description)
		assert.Equal(t, 0xFF0000, p.Embeds[0].Color)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestGlobalLoggerInit(t *testing.T) {
	logger = nil
	once = sync.Once{}

	l := Init(Options{Dir: t.TempDir(), Console: io.Discard})
	require.NotNil(t, l)
	defer l.Close()

	assert.Same(t, l, Init(Options{ErrorWebhook: "different"}))
	assert.Same(t, l, Get())
}

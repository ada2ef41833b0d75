package errors

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstIsReportedWithoutExiting(t *testing.T) {
	var webhookCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		webhookCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var bursts atomic.Int32
	h := NewErrorHandler(Options{
		WebhookURL:    srv.URL,
		OnBurst:       func() { bursts.Add(1) },
		MaxErrors:     3,
		ResetInterval: time.Hour,
		CheckInterval: 10 * time.Millisecond,
	})
	defer h.Stop()

	for i := 0; i < 4; i++ {
		h.IncrementError()
	}

	require.Eventually(t, func() bool { return bursts.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), h.Bursts())
	assert.Equal(t, int32(1), webhookCalls.Load())
	assert.Equal(t, int32(0), h.Count())
}

func TestRecoverMiddleware(t *testing.T) {
	h := NewErrorHandler(Options{ResetInterval: time.Hour, CheckInterval: time.Hour})
	defer h.Stop()

	prev := handler
	handler = h
	defer func() { handler = prev }()

	func() {
		defer RecoverMiddleware()()
		panic("boom")
	}()
	assert.Equal(t, int32(1), h.Count())

	handler = nil
	assert.NotPanics(t, func() {
		defer RecoverMiddleware()()
		panic("no handler")
	})
}

func TestRecoverInto(t *testing.T) {
	h := NewErrorHandler(Options{ResetInterval: time.Hour, CheckInterval: time.Hour})
	defer h.Stop()

	prev := handler
	handler = h
	defer func() { handler = prev }()

	run := func(fail bool) (err error) {
		defer RecoverInto(&err)()
		if fail {
			panic("bad message")
		}
		return nil
	}

	assert.NoError(t, run(false))
	err := run(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad message")
	assert.Equal(t, int32(1), h.Count())
}

func TestStopIsIdempotent(t *testing.T) {
	h := NewErrorHandler(Options{})
	h.Stop()
	assert.NotPanics(t, h.Stop)
}

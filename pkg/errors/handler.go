// Package errors provides panic recovery and error accounting for the
// long-running goroutines of the indexer. An error burst is reported to a
// webhook and logged as critical; the process keeps running.
package errors

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// ErrorHandler manages error counting and reporting
type ErrorHandler struct {
	errorCount    atomic.Int32
	bursts        atomic.Int32
	webhookURL    string
	client        *http.Client
	stopChan      chan struct{}
	stopOnce      sync.Once
	onBurst       func()
	maxErrors     int32
	resetInterval time.Duration
	checkInterval time.Duration
}

// ReportErrorOptions contains options for reporting an error
type ReportErrorOptions struct {
	Error   string
	Message string
}

// Options tunes NewErrorHandler. Zero values take the defaults: more than
// 15 errors within 5 seconds is a burst.
type Options struct {
	WebhookURL    string
	OnBurst       func()
	MaxErrors     int32
	ResetInterval time.Duration
	CheckInterval time.Duration
}

var (
	handler *ErrorHandler
	once    sync.Once
)

// Init initializes the global error handler
func Init(opts Options) *ErrorHandler {
	once.Do(func() {
		handler = NewErrorHandler(opts)
	})
	return handler
}

// Get returns the global error handler instance
func Get() *ErrorHandler {
	return handler
}

// NewErrorHandler creates a new ErrorHandler instance
func NewErrorHandler(opts Options) *ErrorHandler {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 15
	}
	if opts.ResetInterval <= 0 {
		opts.ResetInterval = 5 * time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Second
	}

	h := &ErrorHandler{
		webhookURL:    opts.WebhookURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		stopChan:      make(chan struct{}),
		onBurst:       opts.OnBurst,
		maxErrors:     opts.MaxErrors,
		resetInterval: opts.ResetInterval,
		checkInterval: opts.CheckInterval,
	}

	h.start()
	return h
}

func (h *ErrorHandler) start() {
	go func() {
		ticker := time.NewTicker(h.resetInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.errorCount.Store(0)
			case <-h.stopChan:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(h.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.check()
			case <-h.stopChan:
				return
			}
		}
	}()
}

// check raises one critical report per burst. The counter is cleared so the
// same burst isn't reported on every tick.
func (h *ErrorHandler) check() {
	count := h.errorCount.Load()
	if count <= h.maxErrors {
		return
	}
	h.errorCount.Store(0)
	h.bursts.Add(1)

	logger.Critical(fmt.Sprintf("Se detectó un número demasiado alto de errores (%d)", count), "AntiCrash")
	h.Report(ReportErrorOptions{
		Error:   "Critical Error",
		Message: fmt.Sprintf("Número inusual de errores: %d en %v", count, h.resetInterval),
	})
	if h.onBurst != nil {
		h.onBurst()
	}
}

// Stop stops the error monitoring goroutines
func (h *ErrorHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Count returns the errors counted in the current window.
func (h *ErrorHandler) Count() int32 {
	return h.errorCount.Load()
}

// Bursts returns how many error bursts were raised.
func (h *ErrorHandler) Bursts() int32 {
	return h.bursts.Load()
}

// IncrementError increments the error count
func (h *ErrorHandler) IncrementError() {
	count := h.errorCount.Add(1)
	logger.Debug(fmt.Sprintf("Error count: %d", count), "AntiCrash")
}

// HandlePanic handles a recovered panic
func (h *ErrorHandler) HandlePanic(recovered interface{}) {
	h.IncrementError()
	logger.Error(fmt.Sprintf("Panic recuperado: %v", recovered), "AntiCrash")
}

type reportAuthor struct {
	Name string `json:"name"`
}

type reportFooter struct {
	Text string `json:"text"`
}

type reportEmbed struct {
	Author      reportAuthor `json:"author"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Footer      reportFooter `json:"footer"`
	Timestamp   string       `json:"timestamp"`
}

// Report sends an error report to the Discord webhook
func (h *ErrorHandler) Report(data ReportErrorOptions) {
	if h.webhookURL == "" {
		return
	}

	payload := struct {
		Embeds []reportEmbed `json:"embeds"`
	}{Embeds: []reportEmbed{{
		Author:      reportAuthor{Name: fmt.Sprintf("Error %s", data.Error)},
		Description: data.Message,
		Color:       0xFF0000,
		Footer:      reportFooter{Text: "PancyModLogs"},
		Timestamp:   time.Now().Format(time.RFC3339),
	}}}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to marshal error report: %v", err), "AntiCrash")
		return
	}

	req, err := http.NewRequest(http.MethodPost, h.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to create webhook request: %v", err), "AntiCrash")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send error report: %v", err), "AntiCrash")
		return
	}
	defer resp.Body.Close()

	logger.Warn(fmt.Sprintf("Sent ErrorReport to Webhook, Status: %d", resp.StatusCode), "AntiCrash")
}

// RecoverMiddleware returns a recovery function for use in deferred calls
func RecoverMiddleware() func() {
	return func() {
		if r := recover(); r != nil {
			reportPanic(r)
		}
	}
}

// RecoverInto is RecoverMiddleware for functions with a named error result:
// a recovered panic is reported and turned into *errp.
func RecoverInto(errp *error) func() {
	return func() {
		if r := recover(); r != nil {
			reportPanic(r)
			*errp = fmt.Errorf("panic: %v", r)
		}
	}
}

func reportPanic(r interface{}) {
	if handler != nil {
		handler.HandlePanic(r)
		return
	}
	logger.Error(fmt.Sprintf("Panic recovered (no handler): %v", r), "AntiCrash")
}

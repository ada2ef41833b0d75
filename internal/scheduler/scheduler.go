// Package scheduler runs the periodic catch-up rescan of every watched
// channel. Live events already trigger scans; the rescan picks up whatever
// they missed.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// Scanner brings every watched channel up to date
type Scanner interface {
	ScanAll(ctx context.Context) ([]ingest.ScanResult, error)
}

// cronLogger routes cron's own messages into the bot logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug(fmt.Sprint(append([]interface{}{msg, " "}, keysAndValues...)...), "Scheduler")
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error(fmt.Sprintf("%s: %v %v", msg, err, keysAndValues), "Scheduler")
}

// Scheduler owns the cron runner
type Scheduler struct {
	cron    *cron.Cron
	scanner Scanner
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New schedules ScanAll on spec, a standard cron expression or a
// descriptor such as "@hourly". An overlapping run is skipped. An empty
// spec disables the rescan.
func New(scanner Scanner, spec string, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	l := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		scanner: scanner,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	if spec == "" {
		logger.Warn("RESCAN_SCHEDULE vacío: reescaneo periódico desactivado.", "Scheduler")
		return s, nil
	}
	if _, err := s.cron.AddFunc(spec, s.Run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid rescan schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the cron runner in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	if next := s.Next(); !next.IsZero() {
		logger.System(fmt.Sprintf("⏰ Próximo reescaneo: %s", next.Format(time.RFC3339)), "Scheduler")
	}
}

// Next returns the next scheduled run, or the zero time when disabled or
// not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run performs one rescan
func (s *Scheduler) Run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	results, err := s.scanner.ScanAll(ctx)
	queued := 0
	for _, r := range results {
		queued += r.Queued
	}
	if err != nil {
		logger.Warn(fmt.Sprintf("Reescaneo periódico con errores: %v", err), "Scheduler")
	}
	logger.Info(fmt.Sprintf("🔁 Reescaneo de %d canales en %v: %d registros", len(results), time.Since(start).Round(time.Millisecond), queued), "Scheduler")
}

// Stop cancels a running rescan and waits for it to return
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	logger.System("Scheduler detenido.", "Scheduler")
}

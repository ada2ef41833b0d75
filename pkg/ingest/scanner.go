package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const (
	modeBackfill = "backfill"
	modeForward  = "forward"
)

// ScanResult summarizes one channel scan.
type ScanResult struct {
	ChannelID  uint64 `json:"channelId,string"`
	Mode       string `json:"mode"`
	Pages      int    `json:"pages"`
	Messages   int    `json:"messages"`
	Queued     int    `json:"queued"`
	Checkpoint uint64 `json:"checkpoint,string"`
}

// ScannerOptions configures NewScanner.
type ScannerOptions struct {
	PageSize int
	// ResumeBackfill keeps a cursor for the backward walk so a scan
	// interrupted during the first backfill picks it up again later.
	ResumeBackfill bool
	Metrics        *Metrics
}

// Scanner pages through channel history and hands each page to the pipeline
// before fetching the next one.
//
// Without a checkpoint it walks backward from the newest message and sets
// the checkpoint right after the first page. With a checkpoint it walks
// forward and only moves the checkpoint once the whole walk is persisted.
type Scanner struct {
	source   MessageSource
	store    Store
	pipeline *Pipeline
	opts     ScannerOptions
}

// NewScanner creates a Scanner.
func NewScanner(source MessageSource, store Store, pipeline *Pipeline, opts ScannerOptions) *Scanner {
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Scanner{source: source, store: store, pipeline: pipeline, opts: opts}
}

// Scan brings one channel up to date. Callers must not scan the same
// channel concurrently; the Indexer takes care of that.
func (s *Scanner) Scan(ctx context.Context, channelID uint64, logType models.LogType) (ScanResult, error) {
	res := ScanResult{ChannelID: channelID}

	checkpoint, ok, err := s.store.GetCheckpoint(channelID)
	if err != nil {
		return res, fmt.Errorf("read checkpoint %d: %w", channelID, err)
	}

	start := time.Now()
	if !ok {
		res.Mode = modeBackfill
		err = s.backward(ctx, &res, logType, 0, true)
	} else {
		res.Mode = modeForward
		err = s.forward(ctx, &res, logType, checkpoint)
		if err == nil && s.opts.ResumeBackfill {
			err = s.resumeBackfill(ctx, &res, logType)
		}
	}
	s.opts.Metrics.ScanDuration.WithLabelValues(res.Mode).Observe(time.Since(start).Seconds())

	if cp, ok, cpErr := s.store.GetCheckpoint(channelID); cpErr == nil && ok {
		res.Checkpoint = cp
	}
	return res, err
}

func (s *Scanner) resumeBackfill(ctx context.Context, res *ScanResult, logType models.LogType) error {
	cursor, ok, err := s.store.GetBackfillCursor(res.ChannelID)
	if err != nil {
		return fmt.Errorf("read backfill cursor %d: %w", res.ChannelID, err)
	}
	if !ok {
		return nil
	}

	logger.Info(fmt.Sprintf("Retomando backfill del canal %d desde %d", res.ChannelID, cursor), "Scanner")
	return s.backward(ctx, res, logType, cursor, false)
}

// backward pages toward the oldest message, starting before the given ID
// (zero means the newest message).
func (s *Scanner) backward(ctx context.Context, res *ScanResult, logType models.LogType, before uint64, setCheckpoint bool) error {
	for {
		msgs, err := s.fetch(ctx, res.ChannelID, FetchOptions{Before: before, Limit: s.opts.PageSize}, modeBackfill)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		if err := s.handle(ctx, res, logType, msgs); err != nil {
			return err
		}

		newest, oldest := pageBounds(msgs)
		if setCheckpoint {
			if err := s.pipeline.FlushChannel(ctx, res.ChannelID); err != nil {
				return err
			}
			if err := s.store.SetCheckpoint(res.ChannelID, newest); err != nil {
				return fmt.Errorf("set checkpoint %d: %w", res.ChannelID, err)
			}
			setCheckpoint = false
		}
		if s.opts.ResumeBackfill {
			if err := s.pipeline.FlushChannel(ctx, res.ChannelID); err != nil {
				return err
			}
			if err := s.store.SetBackfillCursor(res.ChannelID, oldest); err != nil {
				return fmt.Errorf("set backfill cursor %d: %w", res.ChannelID, err)
			}
		}

		before = oldest
		if len(msgs) < s.opts.PageSize {
			break
		}
	}

	if err := s.pipeline.FlushChannel(ctx, res.ChannelID); err != nil {
		return err
	}
	if s.opts.ResumeBackfill {
		if err := s.store.ClearBackfillCursor(res.ChannelID); err != nil {
			return fmt.Errorf("clear backfill cursor %d: %w", res.ChannelID, err)
		}
	}
	return nil
}

// forward pages toward the newest message after checkpoint.
func (s *Scanner) forward(ctx context.Context, res *ScanResult, logType models.LogType, checkpoint uint64) error {
	after := checkpoint
	newestSeen := checkpoint

	for {
		msgs, err := s.fetch(ctx, res.ChannelID, FetchOptions{After: after, Limit: s.opts.PageSize}, modeForward)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		if err := s.handle(ctx, res, logType, msgs); err != nil {
			return err
		}

		newest, _ := pageBounds(msgs)
		if newest > newestSeen {
			newestSeen = newest
		}
		if newest <= after {
			// source ignored the cursor, stop instead of looping forever
			break
		}
		after = newest
		if len(msgs) < s.opts.PageSize {
			break
		}
	}

	if err := s.pipeline.FlushChannel(ctx, res.ChannelID); err != nil {
		return err
	}
	if newestSeen > checkpoint {
		if err := s.store.SetCheckpoint(res.ChannelID, newestSeen); err != nil {
			return fmt.Errorf("set checkpoint %d: %w", res.ChannelID, err)
		}
	}
	return nil
}

func (s *Scanner) fetch(ctx context.Context, channelID uint64, opts FetchOptions, direction string) ([]Message, error) {
	msgs, err := s.source.FetchMessages(ctx, channelID, opts)
	if err != nil {
		s.opts.Metrics.FetchErrors.WithLabelValues(direction).Inc()
		return nil, fmt.Errorf("fetch channel %d: %w", channelID, err)
	}
	s.opts.Metrics.PagesFetched.WithLabelValues(direction).Inc()
	return msgs, nil
}

func (s *Scanner) handle(ctx context.Context, res *ScanResult, logType models.LogType, msgs []Message) error {
	res.Pages++
	res.Messages += len(msgs)

	n, err := s.pipeline.ProcessPage(ctx, logType, msgs)
	res.Queued += n
	if err != nil {
		return fmt.Errorf("process page of channel %d: %w", res.ChannelID, err)
	}
	return nil
}

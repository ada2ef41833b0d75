package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
)

type fakeScanner struct {
	calls   atomic.Int32
	err     error
	blockOn chan struct{}
	sawDone atomic.Bool
}

func (f *fakeScanner) ScanAll(ctx context.Context) ([]ingest.ScanResult, error) {
	f.calls.Add(1)
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
			f.sawDone.Store(true)
			return nil, ctx.Err()
		}
	}
	return []ingest.ScanResult{{ChannelID: 1, Queued: 2}}, f.err
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeScanner{}, "every tuesday", 0)
	assert.Error(t, err)
}

func TestEmptyScheduleDisables(t *testing.T) {
	s, err := New(&fakeScanner{}, "", 0)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()
	assert.True(t, s.Next().IsZero())
}

func TestNextRun(t *testing.T) {
	s, err := New(&fakeScanner{}, "@hourly", 0)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	next := s.Next()
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(time.Hour+time.Second)))
	assert.Zero(t, next.Minute())
}

func TestRunSurvivesErrors(t *testing.T) {
	f := &fakeScanner{err: errors.New("channel 5: missing access")}
	s, err := New(f, "@hourly", 0)
	require.NoError(t, err)

	s.Run()
	s.Run()
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestScheduledRunFires(t *testing.T) {
	f := &fakeScanner{}
	s, err := New(f, "@every 1s", 0)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestStopCancelsRunningScan(t *testing.T) {
	f := &fakeScanner{blockOn: make(chan struct{})}
	s, err := New(f, "@every 1s", time.Hour)
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	assert.True(t, f.sawDone.Load())
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// fakeSource serves channel history like the chat platform does: pages are
// returned newest first, "after" pages hold the oldest messages after the
// cursor.
type fakeSource struct {
	mu    sync.Mutex
	msgs  map[uint64][]Message // ascending by ID
	calls []FetchOptions
	err   error
	// hook runs before every fetch with the 1-based call number
	hook func(n int, opts FetchOptions)
}

func newFakeSource() *fakeSource {
	return &fakeSource{msgs: make(map[uint64][]Message)}
}

func (f *fakeSource) add(msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.msgs[m.ChannelID] = append(f.msgs[m.ChannelID], m)
	}
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) FetchMessages(ctx context.Context, channelID uint64, opts FetchOptions) ([]Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	n := len(f.calls)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(n, opts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	all := f.msgs[channelID]
	var out []Message
	if opts.After != 0 {
		for _, m := range all {
			if m.ID > opts.After {
				out = append(out, m)
				if len(out) == opts.Limit {
					break
				}
			}
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}

	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if opts.Before != 0 && m.ID >= opts.Before {
			continue
		}
		out = append(out, m)
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// logMessages builds count qualifying messages with IDs first, first+1, ...
// Each one mentions the Roblox user 100000+ID.
func logMessages(channelID, first uint64, count int) []Message {
	out := make([]Message, count)
	for i := range out {
		id := first + uint64(i)
		out[i] = Message{
			ID:        id,
			ChannelID: channelID,
			Content:   fmt.Sprintf("Ban\n%d\nexploiting", 100000+id),
		}
	}
	return out
}

func newTestStore(t *testing.T) *logstore.Store {
	t.Helper()
	s, err := logstore.Open("modlogs", logstore.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type harness struct {
	store    *logstore.Store
	source   *fakeSource
	pipeline *Pipeline
	scanner  *Scanner
	indexer  *Indexer
}

func newHarness(t *testing.T, resume bool, channels map[uint64]models.LogType) *harness {
	t.Helper()
	h := &harness{store: newTestStore(t), source: newFakeSource()}
	h.pipeline = NewPipeline(h.store, PipelineOptions{Concurrency: 8, QueueSize: 16})
	h.scanner = NewScanner(h.source, h.store, h.pipeline, ScannerOptions{ResumeBackfill: resume})
	h.indexer = NewIndexer(h.store, h.pipeline, h.scanner, IndexerOptions{Channels: channels})
	t.Cleanup(func() {
		h.indexer.Close()
		h.pipeline.Close()
	})
	return h
}

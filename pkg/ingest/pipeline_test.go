package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) RecordSaved(rec models.LogRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "save")
}

func (o *recordingObserver) RecordDeleted(messageID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "delete")
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type panickingObserver struct{}

func (panickingObserver) RecordSaved(models.LogRecord) { panic("observer bug") }
func (panickingObserver) RecordDeleted(uint64)         { panic("observer bug") }

func TestBuildRecord(t *testing.T) {
	m := Message{ID: 10, ChannelID: 20, Content: "[111111111111111111] <@111111111111111111>\ntemp ban 1234567 alt account"}

	rec, ok := BuildRecord(models.LogTypeDiscord, m)
	require.True(t, ok)
	assert.Equal(t, models.LogRecord{
		LogType:        models.LogTypeDiscord,
		InfractionType: models.InfractionTempBan,
		RobloxUserIDs:  []uint64{1234567},
		DiscordUserIDs: []uint64{111111111111111111},
		Reason:         "alt account",
		MessageID:      10,
		ChannelID:      20,
	}, rec)

	_, ok = BuildRecord(models.LogTypeGame, Message{ID: 11, ChannelID: 20, Content: "warn for nothing"})
	assert.False(t, ok)

	_, ok = BuildRecord(models.LogTypeGame, Message{ID: 12, ChannelID: 20, Content: "123456 reply", IsReply: true})
	assert.False(t, ok)
}

func TestProcessPageAndFlush(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(store, PipelineOptions{Concurrency: 3, QueueSize: 2})
	defer p.Close()

	msgs := logMessages(1, 5000, 40)
	n, err := p.ProcessPage(context.Background(), models.LogTypeGame, msgs)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	require.NoError(t, p.Flush(context.Background()))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 40, stats.Records)
	assert.Equal(t, 0, p.QueueDepth())
}

func TestObserversSeeWritesInOrder(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(store, PipelineOptions{})

	obs := &recordingObserver{}
	p.AddObserver(panickingObserver{})
	p.AddObserver(obs)

	rec, ok := BuildRecord(models.LogTypeGame, logMessages(1, 7000, 1)[0])
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, p.SaveRecord(ctx, rec))
	require.NoError(t, p.DeleteRecord(ctx, rec.MessageID))
	require.NoError(t, p.SaveRecord(ctx, rec))

	// Close drains the observer goroutine too
	p.Close()
	assert.Equal(t, []string{"save", "delete", "save"}, obs.snapshot())
}

func TestClosedPipelineRejectsWork(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(store, PipelineOptions{})
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Flush(context.Background()), ErrClosed)

	_, err := p.ProcessPage(context.Background(), models.LogTypeGame, logMessages(1, 1, 3))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProcessPageHonoursContext(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(store, PipelineOptions{Concurrency: 1, QueueSize: 1})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := p.ProcessPage(ctx, models.LogTypeGame, logMessages(1, 1, 50))
	assert.Error(t, err)
}

func TestFlushChannelReportsOnlyItsOwnFailures(t *testing.T) {
	store := &rejectingStore{Store: newTestStore(t), rejectID: 3002}
	store.rejecting.Store(true)
	p := NewPipeline(store, PipelineOptions{Concurrency: 2, QueueSize: 4})
	defer p.Close()

	ctx := context.Background()
	_, err := p.ProcessPage(ctx, models.LogTypeGame, logMessages(1, 3001, 3))
	require.NoError(t, err)
	_, err = p.ProcessPage(ctx, models.LogTypeGame, logMessages(2, 4001, 3))
	require.NoError(t, err)

	require.NoError(t, p.FlushChannel(ctx, 2))
	assert.ErrorIs(t, p.FlushChannel(ctx, 1), ErrUnpersisted)
	// reported once, then cleared
	assert.NoError(t, p.FlushChannel(ctx, 1))
	assert.NoError(t, p.Flush(ctx))
}

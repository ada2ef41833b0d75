package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// channelState serializes scans of one channel. scanMu is held for the whole
// scan; pending records triggers that arrived while a background loop was
// busy so the loop runs one more pass instead of dropping them.
type channelState struct {
	scanMu sync.Mutex

	mu        sync.Mutex
	scheduled bool
	pending   bool
}

// QueryFallback answers user queries when the local store can't.
type QueryFallback interface {
	FindByUser(userID uint64) ([]models.LogRecord, error)
}

// IndexerOptions configures NewIndexer.
type IndexerOptions struct {
	// Channels maps every watched channel to the log type it produces.
	Channels map[uint64]models.LogType
	// ScanParallelism bounds how many channels ScanAll scans at once.
	ScanParallelism int
	// Fallback, when set, serves Query if the store fails.
	Fallback QueryFallback
	Metrics  *Metrics
}

// Indexer is the entry point of the engine: it owns the per-channel scan
// locks and routes platform events through the pipeline.
type Indexer struct {
	store    Store
	pipeline *Pipeline
	scanner  *Scanner
	channels map[uint64]models.LogType
	opts     IndexerOptions

	mu     sync.Mutex
	states map[uint64]*channelState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIndexer wires the store, pipeline and scanner together.
func NewIndexer(store Store, pipeline *Pipeline, scanner *Scanner, opts IndexerOptions) *Indexer {
	if opts.ScanParallelism <= 0 {
		opts.ScanParallelism = 4
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	channels := make(map[uint64]models.LogType, len(opts.Channels))
	for id, lt := range opts.Channels {
		channels[id] = lt
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Indexer{
		store:    store,
		pipeline: pipeline,
		scanner:  scanner,
		channels: channels,
		opts:     opts,
		states:   make(map[uint64]*channelState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// LogTypeOf returns the log type of a watched channel.
func (ix *Indexer) LogTypeOf(channelID uint64) (models.LogType, bool) {
	lt, ok := ix.channels[channelID]
	return lt, ok
}

// Channels returns the watched channel IDs in ascending order.
func (ix *Indexer) Channels() []uint64 {
	ids := make([]uint64, 0, len(ix.channels))
	for id := range ix.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (ix *Indexer) state(channelID uint64) *channelState {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	st, ok := ix.states[channelID]
	if !ok {
		st = &channelState{}
		ix.states[channelID] = st
	}
	return st
}

// ScanChannel scans one channel and waits for the result. It waits for any
// scan of the same channel already in progress.
func (ix *Indexer) ScanChannel(ctx context.Context, channelID uint64) (ScanResult, error) {
	lt, ok := ix.channels[channelID]
	if !ok {
		return ScanResult{ChannelID: channelID}, ErrNotWatched
	}

	st := ix.state(channelID)
	st.scanMu.Lock()
	defer st.scanMu.Unlock()

	res, err := ix.scanner.Scan(ctx, channelID, lt)
	if err != nil {
		logger.Error(fmt.Sprintf("Escaneo del canal %d fallido: %v", channelID, err), "Indexer")
		return res, err
	}
	logger.Debug(fmt.Sprintf("Canal %d escaneado (%s): %d páginas, %d mensajes, %d registros", channelID, res.Mode, res.Pages, res.Messages, res.Queued), "Indexer")
	return res, nil
}

// TriggerScan schedules a background scan of a channel. A trigger for a
// channel whose background scan is already running is folded into one
// extra pass. It returns false when the trigger was folded.
func (ix *Indexer) TriggerScan(channelID uint64) bool {
	if _, ok := ix.channels[channelID]; !ok || ix.ctx.Err() != nil {
		return false
	}

	st := ix.state(channelID)
	st.mu.Lock()
	if st.scheduled {
		st.pending = true
		st.mu.Unlock()
		ix.opts.Metrics.ScansCoalesced.Inc()
		return false
	}
	st.scheduled = true
	st.mu.Unlock()

	ix.wg.Add(1)
	go ix.scanLoop(channelID, st)
	return true
}

func (ix *Indexer) scanLoop(channelID uint64, st *channelState) {
	defer ix.wg.Done()

	for {
		func() {
			defer apperrors.RecoverMiddleware()()
			_, _ = ix.ScanChannel(ix.ctx, channelID)
		}()

		st.mu.Lock()
		if !st.pending || ix.ctx.Err() != nil {
			st.scheduled = false
			st.pending = false
			st.mu.Unlock()
			return
		}
		st.pending = false
		st.mu.Unlock()
	}
}

// ScanAll scans every watched channel. A failing channel doesn't stop the
// others; their errors are joined.
func (ix *Indexer) ScanAll(ctx context.Context) ([]ScanResult, error) {
	ids := ix.Channels()
	results := make([]ScanResult, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(ix.opts.ScanParallelism)
	for i, id := range ids {
		g.Go(func() error {
			defer apperrors.RecoverMiddleware()()
			results[i], errs[i] = ix.ScanChannel(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// HandleNewMessage reacts to a message posted in a channel. Watched
// channels get a scan, which picks the message up from the checkpoint.
func (ix *Indexer) HandleNewMessage(m Message) {
	ix.TriggerScan(m.ChannelID)
}

// HandleDelete removes the record keyed by a deleted message.
func (ix *Indexer) HandleDelete(ctx context.Context, channelID, messageID uint64) error {
	if _, ok := ix.channels[channelID]; !ok {
		return nil
	}
	return ix.pipeline.DeleteRecord(ctx, messageID)
}

// HandleEdit re-parses an edited message and replaces its record. An edit
// that leaves no user ID behind removes the record. Replies are never
// parsed from their own content, so editing one changes nothing.
func (ix *Indexer) HandleEdit(ctx context.Context, m Message) error {
	lt, ok := ix.channels[m.ChannelID]
	if !ok {
		return nil
	}
	if m.IsReply || m.Referenced != nil {
		return nil
	}

	rec, ok := BuildRecord(lt, m)
	if !ok {
		return ix.pipeline.DeleteRecord(ctx, m.ID)
	}
	return ix.pipeline.SaveRecord(ctx, rec)
}

// Query returns every record that mentions a user, newest first.
func (ix *Indexer) Query(userID uint64) ([]models.LogRecord, error) {
	recs, err := ix.store.Get(userID)
	if err == nil || ix.opts.Fallback == nil {
		return recs, err
	}

	logger.Warn(fmt.Sprintf("Consulta local del usuario %d fallida, usando la réplica: %v", userID, err), "Indexer")
	recs, fbErr := ix.opts.Fallback.FindByUser(userID)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return recs, nil
}

// Save persists rec through the writer.
func (ix *Indexer) Save(ctx context.Context, rec models.LogRecord) error {
	return ix.pipeline.SaveRecord(ctx, rec)
}

// Delete removes a record through the writer.
func (ix *Indexer) Delete(ctx context.Context, messageID uint64) error {
	return ix.pipeline.DeleteRecord(ctx, messageID)
}

// Checkpoint returns a channel's scan checkpoint.
func (ix *Indexer) Checkpoint(channelID uint64) (uint64, bool, error) {
	return ix.store.GetCheckpoint(channelID)
}

// PruneUnwatched deletes records whose channel is on neither allow-list.
func (ix *Indexer) PruneUnwatched(ctx context.Context) (int, error) {
	var stale []uint64
	err := ix.store.ForEach(func(rec models.LogRecord) error {
		if _, ok := ix.channels[rec.ChannelID]; !ok {
			stale = append(stale, rec.MessageID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, id := range stale {
		if err := ix.pipeline.DeleteRecord(ctx, id); err != nil {
			return i, err
		}
	}
	if len(stale) > 0 {
		logger.Warn(fmt.Sprintf("Eliminados %d registros de canales que ya no se vigilan", len(stale)), "Indexer")
	}
	return len(stale), nil
}

// QueueDepth returns the writer backlog.
func (ix *Indexer) QueueDepth() int {
	return ix.pipeline.QueueDepth()
}

// Close cancels background scans and waits for them to stop. The pipeline
// is closed by its owner.
func (ix *Indexer) Close() {
	ix.cancel()
	ix.wg.Wait()
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const (
	DefaultConcurrency = 100
	DefaultQueueSize   = 256
	observerBuffer     = 1024
)

// Observer is told about every operation the writer persisted. Calls happen
// in write order on a dedicated goroutine.
type Observer interface {
	RecordSaved(rec models.LogRecord)
	RecordDeleted(messageID uint64)
}

// PipelineOptions configures NewPipeline.
type PipelineOptions struct {
	// Concurrency bounds in-flight extractions across all pages.
	Concurrency int64
	// QueueSize is the capacity of the writer queue.
	QueueSize int
	Metrics   *Metrics
}

type opKind int

const (
	opSave opKind = iota
	opDelete
	opBarrier
)

func (k opKind) String() string {
	switch k {
	case opSave:
		return "save"
	case opDelete:
		return "delete"
	default:
		return "barrier"
	}
}

type op struct {
	kind      opKind
	rec       models.LogRecord
	messageID uint64
	// channelID scopes a barrier to the failures of one channel
	channelID uint64
	result    chan error
}

type event struct {
	deleted   bool
	rec       models.LogRecord
	messageID uint64
}

// Pipeline fans extraction out over a bounded worker set and funnels the
// results into one writer goroutine, so the store never sees overlapping
// writes.
type Pipeline struct {
	store   Store
	build   func(models.LogType, Message) (models.LogRecord, bool)
	sem     *semaphore.Weighted
	queue   chan op
	done    chan struct{}
	metrics *Metrics

	mu     sync.RWMutex
	closed bool

	// failed counts queued saves the store rejected since the last barrier
	// of their channel. Only the writer goroutine touches it.
	failed map[uint64]int

	obsMu     sync.RWMutex
	observers []Observer
	events    chan event
	eventsOut chan struct{}
}

// NewPipeline starts the writer goroutine.
func NewPipeline(store Store, opts PipelineOptions) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	p := &Pipeline{
		store:     store,
		build:     BuildRecord,
		failed:    make(map[uint64]int),
		sem:       semaphore.NewWeighted(opts.Concurrency),
		queue:     make(chan op, opts.QueueSize),
		done:      make(chan struct{}),
		metrics:   opts.Metrics,
		events:    make(chan event, observerBuffer),
		eventsOut: make(chan struct{}),
	}

	go p.notify()
	go p.run()
	return p
}

// AddObserver registers o for every future write.
func (p *Pipeline) AddObserver(o Observer) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, o)
}

// ProcessPage extracts a record from every qualifying message and queues it
// for the writer. It returns once every message of the page is queued, not
// persisted; use Flush to wait for the writer.
func (p *Pipeline) ProcessPage(ctx context.Context, logType models.LogType, msgs []Message) (int, error) {
	var queued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	var acquireErr error
	for _, m := range msgs {
		if err := p.sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() (err error) {
			defer p.sem.Release(1)
			defer apperrors.RecoverInto(&err)()

			p.metrics.MessagesProcessed.Inc()
			rec, ok := p.build(logType, m)
			if !ok {
				p.metrics.MessagesSkipped.Inc()
				return nil
			}
			if err := p.enqueue(gctx, op{kind: opSave, rec: rec}); err != nil {
				return err
			}
			queued.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(queued.Load()), err
	}
	return int(queued.Load()), acquireErr
}

// Flush blocks until every operation queued before it has been applied.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.submit(ctx, op{kind: opBarrier})
}

// FlushChannel is Flush for one channel's page saves. It returns
// ErrUnpersisted when the store rejected any of them since the previous
// FlushChannel of that channel.
func (p *Pipeline) FlushChannel(ctx context.Context, channelID uint64) error {
	return p.submit(ctx, op{kind: opBarrier, channelID: channelID})
}

// SaveRecord queues rec and waits for the writer to persist it.
func (p *Pipeline) SaveRecord(ctx context.Context, rec models.LogRecord) error {
	return p.submit(ctx, op{kind: opSave, rec: rec})
}

// DeleteRecord queues a delete and waits for the writer to apply it.
func (p *Pipeline) DeleteRecord(ctx context.Context, messageID uint64) error {
	return p.submit(ctx, op{kind: opDelete, messageID: messageID})
}

// QueueDepth returns the number of operations waiting for the writer.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

// Close stops accepting work and waits for the queue to drain.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.eventsOut
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	<-p.eventsOut
}

func (p *Pipeline) submit(ctx context.Context, o op) error {
	o.result = make(chan error, 1)
	if err := p.enqueue(ctx, o); err != nil {
		return err
	}
	select {
	case err := <-o.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) enqueue(ctx context.Context, o op) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- o:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the only goroutine that writes to the store.
func (p *Pipeline) run() {
	defer close(p.done)
	defer close(p.events)

	for o := range p.queue {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		err := p.apply(o)
		if o.result != nil {
			o.result <- err
		}
	}
}

func (p *Pipeline) apply(o op) error {
	var err error
	switch o.kind {
	case opSave:
		err = p.store.Save(o.rec)
		if err == nil {
			p.metrics.RecordsSaved.Inc()
			p.publish(event{rec: o.rec})
		}
	case opDelete:
		err = p.store.Delete(o.messageID)
		if err == nil {
			p.metrics.RecordsDeleted.Inc()
			p.publish(event{deleted: true, messageID: o.messageID})
		}
	case opBarrier:
		if o.channelID == 0 {
			return nil
		}
		n := p.failed[o.channelID]
		if n == 0 {
			return nil
		}
		delete(p.failed, o.channelID)
		return fmt.Errorf("%w: %d records of channel %d", ErrUnpersisted, n, o.channelID)
	}

	if err != nil {
		if o.kind == opSave && o.result == nil {
			// nobody waits on a page save, the next barrier reports it
			p.failed[o.rec.ChannelID]++
		}
		p.metrics.StoreErrors.Inc()
		id := o.messageID
		if o.kind == opSave {
			id = o.rec.MessageID
		}
		logger.Error(fmt.Sprintf("Error en %s del mensaje %d: %v", o.kind, id, err), "Ingest")
	}
	return err
}

func (p *Pipeline) publish(e event) {
	select {
	case p.events <- e:
	default:
		p.metrics.ObserverDropped.Inc()
	}
}

func (p *Pipeline) notify() {
	defer close(p.eventsOut)

	for e := range p.events {
		p.obsMu.RLock()
		observers := p.observers
		p.obsMu.RUnlock()

		for _, o := range observers {
			func() {
				defer apperrors.RecoverMiddleware()()
				if e.deleted {
					o.RecordDeleted(e.messageID)
				} else {
					o.RecordSaved(e.rec)
				}
			}()
		}
	}
}

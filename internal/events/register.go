// Package events routes gateway events from the watched log channels into
// the indexer.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const eventTimeout = 30 * time.Second

// Indexer is the part of ingest.Indexer driven by gateway events
type Indexer interface {
	LogTypeOf(channelID uint64) (models.LogType, bool)
	HandleNewMessage(m ingest.Message)
	HandleEdit(ctx context.Context, m ingest.Message) error
	HandleDelete(ctx context.Context, channelID, messageID uint64) error
	TriggerScan(channelID uint64) bool
	Channels() []uint64
	PruneUnwatched(ctx context.Context) (int, error)
	ScanAll(ctx context.Context) ([]ingest.ScanResult, error)
}

// Handlers holds the event callbacks. ctx bounds every write they start
// and is cancelled at shutdown.
type Handlers struct {
	ix      Indexer
	ctx     context.Context
	startup sync.Once
	// done is closed when the first catch-up finishes
	done chan struct{}
}

// NewHandlers creates the event callbacks for an indexer
func NewHandlers(ctx context.Context, ix Indexer) *Handlers {
	return &Handlers{ix: ix, ctx: ctx, done: make(chan struct{})}
}

// StartupDone is closed once the first catch-up scan has finished
func (h *Handlers) StartupDone() <-chan struct{} {
	return h.done
}

// RegisterAll registers all events with the Discord client
func RegisterAll(client *discord.ExtendedClient, h *Handlers) {
	logger.System("📋 Registrando eventos del bot...", "Events")

	RegisterReadyEvent(client, h)
	RegisterMessageEvents(client, h)
	RegisterShardEvents(client, h)

	logger.Success("✅ Todos los eventos registrados correctamente", "Events")
}

func (h *Handlers) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, eventTimeout)
}

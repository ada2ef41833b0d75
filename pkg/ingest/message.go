// Package ingest scans moderation log channels and feeds the parsed records
// into the log store through a single serialized writer.
package ingest

import (
	"context"
	"errors"
	"slices"

	"github.com/PancyStudios/PancyModLogs/pkg/extract"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// DefaultPageSize is the largest page the chat platform returns.
const DefaultPageSize = 100

var (
	// ErrClosed is returned once the pipeline has been shut down.
	ErrClosed = errors.New("ingest: pipeline closed")
	// ErrNotWatched is returned for channels on neither allow-list.
	ErrNotWatched = errors.New("ingest: channel is not watched")
	// ErrUnpersisted is returned by FlushChannel when page saves failed.
	ErrUnpersisted = errors.New("ingest: records not persisted")
)

// Message is the subset of a chat message the indexer needs.
type Message struct {
	ID        uint64
	ChannelID uint64
	Content   string
	// IsReply is set when the message replies to another one, even if the
	// referenced message could not be resolved.
	IsReply    bool
	Referenced *Message
}

// FetchOptions selects a page of channel history. Before and After are
// exclusive message IDs; zero means unset.
type FetchOptions struct {
	Before uint64
	After  uint64
	Limit  int
}

// MessageSource reads channel history.
type MessageSource interface {
	FetchMessages(ctx context.Context, channelID uint64, opts FetchOptions) ([]Message, error)
}

// Store is the persistence the indexer relies on.
type Store interface {
	Save(rec models.LogRecord) error
	Delete(messageID uint64) error
	Get(userID uint64) ([]models.LogRecord, error)
	ForEach(fn func(models.LogRecord) error) error

	GetCheckpoint(channelID uint64) (uint64, bool, error)
	SetCheckpoint(channelID, messageID uint64) error

	GetBackfillCursor(channelID uint64) (uint64, bool, error)
	SetBackfillCursor(channelID, messageID uint64) error
	ClearBackfillCursor(channelID uint64) error
}

// BuildRecord parses a message into a LogRecord. A reply is parsed from the
// message it quotes and keyed by that message's ID. The boolean is false
// when the message mentions no user or quotes a message that is gone.
func BuildRecord(logType models.LogType, m Message) (models.LogRecord, bool) {
	src := m
	if m.IsReply || m.Referenced != nil {
		if m.Referenced == nil {
			return models.LogRecord{}, false
		}
		src = *m.Referenced
	}
	if src.ID == 0 {
		return models.LogRecord{}, false
	}

	f := extract.Parse(src.Content)
	if !f.HasIDs() {
		return models.LogRecord{}, false
	}

	return models.LogRecord{
		LogType:        logType,
		InfractionType: f.Infraction,
		RobloxUserIDs:  f.RobloxUserIDs,
		DiscordUserIDs: uniqueInOrder(f.DiscordUserIDs),
		Reason:         f.Reason,
		MessageID:      src.ID,
		ChannelID:      m.ChannelID,
	}, true
}

func uniqueInOrder(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// pageBounds returns the newest and oldest message IDs of a page.
func pageBounds(msgs []Message) (newest, oldest uint64) {
	for i, m := range msgs {
		if i == 0 || m.ID > newest {
			newest = m.ID
		}
		if i == 0 || m.ID < oldest {
			oldest = m.ID
		}
	}
	return newest, oldest
}

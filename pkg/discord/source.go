package discord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// historyReader is the part of *discordgo.Session the source needs.
type historyReader interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// MessageSource reads channel history through the REST API. It implements
// ingest.MessageSource.
type MessageSource struct {
	api historyReader
}

// NewMessageSource creates a source backed by a session
func NewMessageSource(s *discordgo.Session) *MessageSource {
	return &MessageSource{api: s}
}

func formatID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

// FetchMessages returns one page of history, newest first.
func (ms *MessageSource) FetchMessages(ctx context.Context, channelID uint64, opts ingest.FetchOptions) ([]ingest.Message, error) {
	limit := opts.Limit
	if limit <= 0 || limit > ingest.DefaultPageSize {
		limit = ingest.DefaultPageSize
	}

	page, err := ms.api.ChannelMessages(
		formatID(channelID), limit, formatID(opts.Before), formatID(opts.After), "",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching history of channel %d: %w", channelID, err)
	}

	out := make([]ingest.Message, 0, len(page))
	for _, m := range page {
		msg, err := ToMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// ToMessage converts a gateway or REST message. A reply carries the message
// it quotes when Discord resolved it.
func ToMessage(m *discordgo.Message) (ingest.Message, error) {
	id, err := models.ParseSnowflake(m.ID)
	if err != nil {
		return ingest.Message{}, fmt.Errorf("message id: %w", err)
	}
	channelID, err := models.ParseSnowflake(m.ChannelID)
	if err != nil {
		return ingest.Message{}, fmt.Errorf("channel id of message %s: %w", m.ID, err)
	}

	msg := ingest.Message{
		ID:        id,
		ChannelID: channelID,
		Content:   m.Content,
		IsReply:   m.Type == discordgo.MessageTypeReply,
	}

	if ref := m.ReferencedMessage; msg.IsReply && ref != nil {
		refID, err := models.ParseSnowflake(ref.ID)
		if err != nil {
			return ingest.Message{}, fmt.Errorf("referenced message of %s: %w", m.ID, err)
		}
		refChannel := channelID
		if ref.ChannelID != "" {
			if refChannel, err = models.ParseSnowflake(ref.ChannelID); err != nil {
				return ingest.Message{}, fmt.Errorf("referenced channel of %s: %w", m.ID, err)
			}
		}
		msg.Referenced = &ingest.Message{ID: refID, ChannelID: refChannel, Content: ref.Content}
	}
	return msg, nil
}

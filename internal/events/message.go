package events

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	apperrors "github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// RegisterMessageEvents registers all message-related event handlers
func RegisterMessageEvents(client *discord.ExtendedClient, h *Handlers) {
	client.EventHandler.OnMessageCreate(h.onMessageCreate)
	client.EventHandler.OnMessageUpdate(h.onMessageUpdate)
	client.EventHandler.OnMessageDelete(h.onMessageDelete)
	client.EventHandler.OnMessageDeleteBulk(h.onMessageDeleteBulk)
}

// watched parses a channel ID and reports whether it is a log channel
func (h *Handlers) watched(channelID string) (uint64, bool) {
	id, err := models.ParseSnowflake(channelID)
	if err != nil {
		return 0, false
	}
	_, ok := h.ix.LogTypeOf(id)
	return id, ok
}

// onMessageCreate triggers a scan of the channel. Bot and webhook messages
// count: most log channels are written by them.
func (h *Handlers) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	defer apperrors.RecoverMiddleware()()

	if _, ok := h.watched(m.ChannelID); !ok {
		return
	}
	msg, err := discord.ToMessage(m.Message)
	if err != nil {
		logger.Warn(fmt.Sprintf("Mensaje ignorado: %v", err), "Message")
		return
	}
	h.ix.HandleNewMessage(msg)
}

// onMessageUpdate re-parses an edited log entry. Updates without an edit
// timestamp are embed unfurls, not edits.
func (h *Handlers) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	defer apperrors.RecoverMiddleware()()

	if m.Message == nil || m.EditedTimestamp == nil {
		return
	}
	if _, ok := h.watched(m.ChannelID); !ok {
		return
	}
	msg, err := discord.ToMessage(m.Message)
	if err != nil {
		logger.Warn(fmt.Sprintf("Edición ignorada: %v", err), "Message")
		return
	}

	ctx, cancel := h.withTimeout()
	defer cancel()
	if err := h.ix.HandleEdit(ctx, msg); err != nil {
		logger.Error(fmt.Sprintf("✏️ Error actualizando registro %d: %v", msg.ID, err), "Message")
	}
}

func (h *Handlers) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	defer apperrors.RecoverMiddleware()()

	if m.Message == nil {
		return
	}
	channelID, ok := h.watched(m.ChannelID)
	if !ok {
		return
	}
	h.delete(channelID, m.ID)
}

func (h *Handlers) onMessageDeleteBulk(s *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	defer apperrors.RecoverMiddleware()()

	channelID, ok := h.watched(m.ChannelID)
	if !ok {
		return
	}
	for _, id := range m.Messages {
		h.delete(channelID, id)
	}
	logger.Debug(fmt.Sprintf("🗑️ %d mensajes purgados en canal %d", len(m.Messages), channelID), "Message")
}

func (h *Handlers) delete(channelID uint64, rawID string) {
	messageID, err := models.ParseSnowflake(rawID)
	if err != nil {
		return
	}

	ctx, cancel := h.withTimeout()
	defer cancel()
	if err := h.ix.HandleDelete(ctx, channelID, messageID); err != nil {
		logger.Error(fmt.Sprintf("🗑️ Error eliminando registro %d: %v", messageID, err), "Message")
	}
}

package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// EventHandler registers gateway event handlers on the session
type EventHandler struct {
	client  *ExtendedClient
	add     func(handler interface{}) func()
	removes []func()
	mu      sync.Mutex
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(client *ExtendedClient) *EventHandler {
	return &EventHandler{client: client, add: client.Session.AddHandler}
}

// RegisterEvent adds an event handler to the Discord session. discordgo
// matches handlers on the unnamed func type, so named handler types must be
// converted before they get here.
func (eh *EventHandler) RegisterEvent(handler interface{}) {
	remove := eh.add(handler)
	eh.mu.Lock()
	eh.removes = append(eh.removes, remove)
	eh.mu.Unlock()
}

// Count returns the number of registered handlers
func (eh *EventHandler) Count() int {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	return len(eh.removes)
}

// RemoveAll unregisters every handler added through RegisterEvent
func (eh *EventHandler) RemoveAll() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	for _, remove := range eh.removes {
		remove()
	}
	eh.removes = nil
}

// ReadyHandler is called when the bot is ready
type ReadyHandler func(s *discordgo.Session, r *discordgo.Ready)

// MessageCreateHandler is called when a message is created
type MessageCreateHandler func(s *discordgo.Session, m *discordgo.MessageCreate)

// MessageUpdateHandler is called when a message is updated
type MessageUpdateHandler func(s *discordgo.Session, m *discordgo.MessageUpdate)

// MessageDeleteHandler is called when a message is deleted
type MessageDeleteHandler func(s *discordgo.Session, m *discordgo.MessageDelete)

// MessageDeleteBulkHandler is called when messages are purged
type MessageDeleteBulkHandler func(s *discordgo.Session, m *discordgo.MessageDeleteBulk)

// OnReady registers a ready event handler
func (eh *EventHandler) OnReady(handler ReadyHandler) {
	eh.RegisterEvent((func(*discordgo.Session, *discordgo.Ready))(handler))
	logger.Debug("Evento 'Ready' registrado", "EventHandler")
}

// OnMessageCreate registers a message create event handler
func (eh *EventHandler) OnMessageCreate(handler MessageCreateHandler) {
	eh.RegisterEvent((func(*discordgo.Session, *discordgo.MessageCreate))(handler))
	logger.Debug("Evento 'MessageCreate' registrado", "EventHandler")
}

// OnMessageUpdate registers a message update event handler
func (eh *EventHandler) OnMessageUpdate(handler MessageUpdateHandler) {
	eh.RegisterEvent((func(*discordgo.Session, *discordgo.MessageUpdate))(handler))
	logger.Debug("Evento 'MessageUpdate' registrado", "EventHandler")
}

// OnMessageDelete registers a message delete event handler
func (eh *EventHandler) OnMessageDelete(handler MessageDeleteHandler) {
	eh.RegisterEvent((func(*discordgo.Session, *discordgo.MessageDelete))(handler))
	logger.Debug("Evento 'MessageDelete' registrado", "EventHandler")
}

// OnMessageDeleteBulk registers a bulk delete event handler
func (eh *EventHandler) OnMessageDeleteBulk(handler MessageDeleteBulkHandler) {
	eh.RegisterEvent((func(*discordgo.Session, *discordgo.MessageDeleteBulk))(handler))
	logger.Debug("Evento 'MessageDeleteBulk' registrado", "EventHandler")
}

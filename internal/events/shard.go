package events

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// RegisterShardEvents registers connection lifecycle handlers
func RegisterShardEvents(client *discord.ExtendedClient, h *Handlers) {
	client.EventHandler.RegisterEvent(h.onShardDisconnect)
	client.EventHandler.RegisterEvent(h.onShardResumed)
}

func (h *Handlers) onShardDisconnect(s *discordgo.Session, event *discordgo.Disconnect) {
	logger.Warn(fmt.Sprintf("🔌 Shard %d desconectado.", s.ShardID), "Shard")
}

// onShardResumed rescans every watched channel: messages posted while the
// gateway was down never produced a create event.
func (h *Handlers) onShardResumed(s *discordgo.Session, event *discordgo.Resumed) {
	triggered := 0
	for _, id := range h.ix.Channels() {
		if h.ix.TriggerScan(id) {
			triggered++
		}
	}
	logger.Success(fmt.Sprintf("✅ Shard %d reanudado, %d escaneos lanzados.", s.ShardID, triggered), "Shard")
}

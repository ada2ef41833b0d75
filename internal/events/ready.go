package events

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	apperrors "github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// RegisterReadyEvent registers the ready event handler
func RegisterReadyEvent(client *discord.ExtendedClient, h *Handlers) {
	client.EventHandler.OnReady(h.onReady)
}

// onReady is called when the bot successfully connects to Discord. The
// first ready prunes records of channels no longer watched and then brings
// every watched channel up to date; later ones only rescan.
func (h *Handlers) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Info(fmt.Sprintf("📊 Conectado a %d servidores, vigilando %d canales", len(r.Guilds), len(h.ix.Channels())), "Ready")

	if err := s.UpdateGameStatus(0, "📜 Indexando logs de moderación"); err != nil {
		logger.Error(fmt.Sprintf("Error estableciendo estado: %v", err), "Ready")
	}

	go h.catchUp()
}

func (h *Handlers) catchUp() {
	defer apperrors.RecoverMiddleware()()

	first := false
	h.startup.Do(func() {
		first = true
		n, err := h.ix.PruneUnwatched(h.ctx)
		if err != nil {
			logger.Error(fmt.Sprintf("Error eliminando registros de canales no vigilados: %v", err), "Ready")
		} else if n > 0 {
			logger.Info(fmt.Sprintf("🧹 %d registros de canales no vigilados eliminados", n), "Ready")
		}
	})
	if first {
		defer close(h.done)
	}

	results, err := h.ix.ScanAll(h.ctx)
	queued := 0
	for _, res := range results {
		queued += res.Queued
	}
	if err != nil {
		logger.Warn(fmt.Sprintf("Escaneo inicial incompleto: %v", err), "Ready")
	}
	logger.Success(fmt.Sprintf("✅ %d canales al día, %d registros procesados", len(results), queued), "Ready")
}

package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/database"
	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// RegisterUtilCommands registers /ping and /status
func RegisterUtilCommands(client *discord.ExtendedClient, d Deps) {
	pingCmd := discord.NewCommand(
		"ping",
		"Comprueba la latencia del bot",
		"util",
		func(ctx *discord.CommandContext) error {
			latency := ctx.Session.HeartbeatLatency().Milliseconds()
			return ctx.Reply(fmt.Sprintf("🏓 Pong! Latencia: %dms", latency))
		},
	)
	client.CommandHandler.RegisterCommand(pingCmd)

	statusCmd := discord.NewCommand(
		"status",
		"Muestra el estado del índice de logs",
		"util",
		func(ctx *discord.CommandContext) error {
			return ctx.ReplyEphemeralEmbed(statusEmbed(d))
		},
	)
	client.CommandHandler.RegisterCommand(statusCmd)
}

func statusEmbed(d Deps) *discordgo.MessageEmbed {
	dbStatus := "⚪ | Desactivada"
	if db := database.Get(); db != nil {
		dbStatus, _ = db.GetStatus()
	}

	stats, err := d.Store.Stats()
	if err != nil {
		logger.Error(fmt.Sprintf("Error leyendo estadísticas: %v", err), "CMD-Status")
		return &discordgo.MessageEmbed{
			Title:       "📊 Estado del Índice",
			Description: "❌ Error al leer el índice.",
			Color:       0xED4245,
		}
	}

	return &discordgo.MessageEmbed{
		Title: "📊 Estado del Índice",
		Color: 0x5865F2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Registros", Value: fmt.Sprint(stats.Records), Inline: true},
			{Name: "Usuarios indexados", Value: fmt.Sprint(stats.IndexKeys), Inline: true},
			{Name: "Canales con checkpoint", Value: fmt.Sprintf("%d / %d", stats.Checkpoints, len(d.Indexer.Channels())), Inline: true},
			{Name: "Cola de escritura", Value: fmt.Sprint(d.Indexer.QueueDepth()), Inline: true},
			{Name: "Réplica MongoDB", Value: dbStatus, Inline: true},
		},
	}
}

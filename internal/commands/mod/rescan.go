package mod

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const rescanTimeout = 5 * time.Minute

// createRescanCommand creates the /rescan command
func createRescanCommand(ix Indexer) *discord.Command {
	return discord.NewCommand(
		"rescan",
		"Pone al día uno o todos los canales de logs",
		"mod",
		func(ctx *discord.CommandContext) error {
			return rescanHandler(ctx, ix)
		},
	).WithOptions(
		&discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "canal",
			Description:  "Canal a escanear (por defecto todos)",
			Required:     false,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
		},
	).WithUserPermissions(discordgo.PermissionManageGuild)
}

func summarize(results []ingest.ScanResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "> <#%d> · %s · %d mensajes · %d registros\n", r.ChannelID, r.Mode, r.Messages, r.Queued)
	}
	return b.String()
}

func rescanHandler(ctx *discord.CommandContext, ix Indexer) error {
	var channelID uint64
	if raw := ctx.GetOption("canal"); raw != nil {
		id, err := models.ParseSnowflake(fmt.Sprint(raw.Value))
		if err != nil {
			return ctx.ReplyEphemeral("❌ Canal inválido.")
		}
		if _, ok := ix.LogTypeOf(id); !ok {
			return ctx.ReplyEphemeral("❌ Ese canal no es un canal de logs vigilado.")
		}
		channelID = id
	}
	if err := ctx.DeferEphemeral(); err != nil {
		return err
	}

	go func() {
		defer errors.RecoverMiddleware()()

		scanCtx, cancel := context.WithTimeout(context.Background(), rescanTimeout)
		defer cancel()

		var results []ingest.ScanResult
		var err error
		if channelID != 0 {
			var res ingest.ScanResult
			res, err = ix.ScanChannel(scanCtx, channelID)
			results = []ingest.ScanResult{res}
		} else {
			results, err = ix.ScanAll(scanCtx)
		}

		msg := "✅ **Escaneo completado**\n" + summarize(results)
		if err != nil {
			logger.Warn(fmt.Sprintf("Escaneo manual con errores: %v", err), "CMD-Rescan")
			msg = fmt.Sprintf("⚠️ **Escaneo con errores:** `%v`\n%s", err, summarize(results))
		}
		ctx.EditReply(msg)
	}()
	return nil
}

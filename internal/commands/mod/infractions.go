package mod

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const (
	// Discord accepts at most 10 embeds per message
	maxUsers          = 10
	maxRecordsPerUser = 10
	maxDescription    = 4000
)

var userToken = regexp.MustCompile(`^(?:<@!?(\d+)>|(\d+))$`)

// parseUserIDs reads mentions and raw IDs separated by spaces or commas.
// Duplicates are dropped.
func parseUserIDs(raw string) ([]uint64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	seen := make(map[uint64]struct{}, len(fields))
	var ids []uint64
	for _, f := range fields {
		m := userToken.FindStringSubmatch(f)
		if m == nil {
			return nil, fmt.Errorf("`%s` no es una mención ni un ID", f)
		}
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		id, err := models.ParseSnowflake(digits)
		if err != nil {
			return nil, fmt.Errorf("`%s` no es un ID válido", f)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no se indicó ningún usuario")
	}
	if len(ids) > maxUsers {
		return nil, fmt.Errorf("máximo %d usuarios por consulta", maxUsers)
	}
	return ids, nil
}

func messageLink(guildID string, rec models.LogRecord) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%d/%d", guildID, rec.ChannelID, rec.MessageID)
}

// infractionsEmbed lists the newest records of one user
func infractionsEmbed(userID uint64, recs []models.LogRecord, guildID string, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🔖 - Infracciones de %d", userID),
		Color: 0x00FF00,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "💫 - Developed by PancyStudios",
		},
	}

	if len(recs) == 0 {
		embed.Description = fmt.Sprintf("No se han encontrado registros de este usuario.\n\n> 💫 - **Cantidad de registros:** 0\n> 🕒 - **Fecha de consulta:** <t:%d>", now.Unix())
		return embed
	}

	embed.Color = 0xFFA500
	var b strings.Builder
	for i, rec := range recs {
		if i == maxRecordsPerUser {
			fmt.Fprintf(&b, "> …y %d más\n\n", len(recs)-i)
			break
		}
		reason := rec.Reason
		if reason == "" {
			reason = "Sin razón"
		}
		entry := fmt.Sprintf("> **%s** (%s) · [mensaje](%s)\n> %s\n\n", rec.InfractionType, rec.LogType, messageLink(guildID, rec), reason)
		if b.Len()+len(entry) > maxDescription {
			fmt.Fprintf(&b, "> …y %d más\n\n", len(recs)-i)
			break
		}
		b.WriteString(entry)
	}
	fmt.Fprintf(&b, "> 💫 - **Cantidad de registros:** %d\n> 🕒 - **Fecha de consulta:** <t:%d>", len(recs), now.Unix())
	embed.Description = b.String()
	return embed
}

// createInfractionsCommand creates the /infractions command
func createInfractionsCommand(ix Indexer) *discord.Command {
	return discord.NewCommand(
		"infractions",
		"Busca los registros de moderación de uno o varios usuarios",
		"mod",
		func(ctx *discord.CommandContext) error {
			return infractionsHandler(ctx, ix)
		},
	).WithOptions(
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "users",
			Description: "Menciones o IDs (Discord o Roblox) separados por espacios",
			Required:    true,
		},
	).WithUserPermissions(discordgo.PermissionManageMessages)
}

func infractionsHandler(ctx *discord.CommandContext, ix Indexer) error {
	ids, err := parseUserIDs(ctx.GetStringOption("users"))
	if err != nil {
		return ctx.ReplyEphemeral("❌ " + err.Error())
	}
	if err := ctx.DeferEphemeral(); err != nil {
		return err
	}

	go func() {
		defer errors.RecoverMiddleware()()

		now := time.Now()
		embeds := make([]*discordgo.MessageEmbed, 0, len(ids))
		for _, id := range ids {
			recs, err := ix.Query(id)
			if err != nil {
				logger.Error(fmt.Sprintf("Error consultando infracciones de %d: %v", id, err), "CMD-Infractions")
				ctx.EditReply("❌ Error al consultar el índice.")
				return
			}
			embeds = append(embeds, infractionsEmbed(id, recs, ctx.Interaction.GuildID, now))
		}
		if err := ctx.EditReplyEmbeds(embeds); err != nil {
			logger.Error(fmt.Sprintf("Error enviando infracciones: %v", err), "CMD-Infractions")
		}
	}()
	return nil
}

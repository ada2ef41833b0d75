package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PancyStudios/PancyModLogs/pkg/config"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// CommandHandler manages command registration with Discord
type CommandHandler struct {
	client           *ExtendedClient
	slashCommands    []*discordgo.ApplicationCommand
	slashCommandsDev []*discordgo.ApplicationCommand
}

// NewCommandHandler creates a new CommandHandler
func NewCommandHandler(client *ExtendedClient) *CommandHandler {
	return &CommandHandler{client: client}
}

// RegisterCommand adds a command to the handler
func (ch *CommandHandler) RegisterCommand(cmd *Command) {
	ch.client.Commands.Set(cmd.Name, cmd)

	appCmd := cmd.ToApplicationCommand()
	if cmd.IsDev {
		ch.slashCommandsDev = append(ch.slashCommandsDev, appCmd)
	} else {
		ch.slashCommands = append(ch.slashCommands, appCmd)
	}

	logger.Debug("Comando registrado: "+cmd.Name, "CommandHandler")
}

// GlobalCommands returns the commands registered for every guild
func (ch *CommandHandler) GlobalCommands() []*discordgo.ApplicationCommand {
	return ch.slashCommands
}

// DevCommands returns the commands registered only in the dev guild
func (ch *CommandHandler) DevCommands() []*discordgo.ApplicationCommand {
	return ch.slashCommandsDev
}

// ApplicationID returns the bot's application ID, asking the API when the
// gateway isn't open.
func (ch *CommandHandler) ApplicationID() (string, error) {
	s := ch.client.Session
	if s.State != nil && s.State.User != nil {
		return s.State.User.ID, nil
	}
	u, err := s.User("@me")
	if err != nil {
		return "", fmt.Errorf("resolving application id: %w", err)
	}
	return u.ID, nil
}

// RegisterCommands overwrites the slash commands on Discord with the
// registered ones: global commands everywhere, dev commands in the dev
// guild.
func (ch *CommandHandler) RegisterCommands() error {
	appID, err := ch.ApplicationID()
	if err != nil {
		return err
	}

	logger.Info("🔄 Registrando comandos globales...", "CommandHandler")
	if _, err := ch.client.Session.ApplicationCommandBulkOverwrite(appID, "", ch.slashCommands); err != nil {
		return fmt.Errorf("registrando comandos globales: %w", err)
	}
	logger.Success(fmt.Sprintf("✅ %d comandos globales registrados.", len(ch.slashCommands)), "CommandHandler")

	devGuild := config.Get().DevGuildID
	if devGuild == "" || len(ch.slashCommandsDev) == 0 {
		return nil
	}

	logger.Info("🔄 Registrando comandos de desarrollo en el servidor "+devGuild+"...", "CommandHandler")
	if _, err := ch.client.Session.ApplicationCommandBulkOverwrite(appID, devGuild, ch.slashCommandsDev); err != nil {
		return fmt.Errorf("registrando comandos de desarrollo: %w", err)
	}
	logger.Success("✅ Comandos de desarrollo registrados.", "CommandHandler")
	return nil
}

// ListCommands returns the commands Discord has for a guild, or the global
// ones when guildID is empty.
func (ch *CommandHandler) ListCommands(guildID string) ([]*discordgo.ApplicationCommand, error) {
	appID, err := ch.ApplicationID()
	if err != nil {
		return nil, err
	}
	return ch.client.Session.ApplicationCommands(appID, guildID)
}

// UnregisterCommands removes every command of a guild, or the global ones
// when guildID is empty.
func (ch *CommandHandler) UnregisterCommands(guildID string) error {
	commands, err := ch.ListCommands(guildID)
	if err != nil {
		return err
	}

	appID, err := ch.ApplicationID()
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		if err := ch.client.Session.ApplicationCommandDelete(appID, guildID, cmd.ID); err != nil {
			logger.Error("Error eliminando comando "+cmd.Name+": "+err.Error(), "CommandHandler")
		}
	}

	logger.Success(fmt.Sprintf("%d comandos eliminados.", len(commands)), "CommandHandler")
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PancyStudios/PancyModLogs/internal/commands"
	"github.com/PancyStudios/PancyModLogs/pkg/config"
	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

func newSyncCommandsCmd() *cobra.Command {
	var (
		list    bool
		clean   bool
		guildID string
	)

	cmd := &cobra.Command{
		Use:   "sync-commands",
		Short: "Sync the bot's slash commands with Discord",
		Long: `sync-commands overwrites the slash commands Discord has for the bot
with the ones this build defines. --list prints what Discord has and
--clean removes everything without registering.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list && clean {
				return fmt.Errorf("--list and --clean are mutually exclusive")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level, _ := logger.ParseLevel(cfg.LogLevel)
			logger.Init(logger.Options{MinLevel: level})

			client, err := discord.NewClient(cfg.BotToken)
			if err != nil {
				return fmt.Errorf("error creating Discord client: %w", err)
			}

			// definitions only, nothing is served from this process
			commands.RegisterAll(client, commands.Deps{})

			out := cmd.OutOrStdout()
			switch {
			case list:
				cmds, err := client.CommandHandler.ListCommands(guildID)
				if err != nil {
					return err
				}
				if len(cmds) == 0 {
					fmt.Fprintln(out, "No commands registered")
					return nil
				}
				for i, c := range cmds {
					fmt.Fprintf(out, "%d. /%s - %s (ID: %s)\n", i+1, c.Name, c.Description, c.ID)
				}
				return nil
			case clean:
				return client.CommandHandler.UnregisterCommands(guildID)
			case guildID != "":
				// guild commands are only the dev ones, registered by RegisterCommands
				if err := client.CommandHandler.UnregisterCommands(guildID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Guild %s commands removed\n", guildID)
				return nil
			default:
				if err := client.CommandHandler.RegisterCommands(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d global commands synced\n", len(client.CommandHandler.GlobalCommands()))
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list the commands Discord has")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove every command without registering new ones")
	cmd.Flags().StringVar(&guildID, "guild", "", "target a guild instead of the global commands")
	return cmd
}

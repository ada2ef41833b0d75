// Package commands registers the bot's slash commands.
package commands

import (
	"github.com/PancyStudios/PancyModLogs/internal/commands/mod"
	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
)

// Indexer is what the commands need from ingest.Indexer
type Indexer interface {
	mod.Indexer
	Channels() []uint64
	QueueDepth() int
}

// StatsProvider reports store table sizes
type StatsProvider interface {
	Stats() (logstore.Stats, error)
}

// Deps holds what the commands are served from
type Deps struct {
	Indexer Indexer
	Store   StatsProvider
}

// RegisterAll registers all commands with the Discord client
func RegisterAll(client *discord.ExtendedClient, d Deps) {
	RegisterUtilCommands(client, d)

	// /infractions, /rescan
	mod.RegisterModCommands(client, d.Indexer)
}

// Package mod provides the moderation-log commands
package mod

import (
	"context"

	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Indexer is what the commands read from and scan with
type Indexer interface {
	Query(userID uint64) ([]models.LogRecord, error)
	LogTypeOf(channelID uint64) (models.LogType, bool)
	ScanChannel(ctx context.Context, channelID uint64) (ingest.ScanResult, error)
	ScanAll(ctx context.Context) ([]ingest.ScanResult, error)
}

// RegisterModCommands registers /infractions and /rescan
func RegisterModCommands(client *discord.ExtendedClient, ix Indexer) {
	client.CommandHandler.RegisterCommand(createInfractionsCommand(ix))
	client.CommandHandler.RegisterCommand(createRescanCommand(ix))
}

package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// CollectionModLogs holds one document per indexed log message.
const CollectionModLogs = "modlogs"

// Mirror replicates saved and deleted records into MongoDB. It implements
// ingest.Observer; the local index stays the source of truth.
type Mirror struct {
	db   *Database
	logs *DataManager[models.ModLogDocument]
}

// NewMirror creates a mirror writing to the modlogs collection
func NewMirror(db *Database) *Mirror {
	return &Mirror{
		db:   db,
		logs: NewDataManager[models.ModLogDocument](CollectionModLogs, db),
	}
}

func messageQuery(messageID uint64) bson.M {
	return bson.M{"messageId": strconv.FormatUint(messageID, 10)}
}

// RecordSaved upserts the record's document
func (m *Mirror) RecordSaved(rec models.LogRecord) {
	doc := rec.ToDocument()
	if err := m.logs.Set(messageQuery(rec.MessageID), &doc); err != nil {
		logger.Error(fmt.Sprintf("No se pudo reflejar el registro %d: %v", rec.MessageID, err), "Mirror")
	}
}

// RecordDeleted removes the record's document
func (m *Mirror) RecordDeleted(messageID uint64) {
	if err := m.logs.Delete(messageQuery(messageID)); err != nil {
		logger.Error(fmt.Sprintf("No se pudo eliminar el reflejo del registro %d: %v", messageID, err), "Mirror")
	}
}

// FindByUser returns the mirrored records mentioning a user, newest
// first. Documents that no longer parse are skipped.
func (m *Mirror) FindByUser(userID uint64) ([]models.LogRecord, error) {
	id := strconv.FormatUint(userID, 10)
	docs, err := m.logs.GetAll(bson.M{"$or": bson.A{
		bson.M{"discordUserIds": id},
		bson.M{"robloxUserIds": id},
	}})
	if err != nil {
		return nil, err
	}
	return toRecords(docs), nil
}

func toRecords(docs []*models.ModLogDocument) []models.LogRecord {
	recs := make([]models.LogRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.ToRecord()
		if err != nil {
			logger.Warn(fmt.Sprintf("Documento %s inválido en la réplica: %v", doc.MessageID, err), "Mirror")
			continue
		}
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b models.LogRecord) int {
		return cmp.Compare(b.MessageID, a.MessageID)
	})
	return recs
}

// EnsureIndexes creates the lookup indexes of the collection
func (m *Mirror) EnsureIndexes(ctx context.Context) error {
	col := m.db.GetCollection(CollectionModLogs)
	if col == nil {
		return ErrNotConnected
	}

	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "messageId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "discordUserIds", Value: 1}}},
		{Keys: bson.D{{Key: "robloxUserIds", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating modlogs indexes: %w", err)
	}
	return nil
}

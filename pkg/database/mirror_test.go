package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

func TestMirrorQueuesWritesWhileOffline(t *testing.T) {
	db := NewDatabase()
	m := NewMirror(db)

	rec := models.LogRecord{
		LogType:        models.LogTypeGame,
		InfractionType: models.InfractionBan,
		RobloxUserIDs:  []uint64{1234567},
		Reason:         "exploiting",
		MessageID:      42,
		ChannelID:      7,
	}
	m.RecordSaved(rec)
	m.RecordDeleted(42)

	require.Equal(t, 2, db.PendingWrites())
	ops := db.pendingOps()
	assert.Equal(t, OpSet, ops[0].Operation)
	assert.Equal(t, CollectionModLogs, ops[0].CollectionName)
	assert.Equal(t, bson.M{"messageId": "42"}, ops[0].Query)
	assert.Equal(t, OpDelete, ops[1].Operation)

	doc, ok := ops[0].Data.(*models.ModLogDocument)
	require.True(t, ok)
	assert.Equal(t, []string{"1234567"}, doc.RobloxUserIDs)
	assert.Equal(t, "Ban", doc.InfractionType)
}

func TestOfflineReads(t *testing.T) {
	db := NewDatabase()
	m := NewMirror(db)

	_, err := m.FindByUser(1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, db.Connected())

	_, ok := db.GetStatus()
	assert.False(t, ok)
	assert.NoError(t, db.Disconnect())
	assert.NoError(t, db.Disconnect())
}

func TestToRecordsSortsAndSkipsInvalid(t *testing.T) {
	docs := []*models.ModLogDocument{
		{MessageID: "10", ChannelID: "7", LogType: "Game", InfractionType: "Kick", RobloxUserIDs: []string{"1234567"}},
		{MessageID: "not-a-number", ChannelID: "7", LogType: "Game", InfractionType: "Kick"},
		{MessageID: "30", ChannelID: "7", LogType: "Discord", InfractionType: "Warn", DiscordUserIDs: []string{"111111111111111111"}},
	}

	recs := toRecords(docs)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(30), recs[0].MessageID)
	assert.Equal(t, models.InfractionWarn, recs[0].InfractionType)
	assert.Equal(t, uint64(10), recs[1].MessageID)
	assert.Equal(t, []uint64{1234567}, recs[1].RobloxUserIDs)
}

func TestDataManagerCache(t *testing.T) {
	db := NewDatabase()
	dm := NewDataManager[models.ModLogDocument]("modlogs", db, DataManagerOptions{MaxCacheSize: 2})

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, dm.Set(bson.M{"messageId": id}, &models.ModLogDocument{MessageID: id}))
	}
	assert.Equal(t, 2, dm.CacheSize())

	// the oldest entry was evicted; newer ones are served from cache
	_, err := dm.Get(bson.M{"messageId": "1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	doc, err := dm.Get(bson.M{"messageId": "3"})
	require.NoError(t, err)
	assert.Equal(t, "3", doc.MessageID)

	require.NoError(t, dm.Delete(bson.M{"messageId": "3"}))
	assert.Equal(t, 1, dm.CacheSize())

	dm.ClearCache()
	assert.Equal(t, 0, dm.CacheSize())
}

func TestCacheKeyIsOrderIndependent(t *testing.T) {
	dm := NewDataManager[models.ModLogDocument]("modlogs", NewDatabase())
	a := dm.generateCacheKey(bson.M{"a": 1, "b": "x"})
	b := dm.generateCacheKey(bson.M{"b": "x", "a": 1})
	assert.Equal(t, a, b)
	assert.Equal(t, "modlogs:{a=1,b=x}", a)
}

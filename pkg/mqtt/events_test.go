package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

type published struct {
	topic   string
	payload interface{}
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload interface{}) error {
	f.sent = append(f.sent, published{topic, payload})
	return f.err
}

type fakeQuerier map[uint64][]models.LogRecord

func (f fakeQuerier) Query(userID uint64) ([]models.LogRecord, error) {
	if userID == 13 {
		return nil, errors.New("store offline")
	}
	return f[userID], nil
}

func TestEventPublisher(t *testing.T) {
	pub := &fakePublisher{}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewEventPublisher(pub)
	p.now = func() time.Time { return at }

	p.RecordSaved(models.LogRecord{MessageID: 99, ChannelID: 5, RobloxUserIDs: []uint64{1234567}, InfractionType: models.InfractionKick})
	p.RecordDeleted(99)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, TopicRecordSaved, pub.sent[0].topic)
	saved := pub.sent[0].payload.(RecordEvent)
	assert.Equal(t, "saved", saved.Event)
	assert.Equal(t, "99", saved.MessageID)
	require.NotNil(t, saved.Record)
	assert.Equal(t, "Kick", saved.Record.InfractionType)
	assert.Equal(t, at, saved.At)

	assert.Equal(t, TopicRecordDeleted, pub.sent[1].topic)
	assert.Equal(t, RecordEvent{Event: "deleted", MessageID: "99", At: at}, pub.sent[1].payload)

	// a failing broker doesn't panic the observer
	pub.err = errors.New("not connected")
	assert.NotPanics(t, func() { p.RecordDeleted(1) })
}

func TestQueryHandler(t *testing.T) {
	h := NewQueryHandler(fakeQuerier{
		1234567: {{MessageID: 2, ChannelID: 5, RobloxUserIDs: []uint64{1234567}}, {MessageID: 1, ChannelID: 5, RobloxUserIDs: []uint64{1234567}}},
	})

	data, err := h(map[string]interface{}{"userId": "1234567"})
	require.NoError(t, err)
	docs := data.([]models.ModLogDocument)
	require.Len(t, docs, 2)
	assert.Equal(t, "2", docs[0].MessageID)

	data, err = h(map[string]interface{}{"userId": "42"})
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = h(map[string]interface{}{"userId": 42.0})
	assert.Error(t, err)
	_, err = h(map[string]interface{}{"userId": "abc"})
	assert.Error(t, err)
	_, err = h(map[string]interface{}{"userId": "13"})
	assert.EqualError(t, err, "store offline")
}

func TestServeWrapsHandlerOutcome(t *testing.T) {
	var seen map[string]interface{}
	ok := func(p map[string]interface{}) (interface{}, error) {
		seen = p
		return "pong", nil
	}
	resp := serve(ok, "modlogs.query", MqttRequest{CorrelationID: "abc"})
	assert.Equal(t, MqttResponse{CorrelationID: "abc", Data: "pong"}, resp)
	assert.Equal(t, "modlogs.query", seen["_topic"])

	fail := func(map[string]interface{}) (interface{}, error) { return nil, errors.New("nope") }
	resp = serve(fail, "modlogs.query", MqttRequest{CorrelationID: "abc", Payload: map[string]interface{}{"userId": "1"}})
	assert.Equal(t, MqttResponse{CorrelationID: "abc", Error: "nope"}, resp)
}

package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Event topics.
const (
	TopicRecordSaved   = "modlogs/events/saved"
	TopicRecordDeleted = "modlogs/events/deleted"

	// QueryRequest is the request name served by NewQueryHandler.
	QueryRequest = "modlogs.query"
)

// RecordEvent is the payload of an event topic
type RecordEvent struct {
	Event     string                 `json:"event"`
	MessageID string                 `json:"messageId"`
	Record    *models.ModLogDocument `json:"record,omitempty"`
	At        time.Time              `json:"at"`
}

// Publisher sends a JSON payload to a topic
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// EventPublisher publishes every index change. It implements
// ingest.Observer.
type EventPublisher struct {
	pub Publisher
	now func() time.Time
}

// NewEventPublisher creates an observer publishing through pub
func NewEventPublisher(pub Publisher) *EventPublisher {
	return &EventPublisher{pub: pub, now: time.Now}
}

// RecordSaved publishes the stored record
func (p *EventPublisher) RecordSaved(rec models.LogRecord) {
	doc := rec.ToDocument()
	p.publish(TopicRecordSaved, RecordEvent{Event: "saved", MessageID: doc.MessageID, Record: &doc, At: p.now()})
}

// RecordDeleted publishes the removed record's key
func (p *EventPublisher) RecordDeleted(messageID uint64) {
	p.publish(TopicRecordDeleted, RecordEvent{Event: "deleted", MessageID: strconv.FormatUint(messageID, 10), At: p.now()})
}

func (p *EventPublisher) publish(topic string, ev RecordEvent) {
	if err := p.pub.Publish(topic, ev); err != nil {
		logger.Debug(fmt.Sprintf("No se pudo publicar %s %s: %v", ev.Event, ev.MessageID, err), "MQTT")
	}
}

// Querier looks records up by user
type Querier interface {
	Query(userID uint64) ([]models.LogRecord, error)
}

// NewQueryHandler answers {"userId": "<snowflake>"} with the user's records,
// newest first, in their string-keyed form.
func NewQueryHandler(q Querier) RequestHandler {
	return func(payload map[string]interface{}) (interface{}, error) {
		raw, ok := payload["userId"].(string)
		if !ok {
			return nil, errors.New("userId must be a string")
		}
		userID, err := models.ParseSnowflake(raw)
		if err != nil {
			return nil, err
		}

		recs, err := q.Query(userID)
		if err != nil {
			return nil, err
		}
		docs := make([]models.ModLogDocument, len(recs))
		for i, rec := range recs {
			docs[i] = rec.ToDocument()
		}
		return docs, nil
	}
}

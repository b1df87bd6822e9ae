package outbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// NewEntry builds a pending outbox row. An empty id gets a random UUID; callers
// that may write the same effect twice pass a deterministic id instead.
func NewEntry(j adapter.JSON, id string, topic schema.OutboxTopic, aggregateID string, payload interface{}, now time.Time) (schema.OutboxEntry, error) {
	raw, err := j.Marshal(payload)
	if err != nil {
		return schema.OutboxEntry{}, fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return schema.OutboxEntry{
		ID:            id,
		Topic:         topic,
		AggregateID:   aggregateID,
		Payload:       raw,
		Status:        schema.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// NewAuditEntry wraps an audit intent. The relay appends it to the chain after commit.
func NewAuditEntry(j adapter.JSON, id string, intent *audit.Intent, now time.Time) (schema.OutboxEntry, error) {
	return NewEntry(j, id, schema.OutboxTopicAuditAppend, intent.ResourceID, intent, now)
}

// DeterministicID derives a stable entry id from a natural key so replays of the
// same source event collapse onto one outbox row
func DeterministicID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

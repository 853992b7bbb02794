package events

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/google/uuid"
)

// Envelope is the persisted form of a domain event. Envelopes are immutable
// once appended: the durable log assigns Sequence, everything else is fixed
// at creation time. PreviousHash is empty only for the first event of an
// aggregate.
type Envelope struct {
	EventID      string            `json:"event_id"`
	AggregateID  string            `json:"aggregate_id"`
	EventType    string            `json:"event_type"`
	Payload      json.RawMessage   `json:"payload"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	ContentHash  string            `json:"content_hash"`
	PreviousHash string            `json:"previous_hash,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope seals a payload into an envelope chained to previousHash.
// The sequence is left zero; the durable log assigns it at append time.
func NewEnvelope(aggregateID string, payload Payload, previousHash string) (Envelope, error) {
	if aggregateID == "" {
		return Envelope{}, pkgerrors.NewValidation(pkgerrors.CodeAggregateNotFound, "aggregate ID is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, pkgerrors.Wrap(err, "failed to marshal event payload")
	}

	now := time.Now().UTC()
	env := Envelope{
		EventID:      uuid.New().String(),
		AggregateID:  aggregateID,
		EventType:    payload.EventType(),
		Payload:      data,
		Timestamp:    now,
		PreviousHash: previousHash,
	}
	env.ContentHash = ComputeHash(env.Payload, env.PreviousHash, env.AggregateID, env.EventType, env.Timestamp)
	return env, nil
}

// Subject returns the per-aggregate subject this envelope is appended under
func (e Envelope) Subject() string {
	return SubjectFor(e.AggregateID, e.EventType)
}

// Headers returns the transport headers for header-only verification and
// routing without payload deserialization.
func (e Envelope) Headers() map[string]string {
	return map[string]string{
		HeaderContentHash:  e.ContentHash,
		HeaderPreviousHash: e.PreviousHash,
		HeaderAggregateID:  e.AggregateID,
		HeaderEventType:    e.EventType,
	}
}

// Verify recomputes the content hash and compares it against the recorded one
func (e Envelope) Verify() bool {
	return e.ContentHash == ComputeHash(e.Payload, e.PreviousHash, e.AggregateID, e.EventType, e.Timestamp)
}

// ComputeHash is the content hasher: a deterministic SHA-256 over the
// canonical encoding of the event. Every field is length-prefixed before
// hashing, so no two distinct inputs can produce the same byte stream.
// The timestamp enters at nanosecond precision in UTC.
func ComputeHash(payload []byte, previousHash, aggregateID, eventType string, timestamp time.Time) string {
	h := sha256.New()
	var buf [8]byte

	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(b)))
		h.Write(buf[:])
		h.Write(b)
	}

	writeField(payload)
	writeField([]byte(previousHash))
	writeField([]byte(aggregateID))
	writeField([]byte(eventType))

	binary.BigEndian.PutUint64(buf[:], uint64(timestamp.UTC().UnixNano()))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// DecodePayload unmarshals the envelope payload into the registered payload
// type for its event type.
func (e Envelope) DecodePayload() (Payload, error) {
	payload, err := newPayload(e.EventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal event payload")
	}
	return payload, nil
}

package ports

import (
	"context"
	"time"

	"graphledger-backend/domain/events"
)

// ReplayPolicy selects where event retrieval starts
type ReplayPolicy string

const (
	// ReplayFromBeginning replays the full chain from sequence 1
	ReplayFromBeginning ReplayPolicy = "from_beginning"

	// ReplayAfterSequence resumes after a known sequence watermark
	ReplayAfterSequence ReplayPolicy = "after_sequence"

	// ReplayLatest delivers only events appended after subscription
	ReplayLatest ReplayPolicy = "latest"

	// ReplayByTime replays events recorded at or after a point in time
	ReplayByTime ReplayPolicy = "by_time"
)

// StartPosition resolves a replay policy into a concrete starting point
type StartPosition struct {
	Policy        ReplayPolicy
	AfterSequence uint64
	StartTime     time.Time
}

// AppendOptions tunes a single append call
type AppendOptions struct {
	// IdempotencyKey suppresses duplicate appends within the log's
	// deduplication window: a retried append with the same key returns the
	// sequence assigned to the original instead of storing a second event.
	IdempotencyKey string

	// ExpectedLastSequence, when non-nil, makes the append conditional on
	// the aggregate's current high-water mark. A mismatch fails with
	// ConcurrencyConflict and nothing is written.
	ExpectedLastSequence *uint64
}

// AppendResult reports where an append landed in the log
type AppendResult struct {
	// Sequence is the position the log assigned, or the original append's
	// position when the idempotency key suppressed a duplicate.
	Sequence uint64

	// Duplicate is true when the idempotency key matched an earlier append
	// and nothing new was stored. The identity fields then describe the
	// original event, which may belong to a different aggregate than the
	// retried envelope (a retried creation carries a fresh aggregate ID).
	Duplicate bool

	// AggregateID, EventID and ContentHash identify the stored event. On a
	// fresh append they echo the envelope; on a duplicate they carry the
	// original's identity.
	AggregateID string
	EventID     string
	ContentHash string
}

// Subscription is a cancellable, ordered event feed. Closing it releases
// the underlying consumer resource and stops further channel pushes.
type Subscription interface {
	// Events returns the channel events are delivered on. The channel is
	// closed when the subscription ends.
	Events() <-chan events.Envelope

	// Err reports why the subscription ended, nil for a clean close
	Err() error

	// Close cancels the subscription
	Close()
}

// EventLog is the durable, append-only, per-subject ordered store.
// Sequence numbers are strictly increasing per aggregate and never reused;
// delivery to subscribers is at-least-once.
type EventLog interface {
	// Append durably appends the envelope and reports the sequence the log
	// assigned, or the original event's identity when the idempotency key
	// suppressed a duplicate. No two callers ever observe two different
	// events at the same sequence for one aggregate.
	Append(ctx context.Context, env events.Envelope, opts AppendOptions) (AppendResult, error)

	// Read returns up to limit events for an aggregate with sequence >
	// after, in order. limit <= 0 means no bound.
	Read(ctx context.Context, aggregateID string, after uint64, limit int) ([]events.Envelope, error)

	// ReadTimeWindow returns events across aggregates recorded in
	// [start, end) whose subject matches filter, in append order.
	ReadTimeWindow(ctx context.Context, start, end time.Time, filter string, limit int) ([]events.Envelope, error)

	// LastSequence returns the aggregate's current high-water mark, zero
	// when the aggregate has no events.
	LastSequence(ctx context.Context, aggregateID string) (uint64, error)

	// Subscribe delivers events whose subject matches filter, in sequence
	// order, starting at the given position.
	Subscribe(ctx context.Context, filter string, start StartPosition) (Subscription, error)
}

// Snapshot is the persisted compaction of an aggregate at a sequence
// watermark. Snapshots are disposable: corrupt or missing snapshots must
// never block recovery, they only cost a full replay.
type Snapshot struct {
	FormatVersion     int       `json:"format_version"`
	AggregateID       string    `json:"aggregate_id"`
	Version           int       `json:"version"`
	SequenceWatermark uint64    `json:"sequence_watermark"`
	ChainHash         string    `json:"chain_hash"`
	CompressedState   []byte    `json:"compressed_state"`
	CreatedAt         time.Time `json:"created_at"`
}

// SnapshotStore persists aggregate snapshots
type SnapshotStore interface {
	// Save persists a snapshot, superseding any earlier one
	Save(ctx context.Context, snapshot *Snapshot) error

	// Latest returns the most recent snapshot for an aggregate, nil when
	// none exists.
	Latest(ctx context.Context, aggregateID string) (*Snapshot, error)

	// Delete removes the aggregate's snapshot
	Delete(ctx context.Context, aggregateID string) error
}

// EventPublisher fans persisted events out to external consumers
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, env events.Envelope) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, envs []events.Envelope) error
}

// Cache is the read-model-boundary cache port
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

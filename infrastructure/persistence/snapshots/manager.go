// Package snapshots implements aggregate compaction: periodically persisting
// compressed aggregate state so recovery replays only the event tail instead
// of the full chain. Snapshots are disposable; any corruption falls back to
// a full replay.
package snapshots

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/core/aggregates"
	pkgerrors "graphledger-backend/pkg/errors"
	"graphledger-backend/pkg/observability"

	"go.uber.org/zap"
)

// Policy decides when an aggregate deserves a new snapshot
type Policy struct {
	// EveryNEvents snapshots once the tail past the last snapshot reaches
	// this many events. Zero disables count-based snapshots.
	EveryNEvents uint64

	// MaxAge snapshots when the last snapshot is older than this, even if
	// the tail is short. Zero disables age-based snapshots.
	MaxAge time.Duration
}

// DefaultPolicy snapshots every 100 events or daily, whichever comes first
func DefaultPolicy() Policy {
	return Policy{EveryNEvents: 100, MaxAge: 24 * time.Hour}
}

// Manager loads aggregates through the snapshot-plus-tail path and decides
// when to write new snapshots.
type Manager struct {
	log     ports.EventLog
	store   ports.SnapshotStore
	policy  Policy
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewManager creates a snapshot manager
func NewManager(log ports.EventLog, store ports.SnapshotStore, policy Policy, metrics *observability.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		log:     log,
		store:   store,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

// LoadAggregate reconstitutes a graph. When a usable snapshot exists only
// the tail past its watermark is read and verified against the snapshot's
// chain anchor; a corrupt or incompatible snapshot is discarded in favor of
// a full replay, never surfaced as an error.
func (m *Manager) LoadAggregate(ctx context.Context, aggregateID string) (*aggregates.Graph, error) {
	snapshot, err := m.store.Latest(ctx, aggregateID)
	if err != nil {
		m.logger.Warn("snapshot lookup failed, falling back to full replay",
			zap.String("aggregate_id", aggregateID),
			zap.Error(err))
		snapshot = nil
	}

	if snapshot != nil {
		graph, err := m.loadFromSnapshot(ctx, aggregateID, snapshot)
		if err == nil {
			return graph, nil
		}
		if m.metrics != nil {
			m.metrics.SnapshotFallbacks.Inc()
		}
		m.logger.Warn("snapshot unusable, falling back to full replay",
			zap.String("aggregate_id", aggregateID),
			zap.Uint64("watermark", snapshot.SequenceWatermark),
			zap.Error(err))
	}

	return m.loadFromScratch(ctx, aggregateID)
}

func (m *Manager) loadFromSnapshot(ctx context.Context, aggregateID string, snapshot *ports.Snapshot) (*aggregates.Graph, error) {
	state, err := decodeState(snapshot)
	if err != nil {
		return nil, err
	}

	graph, err := aggregates.RestoreGraph(state)
	if err != nil {
		return nil, err
	}

	tail, err := m.log.Read(ctx, aggregateID, snapshot.SequenceWatermark, 0)
	if err != nil {
		return nil, err
	}
	if err := graph.ApplyEnvelopes(tail); err != nil {
		return nil, err
	}
	return graph, nil
}

func (m *Manager) loadFromScratch(ctx context.Context, aggregateID string) (*aggregates.Graph, error) {
	history, err := m.log.Read(ctx, aggregateID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound,
			"aggregate "+aggregateID+" has no events")
	}
	return aggregates.ReplayGraph(aggregates.GraphID(aggregateID), history)
}

// MaybeSnapshot writes a new snapshot when the policy says the aggregate
// has outgrown its last one. Snapshot failures are logged and swallowed:
// a missed snapshot only costs replay time.
func (m *Manager) MaybeSnapshot(ctx context.Context, graph *aggregates.Graph) {
	latest, err := m.store.Latest(ctx, graph.ID().String())
	if err != nil {
		m.logger.Warn("snapshot lookup failed, skipping compaction",
			zap.String("aggregate_id", graph.ID().String()),
			zap.Error(err))
		return
	}

	if !m.due(graph, latest) {
		return
	}
	if err := m.Snapshot(ctx, graph); err != nil {
		m.logger.Warn("snapshot write failed",
			zap.String("aggregate_id", graph.ID().String()),
			zap.Error(err))
	}
}

// Snapshot unconditionally persists the aggregate's current state
func (m *Manager) Snapshot(ctx context.Context, graph *aggregates.Graph) error {
	state := graph.Memento()

	compressed, err := encodeState(state)
	if err != nil {
		return err
	}

	snapshot := &ports.Snapshot{
		FormatVersion:     aggregates.GraphStateVersion,
		AggregateID:       state.GraphID,
		Version:           state.Version,
		SequenceWatermark: state.LastSequence,
		ChainHash:         state.LastHash,
		CompressedState:   compressed,
		CreatedAt:         time.Now().UTC(),
	}

	if err := m.store.Save(ctx, snapshot); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.SnapshotsWritten.Inc()
	}
	m.logger.Info("aggregate snapshot written",
		zap.String("aggregate_id", state.GraphID),
		zap.Uint64("watermark", state.LastSequence),
		zap.Int("compressed_bytes", len(compressed)))
	return nil
}

func (m *Manager) due(graph *aggregates.Graph, latest *ports.Snapshot) bool {
	var watermark uint64
	var age time.Duration

	if latest != nil {
		watermark = latest.SequenceWatermark
		age = time.Since(latest.CreatedAt)
	}

	if m.policy.EveryNEvents > 0 && graph.LastSequence()-watermark >= m.policy.EveryNEvents {
		return true
	}
	if m.policy.MaxAge > 0 && latest != nil && age >= m.policy.MaxAge {
		return graph.LastSequence() > watermark
	}
	return false
}

func encodeState(state aggregates.GraphState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to marshal aggregate state")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to compress aggregate state")
	}
	if err := zw.Close(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to compress aggregate state")
	}
	return buf.Bytes(), nil
}

func decodeState(snapshot *ports.Snapshot) (aggregates.GraphState, error) {
	if snapshot.FormatVersion != aggregates.GraphStateVersion {
		return aggregates.GraphState{}, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot format version is not supported")
	}

	zr, err := gzip.NewReader(bytes.NewReader(snapshot.CompressedState))
	if err != nil {
		return aggregates.GraphState{}, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot state is not valid gzip data")
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return aggregates.GraphState{}, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot state failed to decompress")
	}

	var state aggregates.GraphState
	if err := json.Unmarshal(raw, &state); err != nil {
		return aggregates.GraphState{}, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot state is not valid JSON")
	}
	if state.LastSequence != snapshot.SequenceWatermark || state.LastHash != snapshot.ChainHash {
		return aggregates.GraphState{}, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot metadata does not match its embedded state")
	}
	return state, nil
}

package ports

import (
	"context"

	"graphledger-backend/domain/core/aggregates"
)

// GraphLoader reconstitutes graph aggregates from durable state and decides
// when their state deserves compaction.
type GraphLoader interface {
	// LoadAggregate rebuilds a graph from its latest snapshot plus the
	// event tail, or from a full replay when no usable snapshot exists.
	LoadAggregate(ctx context.Context, aggregateID string) (*aggregates.Graph, error)

	// MaybeSnapshot persists a new snapshot if the aggregate has outgrown
	// its last one. Failures are absorbed; a missed snapshot only costs
	// replay time later.
	MaybeSnapshot(ctx context.Context, graph *aggregates.Graph)
}

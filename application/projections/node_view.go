// Package projections maintains the denormalized read model: per-node views
// and per-graph statistics folded from the event stream. The read model is
// eventually consistent with the log and is rebuilt rather than repaired
// when events arrive too far out of order.
package projections

import (
	"encoding/json"
	"time"
)

// ComponentValue is a denormalized copy of a node component
type ComponentValue struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EdgeView is a denormalized edge as seen from the read model
type EdgeView struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"`
}

// NodeView is the query-side shape of a node: flattened, with component
// values inlined and adjacency precomputed. Generation increases on every
// change so consumers can detect staleness.
type NodeView struct {
	NodeID     string           `json:"node_id"`
	GraphID    string           `json:"graph_id"`
	Label      string           `json:"label"`
	State      string           `json:"state"`
	Components []ComponentValue `json:"components,omitempty"`

	Outgoing []EdgeView `json:"outgoing,omitempty"`
	Incoming []EdgeView `json:"incoming,omitempty"`

	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GraphStats summarizes a projected graph
type GraphStats struct {
	GraphID      string         `json:"graph_id"`
	Name         string         `json:"name"`
	NodeCount    int            `json:"node_count"`
	EdgeCount    int            `json:"edge_count"`
	StateCounts  map[string]int `json:"state_counts"`
	LastSequence uint64         `json:"last_sequence"`
	Generation   uint64         `json:"generation"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

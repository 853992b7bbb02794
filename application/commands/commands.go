// Package commands defines the write-side operations of the graph ledger.
// Every command targets one aggregate and results in exactly one event
// appended to that aggregate's hash chain.
package commands

import "encoding/json"

// CreateGraphCommand starts a new graph aggregate and its event chain
type CreateGraphCommand struct {
	Name     string            `json:"name" validate:"required,min=1,max=200"`
	Metadata map[string]string `json:"metadata" validate:"max=20"`

	// IdempotencyKey suppresses duplicate creation on client retries
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// ComponentInput carries one component value attached to a node
type ComponentInput struct {
	Kind string          `json:"kind" validate:"required,min=1,max=64"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// AddNodeCommand adds a node to an existing graph
type AddNodeCommand struct {
	GraphID    string           `json:"graph_id" validate:"required"`
	Label      string           `json:"label" validate:"required,min=1,max=200"`
	Components []ComponentInput `json:"components" validate:"max=50,dive"`

	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// ConnectNodesCommand creates a directed, typed edge between two nodes
type ConnectNodesCommand struct {
	GraphID  string `json:"graph_id" validate:"required"`
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Relation string `json:"relation" validate:"required"`

	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// RemoveNodeCommand removes a node and cascades removal of its edges
type RemoveNodeCommand struct {
	GraphID string `json:"graph_id" validate:"required"`
	NodeID  string `json:"node_id" validate:"required"`

	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// TransitionNodeCommand moves a node through its lifecycle state machine
type TransitionNodeCommand struct {
	GraphID string `json:"graph_id" validate:"required"`
	NodeID  string `json:"node_id" validate:"required"`
	Target  string `json:"target" validate:"required"`

	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// CommandResult reports where a command landed in the log
type CommandResult struct {
	EventID     string `json:"event_id"`
	AggregateID string `json:"aggregate_id"`
	NodeID      string `json:"node_id,omitempty"`
	Sequence    uint64 `json:"sequence"`
	Version     uint64 `json:"version"`
	ContentHash string `json:"content_hash"`
}

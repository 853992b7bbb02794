package events

import (
	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	pkgerrors "graphledger-backend/pkg/errors"
)

// Payload is implemented by every event payload type
type Payload interface {
	// EventType returns the type constant this payload is persisted under
	EventType() string
}

// GraphCreated is the first event of every graph aggregate
type GraphCreated struct {
	GraphID  string            `json:"graph_id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventType returns the event type
func (GraphCreated) EventType() string { return TypeGraphCreated }

// NodeAdded is emitted when a node joins the graph. Component values travel
// inline so replay can rebuild the aggregate's component table.
type NodeAdded struct {
	NodeID     string                   `json:"node_id"`
	Label      string                   `json:"label"`
	Components []valueobjects.Component `json:"components,omitempty"`
}

// EventType returns the event type
func (NodeAdded) EventType() string { return TypeNodeAdded }

// NodesConnected is emitted when an edge is created between two nodes
type NodesConnected struct {
	SourceID string                `json:"source_id"`
	TargetID string                `json:"target_id"`
	Relation entities.RelationType `json:"relation"`
}

// EventType returns the event type
func (NodesConnected) EventType() string { return TypeNodesConnected }

// RemovedEdge identifies an edge that ceased to exist as part of a cascade
type RemovedEdge struct {
	SourceID string                `json:"source_id"`
	TargetID string                `json:"target_id"`
	Relation entities.RelationType `json:"relation"`
}

// NodeRemoved is emitted when a node is removed. It carries the full list
// of edges that were cascaded away with it, so a single event describes the
// whole structural change.
type NodeRemoved struct {
	NodeID       string        `json:"node_id"`
	RemovedEdges []RemovedEdge `json:"removed_edges,omitempty"`
}

// EventType returns the event type
func (NodeRemoved) EventType() string { return TypeNodeRemoved }

// NodeStateChanged is emitted when a node moves through its lifecycle
type NodeStateChanged struct {
	NodeID string             `json:"node_id"`
	From   entities.NodeState `json:"from"`
	To     entities.NodeState `json:"to"`
}

// EventType returns the event type
func (NodeStateChanged) EventType() string { return TypeNodeStateChanged }

// newPayload returns an empty payload value for the given event type
func newPayload(eventType string) (Payload, error) {
	switch eventType {
	case TypeGraphCreated:
		return &GraphCreated{}, nil
	case TypeNodeAdded:
		return &NodeAdded{}, nil
	case TypeNodesConnected:
		return &NodesConnected{}, nil
	case TypeNodeRemoved:
		return &NodeRemoved{}, nil
	case TypeNodeStateChanged:
		return &NodeStateChanged{}, nil
	default:
		return nil, pkgerrors.NewInternal("unknown event type: "+eventType, nil)
	}
}

package entities

import (
	"time"

	"graphledger-backend/domain/core/valueobjects"
	pkgerrors "graphledger-backend/pkg/errors"
)

// NodeState represents the lifecycle state of a node
type NodeState string

const (
	StateActive     NodeState = "active"
	StateProcessing NodeState = "processing"
	StateCompleted  NodeState = "completed"
	StateSuspended  NodeState = "suspended"
	StateFailed     NodeState = "failed"
)

// allowedTransitions encodes the node lifecycle state machine:
// Active -> Processing -> {Completed, Suspended, Failed}, with Suspended
// nodes resumable back to Active.
var allowedTransitions = map[NodeState][]NodeState{
	StateActive:     {StateProcessing},
	StateProcessing: {StateCompleted, StateSuspended, StateFailed},
	StateSuspended:  {StateActive},
}

// CanTransition reports whether a transition from s to target is legal
func (s NodeState) CanTransition(target NodeState) bool {
	for _, next := range allowedTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsValid checks if the state is a known lifecycle state
func (s NodeState) IsValid() bool {
	switch s {
	case StateActive, StateProcessing, StateCompleted, StateSuspended, StateFailed:
		return true
	default:
		return false
	}
}

// Node is an entity in the graph write model. It owns a set of component
// references; the component values themselves live in the aggregate's
// component table, deduplicated by content.
type Node struct {
	id         valueobjects.NodeID
	label      string
	state      NodeState
	components []valueobjects.ComponentRef
	createdAt  time.Time
	updatedAt  time.Time
}

// NewNode creates a node in the Active state
func NewNode(id valueobjects.NodeID, label string, components []valueobjects.ComponentRef, createdAt time.Time) (*Node, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node ID is required")
	}
	if label == "" {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node label cannot be empty")
	}

	return &Node{
		id:         id,
		label:      label,
		state:      StateActive,
		components: components,
		createdAt:  createdAt,
		updatedAt:  createdAt,
	}, nil
}

// ReconstructNode rebuilds a node from persisted state, bypassing the
// Active-state default.
func ReconstructNode(id valueobjects.NodeID, label string, state NodeState, components []valueobjects.ComponentRef, createdAt, updatedAt time.Time) *Node {
	return &Node{
		id:         id,
		label:      label,
		state:      state,
		components: components,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// ID returns the node's unique identifier
func (n *Node) ID() valueobjects.NodeID {
	return n.id
}

// Label returns the node's label
func (n *Node) Label() string {
	return n.label
}

// State returns the node's current lifecycle state
func (n *Node) State() NodeState {
	return n.state
}

// Components returns the node's component references
func (n *Node) Components() []valueobjects.ComponentRef {
	refs := make([]valueobjects.ComponentRef, len(n.components))
	copy(refs, n.components)
	return refs
}

// CreatedAt returns when the node was created
func (n *Node) CreatedAt() time.Time {
	return n.createdAt
}

// UpdatedAt returns when the node was last updated
func (n *Node) UpdatedAt() time.Time {
	return n.updatedAt
}

// TransitionTo moves the node to the target lifecycle state
func (n *Node) TransitionTo(target NodeState, at time.Time) error {
	if !target.IsValid() {
		return pkgerrors.NewValidation(pkgerrors.CodeInvalidTransition, "unknown node state: "+string(target))
	}
	if !n.state.CanTransition(target) {
		return pkgerrors.NewValidation(pkgerrors.CodeInvalidTransition,
			"cannot transition node from "+string(n.state)+" to "+string(target))
	}

	n.state = target
	n.updatedAt = at
	return nil
}

// HasComponent reports whether the node references the given component
func (n *Node) HasComponent(ref valueobjects.ComponentRef) bool {
	for _, r := range n.components {
		if r == ref {
			return true
		}
	}
	return false
}

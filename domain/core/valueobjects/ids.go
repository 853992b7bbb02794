package valueobjects

import (
	"encoding/json"
	"strings"

	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/google/uuid"
)

// NodeID uniquely identifies a node within a graph aggregate
type NodeID struct {
	value string
}

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID{value: uuid.New().String()}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(s string) (NodeID, error) {
	if s == "" {
		return NodeID{}, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node ID cannot be empty")
	}

	if _, err := uuid.Parse(strings.TrimSpace(s)); err != nil {
		return NodeID{}, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node ID must be a valid UUID")
	}

	return NodeID{value: strings.TrimSpace(s)}, nil
}

// String returns the string representation
func (id NodeID) String() string {
	return id.value
}

// Equals compares two NodeIDs
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero reports whether the ID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewNodeIDFromString(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

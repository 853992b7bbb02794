package valueobjects

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	pkgerrors "graphledger-backend/pkg/errors"
)

// ComponentRef is a content-derived reference to a component value.
// Two components with identical kind and data always share one ref, which
// lets nodes hold references while a single owned table holds the values.
type ComponentRef string

// Component is an immutable component value attached to nodes.
type Component struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewComponent creates a component, canonicalizing its data so that two
// semantically equal JSON documents produce the same ref.
func NewComponent(kind string, data json.RawMessage) (Component, error) {
	if kind == "" {
		return Component{}, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "component kind cannot be empty")
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Component{}, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "component data must be valid JSON")
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return Component{}, pkgerrors.Wrap(err, "failed to canonicalize component data")
	}

	return Component{Kind: kind, Data: canonical}, nil
}

// Ref computes the content-derived reference for this component.
// Kind and data are length-prefixed before hashing so no two distinct
// components can encode identically.
func (c Component) Ref() ComponentRef {
	h := sha256.New()
	var lenBuf [8]byte

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(c.Kind)))
	h.Write(lenBuf[:])
	h.Write([]byte(c.Kind))

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(c.Data)))
	h.Write(lenBuf[:])
	h.Write(c.Data)

	return ComponentRef(hex.EncodeToString(h.Sum(nil)))
}

// String returns the string representation of the ref
func (r ComponentRef) String() string {
	return string(r)
}

package aggregates

import (
	"time"

	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	pkgerrors "graphledger-backend/pkg/errors"
)

// GraphStateVersion is the serialization format version for graph mementos.
// Bumped whenever the snapshot layout changes incompatibly.
const GraphStateVersion = 1

// NodeSnapshot is the serialized form of a node inside a graph memento
type NodeSnapshot struct {
	ID         string                      `json:"id"`
	Label      string                      `json:"label"`
	State      entities.NodeState          `json:"state"`
	Components []valueobjects.ComponentRef `json:"components,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

// GraphState is a serializable memento of the full aggregate state at a
// known sequence watermark. Snapshots built from it are disposable: the
// state is always reconstructible from the event chain.
type GraphState struct {
	FormatVersion int               `json:"format_version"`
	GraphID       string            `json:"graph_id"`
	Name          string            `json:"name"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Nodes         []NodeSnapshot    `json:"nodes"`
	Edges         []Edge            `json:"edges"`

	// Components holds the flyweight table values; per-node refcounts are
	// rebuilt from the node component refs on restore
	Components map[valueobjects.ComponentRef]valueobjects.Component `json:"components,omitempty"`

	LastSequence uint64    `json:"last_sequence"`
	LastHash     string    `json:"last_hash"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Memento captures the aggregate's committed state for snapshotting.
// Uncommitted events are deliberately excluded; a snapshot only ever
// represents state the durable log has already sequenced.
func (g *Graph) Memento() GraphState {
	nodes := make([]NodeSnapshot, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, NodeSnapshot{
			ID:         node.ID().String(),
			Label:      node.Label(),
			State:      node.State(),
			Components: node.Components(),
			CreatedAt:  node.CreatedAt(),
			UpdatedAt:  node.UpdatedAt(),
		})
	}

	return GraphState{
		FormatVersion: GraphStateVersion,
		GraphID:       g.id.String(),
		Name:          g.name,
		Metadata:      g.Metadata(),
		Nodes:         nodes,
		Edges:         g.Edges(),
		Components:    g.components.Values(),
		LastSequence:  g.lastSequence,
		LastHash:      g.lastHash,
		Version:       g.version,
		CreatedAt:     g.createdAt,
		UpdatedAt:     g.updatedAt,
	}
}

// RestoreGraph rebuilds an aggregate from a memento. Events with sequence
// above the memento's watermark still need to be applied by the caller.
func RestoreGraph(state GraphState) (*Graph, error) {
	return RestoreGraphWithLimits(state, DefaultLimits())
}

// RestoreGraphWithLimits rebuilds an aggregate from a memento with specific limits
func RestoreGraphWithLimits(state GraphState, limits Limits) (*Graph, error) {
	if state.FormatVersion != GraphStateVersion {
		return nil, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"unsupported snapshot format version")
	}
	if state.GraphID == "" {
		return nil, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
			"snapshot is missing the aggregate id")
	}

	g := newEmptyGraph(GraphID(state.GraphID), limits)
	g.name = state.Name
	g.metadata = state.Metadata
	g.lastSequence = state.LastSequence
	g.lastHash = state.LastHash
	g.version = state.Version
	g.createdAt = state.CreatedAt
	g.updatedAt = state.UpdatedAt

	for _, ns := range state.Nodes {
		nodeID, err := valueobjects.NewNodeIDFromString(ns.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "snapshot holds an invalid node id")
		}

		refs := make([]valueobjects.ComponentRef, 0, len(ns.Components))
		for _, ref := range ns.Components {
			value, ok := state.Components[ref]
			if !ok {
				return nil, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
					"snapshot node references a missing component value")
			}
			refs = append(refs, g.components.Intern(value))
		}

		g.nodes[nodeID] = entities.ReconstructNode(nodeID, ns.Label, ns.State, refs, ns.CreatedAt, ns.UpdatedAt)
	}

	for _, edge := range state.Edges {
		if !g.HasNode(edge.SourceID) || !g.HasNode(edge.TargetID) {
			return nil, pkgerrors.NewCorruption(pkgerrors.CodeSnapshotCorrupt,
				"snapshot edge references a missing node")
		}
		g.edges[edgeKey(edge.SourceID, edge.TargetID, edge.Relation)] = edge
	}

	return g, nil
}

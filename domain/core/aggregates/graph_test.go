package aggregates

import (
	"encoding/json"
	"testing"

	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraph(t *testing.T) {
	tests := []struct {
		name    string
		gName   string
		wantErr bool
	}{
		{
			name:  "valid graph creation",
			gName: "Test Graph",
		},
		{
			name:    "empty name",
			gName:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := NewGraph(tt.gName, map[string]string{"owner": "tests"})

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, graph)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, graph)

			assert.NotEmpty(t, graph.ID())
			assert.Equal(t, tt.gName, graph.Name())
			assert.Equal(t, 0, graph.NodeCount())
			assert.Equal(t, 0, graph.EdgeCount())
			assert.Equal(t, 1, graph.Version())

			uncommitted := graph.UncommittedEvents()
			require.Len(t, uncommitted, 1)
			assert.Equal(t, events.TypeGraphCreated, uncommitted[0].EventType)
			assert.Empty(t, uncommitted[0].PreviousHash)
			assert.True(t, uncommitted[0].Verify())
		})
	}
}

func TestGraph_AddNode(t *testing.T) {
	graph, err := NewGraph("g", nil)
	require.NoError(t, err)

	nodeID, err := graph.AddNode("first", nil)
	require.NoError(t, err)
	assert.True(t, graph.HasNode(nodeID))
	assert.Equal(t, 1, graph.NodeCount())

	node, err := graph.GetNode(nodeID)
	require.NoError(t, err)
	assert.Equal(t, "first", node.Label())
	assert.Equal(t, entities.StateActive, node.State())
}

func TestGraph_AddNode_NodeLimit(t *testing.T) {
	graph, err := NewGraphWithLimits("g", nil, Limits{MaxNodes: 2, MaxEdges: 10})
	require.NoError(t, err)

	_, err = graph.AddNode("a", nil)
	require.NoError(t, err)
	_, err = graph.AddNode("b", nil)
	require.NoError(t, err)

	before := graph.Version()
	_, err = graph.AddNode("c", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNodeLimitExceeded))
	// Validation failures emit no event
	assert.Equal(t, before, graph.Version())
}

func TestGraph_AddNode_ComponentFlyweight(t *testing.T) {
	graph, err := NewGraph("g", nil)
	require.NoError(t, err)

	shared, err := valueobjects.NewComponent("position", json.RawMessage(`{"x":1,"y":2}`))
	require.NoError(t, err)
	other, err := valueobjects.NewComponent("position", json.RawMessage(`{"x":9,"y":9}`))
	require.NoError(t, err)

	a, err := graph.AddNode("a", []valueobjects.Component{shared})
	require.NoError(t, err)
	_, err = graph.AddNode("b", []valueobjects.Component{shared, other})
	require.NoError(t, err)

	// Two nodes share one component value; the table holds two distinct values
	assert.Equal(t, 2, graph.ComponentCount())

	nodeA, err := graph.GetNode(a)
	require.NoError(t, err)
	require.Len(t, nodeA.Components(), 1)

	value, ok := graph.GetComponent(nodeA.Components()[0])
	require.True(t, ok)
	assert.Equal(t, "position", value.Kind)

	// Removing one referencing node keeps the shared value alive
	require.NoError(t, graph.RemoveNode(a))
	assert.Equal(t, 2, graph.ComponentCount())
}

func TestGraph_ConnectNodes(t *testing.T) {
	graph, err := NewGraph("g", nil)
	require.NoError(t, err)

	a, err := graph.AddNode("a", nil)
	require.NoError(t, err)
	b, err := graph.AddNode("b", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		source   valueobjects.NodeID
		target   valueobjects.NodeID
		relation entities.RelationType
		wantCode pkgerrors.Code
	}{
		{
			name:     "valid connection",
			source:   a,
			target:   b,
			relation: entities.RelationDependsOn,
		},
		{
			name:     "self referencing edge",
			source:   a,
			target:   a,
			relation: entities.RelationDependsOn,
			wantCode: pkgerrors.CodeSelfReferencingEdge,
		},
		{
			name:     "duplicate edge",
			source:   a,
			target:   b,
			relation: entities.RelationDependsOn,
			wantCode: pkgerrors.CodeDuplicateEdge,
		},
		{
			name:     "missing target",
			source:   a,
			target:   valueobjects.NewNodeID(),
			relation: entities.RelationDependsOn,
			wantCode: pkgerrors.CodeNodeNotFound,
		},
		{
			name:     "unknown relation",
			source:   a,
			target:   b,
			relation: entities.RelationType("admires"),
			wantCode: pkgerrors.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := graph.ConnectNodes(tt.source, tt.target, tt.relation)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, pkgerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, graph.EdgeCount())
		})
	}
}

func TestGraph_ConnectNodes_EdgeLimit(t *testing.T) {
	graph, err := NewGraphWithLimits("g", nil, Limits{MaxNodes: 10, MaxEdges: 1})
	require.NoError(t, err)

	a, err := graph.AddNode("a", nil)
	require.NoError(t, err)
	b, err := graph.AddNode("b", nil)
	require.NoError(t, err)
	c, err := graph.AddNode("c", nil)
	require.NoError(t, err)

	require.NoError(t, graph.ConnectNodes(a, b, entities.RelationDependsOn))

	err = graph.ConnectNodes(b, c, entities.RelationDependsOn)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEdgeLimitExceeded))
}

func TestGraph_RemoveNode_CascadesEdges(t *testing.T) {
	graph, err := NewGraph("G1", nil)
	require.NoError(t, err)

	a, err := graph.AddNode("A", nil)
	require.NoError(t, err)
	b, err := graph.AddNode("B", nil)
	require.NoError(t, err)
	require.NoError(t, graph.ConnectNodes(a, b, entities.RelationDependsOn))

	require.NoError(t, graph.RemoveNode(a))

	assert.Equal(t, 1, graph.NodeCount())
	assert.Equal(t, 0, graph.EdgeCount())
	assert.True(t, graph.HasNode(b))
	assert.NoError(t, graph.Validate())

	// The removal event lists edge A->B as removed
	uncommitted := graph.UncommittedEvents()
	last := uncommitted[len(uncommitted)-1]
	require.Equal(t, events.TypeNodeRemoved, last.EventType)

	payload, err := last.DecodePayload()
	require.NoError(t, err)
	removed := payload.(*events.NodeRemoved)
	require.Len(t, removed.RemovedEdges, 1)
	assert.Equal(t, a.String(), removed.RemovedEdges[0].SourceID)
	assert.Equal(t, b.String(), removed.RemovedEdges[0].TargetID)
}

func TestGraph_TransitionNode(t *testing.T) {
	graph, err := NewGraph("g", nil)
	require.NoError(t, err)
	n, err := graph.AddNode("worker", nil)
	require.NoError(t, err)

	require.NoError(t, graph.TransitionNode(n, entities.StateProcessing))
	require.NoError(t, graph.TransitionNode(n, entities.StateCompleted))

	err = graph.TransitionNode(n, entities.StateProcessing)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))

	node, err := graph.GetNode(n)
	require.NoError(t, err)
	assert.Equal(t, entities.StateCompleted, node.State())
}

// commitEvents simulates the durable log assigning sequences to the
// aggregate's uncommitted envelopes and returns the sequenced chain.
func commitEvents(t *testing.T, graph *Graph, from uint64) []events.Envelope {
	t.Helper()

	uncommitted := graph.UncommittedEvents()
	sequences := make([]uint64, len(uncommitted))
	for i := range uncommitted {
		uncommitted[i].Sequence = from + uint64(i)
		sequences[i] = from + uint64(i)
	}
	require.NoError(t, graph.MarkEventsCommitted(sequences))
	return uncommitted
}

func TestReplayGraph_MatchesLiveState(t *testing.T) {
	live, err := NewGraph("replayed", map[string]string{"team": "core"})
	require.NoError(t, err)

	a, err := live.AddNode("A", nil)
	require.NoError(t, err)
	b, err := live.AddNode("B", nil)
	require.NoError(t, err)
	require.NoError(t, live.ConnectNodes(a, b, entities.RelationReferences))
	require.NoError(t, live.TransitionNode(a, entities.StateProcessing))

	chain := commitEvents(t, live, 1)

	replayed, err := ReplayGraph(live.ID(), chain)
	require.NoError(t, err)

	assert.Equal(t, live.Name(), replayed.Name())
	assert.Equal(t, live.NodeCount(), replayed.NodeCount())
	assert.Equal(t, live.EdgeCount(), replayed.EdgeCount())
	assert.Equal(t, live.Version(), replayed.Version())
	assert.Equal(t, live.LastHash(), replayed.LastHash())
	assert.Equal(t, uint64(len(chain)), replayed.LastSequence())

	node, err := replayed.GetNode(a)
	require.NoError(t, err)
	assert.Equal(t, entities.StateProcessing, node.State())
}

func TestReplayGraph_NoEvents(t *testing.T) {
	_, err := ReplayGraph(NewGraphID(), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAggregateNotFound))
}

func TestGraph_ApplyEnvelopes_Idempotent(t *testing.T) {
	live, err := NewGraph("g", nil)
	require.NoError(t, err)
	a, err := live.AddNode("A", nil)
	require.NoError(t, err)
	b, err := live.AddNode("B", nil)
	require.NoError(t, err)
	require.NoError(t, live.ConnectNodes(a, b, entities.RelationRelated))

	chain := commitEvents(t, live, 1)

	replayed, err := ReplayGraph(live.ID(), chain[:1])
	require.NoError(t, err)

	// At-least-once delivery: applying the same tail twice yields the same state
	require.NoError(t, replayed.ApplyEnvelopes(chain[1:]))
	versionAfterFirst := replayed.Version()
	require.NoError(t, replayed.ApplyEnvelopes(chain[1:]))

	assert.Equal(t, versionAfterFirst, replayed.Version())
	assert.Equal(t, 2, replayed.NodeCount())
	assert.Equal(t, 1, replayed.EdgeCount())
	assert.Equal(t, live.LastHash(), replayed.LastHash())
}

func TestGraph_ApplyEnvelopes_RejectsForeignAggregate(t *testing.T) {
	g1, err := NewGraph("g1", nil)
	require.NoError(t, err)
	g2, err := NewGraph("g2", nil)
	require.NoError(t, err)

	chain := commitEvents(t, g2, 1)
	err = g1.ApplyEnvelopes(chain)
	assert.Error(t, err)
}

func TestGraph_MementoRestore(t *testing.T) {
	live, err := NewGraph("snapshotted", nil)
	require.NoError(t, err)

	comp, err := valueobjects.NewComponent("weight", json.RawMessage(`{"kg":3}`))
	require.NoError(t, err)

	a, err := live.AddNode("A", []valueobjects.Component{comp})
	require.NoError(t, err)
	b, err := live.AddNode("B", nil)
	require.NoError(t, err)
	require.NoError(t, live.ConnectNodes(a, b, entities.RelationContains))
	commitEvents(t, live, 1)

	restored, err := RestoreGraph(live.Memento())
	require.NoError(t, err)

	assert.Equal(t, live.ID(), restored.ID())
	assert.Equal(t, live.Name(), restored.Name())
	assert.Equal(t, live.NodeCount(), restored.NodeCount())
	assert.Equal(t, live.EdgeCount(), restored.EdgeCount())
	assert.Equal(t, live.ComponentCount(), restored.ComponentCount())
	assert.Equal(t, live.LastSequence(), restored.LastSequence())
	assert.Equal(t, live.LastHash(), restored.LastHash())
	assert.Equal(t, live.Version(), restored.Version())
	assert.NoError(t, restored.Validate())
}

func TestRestoreGraph_BadFormatVersion(t *testing.T) {
	live, err := NewGraph("g", nil)
	require.NoError(t, err)
	commitEvents(t, live, 1)

	state := live.Memento()
	state.FormatVersion = 99

	_, err = RestoreGraph(state)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSnapshotCorrupt))
}

func TestGraph_FindConnected(t *testing.T) {
	graph, err := NewGraph("g", nil)
	require.NoError(t, err)

	a, _ := graph.AddNode("a", nil)
	b, _ := graph.AddNode("b", nil)
	c, _ := graph.AddNode("c", nil)
	d, _ := graph.AddNode("d", nil)

	require.NoError(t, graph.ConnectNodes(a, b, entities.RelationRelated))
	require.NoError(t, graph.ConnectNodes(b, c, entities.RelationRelated))
	require.NoError(t, graph.ConnectNodes(c, d, entities.RelationRelated))

	depth1, err := graph.FindConnected(a, 1)
	require.NoError(t, err)
	assert.Len(t, depth1, 1)

	depth3, err := graph.FindConnected(a, 3)
	require.NoError(t, err)
	assert.Len(t, depth3, 3)
}

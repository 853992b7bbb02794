package projections

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/core/aggregates"
	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	"graphledger-backend/infrastructure/persistence/memory"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	log       *memory.EventLog
	projector *Projector
	graph     *aggregates.Graph
}

// newFixture builds a graph, commits its events, and projects them in order
func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := memory.NewEventLog(0, nil)
	projector := NewProjector(log, nil, time.Minute, 8, nil, nil)

	graph, err := aggregates.NewGraph("projected", nil)
	require.NoError(t, err)

	return &fixture{log: log, projector: projector, graph: graph}
}

// commitAndProject appends pending events and feeds them to the projector
func (f *fixture) commitAndProject(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	pending := f.graph.UncommittedEvents()
	sequences := make([]uint64, 0, len(pending))
	for _, env := range pending {
		res, err := f.log.Append(ctx, env, ports.AppendOptions{})
		require.NoError(t, err)
		env.Sequence = res.Sequence
		sequences = append(sequences, res.Sequence)
		require.NoError(t, f.projector.Apply(ctx, env))
	}
	require.NoError(t, f.graph.MarkEventsCommitted(sequences))
}

func (f *fixture) addNode(t *testing.T, label string, components ...valueobjects.Component) string {
	t.Helper()

	id, err := f.graph.AddNode(label, components)
	require.NoError(t, err)
	f.commitAndProject(t)
	return id.String()
}

func (f *fixture) connect(t *testing.T, source, target string) {
	t.Helper()

	sourceID, err := valueobjects.NewNodeIDFromString(source)
	require.NoError(t, err)
	targetID, err := valueobjects.NewNodeIDFromString(target)
	require.NoError(t, err)
	require.NoError(t, f.graph.ConnectNodes(sourceID, targetID, entities.RelationDependsOn))
	f.commitAndProject(t)
}

func TestProjector_NodeView(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t) // graph created

	component, err := valueobjects.NewComponent("position", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	nodeID := f.addNode(t, "first", component)

	view, err := f.projector.NodeView(f.graph.ID().String(), nodeID)
	require.NoError(t, err)

	assert.Equal(t, "first", view.Label)
	assert.Equal(t, "active", view.State)
	require.Len(t, view.Components, 1)
	assert.Equal(t, "position", view.Components[0].Kind)
	assert.NotZero(t, view.Generation)
}

func TestProjector_AdjacencyAndStats(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)

	a := f.addNode(t, "a")
	b := f.addNode(t, "b")
	f.connect(t, a, b)

	viewA, err := f.projector.NodeView(f.graph.ID().String(), a)
	require.NoError(t, err)
	require.Len(t, viewA.Outgoing, 1)
	assert.Equal(t, b, viewA.Outgoing[0].TargetID)

	viewB, err := f.projector.NodeView(f.graph.ID().String(), b)
	require.NoError(t, err)
	require.Len(t, viewB.Incoming, 1)

	stats, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "projected", stats.Name)
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 2, stats.StateCounts["active"])
	assert.Equal(t, f.graph.LastSequence(), stats.LastSequence)
}

func TestProjector_RemoveNodeCascades(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)

	a := f.addNode(t, "a")
	b := f.addNode(t, "b")
	f.connect(t, a, b)

	nodeB, err := valueobjects.NewNodeIDFromString(b)
	require.NoError(t, err)
	require.NoError(t, f.graph.RemoveNode(nodeB))
	f.commitAndProject(t)

	_, err = f.projector.NodeView(f.graph.ID().String(), b)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	// The surviving endpoint's adjacency was detached too
	viewA, err := f.projector.NodeView(f.graph.ID().String(), a)
	require.NoError(t, err)
	assert.Empty(t, viewA.Outgoing)

	stats, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NodeCount)
	assert.Equal(t, 0, stats.EdgeCount)
}

func TestProjector_StateTransitionCounts(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)

	a := f.addNode(t, "a")
	nodeA, err := valueobjects.NewNodeIDFromString(a)
	require.NoError(t, err)
	require.NoError(t, f.graph.TransitionNode(nodeA, entities.StateProcessing))
	f.commitAndProject(t)

	view, err := f.projector.NodeView(f.graph.ID().String(), a)
	require.NoError(t, err)
	assert.Equal(t, "processing", view.State)

	stats, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StateCounts["processing"])
	assert.NotContains(t, stats.StateCounts, "active")
}

func TestProjector_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)
	f.addNode(t, "a")

	ctx := context.Background()
	history, err := f.log.Read(ctx, f.graph.ID().String(), 0, 0)
	require.NoError(t, err)

	statsBefore, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)

	// Redeliver the whole stream
	for _, env := range history {
		require.NoError(t, f.projector.Apply(ctx, env))
	}

	statsAfter, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, statsBefore.Generation, statsAfter.Generation)
	assert.Equal(t, statsBefore.NodeCount, statsAfter.NodeCount)
}

func TestProjector_ReordersWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addNodesUnprojected(t, 3) // seals and appends 4 events total

	history, err := f.log.Read(ctx, f.graph.ID().String(), 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)

	// Deliver out of order: 1, 3, 4, 2
	require.NoError(t, f.projector.Apply(ctx, history[0]))
	require.NoError(t, f.projector.Apply(ctx, history[2]))
	require.NoError(t, f.projector.Apply(ctx, history[3]))
	assert.Equal(t, uint64(1), f.projector.Watermark(f.graph.ID().String()))

	require.NoError(t, f.projector.Apply(ctx, history[1]))
	assert.Equal(t, uint64(4), f.projector.Watermark(f.graph.ID().String()))

	stats, err := f.projector.Stats(f.graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NodeCount)
}

func TestProjector_GapBeyondWindowForcesRebuild(t *testing.T) {
	log := memory.NewEventLog(0, nil)
	projector := NewProjector(log, nil, time.Minute, 4, nil, nil)
	ctx := context.Background()

	graph, err := aggregates.NewGraph("wide gap", nil)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		_, err := graph.AddNode("n", nil)
		require.NoError(t, err)
	}
	pending := graph.UncommittedEvents()
	for _, env := range pending {
		_, err := log.Append(ctx, env, ports.AppendOptions{})
		require.NoError(t, err)
	}

	history, err := log.Read(ctx, graph.ID().String(), 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 10)

	// Sequence 10 lands on a fresh projection: far past the window,
	// so the projector refolds the whole aggregate from the log
	require.NoError(t, projector.Apply(ctx, history[9]))

	assert.Equal(t, uint64(10), projector.Watermark(graph.ID().String()))
	stats, err := projector.Stats(graph.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 9, stats.NodeCount)
}

func TestProjector_ConnectedDepths(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)

	a := f.addNode(t, "a")
	b := f.addNode(t, "b")
	c := f.addNode(t, "c")
	f.connect(t, a, b)
	f.connect(t, b, c)

	graphID := f.graph.ID().String()

	oneHop, err := f.projector.Connected(graphID, a, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b}, oneHop)

	twoHops, err := f.projector.Connected(graphID, a, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b, c}, twoHops)

	// Traversal follows incoming edges too
	fromC, err := f.projector.Connected(graphID, c, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, fromC)
}

func TestProjector_NodesByComponent(t *testing.T) {
	f := newFixture(t)
	f.commitAndProject(t)

	position, err := valueobjects.NewComponent("position", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	color, err := valueobjects.NewComponent("color", json.RawMessage(`"red"`))
	require.NoError(t, err)

	a := f.addNode(t, "a", position)
	f.addNode(t, "b", color)
	c := f.addNode(t, "c", position, color)

	matches, err := f.projector.NodesByComponent(f.graph.ID().String(), "position")
	require.NoError(t, err)

	ids := make([]string, 0, len(matches))
	for _, view := range matches {
		ids = append(ids, view.NodeID)
	}
	assert.ElementsMatch(t, []string{a, c}, ids)
}

// addNodesUnprojected seals n node additions into the log without projecting
func (f *fixture) addNodesUnprojected(t *testing.T, n int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := f.graph.AddNode("n", nil)
		require.NoError(t, err)
	}
	pending := f.graph.UncommittedEvents()
	sequences := make([]uint64, 0, len(pending))
	for _, env := range pending {
		res, err := f.log.Append(ctx, env, ports.AppendOptions{})
		require.NoError(t, err)
		sequences = append(sequences, res.Sequence)
	}
	require.NoError(t, f.graph.MarkEventsCommitted(sequences))
}

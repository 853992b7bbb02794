package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"graphledger-backend/application/commands"
	"graphledger-backend/domain/core/entities"
	"graphledger-backend/infrastructure/persistence/memory"
	"graphledger-backend/infrastructure/persistence/snapshots"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) (*GraphCommandHandler, *memory.EventLog) {
	t.Helper()

	log := memory.NewEventLog(time.Minute, nil)
	loader := snapshots.NewManager(log, memory.NewSnapshotStore(), snapshots.Policy{EveryNEvents: 5}, nil, nil)
	return NewGraphCommandHandler(log, loader, nil, nil, nil), log
}

func createGraph(t *testing.T, handler *GraphCommandHandler) string {
	t.Helper()

	result, err := handler.CreateGraph(context.Background(), commands.CreateGraphCommand{Name: "test graph"})
	require.NoError(t, err)
	return result.AggregateID
}

func TestCreateGraph(t *testing.T) {
	handler, log := newHandler(t)

	result, err := handler.CreateGraph(context.Background(), commands.CreateGraphCommand{
		Name:     "my graph",
		Metadata: map[string]string{"env": "test"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.EventID)
	assert.NotEmpty(t, result.AggregateID)
	assert.Equal(t, uint64(1), result.Sequence)
	assert.Equal(t, uint64(1), result.Version)

	stored, err := log.Read(context.Background(), result.AggregateID, 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0].PreviousHash)
}

func TestCreateGraph_RequiresName(t *testing.T) {
	handler, _ := newHandler(t)

	_, err := handler.CreateGraph(context.Background(), commands.CreateGraphCommand{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestAddNode_ChainsOntoCreation(t *testing.T) {
	handler, log := newHandler(t)
	graphID := createGraph(t, handler)

	result, err := handler.AddNode(context.Background(), commands.AddNodeCommand{
		GraphID: graphID,
		Label:   "first node",
		Components: []commands.ComponentInput{
			{Kind: "position", Data: json.RawMessage(`{"x":1,"y":2}`)},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.NodeID)
	assert.Equal(t, uint64(2), result.Sequence)

	stored, err := log.Read(context.Background(), graphID, 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, stored[0].ContentHash, stored[1].PreviousHash)
}

func TestAddNode_UnknownGraph(t *testing.T) {
	handler, _ := newHandler(t)

	_, err := handler.AddNode(context.Background(), commands.AddNodeCommand{
		GraphID: "no-such-graph",
		Label:   "node",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAggregateNotFound))
}

func TestConnectNodes(t *testing.T) {
	handler, _ := newHandler(t)
	ctx := context.Background()
	graphID := createGraph(t, handler)

	a, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "a"})
	require.NoError(t, err)
	b, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "b"})
	require.NoError(t, err)

	result, err := handler.ConnectNodes(ctx, commands.ConnectNodesCommand{
		GraphID:  graphID,
		SourceID: a.NodeID,
		TargetID: b.NodeID,
		Relation: string(entities.RelationDependsOn),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), result.Sequence)

	// The same edge again is rejected without appending anything
	_, err = handler.ConnectNodes(ctx, commands.ConnectNodesCommand{
		GraphID:  graphID,
		SourceID: a.NodeID,
		TargetID: b.NodeID,
		Relation: string(entities.RelationDependsOn),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateEdge))
}

func TestConnectNodes_UnknownRelation(t *testing.T) {
	handler, _ := newHandler(t)
	graphID := createGraph(t, handler)

	_, err := handler.ConnectNodes(context.Background(), commands.ConnectNodesCommand{
		GraphID:  graphID,
		SourceID: "7b0f1a8e-55d3-4f9f-bf2a-111111111111",
		TargetID: "7b0f1a8e-55d3-4f9f-bf2a-222222222222",
		Relation: "admires",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRemoveNode_CascadesEdges(t *testing.T) {
	handler, log := newHandler(t)
	ctx := context.Background()
	graphID := createGraph(t, handler)

	a, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "a"})
	require.NoError(t, err)
	b, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "b"})
	require.NoError(t, err)
	_, err = handler.ConnectNodes(ctx, commands.ConnectNodesCommand{
		GraphID: graphID, SourceID: a.NodeID, TargetID: b.NodeID,
		Relation: string(entities.RelationReferences),
	})
	require.NoError(t, err)

	result, err := handler.RemoveNode(ctx, commands.RemoveNodeCommand{GraphID: graphID, NodeID: b.NodeID})
	require.NoError(t, err)
	assert.Equal(t, b.NodeID, result.NodeID)

	// The chain stays valid through the cascade
	stored, err := log.Read(ctx, graphID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestTransitionNode(t *testing.T) {
	handler, _ := newHandler(t)
	ctx := context.Background()
	graphID := createGraph(t, handler)

	node, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "worker"})
	require.NoError(t, err)

	_, err = handler.TransitionNode(ctx, commands.TransitionNodeCommand{
		GraphID: graphID, NodeID: node.NodeID, Target: string(entities.StateProcessing),
	})
	require.NoError(t, err)

	// Processing cannot jump back to active
	_, err = handler.TransitionNode(ctx, commands.TransitionNodeCommand{
		GraphID: graphID, NodeID: node.NodeID, Target: string(entities.StateActive),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestCommandIdempotencyKey(t *testing.T) {
	handler, log := newHandler(t)
	ctx := context.Background()
	graphID := createGraph(t, handler)

	cmd := commands.AddNodeCommand{
		GraphID:        graphID,
		Label:          "only once",
		IdempotencyKey: "client-retry-7",
	}

	first, err := handler.AddNode(ctx, cmd)
	require.NoError(t, err)
	second, err := handler.AddNode(ctx, cmd)
	require.NoError(t, err)

	// The retry reports the original append, not the discarded attempt
	assert.Equal(t, first.Sequence, second.Sequence)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.NodeID, second.NodeID)

	stored, err := log.Read(ctx, graphID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2) // creation plus one node
}

func TestCreateGraph_RetryReturnsOriginalAggregate(t *testing.T) {
	handler, log := newHandler(t)
	ctx := context.Background()

	cmd := commands.CreateGraphCommand{
		Name:           "billing graph",
		IdempotencyKey: "create-retry-3",
	}

	first, err := handler.CreateGraph(ctx, cmd)
	require.NoError(t, err)
	second, err := handler.CreateGraph(ctx, cmd)
	require.NoError(t, err)

	// Each attempt mints a fresh aggregate ID before hitting the log, so
	// the retry must surface the identity the log actually stored.
	assert.Equal(t, first.AggregateID, second.AggregateID)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.Sequence, second.Sequence)
	assert.Equal(t, first.Version, second.Version)

	stored, err := log.Read(ctx, first.AggregateID, 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, first.EventID, stored[0].EventID)
}

func TestConcurrentCommandsSerializePerAggregate(t *testing.T) {
	handler, log := newHandler(t)
	ctx := context.Background()
	graphID := createGraph(t, handler)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := handler.AddNode(ctx, commands.AddNodeCommand{GraphID: graphID, Label: "concurrent"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := log.Read(ctx, graphID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, stored, workers+1)
}

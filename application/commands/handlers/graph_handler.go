// Package handlers executes graph commands against the durable log: load
// the aggregate, apply the command, append the resulting event with an
// optimistic concurrency check, then publish and maybe snapshot.
package handlers

import (
	"context"
	"fmt"
	"sync"

	"graphledger-backend/application/commands"
	"graphledger-backend/application/ports"
	"graphledger-backend/domain/core/aggregates"
	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"
	"graphledger-backend/pkg/observability"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// GraphCommandHandler serializes command execution per aggregate. The keyed
// mutex keeps local writers from racing each other; the log's conditional
// append is the cross-process guarantee.
type GraphCommandHandler struct {
	log       ports.EventLog
	loader    ports.GraphLoader
	publisher ports.EventPublisher
	validate  *validator.Validate
	metrics   *observability.Collector
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGraphCommandHandler creates the write-side command handler
func NewGraphCommandHandler(
	log ports.EventLog,
	loader ports.GraphLoader,
	publisher ports.EventPublisher,
	metrics *observability.Collector,
	logger *zap.Logger,
) *GraphCommandHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphCommandHandler{
		log:       log,
		loader:    loader,
		publisher: publisher,
		validate:  validator.New(),
		metrics:   metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (h *GraphCommandHandler) lockAggregate(aggregateID string) func() {
	h.mu.Lock()
	lock, ok := h.locks[aggregateID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[aggregateID] = lock
	}
	h.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CreateGraph starts a new aggregate and appends its first event
func (h *GraphCommandHandler) CreateGraph(ctx context.Context, cmd commands.CreateGraphCommand) (*commands.CommandResult, error) {
	if err := h.validate.Struct(cmd); err != nil {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, err.Error())
	}

	graph, err := aggregates.NewGraph(cmd.Name, cmd.Metadata)
	if err != nil {
		return nil, err
	}
	return h.commit(ctx, graph, cmd.IdempotencyKey, "")
}

// AddNode appends a node-added event carrying the node's component values
func (h *GraphCommandHandler) AddNode(ctx context.Context, cmd commands.AddNodeCommand) (*commands.CommandResult, error) {
	if err := h.validate.Struct(cmd); err != nil {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, err.Error())
	}

	components := make([]valueobjects.Component, 0, len(cmd.Components))
	for _, input := range cmd.Components {
		component, err := valueobjects.NewComponent(input.Kind, input.Data)
		if err != nil {
			return nil, err
		}
		components = append(components, component)
	}

	unlock := h.lockAggregate(cmd.GraphID)
	defer unlock()

	graph, err := h.loader.LoadAggregate(ctx, cmd.GraphID)
	if err != nil {
		return nil, err
	}

	nodeID, err := graph.AddNode(cmd.Label, components)
	if err != nil {
		return nil, err
	}
	return h.commit(ctx, graph, cmd.IdempotencyKey, nodeID.String())
}

// ConnectNodes appends a nodes-connected event
func (h *GraphCommandHandler) ConnectNodes(ctx context.Context, cmd commands.ConnectNodesCommand) (*commands.CommandResult, error) {
	if err := h.validate.Struct(cmd); err != nil {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, err.Error())
	}

	sourceID, err := valueobjects.NewNodeIDFromString(cmd.SourceID)
	if err != nil {
		return nil, err
	}
	targetID, err := valueobjects.NewNodeIDFromString(cmd.TargetID)
	if err != nil {
		return nil, err
	}

	relation := entities.RelationType(cmd.Relation)
	if !relation.IsValid() {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput,
			"unknown relation type "+cmd.Relation)
	}

	unlock := h.lockAggregate(cmd.GraphID)
	defer unlock()

	graph, err := h.loader.LoadAggregate(ctx, cmd.GraphID)
	if err != nil {
		return nil, err
	}

	if err := graph.ConnectNodes(sourceID, targetID, relation); err != nil {
		return nil, err
	}
	return h.commit(ctx, graph, cmd.IdempotencyKey, "")
}

// RemoveNode appends a node-removed event listing its cascaded edges
func (h *GraphCommandHandler) RemoveNode(ctx context.Context, cmd commands.RemoveNodeCommand) (*commands.CommandResult, error) {
	if err := h.validate.Struct(cmd); err != nil {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, err.Error())
	}

	nodeID, err := valueobjects.NewNodeIDFromString(cmd.NodeID)
	if err != nil {
		return nil, err
	}

	unlock := h.lockAggregate(cmd.GraphID)
	defer unlock()

	graph, err := h.loader.LoadAggregate(ctx, cmd.GraphID)
	if err != nil {
		return nil, err
	}

	if err := graph.RemoveNode(nodeID); err != nil {
		return nil, err
	}
	return h.commit(ctx, graph, cmd.IdempotencyKey, nodeID.String())
}

// TransitionNode appends a node-state-changed event
func (h *GraphCommandHandler) TransitionNode(ctx context.Context, cmd commands.TransitionNodeCommand) (*commands.CommandResult, error) {
	if err := h.validate.Struct(cmd); err != nil {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, err.Error())
	}

	nodeID, err := valueobjects.NewNodeIDFromString(cmd.NodeID)
	if err != nil {
		return nil, err
	}

	unlock := h.lockAggregate(cmd.GraphID)
	defer unlock()

	graph, err := h.loader.LoadAggregate(ctx, cmd.GraphID)
	if err != nil {
		return nil, err
	}

	if err := graph.TransitionNode(nodeID, entities.NodeState(cmd.Target)); err != nil {
		return nil, err
	}
	return h.commit(ctx, graph, cmd.IdempotencyKey, nodeID.String())
}

// commit appends the aggregate's pending event, marks it committed, then
// snapshots and publishes. Publication failure is non-fatal: the log is the
// source of truth and consumers can always catch up from it.
func (h *GraphCommandHandler) commit(ctx context.Context, graph *aggregates.Graph, idempotencyKey, nodeID string) (*commands.CommandResult, error) {
	pending := graph.UncommittedEvents()
	if len(pending) != 1 {
		return nil, pkgerrors.NewInternal(
			fmt.Sprintf("command produced %d events, expected exactly one", len(pending)), nil)
	}
	env := pending[0]

	// The expected watermark pins the append so a concurrent writer on
	// another instance loses cleanly
	expected := graph.LastSequence()
	appended, err := h.log.Append(ctx, env, ports.AppendOptions{
		IdempotencyKey:       idempotencyKey,
		ExpectedLastSequence: &expected,
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConcurrencyConflict) && h.metrics != nil {
			h.metrics.AppendConflicts.Inc()
		}
		return nil, err
	}

	// The log suppressed a retried append via the idempotency key: the
	// original append already did the bookkeeping, so hand back the
	// original's identity and stop. The aggregate built for this attempt
	// is discarded, which matters for retried creations where it carries a
	// fresh ID that was never stored.
	if appended.Duplicate {
		return h.duplicateResult(ctx, appended)
	}

	result := &commands.CommandResult{
		EventID:     env.EventID,
		AggregateID: graph.ID().String(),
		NodeID:      nodeID,
		Sequence:    appended.Sequence,
		Version:     uint64(graph.Version()),
		ContentHash: env.ContentHash,
	}

	if err := graph.MarkEventsCommitted([]uint64{appended.Sequence}); err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.EventsAppended.WithLabelValues(env.EventType).Inc()
	}

	h.loader.MaybeSnapshot(ctx, graph)
	h.publish(ctx, env, appended.Sequence)
	return result, nil
}

// duplicateResult rebuilds the original command's result from the event the
// idempotency key points at. Aggregate versions advance one per event, so
// the stored sequence doubles as the version after that event.
func (h *GraphCommandHandler) duplicateResult(ctx context.Context, appended ports.AppendResult) (*commands.CommandResult, error) {
	result := &commands.CommandResult{
		EventID:     appended.EventID,
		AggregateID: appended.AggregateID,
		Sequence:    appended.Sequence,
		Version:     appended.Sequence,
		ContentHash: appended.ContentHash,
	}

	stored, err := h.log.Read(ctx, appended.AggregateID, appended.Sequence-1, 1)
	if err != nil {
		return nil, err
	}
	if len(stored) == 1 && stored[0].Sequence == appended.Sequence {
		result.NodeID = nodeIDFromEvent(stored[0])
	}
	return result, nil
}

// nodeIDFromEvent extracts the node a stored event acted on, empty for
// events that do not target a single node.
func nodeIDFromEvent(env events.Envelope) string {
	payload, err := env.DecodePayload()
	if err != nil {
		return ""
	}
	switch p := payload.(type) {
	case *events.NodeAdded:
		return p.NodeID
	case *events.NodeRemoved:
		return p.NodeID
	case *events.NodeStateChanged:
		return p.NodeID
	default:
		return ""
	}
}

func (h *GraphCommandHandler) publish(ctx context.Context, env events.Envelope, sequence uint64) {
	if h.publisher == nil {
		return
	}

	env.Sequence = sequence
	if err := h.publisher.Publish(ctx, env); err != nil {
		if h.metrics != nil {
			h.metrics.PublishFailures.Inc()
		}
		h.logger.Warn("event publication failed after durable append",
			zap.String("aggregate_id", env.AggregateID),
			zap.String("event_id", env.EventID),
			zap.Error(err))
	}
}

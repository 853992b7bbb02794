package aggregates

import (
	"fmt"
	"time"

	"graphledger-backend/domain/core/entities"
	"graphledger-backend/domain/core/valueobjects"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/google/uuid"
)

// GraphID represents a unique graph identifier. It scopes a single hash
// chain and a single serialized stream of commands.
type GraphID string

// NewGraphID creates a new random GraphID
func NewGraphID() GraphID {
	return GraphID(uuid.New().String())
}

// String returns the string representation
func (id GraphID) String() string {
	return string(id)
}

// Edge is a value record connecting two node identities. Edges never hold
// node pointers; removing a node cascades removal of every edge referencing
// its id.
type Edge struct {
	SourceID  valueobjects.NodeID   `json:"source_id"`
	TargetID  valueobjects.NodeID   `json:"target_id"`
	Relation  entities.RelationType `json:"relation"`
	CreatedAt time.Time             `json:"created_at"`
}

// Limits holds the business rules bounding a graph
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// DefaultLimits returns the default graph limits
func DefaultLimits() Limits {
	return Limits{
		MaxNodes: 10000,
		MaxEdges: 50000,
	}
}

// Graph is the aggregate root for the event-sourced graph write model.
// All state is rebuilt by folding the aggregate's event chain in order;
// commands validate invariants and emit exactly one event each.
type Graph struct {
	id         GraphID
	name       string
	metadata   map[string]string
	nodes      map[valueobjects.NodeID]*entities.Node
	edges      map[string]Edge
	components *entities.ComponentTable
	limits     Limits

	createdAt time.Time
	updatedAt time.Time

	// version counts applied events and backs optimistic concurrency checks
	version int

	// lastSequence and lastHash track the committed chain tip; envelopes at
	// or below lastSequence are already folded in and are skipped on redelivery
	lastSequence uint64
	lastHash     string

	uncommitted []events.Envelope
}

// NewGraph creates a new graph aggregate and emits its first event.
// The first event of an aggregate is the only one with an empty previous hash.
func NewGraph(name string, metadata map[string]string) (*Graph, error) {
	return NewGraphWithLimits(name, metadata, DefaultLimits())
}

// NewGraphWithLimits creates a new graph aggregate with specific limits
func NewGraphWithLimits(name string, metadata map[string]string, limits Limits) (*Graph, error) {
	if name == "" {
		return nil, pkgerrors.NewValidation(pkgerrors.CodeAggregateNotFound, "graph name is required")
	}

	g := newEmptyGraph(NewGraphID(), limits)
	if err := g.emit(events.GraphCreated{
		GraphID:  g.id.String(),
		Name:     name,
		Metadata: metadata,
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// ReplayGraph rebuilds a graph by folding its full event chain from the
// beginning. The chain is verified before any event is applied.
func ReplayGraph(id GraphID, envelopes []events.Envelope) (*Graph, error) {
	return ReplayGraphWithLimits(id, envelopes, DefaultLimits())
}

// ReplayGraphWithLimits rebuilds a graph with specific limits
func ReplayGraphWithLimits(id GraphID, envelopes []events.Envelope, limits Limits) (*Graph, error) {
	if len(envelopes) == 0 {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound, "no events for aggregate "+id.String())
	}
	if err := events.VerifyChain(envelopes); err != nil {
		return nil, err
	}

	g := newEmptyGraph(id, limits)
	for _, env := range envelopes {
		if err := g.fold(env); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func newEmptyGraph(id GraphID, limits Limits) *Graph {
	return &Graph{
		id:         id,
		nodes:      make(map[valueobjects.NodeID]*entities.Node),
		edges:      make(map[string]Edge),
		components: entities.NewComponentTable(),
		limits:     limits,
	}
}

// ID returns the graph's unique identifier
func (g *Graph) ID() GraphID {
	return g.id
}

// Name returns the graph's name
func (g *Graph) Name() string {
	return g.name
}

// Version returns the number of events applied, used for optimistic
// concurrency checks.
func (g *Graph) Version() int {
	return g.version
}

// LastSequence returns the highest log sequence folded into this aggregate
func (g *Graph) LastSequence() uint64 {
	return g.lastSequence
}

// LastHash returns the content hash at the chain tip
func (g *Graph) LastHash() string {
	if n := len(g.uncommitted); n > 0 {
		return g.uncommitted[n-1].ContentHash
	}
	return g.lastHash
}

// NodeCount returns the number of nodes in the graph
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Metadata returns the graph's creation metadata
func (g *Graph) Metadata() map[string]string {
	out := make(map[string]string, len(g.metadata))
	for k, v := range g.metadata {
		out[k] = v
	}
	return out
}

// CreatedAt returns when the graph was created
func (g *Graph) CreatedAt() time.Time {
	return g.createdAt
}

// UpdatedAt returns when the graph was last updated
func (g *Graph) UpdatedAt() time.Time {
	return g.updatedAt
}

// GetNode retrieves a node by ID
func (g *Graph) GetNode(nodeID valueobjects.NodeID) (*entities.Node, error) {
	node, exists := g.nodes[nodeID]
	if !exists {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeNodeNotFound, "node "+nodeID.String()+" not found")
	}
	return node, nil
}

// HasNode checks if a node exists in the graph without error
func (g *Graph) HasNode(nodeID valueobjects.NodeID) bool {
	_, exists := g.nodes[nodeID]
	return exists
}

// Nodes returns all nodes in the graph
func (g *Graph) Nodes() []*entities.Node {
	nodes := make([]*entities.Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

// Edges returns all edges in the graph
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, edge)
	}
	return edges
}

// GetComponent returns the deduplicated component value for ref
func (g *Graph) GetComponent(ref valueobjects.ComponentRef) (valueobjects.Component, bool) {
	return g.components.Get(ref)
}

// ComponentCount returns the number of distinct component values owned by
// the graph's flyweight table.
func (g *Graph) ComponentCount() int {
	return g.components.Len()
}

// AddNode adds a node to the graph. Component values are interned into the
// aggregate's component table; the node only keeps refs.
func (g *Graph) AddNode(label string, components []valueobjects.Component) (valueobjects.NodeID, error) {
	if label == "" {
		return valueobjects.NodeID{}, pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node label cannot be empty")
	}
	if len(g.nodes) >= g.limits.MaxNodes {
		return valueobjects.NodeID{}, pkgerrors.NewValidation(pkgerrors.CodeNodeLimitExceeded,
			fmt.Sprintf("maximum nodes reached: %d", g.limits.MaxNodes))
	}

	nodeID := valueobjects.NewNodeID()
	if err := g.emit(events.NodeAdded{
		NodeID:     nodeID.String(),
		Label:      label,
		Components: components,
	}); err != nil {
		return valueobjects.NodeID{}, err
	}
	return nodeID, nil
}

// ConnectNodes creates an edge between two nodes
func (g *Graph) ConnectNodes(sourceID, targetID valueobjects.NodeID, relation entities.RelationType) error {
	if sourceID.Equals(targetID) {
		return pkgerrors.NewValidation(pkgerrors.CodeSelfReferencingEdge, "cannot connect node to itself")
	}
	if !relation.IsValid() {
		return pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "unknown relation type: "+relation.String())
	}
	if !g.HasNode(sourceID) {
		return pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "source node "+sourceID.String()+" not found")
	}
	if !g.HasNode(targetID) {
		return pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "target node "+targetID.String()+" not found")
	}
	if _, exists := g.edges[edgeKey(sourceID, targetID, relation)]; exists {
		return pkgerrors.NewConflict(pkgerrors.CodeDuplicateEdge, "edge already exists")
	}
	if len(g.edges) >= g.limits.MaxEdges {
		return pkgerrors.NewValidation(pkgerrors.CodeEdgeLimitExceeded,
			fmt.Sprintf("maximum edges reached: %d", g.limits.MaxEdges))
	}

	return g.emit(events.NodesConnected{
		SourceID: sourceID.String(),
		TargetID: targetID.String(),
		Relation: relation,
	})
}

// RemoveNode removes a node and cascades removal of every edge referencing
// it. A single event carries the node removal plus the list of edges that
// ceased to exist.
func (g *Graph) RemoveNode(nodeID valueobjects.NodeID) error {
	if !g.HasNode(nodeID) {
		return pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node "+nodeID.String()+" not found")
	}

	removed := []events.RemovedEdge{}
	for _, edge := range g.edges {
		if edge.SourceID.Equals(nodeID) || edge.TargetID.Equals(nodeID) {
			removed = append(removed, events.RemovedEdge{
				SourceID: edge.SourceID.String(),
				TargetID: edge.TargetID.String(),
				Relation: edge.Relation,
			})
		}
	}

	return g.emit(events.NodeRemoved{
		NodeID:       nodeID.String(),
		RemovedEdges: removed,
	})
}

// TransitionNode moves a node through its lifecycle state machine
func (g *Graph) TransitionNode(nodeID valueobjects.NodeID, target entities.NodeState) error {
	node, exists := g.nodes[nodeID]
	if !exists {
		return pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node "+nodeID.String()+" not found")
	}
	if !target.IsValid() {
		return pkgerrors.NewValidation(pkgerrors.CodeInvalidTransition, "unknown node state: "+string(target))
	}
	if !node.State().CanTransition(target) {
		return pkgerrors.NewValidation(pkgerrors.CodeInvalidTransition,
			"cannot transition node from "+string(node.State())+" to "+string(target))
	}

	return g.emit(events.NodeStateChanged{
		NodeID: nodeID.String(),
		From:   node.State(),
		To:     target,
	})
}

// FindConnected returns the ids of every node reachable from start within
// the given depth, following edges in both directions.
func (g *Graph) FindConnected(start valueobjects.NodeID, depth int) ([]valueobjects.NodeID, error) {
	if !g.HasNode(start) {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeNodeNotFound, "node "+start.String()+" not found")
	}

	visited := map[valueobjects.NodeID]bool{start: true}
	frontier := []valueobjects.NodeID{start}
	var result []valueobjects.NodeID

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []valueobjects.NodeID
		for _, current := range frontier {
			for _, edge := range g.edges {
				var neighbor valueobjects.NodeID
				switch {
				case edge.SourceID.Equals(current):
					neighbor = edge.TargetID
				case edge.TargetID.Equals(current):
					neighbor = edge.SourceID
				default:
					continue
				}
				if !visited[neighbor] {
					visited[neighbor] = true
					next = append(next, neighbor)
					result = append(result, neighbor)
				}
			}
		}
		frontier = next
	}

	return result, nil
}

// ApplyEnvelopes folds already-persisted envelopes into aggregate state.
// It is idempotent: envelopes at or below the committed watermark are
// skipped, so redelivery of the same transaction produces the same state.
// Continuity against the current chain tip is verified before applying.
func (g *Graph) ApplyEnvelopes(envelopes []events.Envelope) error {
	for _, env := range envelopes {
		if env.AggregateID != g.id.String() {
			return pkgerrors.NewValidation(pkgerrors.CodeAggregateNotFound,
				"envelope for aggregate "+env.AggregateID+" applied to "+g.id.String())
		}
		if env.Sequence != 0 && env.Sequence <= g.lastSequence {
			continue // already applied
		}
		if err := events.VerifyChainFrom(events.ChainAnchor{Sequence: g.lastSequence, Hash: g.lastHash}, []events.Envelope{env}); err != nil {
			return err
		}
		if err := g.fold(env); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures graph invariants: no dangling edges survive a cascade
func (g *Graph) Validate() error {
	for _, edge := range g.edges {
		if !g.HasNode(edge.SourceID) {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken, "edge references non-existent source node")
		}
		if !g.HasNode(edge.TargetID) {
			return pkgerrors.NewCorruption(pkgerrors.CodeChainBroken, "edge references non-existent target node")
		}
	}
	return nil
}

// UncommittedEvents returns envelopes emitted by commands that have not yet
// been appended to the durable log.
func (g *Graph) UncommittedEvents() []events.Envelope {
	out := make([]events.Envelope, len(g.uncommitted))
	copy(out, g.uncommitted)
	return out
}

// MarkEventsCommitted records the sequences the durable log assigned to the
// uncommitted envelopes and clears them. Sequences must be supplied in the
// same order as UncommittedEvents returned the envelopes.
func (g *Graph) MarkEventsCommitted(sequences []uint64) error {
	if len(sequences) != len(g.uncommitted) {
		return pkgerrors.NewInternal(
			fmt.Sprintf("sequence count %d does not match %d uncommitted events", len(sequences), len(g.uncommitted)), nil)
	}
	for i, seq := range sequences {
		if seq <= g.lastSequence {
			return pkgerrors.NewConflict(pkgerrors.CodeConcurrencyConflict,
				fmt.Sprintf("log assigned non-monotonic sequence %d (watermark %d)", seq, g.lastSequence))
		}
		g.lastSequence = seq
		g.lastHash = g.uncommitted[i].ContentHash
	}
	g.uncommitted = nil
	return nil
}

// emit seals a payload onto the chain tip, applies it, and queues it for
// persistence. Commands validate before calling emit, so a validation error
// always means no event was produced.
func (g *Graph) emit(payload events.Payload) error {
	env, err := events.NewEnvelope(g.id.String(), payload, g.LastHash())
	if err != nil {
		return err
	}
	if err := g.apply(payload, env.Timestamp); err != nil {
		return err
	}
	g.uncommitted = append(g.uncommitted, env)
	g.version++
	return nil
}

// fold decodes and applies a persisted envelope, advancing the watermark
func (g *Graph) fold(env events.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}
	if err := g.apply(payload, env.Timestamp); err != nil {
		return err
	}
	if env.Sequence != 0 {
		g.lastSequence = env.Sequence
	}
	g.lastHash = env.ContentHash
	g.version++
	return nil
}

// apply mutates state for a payload. Payloads were validated by the command
// that emitted them; replaying a persisted chain never re-runs command
// validation.
func (g *Graph) apply(payload events.Payload, at time.Time) error {
	switch e := payload.(type) {
	case *events.GraphCreated:
		g.applyGraphCreated(*e, at)
	case events.GraphCreated:
		g.applyGraphCreated(e, at)

	case *events.NodeAdded:
		return g.applyNodeAdded(*e, at)
	case events.NodeAdded:
		return g.applyNodeAdded(e, at)

	case *events.NodesConnected:
		return g.applyNodesConnected(*e, at)
	case events.NodesConnected:
		return g.applyNodesConnected(e, at)

	case *events.NodeRemoved:
		return g.applyNodeRemoved(*e, at)
	case events.NodeRemoved:
		return g.applyNodeRemoved(e, at)

	case *events.NodeStateChanged:
		return g.applyNodeStateChanged(*e, at)
	case events.NodeStateChanged:
		return g.applyNodeStateChanged(e, at)

	default:
		return pkgerrors.NewInternal(fmt.Sprintf("unhandled event payload %T", payload), nil)
	}
	return nil
}

func (g *Graph) applyGraphCreated(e events.GraphCreated, at time.Time) {
	g.name = e.Name
	g.metadata = e.Metadata
	g.createdAt = at
	g.updatedAt = at
}

func (g *Graph) applyNodeAdded(e events.NodeAdded, at time.Time) error {
	nodeID, err := valueobjects.NewNodeIDFromString(e.NodeID)
	if err != nil {
		return err
	}

	refs := make([]valueobjects.ComponentRef, 0, len(e.Components))
	for _, c := range e.Components {
		refs = append(refs, g.components.Intern(c))
	}

	node, err := entities.NewNode(nodeID, e.Label, refs, at)
	if err != nil {
		return err
	}
	g.nodes[nodeID] = node
	g.updatedAt = at
	return nil
}

func (g *Graph) applyNodesConnected(e events.NodesConnected, at time.Time) error {
	sourceID, err := valueobjects.NewNodeIDFromString(e.SourceID)
	if err != nil {
		return err
	}
	targetID, err := valueobjects.NewNodeIDFromString(e.TargetID)
	if err != nil {
		return err
	}

	g.edges[edgeKey(sourceID, targetID, e.Relation)] = Edge{
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  e.Relation,
		CreatedAt: at,
	}
	g.updatedAt = at
	return nil
}

func (g *Graph) applyNodeRemoved(e events.NodeRemoved, at time.Time) error {
	nodeID, err := valueobjects.NewNodeIDFromString(e.NodeID)
	if err != nil {
		return err
	}

	if node, exists := g.nodes[nodeID]; exists {
		for _, ref := range node.Components() {
			g.components.Release(ref)
		}
	}
	delete(g.nodes, nodeID)

	for key, edge := range g.edges {
		if edge.SourceID.Equals(nodeID) || edge.TargetID.Equals(nodeID) {
			delete(g.edges, key)
		}
	}
	g.updatedAt = at
	return nil
}

func (g *Graph) applyNodeStateChanged(e events.NodeStateChanged, at time.Time) error {
	nodeID, err := valueobjects.NewNodeIDFromString(e.NodeID)
	if err != nil {
		return err
	}
	node, exists := g.nodes[nodeID]
	if !exists {
		return pkgerrors.NewValidation(pkgerrors.CodeNodeNotFound, "node "+e.NodeID+" not found")
	}
	return node.TransitionTo(e.To, at)
}

func edgeKey(sourceID, targetID valueobjects.NodeID, relation entities.RelationType) string {
	return sourceID.String() + "->" + targetID.String() + ":" + relation.String()
}

package projections

import (
	"context"
	"fmt"
	"sync"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/events"
	pkgerrors "graphledger-backend/pkg/errors"
	"graphledger-backend/pkg/observability"

	"go.uber.org/zap"
)

// graphProjection is one aggregate's folded read state plus its reordering
// buffer. Events are folded strictly in sequence order; arrivals past the
// watermark wait in the buffer until the gap fills or the window overflows.
type graphProjection struct {
	stats     GraphStats
	nodes     map[string]*NodeView
	watermark uint64
	buffer    map[uint64]events.Envelope
}

func newGraphProjection(graphID string) *graphProjection {
	return &graphProjection{
		stats: GraphStats{
			GraphID:     graphID,
			StateCounts: make(map[string]int),
		},
		nodes:  make(map[string]*NodeView),
		buffer: make(map[uint64]events.Envelope),
	}
}

// Projector folds envelopes into the read model. Delivery may be
// at-least-once and mildly out of order; folding is idempotent by sequence
// watermark and ordered by the reordering buffer.
type Projector struct {
	log           ports.EventLog
	cache         ports.Cache
	cacheTTL      time.Duration
	reorderWindow uint64
	metrics       *observability.Collector
	logger        *zap.Logger

	mu     sync.RWMutex
	graphs map[string]*graphProjection
}

// NewProjector creates a projector over the given durable log
func NewProjector(log ports.EventLog, cache ports.Cache, cacheTTL time.Duration, reorderWindow int, metrics *observability.Collector, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reorderWindow <= 0 {
		reorderWindow = 32
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Projector{
		log:           log,
		cache:         cache,
		cacheTTL:      cacheTTL,
		reorderWindow: uint64(reorderWindow),
		metrics:       metrics,
		logger:        logger,
		graphs:        make(map[string]*graphProjection),
	}
}

// Run subscribes to the full event stream and folds until ctx is done
func (p *Projector) Run(ctx context.Context) error {
	sub, err := p.log.Subscribe(ctx, events.SubjectAll(), ports.StartPosition{Policy: ports.ReplayFromBeginning})
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			if err := p.Apply(ctx, env); err != nil {
				p.logger.Error("failed to project event",
					zap.String("event_id", env.EventID),
					zap.String("aggregate_id", env.AggregateID),
					zap.Error(err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Apply folds one envelope into the read model. Duplicates at or below the
// watermark are skipped; events beyond the reordering window force a full
// rebuild of that aggregate's projection from the log.
func (p *Projector) Apply(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()

	proj, ok := p.graphs[env.AggregateID]
	if !ok {
		proj = newGraphProjection(env.AggregateID)
		p.graphs[env.AggregateID] = proj
	}

	switch {
	case env.Sequence <= proj.watermark:
		// Redelivery of an already-folded event
		p.mu.Unlock()
		return nil

	case env.Sequence == proj.watermark+1:
		p.foldLocked(proj, env)
		p.drainBufferLocked(proj)

	case env.Sequence-proj.watermark > p.reorderWindow:
		p.mu.Unlock()
		return p.Rebuild(ctx, env.AggregateID)

	default:
		proj.buffer[env.Sequence] = env
	}

	p.updateLagLocked()
	p.mu.Unlock()

	return p.invalidate(ctx, env.AggregateID)
}

// Rebuild discards an aggregate's projection and refolds it from the log
func (p *Projector) Rebuild(ctx context.Context, graphID string) error {
	history, err := p.log.Read(ctx, graphID, 0, 0)
	if err != nil {
		return err
	}
	if err := events.VerifyChain(history); err != nil {
		return pkgerrors.Wrap(err, "refusing to rebuild projection from a corrupt chain")
	}

	fresh := newGraphProjection(graphID)
	for _, env := range history {
		p.foldInto(fresh, env)
		fresh.watermark = env.Sequence
	}

	p.mu.Lock()
	// Keep the old generation moving forward so consumers never observe it
	// going backwards across a rebuild
	if old, ok := p.graphs[graphID]; ok && old.stats.Generation >= fresh.stats.Generation {
		fresh.stats.Generation = old.stats.Generation + 1
	}
	p.graphs[graphID] = fresh
	p.updateLagLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ProjectionRebuilds.Inc()
	}
	p.logger.Info("projection rebuilt",
		zap.String("graph_id", graphID),
		zap.Uint64("watermark", fresh.watermark))

	return p.invalidate(ctx, graphID)
}

func (p *Projector) drainBufferLocked(proj *graphProjection) {
	for {
		next, ok := proj.buffer[proj.watermark+1]
		if !ok {
			return
		}
		delete(proj.buffer, next.Sequence)
		p.foldLocked(proj, next)
	}
}

func (p *Projector) foldLocked(proj *graphProjection, env events.Envelope) {
	p.foldInto(proj, env)
	proj.watermark = env.Sequence
	if p.metrics != nil {
		p.metrics.ProjectionApplied.Inc()
	}
}

func (p *Projector) foldInto(proj *graphProjection, env events.Envelope) {
	payload, err := env.DecodePayload()
	if err != nil {
		p.logger.Error("skipping undecodable event in projection",
			zap.String("event_id", env.EventID),
			zap.Error(err))
		return
	}

	now := env.Timestamp
	proj.stats.LastSequence = env.Sequence
	proj.stats.Generation++
	proj.stats.UpdatedAt = now

	switch e := payload.(type) {
	case *events.GraphCreated:
		proj.stats.Name = e.Name

	case *events.NodeAdded:
		components := make([]ComponentValue, 0, len(e.Components))
		for _, c := range e.Components {
			components = append(components, ComponentValue{Kind: c.Kind, Data: c.Data})
		}
		proj.nodes[e.NodeID] = &NodeView{
			NodeID:     e.NodeID,
			GraphID:    proj.stats.GraphID,
			Label:      e.Label,
			State:      "active",
			Components: components,
			Generation: proj.stats.Generation,
			UpdatedAt:  now,
		}
		proj.stats.NodeCount++
		proj.stats.StateCounts["active"]++

	case *events.NodesConnected:
		edge := EdgeView{SourceID: e.SourceID, TargetID: e.TargetID, Relation: string(e.Relation)}
		if source, ok := proj.nodes[e.SourceID]; ok {
			source.Outgoing = append(source.Outgoing, edge)
			source.Generation = proj.stats.Generation
			source.UpdatedAt = now
		}
		if target, ok := proj.nodes[e.TargetID]; ok {
			target.Incoming = append(target.Incoming, edge)
			target.Generation = proj.stats.Generation
			target.UpdatedAt = now
		}
		proj.stats.EdgeCount++

	case *events.NodeRemoved:
		if view, ok := proj.nodes[e.NodeID]; ok {
			proj.stats.NodeCount--
			proj.stats.StateCounts[view.State]--
			delete(proj.nodes, e.NodeID)
		}
		for _, removed := range e.RemovedEdges {
			proj.stats.EdgeCount--
			p.detachEdge(proj, removed.SourceID, removed.TargetID, string(removed.Relation), now)
		}

	case *events.NodeStateChanged:
		if view, ok := proj.nodes[e.NodeID]; ok {
			proj.stats.StateCounts[view.State]--
			view.State = string(e.To)
			proj.stats.StateCounts[view.State]++
			view.Generation = proj.stats.Generation
			view.UpdatedAt = now
		}

	default:
		p.logger.Warn("no projection for event type",
			zap.String("event_type", fmt.Sprintf("%T", payload)))
	}
}

// detachEdge removes one edge from both endpoints' adjacency lists
func (p *Projector) detachEdge(proj *graphProjection, sourceID, targetID, relation string, at time.Time) {
	match := func(e EdgeView) bool {
		return e.SourceID == sourceID && e.TargetID == targetID && e.Relation == relation
	}
	if source, ok := proj.nodes[sourceID]; ok {
		source.Outgoing = removeEdge(source.Outgoing, match)
		source.Generation = proj.stats.Generation
		source.UpdatedAt = at
	}
	if target, ok := proj.nodes[targetID]; ok {
		target.Incoming = removeEdge(target.Incoming, match)
		target.Generation = proj.stats.Generation
		target.UpdatedAt = at
	}
}

func removeEdge(edges []EdgeView, match func(EdgeView) bool) []EdgeView {
	out := edges[:0]
	for _, e := range edges {
		if !match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (p *Projector) updateLagLocked() {
	if p.metrics == nil {
		return
	}
	var buffered int
	for _, proj := range p.graphs {
		buffered += len(proj.buffer)
	}
	p.metrics.ProjectionLag.Set(float64(buffered))
}

func (p *Projector) invalidate(ctx context.Context, graphID string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.InvalidatePrefix(ctx, "graph:"+graphID+":")
}

// NodeView returns a copy of one node's view
func (p *Projector) NodeView(graphID, nodeID string) (*NodeView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.graphs[graphID]
	if !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound,
			"graph "+graphID+" is not projected")
	}
	view, ok := proj.nodes[nodeID]
	if !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeNodeNotFound,
			"node "+nodeID+" is not in the read model")
	}
	copied := cloneView(view)
	return &copied, nil
}

// NodesByComponent returns views of nodes carrying a component kind
func (p *Projector) NodesByComponent(graphID, kind string) ([]NodeView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.graphs[graphID]
	if !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound,
			"graph "+graphID+" is not projected")
	}

	var out []NodeView
	for _, view := range proj.nodes {
		for _, component := range view.Components {
			if component.Kind == kind {
				out = append(out, cloneView(view))
				break
			}
		}
	}
	return out, nil
}

// Connected walks adjacency in both directions up to depth hops
func (p *Projector) Connected(graphID, nodeID string, depth int) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.graphs[graphID]
	if !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound,
			"graph "+graphID+" is not projected")
	}
	if _, ok := proj.nodes[nodeID]; !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeNodeNotFound,
			"node "+nodeID+" is not in the read model")
	}
	if depth <= 0 {
		depth = 1
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var out []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			view, ok := proj.nodes[id]
			if !ok {
				continue
			}
			for _, edge := range view.Outgoing {
				if !visited[edge.TargetID] {
					visited[edge.TargetID] = true
					out = append(out, edge.TargetID)
					next = append(next, edge.TargetID)
				}
			}
			for _, edge := range view.Incoming {
				if !visited[edge.SourceID] {
					visited[edge.SourceID] = true
					out = append(out, edge.SourceID)
					next = append(next, edge.SourceID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// Stats returns a copy of the graph's projected statistics
func (p *Projector) Stats(graphID string) (*GraphStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.graphs[graphID]
	if !ok {
		return nil, pkgerrors.NewNotFound(pkgerrors.CodeAggregateNotFound,
			"graph "+graphID+" is not projected")
	}

	stats := proj.stats
	stats.StateCounts = make(map[string]int, len(proj.stats.StateCounts))
	for state, count := range proj.stats.StateCounts {
		if count > 0 {
			stats.StateCounts[state] = count
		}
	}
	return &stats, nil
}

// Watermark reports the projection's applied sequence for an aggregate
func (p *Projector) Watermark(graphID string) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if proj, ok := p.graphs[graphID]; ok {
		return proj.watermark
	}
	return 0
}

func cloneView(view *NodeView) NodeView {
	copied := *view
	copied.Components = append([]ComponentValue(nil), view.Components...)
	copied.Outgoing = append([]EdgeView(nil), view.Outgoing...)
	copied.Incoming = append([]EdgeView(nil), view.Incoming...)
	return copied
}

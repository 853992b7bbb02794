// Package queries serves the read side: cached lookups against the
// denormalized projection. Queries never touch the durable log; they may
// trail the write side by in-flight projection work.
package queries

import (
	"context"
	"encoding/json"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/application/projections"
	"graphledger-backend/pkg/observability"

	"go.uber.org/zap"
)

// GraphQueryService answers read-model queries through a cache
type GraphQueryService struct {
	projector *projections.Projector
	cache     ports.Cache
	ttl       time.Duration
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewGraphQueryService creates the read-side query service
func NewGraphQueryService(projector *projections.Projector, cache ports.Cache, ttl time.Duration, metrics *observability.Collector, logger *zap.Logger) *GraphQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GraphQueryService{
		projector: projector,
		cache:     cache,
		ttl:       ttl,
		metrics:   metrics,
		logger:    logger,
	}
}

// GetNodeView returns one node's denormalized view
func (s *GraphQueryService) GetNodeView(ctx context.Context, graphID, nodeID string) (*projections.NodeView, error) {
	key := "graph:" + graphID + ":node:" + nodeID

	var cached projections.NodeView
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	view, err := s.projector.NodeView(graphID, nodeID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, view)
	return view, nil
}

// FindNodesByComponent returns nodes carrying a component kind
func (s *GraphQueryService) FindNodesByComponent(ctx context.Context, graphID, kind string) ([]projections.NodeView, error) {
	key := "graph:" + graphID + ":component:" + kind

	var cached []projections.NodeView
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	views, err := s.projector.NodesByComponent(graphID, kind)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, views)
	return views, nil
}

// FindConnected returns node IDs reachable within depth hops, following
// edges in either direction.
func (s *GraphQueryService) FindConnected(ctx context.Context, graphID, nodeID string, depth int) ([]string, error) {
	return s.projector.Connected(graphID, nodeID, depth)
}

// GetGraphStats returns the projected summary of a graph
func (s *GraphQueryService) GetGraphStats(ctx context.Context, graphID string) (*projections.GraphStats, error) {
	key := "graph:" + graphID + ":stats"

	var cached projections.GraphStats
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	stats, err := s.projector.Stats(graphID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, stats)
	return stats, nil
}

// cacheGet loads and decodes a cached entry, counting hits and misses.
// Cache trouble degrades to a projector read, never to an error.
func (s *GraphQueryService) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}

	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return false
	}
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	return true
}

func (s *GraphQueryService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

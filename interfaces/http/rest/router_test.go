package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"graphledger-backend/application/bridge"
	cmdhandlers "graphledger-backend/application/commands/handlers"
	"graphledger-backend/application/fetch"
	"graphledger-backend/application/projections"
	"graphledger-backend/application/queries"
	"graphledger-backend/infrastructure/cache"
	"graphledger-backend/infrastructure/persistence/memory"
	"graphledger-backend/infrastructure/persistence/snapshots"
	"graphledger-backend/interfaces/http/rest/handlers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// env wires the whole stack on in-memory backends behind an httptest server
type env struct {
	server    *httptest.Server
	projector *projections.Projector
	bridge    *bridge.Bridge
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := zap.NewNop()
	log := memory.NewEventLog(time.Minute, logger)
	store := memory.NewSnapshotStore()
	manager := snapshots.NewManager(log, store, snapshots.DefaultPolicy(), nil, logger)
	commandHandler := cmdhandlers.NewGraphCommandHandler(log, manager, nil, nil, logger)

	memCache := cache.NewMemoryCache(1000, logger)
	projector := projections.NewProjector(log, memCache, time.Minute, 32, nil, logger)
	queryService := queries.NewGraphQueryService(projector, memCache, time.Minute, nil, logger)
	fetcher := fetch.NewFetcher(log, 1000, 5*time.Second, nil, logger)

	b := bridge.New(16, 64, time.Second, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	go func() {
		b.Run(ctx, 2)
		close(bridgeDone)
	}()

	projectorCtx, stopProjector := context.WithCancel(context.Background())
	projectorDone := make(chan struct{})
	go func() {
		projector.Run(projectorCtx)
		close(projectorDone)
	}()

	router := NewRouter(
		handlers.NewGraphHandler(commandHandler, b, logger),
		handlers.NewQueryHandler(queryService, logger),
		handlers.NewReplayHandler(fetcher, logger),
		handlers.NewBridgeHandler(b, logger),
		nil,
		logger,
		Options{},
	)
	server := httptest.NewServer(router.Setup())

	t.Cleanup(func() {
		server.Close()
		stopProjector()
		<-projectorDone
		cancel()
		<-bridgeDone
	})

	return &env{server: server, projector: projector, bridge: b}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// waitForWatermark blocks until the projector has folded up to seq
func (e *env) waitForWatermark(t *testing.T, graphID string, seq uint64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.projector.Watermark(graphID) >= seq {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("projection never reached sequence %d for %s", seq, graphID)
}

func (e *env) createGraph(t *testing.T, name string) string {
	t.Helper()

	resp, body := e.do(t, http.MethodPost, "/api/v1/graphs", map[string]interface{}{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["aggregate_id"].(string)
}

func (e *env) addNode(t *testing.T, graphID, label string) string {
	t.Helper()

	resp, body := e.do(t, http.MethodPost, "/api/v1/graphs/"+graphID+"/nodes", map[string]interface{}{"label": label})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["node_id"].(string)
}

func TestCreateGraphAndReadStats(t *testing.T) {
	e := newEnv(t)

	graphID := e.createGraph(t, "worldmap")
	e.addNode(t, graphID, "city")
	e.waitForWatermark(t, graphID, 2)

	resp, stats := e.do(t, http.MethodGet, "/api/v1/graphs/"+graphID+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "worldmap", stats["name"])
	assert.Equal(t, float64(1), stats["node_count"])
}

func TestNodeLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	graphID := e.createGraph(t, "lifecycle")
	nodeID := e.addNode(t, graphID, "worker")
	e.waitForWatermark(t, graphID, 2)

	resp, view := e.do(t, http.MethodGet, "/api/v1/graphs/"+graphID+"/nodes/"+nodeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "worker", view["label"])
	assert.Equal(t, "active", view["state"])

	resp, _ = e.do(t, http.MethodPost,
		"/api/v1/graphs/"+graphID+"/nodes/"+nodeID+"/transition",
		map[string]interface{}{"target": "processing"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/v1/graphs/"+graphID+"/nodes/"+nodeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e.waitForWatermark(t, graphID, 4)

	resp, errBody := e.do(t, http.MethodGet, "/api/v1/graphs/"+graphID+"/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, true, errBody["error"])
}

func TestConnectNodesAndTraverse(t *testing.T) {
	e := newEnv(t)

	graphID := e.createGraph(t, "deps")
	a := e.addNode(t, graphID, "a")
	b := e.addNode(t, graphID, "b")

	resp, _ := e.do(t, http.MethodPost, "/api/v1/graphs/"+graphID+"/edges", map[string]interface{}{
		"source_id": a,
		"target_id": b,
		"relation":  "depends_on",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	e.waitForWatermark(t, graphID, 4)

	resp, body := e.do(t, http.MethodGet, "/api/v1/graphs/"+graphID+"/nodes/"+a+"/connected?depth=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	connected := body["connected"].([]interface{})
	require.Len(t, connected, 1)
	assert.Equal(t, b, connected[0])
}

func TestValidationAndConflictStatuses(t *testing.T) {
	e := newEnv(t)

	// Missing name
	resp, _ := e.do(t, http.MethodPost, "/api/v1/graphs", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown graph
	resp, _ = e.do(t, http.MethodPost,
		"/api/v1/graphs/00000000-0000-0000-0000-000000000000/nodes",
		map[string]interface{}{"label": "orphan"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Duplicate edge
	graphID := e.createGraph(t, "conflicts")
	a := e.addNode(t, graphID, "a")
	b := e.addNode(t, graphID, "b")
	edge := map[string]interface{}{"source_id": a, "target_id": b, "relation": "depends_on"}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/graphs/"+graphID+"/edges", edge)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, errBody := e.do(t, http.MethodPost, "/api/v1/graphs/"+graphID+"/edges", edge)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_EDGE", errBody["code"])
}

func TestFetchAggregateEvents(t *testing.T) {
	e := newEnv(t)

	graphID := e.createGraph(t, "replayed")
	e.addNode(t, graphID, "one")
	e.addNode(t, graphID, "two")

	resp, txn := e.do(t, http.MethodGet, "/api/v1/graphs/"+graphID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	evts := txn["events"].([]interface{})
	require.Len(t, evts, 3)

	// Resume after the first event using its hash as the anchor
	first := evts[0].(map[string]interface{})
	path := fmt.Sprintf("/api/v1/graphs/%s/events?policy=after_sequence&after_sequence=1&anchor_hash=%s",
		graphID, first["content_hash"])
	resp, tail := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tail["events"].([]interface{}), 2)

	// Anchor required when resuming
	resp, _ = e.do(t, http.MethodGet,
		"/api/v1/graphs/"+graphID+"/events?policy=after_sequence&after_sequence=1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchWindowOverHTTP(t *testing.T) {
	e := newEnv(t)

	start := time.Now().UTC().Add(-time.Minute)
	graphID := e.createGraph(t, "windowed")
	e.addNode(t, graphID, "n")
	end := time.Now().UTC().Add(time.Minute)

	path := fmt.Sprintf("/api/v1/events?start=%s&end=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	resp, txn := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, txn["events"].([]interface{}), 2)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/events?start=bogus&end=also-bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBridgeHealthAndDrain(t *testing.T) {
	e := newEnv(t)

	resp, health := e.do(t, http.MethodGet, "/health/bridge", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, health["running"])

	// Nothing buffered yet; a short drain returns an empty batch
	resp, drained := e.do(t, http.MethodGet, "/api/v1/events/drain?max=10&wait_ms=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), drained["count"])
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

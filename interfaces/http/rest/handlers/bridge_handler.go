package handlers

import (
	"net/http"
	"strconv"
	"time"

	"graphledger-backend/application/bridge"
	pkgerrors "graphledger-backend/pkg/errors"

	"go.uber.org/zap"
)

// BridgeHandler exposes the bridge's buffered event feed and health
type BridgeHandler struct {
	bridge *bridge.Bridge
	logger *zap.Logger
}

// NewBridgeHandler creates the bridge HTTP handler
func NewBridgeHandler(b *bridge.Bridge, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridge: b,
		logger: logger,
	}
}

const maxDrainWait = 30 * time.Second

// DrainEvents handles GET /events/drain?max=N&wait_ms=M. It long-polls the
// bridge buffer: the response carries up to max buffered events, or an
// empty batch once wait_ms passes with nothing to deliver.
func (h *BridgeHandler) DrainEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	maxBatch := 100
	if raw := query.Get("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, h.logger, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "max must be a positive integer"))
			return
		}
		maxBatch = parsed
	}

	wait := 5 * time.Second
	if raw := query.Get("wait_ms"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, h.logger, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "wait_ms must be a non-negative integer"))
			return
		}
		wait = time.Duration(parsed) * time.Millisecond
	}
	if wait > maxDrainWait {
		wait = maxDrainWait
	}

	batch, err := h.bridge.DrainEvents(r.Context(), maxBatch, wait)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(batch),
		"events": batch,
	})
}

// Health handles GET /health/bridge
func (h *BridgeHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.bridge.Health()
	status := http.StatusOK
	if !health.Running {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

package handlers

import (
	"net/http"
	"strconv"

	"graphledger-backend/application/queries"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// QueryHandler serves the read model
type QueryHandler struct {
	queries *queries.GraphQueryService
	logger  *zap.Logger
}

// NewQueryHandler creates the read-side HTTP handler
func NewQueryHandler(queryService *queries.GraphQueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		queries: queryService,
		logger:  logger,
	}
}

// GetNodeView handles GET /graphs/{graphID}/nodes/{nodeID}
func (h *QueryHandler) GetNodeView(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.GetNodeView(r.Context(), chi.URLParam(r, "graphID"), chi.URLParam(r, "nodeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetGraphStats handles GET /graphs/{graphID}/stats
func (h *QueryHandler) GetGraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetGraphStats(r.Context(), chi.URLParam(r, "graphID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// FindNodesByComponent handles GET /graphs/{graphID}/nodes?component=<kind>
func (h *QueryHandler) FindNodesByComponent(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("component")
	if kind == "" {
		respondError(w, h.logger, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "component query parameter is required"))
		return
	}

	views, err := h.queries.FindNodesByComponent(r.Context(), chi.URLParam(r, "graphID"), kind)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"component": kind,
		"nodes":     views,
	})
}

// FindConnected handles GET /graphs/{graphID}/nodes/{nodeID}/connected?depth=N
func (h *QueryHandler) FindConnected(w http.ResponseWriter, r *http.Request) {
	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, h.logger, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "depth must be a positive integer"))
			return
		}
		depth = parsed
	}

	connected, err := h.queries.FindConnected(r.Context(), chi.URLParam(r, "graphID"), chi.URLParam(r, "nodeID"), depth)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"depth":     depth,
		"connected": connected,
	})
}

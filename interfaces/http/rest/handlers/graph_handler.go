package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"graphledger-backend/application/bridge"
	"graphledger-backend/application/commands"
	cmdhandlers "graphledger-backend/application/commands/handlers"
	pkgerrors "graphledger-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// GraphHandler handles graph command requests. Every write goes through
// the bridge so HTTP callers share the same bounded queue as any other
// producer.
type GraphHandler struct {
	commands *cmdhandlers.GraphCommandHandler
	bridge   *bridge.Bridge
	logger   *zap.Logger
}

// NewGraphHandler creates the write-side HTTP handler
func NewGraphHandler(commandHandler *cmdhandlers.GraphCommandHandler, b *bridge.Bridge, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		commands: commandHandler,
		bridge:   b,
		logger:   logger,
	}
}

// CreateGraphRequest is the body for POST /graphs
type CreateGraphRequest struct {
	Name           string            `json:"name"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// AddNodeRequest is the body for POST /graphs/{graphID}/nodes
type AddNodeRequest struct {
	Label          string                    `json:"label"`
	Components     []commands.ComponentInput `json:"components,omitempty"`
	IdempotencyKey string                    `json:"idempotency_key,omitempty"`
}

// ConnectNodesRequest is the body for POST /graphs/{graphID}/edges
type ConnectNodesRequest struct {
	SourceID       string `json:"source_id"`
	TargetID       string `json:"target_id"`
	Relation       string `json:"relation"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TransitionNodeRequest is the body for POST /graphs/{graphID}/nodes/{nodeID}/transition
type TransitionNodeRequest struct {
	Target         string `json:"target"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CommandResponse echoes the committed event back to the caller
type CommandResponse struct {
	EventID     string `json:"event_id"`
	AggregateID string `json:"aggregate_id"`
	NodeID      string `json:"node_id,omitempty"`
	Sequence    uint64 `json:"sequence"`
	Version     uint64 `json:"version"`
	ContentHash string `json:"content_hash"`
}

func commandResponse(result *commands.CommandResult) CommandResponse {
	return CommandResponse{
		EventID:     result.EventID,
		AggregateID: result.AggregateID,
		NodeID:      result.NodeID,
		Sequence:    result.Sequence,
		Version:     result.Version,
		ContentHash: result.ContentHash,
	}
}

func (h *GraphHandler) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, h.logger, pkgerrors.NewValidation(pkgerrors.CodeInvalidInput, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *GraphHandler) submit(w http.ResponseWriter, r *http.Request, status int, run bridge.CommandFunc) {
	result, err := h.bridge.Submit(r.Context(), run)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, status, commandResponse(result))
}

// CreateGraph handles POST /graphs
func (h *GraphHandler) CreateGraph(w http.ResponseWriter, r *http.Request) {
	var req CreateGraphRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd := commands.CreateGraphCommand{
		Name:           req.Name,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	}
	h.submit(w, r, http.StatusCreated, func(ctx context.Context) (*commands.CommandResult, error) {
		return h.commands.CreateGraph(ctx, cmd)
	})
}

// AddNode handles POST /graphs/{graphID}/nodes
func (h *GraphHandler) AddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd := commands.AddNodeCommand{
		GraphID:        chi.URLParam(r, "graphID"),
		Label:          req.Label,
		Components:     req.Components,
		IdempotencyKey: req.IdempotencyKey,
	}
	h.submit(w, r, http.StatusCreated, func(ctx context.Context) (*commands.CommandResult, error) {
		return h.commands.AddNode(ctx, cmd)
	})
}

// ConnectNodes handles POST /graphs/{graphID}/edges
func (h *GraphHandler) ConnectNodes(w http.ResponseWriter, r *http.Request) {
	var req ConnectNodesRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd := commands.ConnectNodesCommand{
		GraphID:        chi.URLParam(r, "graphID"),
		SourceID:       req.SourceID,
		TargetID:       req.TargetID,
		Relation:       req.Relation,
		IdempotencyKey: req.IdempotencyKey,
	}
	h.submit(w, r, http.StatusCreated, func(ctx context.Context) (*commands.CommandResult, error) {
		return h.commands.ConnectNodes(ctx, cmd)
	})
}

// RemoveNode handles DELETE /graphs/{graphID}/nodes/{nodeID}
func (h *GraphHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	cmd := commands.RemoveNodeCommand{
		GraphID:        chi.URLParam(r, "graphID"),
		NodeID:         chi.URLParam(r, "nodeID"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	h.submit(w, r, http.StatusOK, func(ctx context.Context) (*commands.CommandResult, error) {
		return h.commands.RemoveNode(ctx, cmd)
	})
}

// TransitionNode handles POST /graphs/{graphID}/nodes/{nodeID}/transition
func (h *GraphHandler) TransitionNode(w http.ResponseWriter, r *http.Request) {
	var req TransitionNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd := commands.TransitionNodeCommand{
		GraphID:        chi.URLParam(r, "graphID"),
		NodeID:         chi.URLParam(r, "nodeID"),
		Target:         req.Target,
		IdempotencyKey: req.IdempotencyKey,
	}
	h.submit(w, r, http.StatusOK, func(ctx context.Context) (*commands.CommandResult, error) {
		return h.commands.TransitionNode(ctx, cmd)
	})
}

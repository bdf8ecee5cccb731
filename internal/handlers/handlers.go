// Package handlers implements the thin HTTP endpoints over the proposal
// lifecycle core. The handlers translate error kinds to status codes and
// otherwise delegate everything.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/draftline-systems/draftline/common/httputil"
	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/internal/gitagent"
	"github.com/draftline-systems/draftline/internal/lifecycle"
	"github.com/draftline-systems/draftline/internal/models"
	"github.com/draftline-systems/draftline/internal/repository"
)

// Handler carries the injected collaborators for all HTTP endpoints.
type Handler struct {
	machine *lifecycle.Machine
	store   repository.ProposalRepository
	engine  *gitagent.Engine
	broker  messaging.Broker
	logger  *logging.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(machine *lifecycle.Machine, store repository.ProposalRepository, engine *gitagent.Engine, broker messaging.Broker, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		machine: machine,
		store:   store,
		engine:  engine,
		broker:  broker,
		logger:  logger.With("component", "http"),
	}
}

// HealthCheck responds to liveness probes.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyCheck responds to readiness probes.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.List(r.Context(), models.ProposalFilter{Limit: 1}); err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ProposalsHandler routes /api/v1/proposals.
func (h *Handler) ProposalsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createProposal(w, r)
	case http.MethodGet:
		h.listProposals(w, r)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// ProposalHandler routes /api/v1/proposals/{id} and its sub-routes.
func (h *Handler) ProposalHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/proposals/")
	switch {
	case strings.HasSuffix(rest, "/approve"):
		h.approveProposal(w, r, strings.TrimSuffix(rest, "/approve"))
	case strings.HasSuffix(rest, "/reject"):
		h.rejectProposal(w, r, strings.TrimSuffix(rest, "/reject"))
	case r.Method == http.MethodGet:
		h.getProposal(w, r, rest)
	case r.Method == http.MethodDelete:
		h.deleteProposal(w, r, rest)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type createProposalRequest struct {
	ID          string                  `json:"id"`
	WorkspaceID string                  `json:"workspace_id"`
	AgentID     string                  `json:"agent_id"`
	OwnerUserID string                  `json:"owner_user_id"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Changes     []models.ProposedChange `json:"changes"`
	Diff        string                  `json:"diff"`
}

func (h *Handler) createProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	p := &models.Proposal{
		ID:          req.ID,
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		OwnerUserID: req.OwnerUserID,
		Title:       req.Title,
		Description: req.Description,
		Changes:     req.Changes,
		Diff:        req.Diff,
	}
	if err := h.machine.Create(r.Context(), p); err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := models.ProposalFilter{
		WorkspaceID: q.Get("workspace_id"),
		Status:      models.ProposalStatus(q.Get("status")),
		Owner:       q.Get("owner"),
		Limit:       limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "unknown status filter")
		return
	}

	proposals, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (h *Handler) getProposal(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProposal(w http.ResponseWriter, r *http.Request, id string) {
	requester := r.URL.Query().Get("requester_id")
	if requester == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "requester_id is required")
		return
	}
	if err := h.machine.Delete(r.Context(), id, requester); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	ApproverID    string                  `json:"approver_id"`
	EditedChanges []models.ProposedChange `json:"edited_changes,omitempty"`
}

func (h *Handler) approveProposal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req approveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ApproverID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "approver_id is required")
		return
	}

	p, err := h.machine.Approve(r.Context(), id, req.ApproverID, req.EditedChanges)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type rejectRequest struct {
	RejectorID string `json:"rejector_id"`
	Reason     string `json:"reason"`
}

func (h *Handler) rejectProposal(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req rejectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.RejectorID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "rejector_id is required")
		return
	}

	p, err := h.machine.Reject(r.Context(), id, req.RejectorID, req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// StatsHandler serves aggregate proposal counts.
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), r.URL.Query().Get("workspace_id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// RollbackHandler executes a rollback point: POST /api/v1/rollbacks/{id}.
func (h *Handler) RollbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/rollbacks/")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "rollback id is required")
		return
	}

	rp, err := h.engine.Rollback(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rp)
}

type mergeRequest struct {
	Branch string `json:"branch"`
}

// MergesHandler records an externally observed merge, disabling rollback for
// the branch's points.
func (h *Handler) MergesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req mergeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Branch == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "branch is required")
		return
	}

	if err := h.engine.ObserveMerge(r.Context(), req.Branch); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventsHandler exposes the broker's retained event log for debugging.
// Only the in-memory backend supports it.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.broker.EventLog(limit)
	if err != nil {
		if errors.Is(err, messaging.ErrEventLogUnavailable) {
			httputil.WriteError(w, http.StatusNotImplemented, "not_supported", err.Error())
			return
		}
		h.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// writeErr maps core error kinds to HTTP status codes. The codes keep
// "already decided" (invalid_transition) distinct from "not allowed to
// decide" (unauthorized).
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrProposalNotFound),
		errors.Is(err, repository.ErrRollbackNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrProposalExists):
		httputil.WriteError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, lifecycle.ErrUnauthorized):
		httputil.WriteError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		httputil.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, gitagent.ErrInvalidState):
		httputil.WriteError(w, http.StatusUnprocessableEntity, "invalid_state", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "internal error", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

/*
handlers.go - HTTP API handlers for the stock replenishment workflow

PURPOSE:
  Exposes the replenishment engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the workflow
  engine. No business rules live here.

ENDPOINTS:
  Auth:
    POST   /api/auth/token              Issue a bearer token (dev login)

  Requests (bearer token required):
    GET    /api/requests                List requests (filter + paginate)
    POST   /api/requests                Create request
    GET    /api/requests/{id}           Get request detail
    PUT    /api/requests/{id}           Edit pending request
    POST   /api/requests/{id}/approve   Approve
    POST   /api/requests/{id}/reject    Reject (reason required)
    POST   /api/requests/{id}/assign    Assign to logistics (creates shipment)
    POST   /api/requests/{id}/cancel    Cancel
    GET    /api/requests/{id}/log       Transition log
    GET    /api/requests/{id}/shipment  Shipment for a completed request

  Statistics (bearer token required):
    GET    /api/statistics              Per-status request counts

ERROR HANDLING:
  Workflow errors are mapped to HTTP status by category:
  - 400: Validation errors, illegal state transitions
  - 401: Missing/invalid token (middleware)
  - 403: Actor lacks permission for the transition
  - 404: Unknown request id
  - 409: Lost race with a concurrent writer
  - 500: Everything else

AUTH NOTE:
  POST /api/auth/token issues a token for any active directory user by id,
  with no password. The user directory is owned by the wider platform;
  in production that platform's identity provider issues the tokens and
  this endpoint stays disabled.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - workflow/engine.go: The transitions being exposed
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/replenishment-engine/auth"
	"github.com/warp/replenishment-engine/logging"
	"github.com/warp/replenishment-engine/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *workflow.Engine
	Dir    workflow.Directory
	Tokens *auth.TokenService
	Log    logging.Logger
}

// NewHandler creates a handler around the workflow engine.
func NewHandler(engine *workflow.Engine, dir workflow.Directory, tokens *auth.TokenService, log logging.Logger) *Handler {
	return &Handler{Engine: engine, Dir: dir, Tokens: tokens, Log: log}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
	}
	return actor, ok
}

// =============================================================================
// AUTH
// =============================================================================

// IssueToken exchanges a directory user id for a bearer token.
// POST /api/auth/token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var body TokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	user, err := h.Dir.User(r.Context(), body.UserID)
	if err != nil {
		h.internalError(w, "failed to look up user", err)
		return
	}
	if user == nil || !user.Active {
		writeError(w, http.StatusUnauthorized, "unknown or inactive user", nil)
		return
	}

	token, err := h.Tokens.Generate(workflow.Actor{
		ID:       user.ID,
		Role:     user.Role,
		BranchID: user.BranchID,
	})
	if err != nil {
		h.internalError(w, "failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, User: *toUserDTO(user)})
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

// CreateRequest creates a new stock request in PENDING.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body CreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	req, err := h.Engine.Create(r.Context(), actor, workflow.CreateInput{
		ProductID:     body.ProductID,
		BranchID:      body.BranchID,
		Type:          workflow.RequestType(body.Type),
		Quantity:      body.Quantity,
		Notes:         body.Notes,
		ExpectedDate:  body.ExpectedDate,
		RequestedDate: body.RequestedDate,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.respondDetail(w, r, actor, req.ID, http.StatusCreated)
}

// GetRequest returns one request with its directory references resolved.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	detail, err := h.Engine.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*detail))
}

// ListRequests returns a filtered, paginated page of requests.
// GET /api/requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := workflow.Filter{
		Status:    workflow.Status(q.Get("status")),
		Type:      workflow.RequestType(q.Get("type")),
		BranchID:  q.Get("branch_id"),
		ProductID: q.Get("product_id"),
		Search:    q.Get("search"),
	}
	page := workflow.Page{
		Number: queryInt(q.Get("page"), 1),
		Size:   queryInt(q.Get("size"), 0),
	}

	details, total, err := h.Engine.List(r.Context(), actor, filter, page)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	dtos := make([]RequestDTO, len(details))
	for i, d := range details {
		dtos[i] = toRequestDTO(d)
	}
	size := page.Size
	if size <= 0 {
		size = len(dtos)
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Data:  dtos,
		Total: total,
		Page:  page.Number,
		Size:  size,
	})
}

// EditRequest updates a pending request in place.
// PUT /api/requests/{id}
func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body EditRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	in := workflow.EditInput{
		ProductID:    body.ProductID,
		Quantity:     body.Quantity,
		Notes:        body.Notes,
		ExpectedDate: body.ExpectedDate,
	}
	if body.Type != nil {
		t := workflow.RequestType(*body.Type)
		in.Type = &t
	}

	req, err := h.Engine.Edit(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.respondDetail(w, r, actor, req.ID, http.StatusOK)
}

// ApproveRequest transitions PENDING -> APPROVED.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body ApproveBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	req, err := h.Engine.Approve(r.Context(), actor, chi.URLParam(r, "id"), workflow.ApproveInput{
		Quantity: body.Quantity,
		Notes:    body.Notes,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.respondDetail(w, r, actor, req.ID, http.StatusOK)
}

// RejectRequest transitions PENDING -> REJECTED. Reason is mandatory.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body RejectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	req, err := h.Engine.Reject(r.Context(), actor, chi.URLParam(r, "id"), workflow.RejectInput{
		Reason: body.Reason,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.respondDetail(w, r, actor, req.ID, http.StatusOK)
}

// AssignRequest transitions APPROVED -> COMPLETED and creates the shipment.
// POST /api/requests/{id}/assign
func (h *Handler) AssignRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body AssignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	req, shipment, err := h.Engine.Assign(r.Context(), actor, chi.URLParam(r, "id"), workflow.AssignInput{
		LogisticsStaffID: body.LogisticsStaffID,
		Notes:            body.Notes,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	detail, err := h.Engine.Get(r.Context(), actor, req.ID)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AssignResponse{
		Request:  toRequestDTO(*detail),
		Shipment: toShipmentDTO(shipment),
	})
}

// CancelRequest transitions PENDING or APPROVED -> CANCELLED.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body CancelBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	req, err := h.Engine.Cancel(r.Context(), actor, chi.URLParam(r, "id"), workflow.CancelInput{
		Reason: body.Reason,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.respondDetail(w, r, actor, req.ID, http.StatusOK)
}

// =============================================================================
// READS
// =============================================================================

// GetRequestLog returns a request's transition log, oldest first.
// GET /api/requests/{id}/log
func (h *Handler) GetRequestLog(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	entries, err := h.Engine.AuditTrail(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:         e.ID,
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			Annotation: e.Annotation,
			At:         e.At,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetShipment returns the shipment for a completed request.
// GET /api/requests/{id}/shipment
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	shipment, err := h.Engine.Shipment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if shipment == nil {
		writeError(w, http.StatusNotFound, "no shipment for this request", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(shipment))
}

// GetStatistics returns per-status request counts, optionally for one branch.
// GET /api/statistics
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	counts, err := h.Engine.Statistics(r.Context(), actor, r.URL.Query().Get("branch_id"))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatisticsDTO{
		Total:     counts.Total,
		Pending:   counts.Pending,
		Approved:  counts.Approved,
		Completed: counts.Completed,
		Rejected:  counts.Rejected,
		Cancelled: counts.Cancelled,
	})
}

// Healthz is the unauthenticated liveness probe.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// respondDetail re-reads the request with references resolved and writes it.
func (h *Handler) respondDetail(w http.ResponseWriter, r *http.Request, actor workflow.Actor, id string, status int) {
	detail, err := h.Engine.Get(r.Context(), actor, id)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, status, toRequestDTO(*detail))
}

// decodeOptional decodes a JSON body, tolerating an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeWorkflowError maps the workflow error taxonomy to HTTP status codes.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	case errors.Is(err, workflow.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid request state", err)
	case errors.Is(err, workflow.ErrPermission):
		writeError(w, http.StatusForbidden, "permission denied", err)
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, workflow.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent update conflict", err)
	default:
		h.internalError(w, "internal error", err)
	}
}

// internalError logs the underlying cause and responds with a generic
// 500. The cause never reaches the client.
func (h *Handler) internalError(w http.ResponseWriter, message string, err error) {
	h.Log.Error(message, err)
	writeError(w, http.StatusInternalServerError, message, nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

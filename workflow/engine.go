/*
engine.go - Stock request workflow engine

PURPOSE:
  The only legal way to create or mutate stock requests. Each operation:
  1. Resolves and authorizes the actor (policy.go)
  2. Validates input and external references (directories)
  3. Applies the transition as one atomic store operation
  4. Records an audit entry

TRANSITIONS:
  Create:  staff/admin -> PENDING, generates the SR number
  Approve: admin, PENDING -> APPROVED, default quantity = requested
  Reject:  admin, PENDING -> REJECTED, reason required
  Assign:  system admin, APPROVED -> COMPLETED, creates the shipment
           atomically with the status flip
  Cancel:  requester or admin, PENDING/APPROVED -> CANCELLED
  Edit:    requester, in-place while PENDING

CONCURRENCY:
  Preconditions are enforced by the store's compare-and-set Transition, not
  by the read the engine does first; that read only produces friendlier
  permission/not-found errors. Identifier generation races are absorbed by
  a bounded retry loop around Insert/Complete.

ERROR CONTRACT:
  Every failure is one of the taxonomy in errors.go. Nothing partially
  applies: on any failure the persisted state is unchanged.

SEE ALSO:
  - store.go: atomicity contract the engine relies on
  - stats.go: read-only statistics over the same store
*/
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/replenishment-engine/logging"
)

// maxTransitionAttempts bounds retries of a compare-and-set transition
// whose precondition legally moved mid-call (cancel racing an approval).
const maxTransitionAttempts = 3

// Engine orchestrates the stock request lifecycle.
type Engine struct {
	store Store
	dir   Directory
	audit AuditLog
	log   logging.Logger

	// Now is the clock; replaceable in tests.
	Now func() time.Time
}

// NewEngine wires the engine. audit may be nil when no transaction log is
// kept (the in-memory store used by some tests).
func NewEngine(store Store, dir Directory, audit AuditLog, log logging.Logger) *Engine {
	return &Engine{
		store: store,
		dir:   dir,
		audit: audit,
		log:   log,
		Now:   time.Now,
	}
}

// =============================================================================
// INPUTS
// =============================================================================

// CreateInput describes a new request. BranchID may be empty for
// branch-scoped actors (their own branch is implied); only system admins may
// target a foreign branch. RequestedDate supports backfill and defaults to
// now. Type defaults to RESTOCK.
type CreateInput struct {
	ProductID     string
	BranchID      string
	Type          RequestType
	Quantity      int
	Notes         string
	ExpectedDate  *time.Time
	RequestedDate *time.Time
}

// ApproveInput carries the optional approved quantity (defaults to the
// requested quantity — the full amount is authorized, there is no implicit
// partial approval) and an optional note to append.
type ApproveInput struct {
	Quantity *int
	Notes    string
}

type RejectInput struct {
	Reason string
}

type AssignInput struct {
	LogisticsStaffID string
	Notes            string
}

type CancelInput struct {
	Reason string
}

// EditInput updates any subset of the editable fields. Nil means unchanged.
type EditInput struct {
	ProductID    *string
	Type         *RequestType
	Quantity     *int
	Notes        *string
	ExpectedDate *time.Time
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates the references, generates the request number and persists
// a PENDING request.
func (e *Engine) Create(ctx context.Context, actor Actor, in CreateInput) (*StockRequest, error) {
	branchID := in.BranchID
	if branchID == "" {
		branchID = actor.BranchID
	}
	if err := AuthorizeCreate(actor, branchID); err != nil {
		return nil, err
	}

	reqType := in.Type
	if reqType == "" {
		reqType = TypeRestock
	}
	if !reqType.Valid() {
		return nil, NewValidationError("unknown request type %q", in.Type)
	}
	if in.Quantity <= 0 {
		return nil, NewValidationError("requested quantity must be a positive integer")
	}
	if branchID == "" {
		return nil, NewValidationError("a branch is required")
	}

	product, err := e.dir.Product(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, NewValidationError("product %q does not exist", in.ProductID)
	}
	branch, err := e.dir.Branch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch == nil {
		return nil, NewValidationError("branch %q does not exist", branchID)
	}

	now := e.Now()
	requestedDate := now
	if in.RequestedDate != nil {
		requestedDate = *in.RequestedDate
	}

	req := &StockRequest{
		ID:                uuid.NewString(),
		Type:              reqType,
		Status:            StatusPending,
		RequestedQuantity: in.Quantity,
		Notes:             in.Notes,
		ExpectedDate:      in.ExpectedDate,
		RequestedDate:     requestedDate,
		ProductID:         product.ID,
		BranchID:          branch.ID,
		RequestedByID:     actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Generation and insert race against concurrent creations in the same
	// month; the unique constraint rejects the loser and we retry.
	prefix := NumberPrefix(KindRequest, now)
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		last, err := e.store.LastNumber(ctx, KindRequest, prefix)
		if err != nil {
			return nil, err
		}
		number, err := NextNumber(prefix, last)
		if err != nil {
			return nil, err
		}
		req.RequestNumber = number

		err = e.store.Insert(ctx, req)
		if err == nil {
			e.recordAudit(ctx, req.ID, actor.ID, AuditCreated, "request "+number+" created")
			e.log.Info("stock request created", map[string]any{
				"request_number": number,
				"branch_id":      branch.ID,
				"product_id":     product.ID,
				"quantity":       in.Quantity,
			})
			return req, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return nil, err
		}
	}

	return nil, NewConflictError("could not allocate a request number after %d attempts", maxNumberAttempts)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// Approve transitions a PENDING request to APPROVED.
func (e *Engine) Approve(ctx context.Context, actor Actor, id string, in ApproveInput) (*StockRequest, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpApprove, req); err != nil {
		return nil, err
	}

	quantity := req.RequestedQuantity
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	if quantity <= 0 {
		return nil, NewValidationError("approved quantity must be a positive integer")
	}

	now := e.Now()
	updated, err := e.store.Transition(ctx, id, StatusPending, func(r *StockRequest) error {
		r.Status = StatusApproved
		r.ApprovedQuantity = &quantity
		r.ApprovedByID = actor.ID
		if in.Notes != "" {
			r.Notes = AppendAnnotation(r.Notes, "Admin approved", in.Notes)
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, mapMismatch(err, "only pending requests can be approved")
	}

	e.recordAudit(ctx, id, actor.ID, AuditApproved, in.Notes)
	return updated, nil
}

// Reject transitions a PENDING request to REJECTED. The reason is required
// and stored trimmed.
func (e *Engine) Reject(ctx context.Context, actor Actor, id string, in RejectInput) (*StockRequest, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpReject, req); err != nil {
		return nil, err
	}

	reason := trimmed(in.Reason)
	if reason == "" {
		return nil, NewValidationError("a rejection reason is required")
	}

	now := e.Now()
	updated, err := e.store.Transition(ctx, id, StatusPending, func(r *StockRequest) error {
		r.Status = StatusRejected
		r.RejectedReason = reason
		r.ApprovedByID = actor.ID
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, mapMismatch(err, "only pending requests can be rejected")
	}

	e.recordAudit(ctx, id, actor.ID, AuditRejected, reason)
	return updated, nil
}

// =============================================================================
// ASSIGN TO LOGISTICS
// =============================================================================

// Assign hands an APPROVED request to a logistics actor: it creates the
// shipment and marks the request COMPLETED in one atomic unit. On any
// failure both writes roll back and the request stays APPROVED.
func (e *Engine) Assign(ctx context.Context, actor Actor, id string, in AssignInput) (*StockRequest, *Shipment, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := Authorize(actor, OpAssign, req); err != nil {
		return nil, nil, err
	}

	staff, err := e.dir.User(ctx, in.LogisticsStaffID)
	if err != nil {
		return nil, nil, err
	}
	if staff == nil || !staff.Active || staff.Role != RoleLogistics {
		return nil, nil, NewValidationError("%q is not an active logistics staff member", in.LogisticsStaffID)
	}

	branch, err := e.dir.Branch(ctx, req.BranchID)
	if err != nil {
		return nil, nil, err
	}
	toLocation := req.BranchID
	if branch != nil {
		toLocation = branch.Name
	}

	now := e.Now()
	prefix := NumberPrefix(KindShipment, now)
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		last, err := e.store.LastNumber(ctx, KindShipment, prefix)
		if err != nil {
			return nil, nil, err
		}
		number, err := NextNumber(prefix, last)
		if err != nil {
			return nil, nil, err
		}

		shipment := &Shipment{
			ID:             uuid.NewString(),
			ShipmentNumber: number,
			StockRequestID: req.ID,
			Status:         ShipmentReady,
			Quantity:       req.AuthorizedQuantity(),
			FromLocation:   CentralWarehouse,
			ToLocation:     toLocation,
			AssignedToID:   staff.ID,
			AssignedAt:     now,
			Notes:          trimmed(in.Notes),
			CreatedAt:      now,
		}

		updated, err := e.store.Complete(ctx, id, StatusApproved, shipment, func(r *StockRequest) error {
			r.Status = StatusCompleted
			r.CompletedDate = &now
			r.UpdatedAt = now
			return nil
		})
		if err == nil {
			e.recordAudit(ctx, id, actor.ID, AuditAssigned, "shipment "+number+" assigned to "+staff.ID)
			e.log.Info("request assigned to logistics", map[string]any{
				"request_number":  updated.RequestNumber,
				"shipment_number": number,
				"assigned_to":     staff.ID,
			})
			return updated, shipment, nil
		}
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		return nil, nil, mapMismatch(err, "only approved requests can be assigned to logistics")
	}

	return nil, nil, NewConflictError("could not allocate a shipment number after %d attempts", maxNumberAttempts)
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel transitions a PENDING or APPROVED request to CANCELLED. The
// requester may cancel their own request; admins may cancel any request
// within their scope.
func (e *Engine) Cancel(ctx context.Context, actor Actor, id string, in CancelInput) (*StockRequest, error) {
	tag := "Requester cancelled"
	if actor.Role.Admin() {
		tag = "Admin cancelled"
	}

	// The precondition spans two statuses but Transition checks one, so
	// retry when the status legally moved (PENDING -> APPROVED) mid-call.
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		req, err := e.findRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := Authorize(actor, OpCancel, req); err != nil {
			return nil, err
		}
		if req.Status != StatusPending && req.Status != StatusApproved {
			return nil, NewInvalidStateError("only pending or approved requests can be cancelled", req.Status)
		}

		now := e.Now()
		updated, err := e.store.Transition(ctx, id, req.Status, func(r *StockRequest) error {
			r.Status = StatusCancelled
			r.Notes = AppendAnnotation(r.Notes, tag, in.Reason)
			if actor.Role.Admin() {
				r.ApprovedByID = actor.ID
			}
			r.UpdatedAt = now
			return nil
		})
		if err == nil {
			e.recordAudit(ctx, id, actor.ID, AuditCancelled, trimmed(in.Reason))
			return updated, nil
		}

		var mismatch *StatusMismatchError
		if errors.As(err, &mismatch) && !mismatch.Current.Terminal() {
			continue // raced with an approval; the new status still permits cancel
		}
		return nil, mapMismatch(err, "only pending or approved requests can be cancelled")
	}

	return nil, NewConflictError("request %s kept changing during cancellation", id)
}

// =============================================================================
// EDIT
// =============================================================================

// Edit updates fields in place while the request is still PENDING. Only the
// original requester may edit; id and request number never change.
func (e *Engine) Edit(ctx context.Context, actor Actor, id string, in EditInput) (*StockRequest, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpEdit, req); err != nil {
		return nil, err
	}

	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, NewValidationError("requested quantity must be a positive integer")
	}
	if in.Type != nil && !in.Type.Valid() {
		return nil, NewValidationError("unknown request type %q", *in.Type)
	}
	var product *ProductRef
	if in.ProductID != nil {
		product, err = e.dir.Product(ctx, *in.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, NewValidationError("product %q does not exist", *in.ProductID)
		}
	}

	now := e.Now()
	updated, err := e.store.Transition(ctx, id, StatusPending, func(r *StockRequest) error {
		if product != nil {
			r.ProductID = product.ID
		}
		if in.Type != nil {
			r.Type = *in.Type
		}
		if in.Quantity != nil {
			r.RequestedQuantity = *in.Quantity
		}
		if in.Notes != nil {
			r.Notes = *in.Notes
		}
		if in.ExpectedDate != nil {
			r.ExpectedDate = in.ExpectedDate
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, mapMismatch(err, "only pending requests can be edited")
	}

	e.recordAudit(ctx, id, actor.ID, AuditEdited, "")
	return updated, nil
}

// =============================================================================
// READS
// =============================================================================

// Get loads one request with its directory references resolved.
// Branch-scoped actors are denied cross-branch access.
func (e *Engine) Get(ctx context.Context, actor Actor, id string) (*RequestDetail, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpView, req); err != nil {
		return nil, err
	}
	return e.resolve(ctx, req)
}

// List returns a page of requests. Branch-scoped roles are implicitly
// filtered to their own branch regardless of the requested filter.
func (e *Engine) List(ctx context.Context, actor Actor, f Filter, p Page) ([]RequestDetail, int, error) {
	if actor.Role.BranchScoped() {
		f.BranchID = actor.BranchID
	}
	if p.Size <= 0 {
		p.Size = 20
	}

	reqs, total, err := e.store.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}

	details := make([]RequestDetail, 0, len(reqs))
	for i := range reqs {
		d, err := e.resolve(ctx, &reqs[i])
		if err != nil {
			return nil, 0, err
		}
		details = append(details, *d)
	}
	return details, total, nil
}

// AuditTrail returns the append-only transaction log of one request.
func (e *Engine) AuditTrail(ctx context.Context, actor Actor, id string) ([]AuditEntry, error) {
	req, err := e.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpView, req); err != nil {
		return nil, err
	}
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.AuditByRequest(ctx, id)
}

// Shipment returns the shipment created for a completed request, nil when
// none exists yet.
func (e *Engine) Shipment(ctx context.Context, actor Actor, requestID string) (*Shipment, error) {
	req, err := e.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpView, req); err != nil {
		return nil, err
	}
	return e.store.FindShipmentByRequest(ctx, requestID)
}

// =============================================================================
// INTERNAL
// =============================================================================

func (e *Engine) findRequest(ctx context.Context, id string) (*StockRequest, error) {
	req, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, NewNotFoundError("stock request", id)
	}
	return req, nil
}

// resolve assembles the denormalized detail from the directories. Missing
// directory rows degrade to nil summaries rather than failing the read.
func (e *Engine) resolve(ctx context.Context, req *StockRequest) (*RequestDetail, error) {
	detail := &RequestDetail{StockRequest: *req}

	var err error
	if detail.Product, err = e.dir.Product(ctx, req.ProductID); err != nil {
		return nil, err
	}
	if detail.Branch, err = e.dir.Branch(ctx, req.BranchID); err != nil {
		return nil, err
	}
	if detail.RequestedBy, err = e.dir.User(ctx, req.RequestedByID); err != nil {
		return nil, err
	}
	if req.ApprovedByID != "" {
		if detail.ApprovedBy, err = e.dir.User(ctx, req.ApprovedByID); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

func (e *Engine) recordAudit(ctx context.Context, requestID, actorID string, action AuditAction, annotation string) {
	if e.audit == nil {
		return
	}
	err := e.audit.AppendAudit(ctx, AuditEntry{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		ActorID:    actorID,
		Action:     action,
		Annotation: annotation,
		At:         e.Now(),
	})
	if err != nil {
		// The transition already committed; a lost log line is not worth
		// failing the call over.
		e.log.Error("failed to append audit entry", err)
	}
}

// mapMismatch converts a store-level precondition failure into the
// operation's user-facing InvalidStateError; other errors pass through.
func mapMismatch(err error, msg string) error {
	var mismatch *StatusMismatchError
	if errors.As(err, &mismatch) {
		return NewInvalidStateError(msg, mismatch.Current)
	}
	return err
}

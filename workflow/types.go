/*
types.go - Core domain types for the replenishment workflow

PURPOSE:
  Defines the StockRequest aggregate, the Shipment record created when a
  request is handed to logistics, the actor roles, and the reference
  summaries resolved from the external product/branch/user directories.

LIFECYCLE:
  ┌─────────────────────────────────────────────────────────┐
  │                                                         │
  │              ┌──────────┐                               │
  │   Create ──▶ │ PENDING  │──▶ APPROVED ──▶ COMPLETED     │
  │              └──────────┘        │                      │
  │                 │     │          └──────▶ CANCELLED     │
  │                 │     └───────────────────────▲         │
  │                 ▼                             │         │
  │              REJECTED                    (terminal)     │
  │                                                         │
  └─────────────────────────────────────────────────────────┘

  REJECTED, COMPLETED and CANCELLED are terminal. A Shipment exists for a
  request if and only if the request reached COMPLETED.

KEY TYPES:
  StockRequest: The aggregate root. Only Status (and fields derived from
                the transition that changed it) mutate after creation.
  Shipment:     Created once, on the assign-to-logistics transition.
  Actor:        Who is acting: user id, role, branch scope.

SEE ALSO:
  - engine.go: The only legal way to mutate a StockRequest
  - policy.go: Which Actor may trigger which transition
*/
package workflow

import (
	"strings"
	"time"
)

// =============================================================================
// STATUS STATE MACHINE
// =============================================================================

// Status is the lifecycle state of a stock request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> next exists in the state
// machine. Creation (-> PENDING) is not an edge; it is handled by Create.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected || next == StatusCancelled
	case StatusApproved:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// =============================================================================
// REQUEST TYPE AND ROLES
// =============================================================================

// RequestType classifies why the stock is being requested.
type RequestType string

const (
	TypeRestock    RequestType = "RESTOCK"
	TypeAdjustment RequestType = "ADJUSTMENT"
	TypeReturn     RequestType = "RETURN"
)

func (t RequestType) Valid() bool {
	switch t {
	case TypeRestock, TypeAdjustment, TypeReturn:
		return true
	}
	return false
}

// Role is an actor role tag from the external user directory.
type Role string

const (
	RoleStaff       Role = "STAFF"
	RoleAdminBrand  Role = "ADMIN_BRAND"
	RoleAdminSystem Role = "ADMIN_SYSTEM"
	RoleLogistics   Role = "LOGISTICS_STAFF"
)

// Admin reports whether the role carries approval authority.
func (r Role) Admin() bool {
	return r == RoleAdminBrand || r == RoleAdminSystem
}

// BranchScoped reports whether the role's authority is limited to one branch.
func (r Role) BranchScoped() bool {
	return r == RoleStaff || r == RoleAdminBrand
}

// Actor identifies who is performing an operation.
// BranchID is empty for system-wide actors.
type Actor struct {
	ID       string
	Role     Role
	BranchID string
}

// =============================================================================
// STOCK REQUEST - the aggregate root
// =============================================================================

// StockRequest is a branch's request to receive stock of one product.
// ID, RequestNumber, Type, RequestedQuantity, ProductID, BranchID and
// RequestedByID are immutable after creation (Type/quantity/product may
// change only through Edit while still PENDING).
type StockRequest struct {
	ID            string
	RequestNumber string
	Type          RequestType
	Status        Status

	RequestedQuantity int
	// ApprovedQuantity is set on the transition to APPROVED. Nil means the
	// request never reached an approval.
	ApprovedQuantity *int

	// Notes carries append-only audit annotations ("[Admin approved] ...")
	// separated by newlines; transitions append, only Edit replaces.
	Notes          string
	RejectedReason string

	ExpectedDate  *time.Time
	RequestedDate time.Time
	CompletedDate *time.Time

	ProductID     string
	BranchID      string
	RequestedByID string
	// ApprovedByID records who performed the approval-class transition
	// (approve, reject, or an admin cancellation).
	ApprovedByID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthorizedQuantity is the quantity a shipment should carry: the approved
// quantity when one was recorded, otherwise the full requested quantity.
func (r *StockRequest) AuthorizedQuantity() int {
	if r.ApprovedQuantity != nil {
		return *r.ApprovedQuantity
	}
	return r.RequestedQuantity
}

// AppendAnnotation appends "[tag] note" to the existing notes, separated by
// a newline. The result is trimmed after concatenation so empty prior notes
// produce no leading blank line.
func AppendAnnotation(existing, tag, note string) string {
	annotation := strings.TrimSpace("[" + tag + "] " + note)
	return strings.TrimSpace(existing + "\n" + annotation)
}

func trimmed(s string) string { return strings.TrimSpace(s) }

// =============================================================================
// SHIPMENT
// =============================================================================

// CentralWarehouse is the fixed origin of every shipment.
const CentralWarehouse = "CENTRAL_WAREHOUSE"

// ShipmentReady is the initial (and, within this module, only) shipment status.
const ShipmentReady = "READY"

// Shipment is the dispatch record created when an approved request is
// assigned to a logistics actor. This module creates shipments; it does not
// interpret them further.
type Shipment struct {
	ID             string
	ShipmentNumber string
	StockRequestID string
	Status         string
	Quantity       int
	FromLocation   string
	ToLocation     string
	AssignedToID   string
	AssignedAt     time.Time
	Notes          string
	CreatedAt      time.Time
}

// =============================================================================
// DIRECTORY SUMMARIES - resolved from external lookups
// =============================================================================

// ProductRef is the denormalized product summary echoed in responses.
type ProductRef struct {
	ID       string
	Code     string
	Name     string
	Image    string
	Quantity int // available quantity per the catalog, informational only
}

// BranchRef is the denormalized branch summary.
type BranchRef struct {
	ID   string
	Name string
	Code string
}

// UserRef is the directory record for a staff member.
type UserRef struct {
	ID       string
	Name     string
	Email    string
	Role     Role
	BranchID string
	Active   bool
}

// RequestDetail is a StockRequest with its directory references resolved.
type RequestDetail struct {
	StockRequest
	Product     *ProductRef
	Branch      *BranchRef
	RequestedBy *UserRef
	ApprovedBy  *UserRef
}

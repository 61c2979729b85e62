/*
store.go - Persistence and directory interfaces

PURPOSE:
  Defines the contract between the workflow engine and storage. Any
  persistence technology satisfies it; this repo ships a SQLite
  implementation (store/sqlite) and an in-memory one (workflow/store).

ATOMICITY CONTRACT:
  Transition and Complete are the only mutation paths after Insert, and both
  are single atomic read-check-write units:

  - Transition verifies the status precondition and applies the mutation in
    one transaction. Two concurrent conflicting transitions on the same
    request yield exactly one winner; the loser sees StatusMismatchError.

  - Complete additionally inserts a Shipment in the same transaction. A
    failure anywhere rolls back both writes: never a COMPLETED request
    without a shipment, never a dangling shipment for an APPROVED request.

IDENTIFIER GENERATION:
  LastNumber is a read; the uniqueness guarantee comes from a constraint on
  the number column enforced at Insert/Complete (ErrDuplicateNumber), with
  the engine retrying generation. See number.go.

SEE ALSO:
  - engine.go: The only caller of the mutation methods
  - store/sqlite/sqlite.go, workflow/store/memory.go: Implementations
*/
package workflow

import (
	"context"
	"time"
)

// =============================================================================
// QUERY TYPES
// =============================================================================

// Filter narrows List results. Zero values mean "no constraint".
// Search matches request numbers, product names and notes, case-insensitive.
type Filter struct {
	Status    Status
	Type      RequestType
	BranchID  string
	ProductID string
	Search    string
}

// Page is 1-based pagination.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// StatusCounts is the per-status breakdown returned by the statistics
// aggregator. Absent statuses count as zero.
type StatusCounts struct {
	Total     int
	Pending   int
	Approved  int
	Completed int
	Rejected  int
	Cancelled int
}

// =============================================================================
// STORE
// =============================================================================

// Store persists stock requests and their shipments.
//
// FindByID and FindShipmentByRequest return (nil, nil) when nothing matches;
// missing rows are not an error at this layer.
type Store interface {
	// Insert persists a new request. Returns ErrDuplicateNumber if the
	// request number is already taken.
	Insert(ctx context.Context, req *StockRequest) error

	// FindByID loads one request.
	FindByID(ctx context.Context, id string) (*StockRequest, error)

	// List returns a page of requests matching the filter, newest first,
	// plus the total match count.
	List(ctx context.Context, f Filter, p Page) ([]StockRequest, int, error)

	// Transition atomically loads the request, verifies its status equals
	// expected, applies mutate and persists the result. Returns
	// *StatusMismatchError when the precondition fails, leaving the row
	// unchanged.
	Transition(ctx context.Context, id string, expected Status, mutate func(*StockRequest) error) (*StockRequest, error)

	// Complete is Transition plus a shipment insert in the same atomic
	// unit. Returns ErrDuplicateNumber if the shipment number collides,
	// rolling back the status change as well.
	Complete(ctx context.Context, id string, expected Status, shipment *Shipment, mutate func(*StockRequest) error) (*StockRequest, error)

	// FindShipmentByRequest loads the shipment created for a request.
	FindShipmentByRequest(ctx context.Context, requestID string) (*Shipment, error)

	// LastNumber returns the greatest existing identifier with the given
	// prefix ("" if none) in the sequence space of kind.
	LastNumber(ctx context.Context, kind NumberKind, prefix string) (string, error)

	// CountByStatus groups current rows by status in a single consistent
	// snapshot, optionally scoped to one branch ("" for all).
	CountByStatus(ctx context.Context, branchID string) (StatusCounts, error)
}

// =============================================================================
// EXTERNAL DIRECTORIES
// =============================================================================

// ProductLookup resolves product references. Returns (nil, nil) when the id
// is unknown.
type ProductLookup interface {
	Product(ctx context.Context, id string) (*ProductRef, error)
}

// BranchLookup resolves branch references.
type BranchLookup interface {
	Branch(ctx context.Context, id string) (*BranchRef, error)
}

// UserDirectory resolves staff references, including role tags.
type UserDirectory interface {
	User(ctx context.Context, id string) (*UserRef, error)
}

// Directory bundles the external collaborators the workflow consumes.
type Directory interface {
	ProductLookup
	BranchLookup
	UserDirectory
}

// =============================================================================
// AUDIT LOG - append-only transaction log per request
// =============================================================================

// AuditAction names an applied transition in the log.
type AuditAction string

const (
	AuditCreated   AuditAction = "created"
	AuditEdited    AuditAction = "edited"
	AuditApproved  AuditAction = "approved"
	AuditRejected  AuditAction = "rejected"
	AuditAssigned  AuditAction = "assigned"
	AuditCancelled AuditAction = "cancelled"
)

// AuditEntry records who applied which transition when. Append-only.
type AuditEntry struct {
	ID         string
	RequestID  string
	ActorID    string
	Action     AuditAction
	Annotation string
	At         time.Time
}

// AuditLog stores audit entries.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditByRequest(ctx context.Context, requestID string) ([]AuditEntry, error)
}

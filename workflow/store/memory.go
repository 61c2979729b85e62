// Package store provides an in-memory implementation of the workflow
// storage and directory interfaces, for tests and demos.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/replenishment-engine/workflow"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements workflow.Store, workflow.Directory and workflow.AuditLog
// in process memory. A single mutex makes every operation atomic, which is
// exactly the contract the SQLite store provides through transactions.
type Memory struct {
	mu        sync.RWMutex
	requests  map[string]workflow.StockRequest
	shipments map[string]workflow.Shipment // keyed by stock request id
	numbers   map[string]bool              // request + shipment numbers
	audit     map[string][]workflow.AuditEntry

	products map[string]workflow.ProductRef
	branches map[string]workflow.BranchRef
	users    map[string]workflow.UserRef

	// FailCompletion, when set, makes Complete fail after the shipment
	// write would have happened. Tests use it to verify rollback.
	FailCompletion error
}

func NewMemory() *Memory {
	return &Memory{
		requests:  make(map[string]workflow.StockRequest),
		shipments: make(map[string]workflow.Shipment),
		numbers:   make(map[string]bool),
		audit:     make(map[string][]workflow.AuditEntry),
		products:  make(map[string]workflow.ProductRef),
		branches:  make(map[string]workflow.BranchRef),
		users:     make(map[string]workflow.UserRef),
	}
}

// =============================================================================
// STORE
// =============================================================================

func (m *Memory) Insert(_ context.Context, req *workflow.StockRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.numbers[req.RequestNumber] {
		return workflow.ErrDuplicateNumber
	}
	m.numbers[req.RequestNumber] = true
	m.requests[req.ID] = *req
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*workflow.StockRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *Memory) List(_ context.Context, f workflow.Filter, p workflow.Page) ([]workflow.StockRequest, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []workflow.StockRequest
	for _, req := range m.requests {
		if m.matches(req, f) {
			matched = append(matched, req)
		}
	}

	// Newest first, request number as a stable tie-break.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].RequestNumber > matched[j].RequestNumber
	})

	total := len(matched)
	if p.Size > 0 {
		start := p.Offset()
		if start > total {
			start = total
		}
		end := start + p.Size
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *Memory) matches(req workflow.StockRequest, f workflow.Filter) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.Type != "" && req.Type != f.Type {
		return false
	}
	if f.BranchID != "" && req.BranchID != f.BranchID {
		return false
	}
	if f.ProductID != "" && req.ProductID != f.ProductID {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		productName := ""
		if p, ok := m.products[req.ProductID]; ok {
			productName = p.Name
		}
		haystack := strings.ToLower(req.RequestNumber + " " + productName + " " + req.Notes)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

func (m *Memory) Transition(_ context.Context, id string, expected workflow.Status, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, expected, mutate)
}

func (m *Memory) transitionLocked(id string, expected workflow.Status, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, workflow.NewNotFoundError("stock request", id)
	}
	if req.Status != expected {
		return nil, &workflow.StatusMismatchError{Expected: expected, Current: req.Status}
	}

	// Mutate a copy; nothing is visible until the whole unit succeeds.
	if err := mutate(&req); err != nil {
		return nil, err
	}
	m.requests[id] = req
	return &req, nil
}

func (m *Memory) Complete(_ context.Context, id string, expected workflow.Status, shipment *workflow.Shipment, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.numbers[shipment.ShipmentNumber] {
		return nil, workflow.ErrDuplicateNumber
	}
	if m.FailCompletion != nil {
		// Simulated crash between the shipment write and the status update:
		// the unit aborts, nothing is recorded.
		return nil, m.FailCompletion
	}

	req, err := m.transitionLocked(id, expected, mutate)
	if err != nil {
		return nil, err
	}
	m.numbers[shipment.ShipmentNumber] = true
	m.shipments[id] = *shipment
	return req, nil
}

func (m *Memory) FindShipmentByRequest(_ context.Context, requestID string) (*workflow.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shipments[requestID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) LastNumber(_ context.Context, _ workflow.NumberKind, prefix string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := ""
	for number := range m.numbers {
		if strings.HasPrefix(number, prefix) && number > last {
			last = number
		}
	}
	return last, nil
}

func (m *Memory) CountByStatus(_ context.Context, branchID string) (workflow.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts workflow.StatusCounts
	for _, req := range m.requests {
		if branchID != "" && req.BranchID != branchID {
			continue
		}
		counts.Total++
		switch req.Status {
		case workflow.StatusPending:
			counts.Pending++
		case workflow.StatusApproved:
			counts.Approved++
		case workflow.StatusCompleted:
			counts.Completed++
		case workflow.StatusRejected:
			counts.Rejected++
		case workflow.StatusCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry workflow.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit[entry.RequestID] = append(m.audit[entry.RequestID], entry)
	return nil
}

func (m *Memory) AuditByRequest(_ context.Context, requestID string) ([]workflow.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]workflow.AuditEntry, len(m.audit[requestID]))
	copy(entries, m.audit[requestID])
	return entries, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) AddProduct(p workflow.ProductRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *Memory) AddBranch(b workflow.BranchRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.ID] = b
}

func (m *Memory) AddUser(u workflow.UserRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) Product(_ context.Context, id string) (*workflow.ProductRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) Branch(_ context.Context, id string) (*workflow.BranchRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.branches[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) User(_ context.Context, id string) (*workflow.UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

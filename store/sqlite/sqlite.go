/*
Package sqlite provides the SQLite-backed implementation of the workflow
storage interfaces.

INTERFACES IMPLEMENTED:
  workflow.Store:     Request + shipment persistence with atomic transitions
  workflow.Directory: Product/branch/user lookups (directory tables double
                      as the external collaborators in this deployment)
  workflow.AuditLog:  Append-only per-request transaction log

ATOMIC TRANSITIONS:
  Transition and Complete run as one SQL transaction: read the row, verify
  the status precondition, apply the mutation, write. Complete inserts the
  shipment in the same transaction, so the shipment and the COMPLETED status
  commit or roll back together.

IDENTIFIER UNIQUENESS:
  stock_requests.request_number and shipments.shipment_number carry UNIQUE
  indexes. A generation race loses at insert with ErrDuplicateNumber and the
  engine retries; sequence numbers may gap but never repeat.

CONCURRENCY:
  The connection pool is capped at one connection and writes take a mutex;
  SQLite is a single-writer database and serializing in process avoids
  SQLITE_BUSY churn. WAL mode keeps readers unblocked. With PostgreSQL the
  same contract would fall out of row-level locking instead.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests. For production,
  use a proper migration tool (golang-migrate, goose) with versioned
  migrations.

SEE ALSO:
  - workflow/store.go: Interface definitions and the atomicity contract
  - workflow/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/replenishment-engine/workflow"
)

// Store implements the workflow storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: serializes writers and keeps ":memory:" databases
	// from splitting across pool connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_requests (
		id TEXT PRIMARY KEY,
		request_number TEXT NOT NULL UNIQUE,
		request_type TEXT NOT NULL,
		status TEXT NOT NULL,
		requested_quantity INTEGER NOT NULL,
		approved_quantity INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		rejected_reason TEXT NOT NULL DEFAULT '',
		expected_date TEXT,
		requested_date TEXT NOT NULL,
		completed_date TEXT,
		product_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		requested_by_id TEXT NOT NULL,
		approved_by_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_requests_status
		ON stock_requests(status);
	CREATE INDEX IF NOT EXISTS idx_stock_requests_branch
		ON stock_requests(branch_id, status);
	CREATE INDEX IF NOT EXISTS idx_stock_requests_product
		ON stock_requests(product_id);

	-- One shipment per request, ever.
	CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		shipment_number TEXT NOT NULL UNIQUE,
		stock_request_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		from_location TEXT NOT NULL,
		to_location TEXT NOT NULL,
		assigned_to_id TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Append-only transition log.
	CREATE TABLE IF NOT EXISTS request_log (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		annotation TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_request_log_request
		ON request_log(request_id, at);

	-- Directory tables. Owned by the wider platform; this service only
	-- reads them (and seeds them in development).
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REQUEST STORE (workflow.Store interface)
// =============================================================================

const requestColumns = `id, request_number, request_type, status, requested_quantity,
	approved_quantity, notes, rejected_reason, expected_date, requested_date,
	completed_date, product_id, branch_id, requested_by_id, approved_by_id,
	created_at, updated_at`

// Insert persists a new request. A request_number collision surfaces as
// workflow.ErrDuplicateNumber.
func (s *Store) Insert(ctx context.Context, req *workflow.StockRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO stock_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.RequestNumber,
		string(req.Type),
		string(req.Status),
		req.RequestedQuantity,
		nullInt(req.ApprovedQuantity),
		req.Notes,
		req.RejectedReason,
		nullTime(req.ExpectedDate),
		formatTime(req.RequestedDate),
		nullTime(req.CompletedDate),
		req.ProductID,
		req.BranchID,
		req.RequestedByID,
		req.ApprovedByID,
		formatTime(req.CreatedAt),
		formatTime(req.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return workflow.ErrDuplicateNumber
		}
		return fmt.Errorf("failed to insert stock request: %w", err)
	}
	return nil
}

// FindByID loads one request, (nil, nil) when missing.
func (s *Store) FindByID(ctx context.Context, id string) (*workflow.StockRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM stock_requests WHERE id = ?`, id)
	return scanRequest(row)
}

// List returns a page of matching requests, newest first, plus the total
// match count.
func (s *Store) List(ctx context.Context, f workflow.Filter, p workflow.Page) ([]workflow.StockRequest, int, error) {
	where, args := buildFilter(f)

	countQuery := `
		SELECT COUNT(*)
		FROM stock_requests r
		LEFT JOIN products p ON p.id = r.product_id
	` + where

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count stock requests: %w", err)
	}

	listQuery := `
		SELECT r.id, r.request_number, r.request_type, r.status, r.requested_quantity,
		       r.approved_quantity, r.notes, r.rejected_reason, r.expected_date,
		       r.requested_date, r.completed_date, r.product_id, r.branch_id,
		       r.requested_by_id, r.approved_by_id, r.created_at, r.updated_at
		FROM stock_requests r
		LEFT JOIN products p ON p.id = r.product_id
	` + where + `
		ORDER BY r.created_at DESC, r.request_number DESC
	`
	listArgs := args
	if p.Size > 0 {
		listQuery += ` LIMIT ? OFFSET ?`
		listArgs = append(append([]any{}, args...), p.Size, p.Offset())
	}

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list stock requests: %w", err)
	}
	defer rows.Close()

	var requests []workflow.StockRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, *req)
	}
	return requests, total, rows.Err()
}

func buildFilter(f workflow.Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "r.status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "r.request_type = ?")
		args = append(args, string(f.Type))
	}
	if f.BranchID != "" {
		clauses = append(clauses, "r.branch_id = ?")
		args = append(args, f.BranchID)
	}
	if f.ProductID != "" {
		clauses = append(clauses, "r.product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.Search != "" {
		clauses = append(clauses,
			"(r.request_number LIKE '%' || ? || '%' OR LOWER(p.name) LIKE '%' || LOWER(?) || '%' OR LOWER(r.notes) LIKE '%' || LOWER(?) || '%')")
		args = append(args, f.Search, f.Search, f.Search)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Transition atomically verifies the status precondition and applies mutate.
func (s *Store) Transition(ctx context.Context, id string, expected workflow.Status, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *workflow.StockRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := s.transitionTx(ctx, tx, id, expected, mutate)
		if err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete is Transition plus the shipment insert, one transaction.
func (s *Store) Complete(ctx context.Context, id string, expected workflow.Status, shipment *workflow.Shipment, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *workflow.StockRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Status precondition first, so a re-dispatch of an already
		// completed request reports the state, not a number collision.
		req, err := s.transitionTx(ctx, tx, id, expected, mutate)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO shipments (id, shipment_number, stock_request_id, status,
				quantity, from_location, to_location, assigned_to_id, assigned_at,
				notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			shipment.ID,
			shipment.ShipmentNumber,
			shipment.StockRequestID,
			shipment.Status,
			shipment.Quantity,
			shipment.FromLocation,
			shipment.ToLocation,
			shipment.AssignedToID,
			formatTime(shipment.AssignedAt),
			shipment.Notes,
			formatTime(shipment.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return workflow.ErrDuplicateNumber
			}
			return fmt.Errorf("failed to insert shipment: %w", err)
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// transitionTx is the shared read-check-mutate-write unit.
func (s *Store) transitionTx(ctx context.Context, tx *sql.Tx, id string, expected workflow.Status, mutate func(*workflow.StockRequest) error) (*workflow.StockRequest, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM stock_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, workflow.NewNotFoundError("stock request", id)
	}
	if req.Status != expected {
		return nil, &workflow.StatusMismatchError{Expected: expected, Current: req.Status}
	}

	if err := mutate(req); err != nil {
		return nil, err
	}

	// The status guard in the WHERE clause is the compare-and-set; the read
	// above only produced the row to mutate.
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_requests
		SET request_type = ?, status = ?, requested_quantity = ?,
		    approved_quantity = ?, notes = ?, rejected_reason = ?,
		    expected_date = ?, completed_date = ?, product_id = ?,
		    approved_by_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(req.Type),
		string(req.Status),
		req.RequestedQuantity,
		nullInt(req.ApprovedQuantity),
		req.Notes,
		req.RejectedReason,
		nullTime(req.ExpectedDate),
		nullTime(req.CompletedDate),
		req.ProductID,
		req.ApprovedByID,
		formatTime(req.UpdatedAt),
		id,
		string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update stock request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, &workflow.StatusMismatchError{Expected: expected, Current: req.Status}
	}
	return req, nil
}

// FindShipmentByRequest loads the shipment for a request, (nil, nil) when
// none exists.
func (s *Store) FindShipmentByRequest(ctx context.Context, requestID string) (*workflow.Shipment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, shipment_number, stock_request_id, status, quantity,
		       from_location, to_location, assigned_to_id, assigned_at, notes, created_at
		FROM shipments WHERE stock_request_id = ?
	`, requestID)

	var sh workflow.Shipment
	var assignedAt, createdAt string
	err := row.Scan(&sh.ID, &sh.ShipmentNumber, &sh.StockRequestID, &sh.Status,
		&sh.Quantity, &sh.FromLocation, &sh.ToLocation, &sh.AssignedToID,
		&assignedAt, &sh.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shipment: %w", err)
	}
	sh.AssignedAt = parseTime(assignedAt)
	sh.CreatedAt = parseTime(createdAt)
	return &sh, nil
}

// LastNumber returns the greatest identifier sharing prefix, "" if none.
func (s *Store) LastNumber(ctx context.Context, kind workflow.NumberKind, prefix string) (string, error) {
	table, column := "stock_requests", "request_number"
	if kind == workflow.KindShipment {
		table, column = "shipments", "shipment_number"
	}

	var last string
	err := s.db.QueryRowContext(ctx, `
		SELECT `+column+` FROM `+table+`
		WHERE `+column+` LIKE ? || '%'
		ORDER BY `+column+` DESC
		LIMIT 1
	`, prefix).Scan(&last)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last identifier: %w", err)
	}
	return last, nil
}

// CountByStatus groups requests by status in one query.
func (s *Store) CountByStatus(ctx context.Context, branchID string) (workflow.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM stock_requests`
	var args []any
	if branchID != "" {
		query += ` WHERE branch_id = ?`
		args = append(args, branchID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return workflow.StatusCounts{}, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	var counts workflow.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return workflow.StatusCounts{}, err
		}
		counts.Total += n
		switch workflow.Status(status) {
		case workflow.StatusPending:
			counts.Pending = n
		case workflow.StatusApproved:
			counts.Approved = n
		case workflow.StatusCompleted:
			counts.Completed = n
		case workflow.StatusRejected:
			counts.Rejected = n
		case workflow.StatusCancelled:
			counts.Cancelled = n
		}
	}
	return counts, rows.Err()
}

// =============================================================================
// AUDIT LOG (workflow.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry workflow.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (id, request_id, actor_id, action, annotation, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.RequestID, entry.ActorID, string(entry.Action), entry.Annotation, formatTime(entry.At))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AuditByRequest(ctx context.Context, requestID string) ([]workflow.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, actor_id, action, annotation, at
		FROM request_log WHERE request_id = ? ORDER BY at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}
	defer rows.Close()

	var entries []workflow.AuditEntry
	for rows.Next() {
		var e workflow.AuditEntry
		var action, at string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &action, &e.Annotation, &at); err != nil {
			return nil, err
		}
		e.Action = workflow.AuditAction(action)
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// DIRECTORY (workflow.Directory interface)
// =============================================================================

func (s *Store) Product(ctx context.Context, id string) (*workflow.ProductRef, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, image, quantity FROM products WHERE id = ?`, id)

	var p workflow.ProductRef
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Image, &p.Quantity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &p, nil
}

func (s *Store) Branch(ctx context.Context, id string) (*workflow.BranchRef, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, code FROM branches WHERE id = ?`, id)

	var b workflow.BranchRef
	err := row.Scan(&b.ID, &b.Name, &b.Code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch: %w", err)
	}
	return &b, nil
}

func (s *Store) User(ctx context.Context, id string) (*workflow.UserRef, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, branch_id, active FROM users WHERE id = ?`, id)

	var u workflow.UserRef
	var role string
	var active int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.BranchID, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	u.Role = workflow.Role(role)
	u.Active = active != 0
	return &u, nil
}

// SaveProduct upserts a directory product row.
func (s *Store) SaveProduct(ctx context.Context, p workflow.ProductRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, image, quantity) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name,
			image=excluded.image, quantity=excluded.quantity
	`, p.ID, p.Code, p.Name, p.Image, p.Quantity)
	return err
}

// SaveBranch upserts a directory branch row.
func (s *Store) SaveBranch(ctx context.Context, b workflow.BranchRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, code) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, code=excluded.code
	`, b.ID, b.Name, b.Code)
	return err
}

// SaveUser upserts a directory user row.
func (s *Store) SaveUser(ctx context.Context, u workflow.UserRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	if u.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, branch_id, active) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email,
			role=excluded.role, branch_id=excluded.branch_id, active=excluded.active
	`, u.ID, u.Name, u.Email, string(u.Role), u.BranchID, active)
	return err
}

// =============================================================================
// SCAN / FORMAT HELPERS
// =============================================================================

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*workflow.StockRequest, error) {
	var req workflow.StockRequest
	var reqType, status string
	var approvedQty sql.NullInt64
	var expectedDate, completedDate sql.NullString
	var requestedDate, createdAt, updatedAt string

	err := row.Scan(
		&req.ID,
		&req.RequestNumber,
		&reqType,
		&status,
		&req.RequestedQuantity,
		&approvedQty,
		&req.Notes,
		&req.RejectedReason,
		&expectedDate,
		&requestedDate,
		&completedDate,
		&req.ProductID,
		&req.BranchID,
		&req.RequestedByID,
		&req.ApprovedByID,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock request: %w", err)
	}

	req.Type = workflow.RequestType(reqType)
	req.Status = workflow.Status(status)
	if approvedQty.Valid {
		qty := int(approvedQty.Int64)
		req.ApprovedQuantity = &qty
	}
	if expectedDate.Valid {
		t := parseTime(expectedDate.String)
		req.ExpectedDate = &t
	}
	if completedDate.Valid {
		t := parseTime(completedDate.String)
		req.CompletedDate = &t
	}
	req.RequestedDate = parseTime(requestedDate)
	req.CreatedAt = parseTime(createdAt)
	req.UpdatedAt = parseTime(updatedAt)
	return &req, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

/*
handlers_test.go - HTTP-level tests for the request lifecycle API

Tests status-code mapping and JSON shapes through the real router:
auth middleware, create/approve/assign flow, and the error taxonomy.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warp/replenishment-engine/api"
	"github.com/warp/replenishment-engine/auth"
	"github.com/warp/replenishment-engine/logging"
	"github.com/warp/replenishment-engine/store/sqlite"
	"github.com/warp/replenishment-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	tokens *auth.TokenService
	store  *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := sqlite.Seed(context.Background(), store); err != nil {
		t.Fatalf("failed to seed directory: %v", err)
	}

	log := logging.Discard{}
	engine := workflow.NewEngine(store, store, store, log)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	handler := api.NewHandler(engine, store, tokens, log)

	return &testServer{
		router: api.NewRouter(handler),
		tokens: tokens,
		store:  store,
	}
}

func (s *testServer) token(t *testing.T, actor workflow.Actor) string {
	t.Helper()
	token, err := s.tokens.Generate(actor)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

var (
	staffNorth = workflow.Actor{ID: "user-staff-north", Role: workflow.RoleStaff, BranchID: "branch-north"}
	adminNorth = workflow.Actor{ID: "user-admin-north", Role: workflow.RoleAdminBrand, BranchID: "branch-north"}
	adminSys   = workflow.Actor{ID: "user-admin-sys", Role: workflow.RoleAdminSystem}
)

func createRequest(t *testing.T, s *testServer) api.RequestDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests", s.token(t, staffNorth), api.CreateRequestBody{
		ProductID: "prod-espresso",
		Quantity:  40,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var dto api.RequestDTO
	decodeBody(t, rec, &dto)
	return dto
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_MissingToken_Unauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/requests", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPI_GarbageToken_Unauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/requests", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPI_IssueToken(t *testing.T) {
	s := newTestServer(t)

	// Known active user gets a token
	rec := s.do(t, http.MethodPost, "/api/auth/token", "", api.TokenBody{UserID: "user-staff-north"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.TokenResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Error("expected a token")
	}
	if resp.User.Role != string(workflow.RoleStaff) {
		t.Errorf("role = %q, want STAFF", resp.User.Role)
	}

	// The issued token authenticates
	rec = s.do(t, http.MethodGet, "/api/requests", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list with issued token = %d, want 200", rec.Code)
	}

	// Unknown user does not
	rec = s.do(t, http.MethodPost, "/api/auth/token", "", api.TokenBody{UserID: "user-ghost"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user = %d, want 401", rec.Code)
	}
}

func TestAPI_Healthz_NoAuthNeeded(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// =============================================================================
// LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_CreateRequest(t *testing.T) {
	s := newTestServer(t)

	dto := createRequest(t, s)

	if dto.Status != string(workflow.StatusPending) {
		t.Errorf("status = %q, want PENDING", dto.Status)
	}
	if len(dto.RequestNumber) != 12 || dto.RequestNumber[:2] != "SR" {
		t.Errorf("request_number = %q, want SR + 10 digits", dto.RequestNumber)
	}
	if dto.Product == nil || dto.Product.Name != "Espresso Beans 1kg" {
		t.Errorf("product not resolved: %+v", dto.Product)
	}
	if dto.Branch == nil || dto.Branch.ID != "branch-north" {
		t.Errorf("branch not resolved: %+v", dto.Branch)
	}
	if dto.RequestedBy == nil || dto.RequestedBy.Email != "ayu@example.com" {
		t.Errorf("requester summary missing email: %+v", dto.RequestedBy)
	}
}

func TestAPI_CreateRequest_ValidationIs400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/requests", s.token(t, staffNorth), api.CreateRequestBody{
		ProductID: "prod-espresso",
		Quantity:  0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_ApproveFlow(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	qty := 25
	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, adminNorth), api.ApproveBody{
		Quantity: &qty,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}

	var approved api.RequestDTO
	decodeBody(t, rec, &approved)
	if approved.Status != string(workflow.StatusApproved) {
		t.Errorf("status = %q, want APPROVED", approved.Status)
	}
	if approved.ApprovedQuantity == nil || *approved.ApprovedQuantity != 25 {
		t.Errorf("approved_quantity = %v, want 25", approved.ApprovedQuantity)
	}
	if approved.ApprovedBy == nil || approved.ApprovedBy.Email != "citra@example.com" {
		t.Errorf("approver summary missing email: %+v", approved.ApprovedBy)
	}

	// Approving twice is a state error, not a conflict
	rec = s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, adminNorth), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second approve = %d, want 400", rec.Code)
	}
}

func TestAPI_StaffCannotApprove(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, staffNorth), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RejectWithoutReasonIs400(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/reject", s.token(t, adminNorth), api.RejectBody{Reason: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPI_AssignFlow(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, adminNorth), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/assign", s.token(t, adminSys), api.AssignBody{
		LogisticsStaffID: "user-logistics",
	})
	// Assignment creates the shipment resource
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp api.AssignResponse
	decodeBody(t, rec, &resp)
	if resp.Request.Status != string(workflow.StatusCompleted) {
		t.Errorf("request status = %q, want COMPLETED", resp.Request.Status)
	}
	if resp.Shipment.FromLocation != workflow.CentralWarehouse {
		t.Errorf("from_location = %q", resp.Shipment.FromLocation)
	}
	if resp.Shipment.Quantity != 40 {
		t.Errorf("shipment quantity = %d, want 40", resp.Shipment.Quantity)
	}

	// The shipment is exposed on its own route
	rec = s.do(t, http.MethodGet, "/api/requests/"+dto.ID+"/shipment", s.token(t, adminSys), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("shipment read = %d, want 200", rec.Code)
	}

	// And the transition log shows the whole story
	rec = s.do(t, http.MethodGet, "/api/requests/"+dto.ID+"/log", s.token(t, adminSys), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("log read = %d: %s", rec.Code, rec.Body.String())
	}
	var entries []api.AuditEntryDTO
	decodeBody(t, rec, &entries)
	if len(entries) != 3 {
		t.Errorf("log entries = %d, want 3", len(entries))
	}
}

func TestAPI_BranchAdminCannotAssign(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, adminNorth), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/assign", s.token(t, adminNorth), api.AssignBody{
		LogisticsStaffID: "user-logistics",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAPI_UnknownRequestIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/requests/no-such-id", s.token(t, adminSys), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_ShipmentBeforeAssignmentIs404(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodGet, "/api/requests/"+dto.ID+"/shipment", s.token(t, staffNorth), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_InternalErrorHidesCause(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, adminSys)

	// Closing the store makes every query fail with an error that fits
	// none of the workflow categories
	s.store.Close()

	rec := s.do(t, http.MethodGet, "/api/requests", token, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
	}

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "internal error" {
		t.Errorf("error = %q, want generic message", resp.Error)
	}
	if resp.Details != "" {
		t.Errorf("details = %q, internal cause must not reach the client", resp.Details)
	}
}

// =============================================================================
// LIST AND STATISTICS
// =============================================================================

func TestAPI_ListWithPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		createRequest(t, s)
	}

	rec := s.do(t, http.MethodGet, "/api/requests?page=1&size=2", s.token(t, adminSys), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp api.ListResponse
	decodeBody(t, rec, &resp)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Data) != 2 {
		t.Errorf("page length = %d, want 2", len(resp.Data))
	}
}

func TestAPI_Statistics(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)
	createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/approve", s.token(t, adminNorth), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/statistics", s.token(t, adminSys), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var stats api.StatisticsDTO
	decodeBody(t, rec, &stats)
	if stats.Total != 2 || stats.Pending != 1 || stats.Approved != 1 {
		t.Errorf("unexpected breakdown: %+v", stats)
	}

	// Staff get a 403, not an empty breakdown
	rec = s.do(t, http.MethodGet, "/api/statistics", s.token(t, staffNorth), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("staff statistics = %d, want 403", rec.Code)
	}
}

func TestAPI_EditPendingRequest(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	qty := 15
	rec := s.do(t, http.MethodPut, "/api/requests/"+dto.ID, s.token(t, staffNorth), api.EditRequestBody{
		Quantity: &qty,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit = %d: %s", rec.Code, rec.Body.String())
	}

	var edited api.RequestDTO
	decodeBody(t, rec, &edited)
	if edited.RequestedQuantity != 15 {
		t.Errorf("requested_quantity = %d, want 15", edited.RequestedQuantity)
	}
	if edited.RequestNumber != dto.RequestNumber {
		t.Errorf("request number changed on edit: %q -> %q", dto.RequestNumber, edited.RequestNumber)
	}
}

func TestAPI_CancelRequest(t *testing.T) {
	s := newTestServer(t)
	dto := createRequest(t, s)

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/cancel", s.token(t, staffNorth), api.CancelBody{
		Reason: "ordered by mistake",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", rec.Code, rec.Body.String())
	}

	var cancelled api.RequestDTO
	decodeBody(t, rec, &cancelled)
	if cancelled.Status != string(workflow.StatusCancelled) {
		t.Errorf("status = %q, want CANCELLED", cancelled.Status)
	}
	want := fmt.Sprintf("[Requester cancelled] %s", "ordered by mistake")
	if cancelled.Notes != want {
		t.Errorf("notes = %q, want %q", cancelled.Notes, want)
	}
}

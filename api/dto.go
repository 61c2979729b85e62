/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workflow domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers (lists, errors)

VALIDATION:
  Validation lives in the workflow engine, not here. DTOs are pure data
  carriers; handlers only translate shapes.

SEE ALSO:
  - handlers.go: Uses these types
  - workflow/types.go: The domain types being projected
*/
package api

import (
	"time"

	"github.com/warp/replenishment-engine/workflow"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// CreateRequestBody is the payload for creating a stock request.
type CreateRequestBody struct {
	ProductID     string     `json:"product_id"`
	BranchID      string     `json:"branch_id,omitempty"`
	Type          string     `json:"type,omitempty"`
	Quantity      int        `json:"quantity"`
	Notes         string     `json:"notes,omitempty"`
	ExpectedDate  *time.Time `json:"expected_date,omitempty"`
	RequestedDate *time.Time `json:"requested_date,omitempty"`
}

// EditRequestBody updates a pending request. Only fields present in the
// JSON are applied.
type EditRequestBody struct {
	ProductID    *string    `json:"product_id,omitempty"`
	Type         *string    `json:"type,omitempty"`
	Quantity     *int       `json:"quantity,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
}

// ApproveBody optionally overrides the approved quantity and adds a note.
type ApproveBody struct {
	Quantity *int   `json:"quantity,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// RejectBody carries the mandatory rejection reason.
type RejectBody struct {
	Reason string `json:"reason"`
}

// AssignBody names the logistics staff member receiving the shipment.
type AssignBody struct {
	LogisticsStaffID string `json:"logistics_staff_id"`
	Notes            string `json:"notes,omitempty"`
}

// CancelBody carries an optional cancellation note.
type CancelBody struct {
	Reason string `json:"reason,omitempty"`
}

// TokenBody is the development login payload.
type TokenBody struct {
	UserID string `json:"user_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO is the API projection of a stock request with its directory
// references resolved.
type RequestDTO struct {
	ID                string     `json:"id"`
	RequestNumber     string     `json:"request_number"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	RequestedQuantity int        `json:"requested_quantity"`
	ApprovedQuantity  *int       `json:"approved_quantity,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	RejectedReason    string     `json:"rejected_reason,omitempty"`
	ExpectedDate      *time.Time `json:"expected_date,omitempty"`
	RequestedDate     time.Time  `json:"requested_date"`
	CompletedDate     *time.Time `json:"completed_date,omitempty"`

	Product     *ProductDTO `json:"product,omitempty"`
	Branch      *BranchDTO  `json:"branch,omitempty"`
	RequestedBy *UserDTO    `json:"requested_by,omitempty"`
	ApprovedBy  *UserDTO    `json:"approved_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductDTO is the product summary echoed in responses.
type ProductDTO struct {
	ID       string `json:"id"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Quantity int    `json:"quantity"`
}

// BranchDTO is the branch summary echoed in responses.
type BranchDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// UserDTO is the user summary echoed in responses.
type UserDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ShipmentDTO is the dispatch record created on assignment.
type ShipmentDTO struct {
	ID             string    `json:"id"`
	ShipmentNumber string    `json:"shipment_number"`
	StockRequestID string    `json:"stock_request_id"`
	Status         string    `json:"status"`
	Quantity       int       `json:"quantity"`
	FromLocation   string    `json:"from_location"`
	ToLocation     string    `json:"to_location"`
	AssignedToID   string    `json:"assigned_to_id"`
	AssignedAt     time.Time `json:"assigned_at"`
	Notes          string    `json:"notes,omitempty"`
}

// AssignResponse returns both sides of the assignment transition.
type AssignResponse struct {
	Request  RequestDTO  `json:"request"`
	Shipment ShipmentDTO `json:"shipment"`
}

// ListResponse wraps a page of requests.
type ListResponse struct {
	Data  []RequestDTO `json:"data"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

// AuditEntryDTO is one line of a request's transition log.
type AuditEntryDTO struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	Annotation string    `json:"annotation,omitempty"`
	At         time.Time `json:"at"`
}

// StatisticsDTO is the per-status request count breakdown.
type StatisticsDTO struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Completed int `json:"completed"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
}

// TokenResponse carries a freshly issued bearer token.
type TokenResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// ErrorResponse is the error envelope all failures use.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toRequestDTO(d workflow.RequestDetail) RequestDTO {
	dto := RequestDTO{
		ID:                d.ID,
		RequestNumber:     d.RequestNumber,
		Type:              string(d.Type),
		Status:            string(d.Status),
		RequestedQuantity: d.RequestedQuantity,
		ApprovedQuantity:  d.ApprovedQuantity,
		Notes:             d.Notes,
		RejectedReason:    d.RejectedReason,
		ExpectedDate:      d.ExpectedDate,
		RequestedDate:     d.RequestedDate,
		CompletedDate:     d.CompletedDate,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Product != nil {
		dto.Product = &ProductDTO{
			ID:       d.Product.ID,
			Code:     d.Product.Code,
			Name:     d.Product.Name,
			Image:    d.Product.Image,
			Quantity: d.Product.Quantity,
		}
	}
	if d.Branch != nil {
		dto.Branch = &BranchDTO{ID: d.Branch.ID, Name: d.Branch.Name, Code: d.Branch.Code}
	}
	if d.RequestedBy != nil {
		dto.RequestedBy = toUserDTO(d.RequestedBy)
	}
	if d.ApprovedBy != nil {
		dto.ApprovedBy = toUserDTO(d.ApprovedBy)
	}
	return dto
}

func toUserDTO(u *workflow.UserRef) *UserDTO {
	return &UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
}

func toShipmentDTO(s *workflow.Shipment) ShipmentDTO {
	return ShipmentDTO{
		ID:             s.ID,
		ShipmentNumber: s.ShipmentNumber,
		StockRequestID: s.StockRequestID,
		Status:         s.Status,
		Quantity:       s.Quantity,
		FromLocation:   s.FromLocation,
		ToLocation:     s.ToLocation,
		AssignedToID:   s.AssignedToID,
		AssignedAt:     s.AssignedAt,
		Notes:          s.Notes,
	}
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lending model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Timestamps:   RFC 3339, UTC
  Calendar days (borrow_date, return_date in requests): YYYY-MM-DD
  Money:        integer rupiah in responses; payment amounts are accepted as
                a JSON number or string and must be a positive whole number

VALIDATION:
  Validation is done in handlers and in the lending service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/borrow-ledger/lending"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ItemRequest creates an item or patches one. On update, absent fields are
// left unchanged.
type ItemRequest struct {
	Name          *string `json:"name"`
	Category      *string `json:"category"`
	Description   *string `json:"description"`
	QuantityTotal *int    `json:"quantity_total"`
	Location      *string `json:"location"`
}

// BorrowLine is one item in a multi-item borrow request.
type BorrowLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// CreateBorrowRequest files one request (item_id) or one per line (items).
// Dates and notes apply to every line.
type CreateBorrowRequest struct {
	ItemID     string       `json:"item_id"`
	Quantity   int          `json:"quantity"`
	Items      []BorrowLine `json:"items"`
	BorrowDate string       `json:"borrow_date"`
	ReturnDate string       `json:"return_date"`
	Notes      string       `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type StartLoanRequest struct {
	ExpectedDays int `json:"expected_days"`
}

type RegisterProfileRequest struct {
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	StudentNumber string `json:"student_number"`
}

type SubmitPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ItemDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category,omitempty"`
	Description       string `json:"description,omitempty"`
	QuantityTotal     int    `json:"quantity_total"`
	QuantityAvailable int    `json:"quantity_available"`
	Location          string `json:"location,omitempty"`
	CreatedBy         string `json:"created_by,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type RequestDTO struct {
	ID               string   `json:"id"`
	StudentID        string   `json:"student_id"`
	ItemID           string   `json:"item_id"`
	Quantity         int      `json:"quantity_requested"`
	Status           string   `json:"status"`
	BorrowDate       *string  `json:"borrow_date"`
	ReturnDate       *string  `json:"return_date"`
	ActualReturnDate *string  `json:"actual_return_date"`
	Fine             int64    `json:"fine"`
	Notes            string   `json:"notes,omitempty"`
	ApprovedBy       string   `json:"approved_by,omitempty"`
	AllowedEvents    []string `json:"allowed_events"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// ReturnDTO is the outcome of marking a loan returned.
type ReturnDTO struct {
	Success  bool       `json:"success"`
	Fine     int64      `json:"fine"`
	DaysLate int        `json:"days_late"`
	Request  RequestDTO `json:"request"`
}

type HistoryDTO struct {
	ID         string  `json:"id"`
	RequestID  string  `json:"request_id"`
	StudentID  string  `json:"student_id"`
	ItemID     string  `json:"item_id"`
	Quantity   int     `json:"quantity"`
	BorrowDate string  `json:"borrow_date"`
	ReturnDate *string `json:"return_date"`
	Status     string  `json:"status"`
	Fine       int64   `json:"fine"`
	CreatedAt  string  `json:"created_at"`
}

type ProfileDTO struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email,omitempty"`
	StudentNumber string `json:"student_number,omitempty"`
	Role          string `json:"role"`
	FineBalance   int64  `json:"fine_balance"`
	CreatedAt     string `json:"created_at"`
}

type PaymentDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type NotificationDTO struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	Type             string `json:"type"`
	IsRead           bool   `json:"is_read"`
	RelatedItemID    string `json:"related_item_id,omitempty"`
	RelatedRequestID string `json:"related_request_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type ItemCountDTO struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Loans  int    `json:"loans"`
}

type SummaryDTO struct {
	TotalItems    int           `json:"total_items"`
	TotalRequests int           `json:"total_requests"`
	ActiveLoans   int           `json:"active_loans"`
	TotalStudents int           `json:"total_students"`
	MostBorrowed  *ItemCountDTO `json:"most_borrowed"`
	Recent        []HistoryDTO  `json:"recent_history"`
}

type WarningDTO struct {
	Op        string `json:"op"`
	Effect    string `json:"effect"`
	RequestID string `json:"request_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

type DriftDTO struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Total    int    `json:"quantity_total"`
	Recorded int    `json:"recorded_available"`
	Expected int    `json:"expected_available"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func stampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := stamp(*t)
	return &s
}

func toItemDTO(i lending.InventoryItem) ItemDTO {
	return ItemDTO{
		ID:                string(i.ID),
		Name:              i.Name,
		Category:          i.Category,
		Description:       i.Description,
		QuantityTotal:     i.QuantityTotal,
		QuantityAvailable: i.QuantityAvailable,
		Location:          i.Location,
		CreatedBy:         string(i.CreatedBy),
		CreatedAt:         stamp(i.CreatedAt),
		UpdatedAt:         stamp(i.UpdatedAt),
	}
}

func toRequestDTO(r lending.BorrowRequest) RequestDTO {
	events := lending.Allowed(r.Status)
	allowed := make([]string, len(events))
	for i, ev := range events {
		allowed[i] = string(ev)
	}
	return RequestDTO{
		ID:               string(r.ID),
		StudentID:        string(r.StudentID),
		ItemID:           string(r.ItemID),
		Quantity:         r.QuantityRequested,
		Status:           string(r.Status),
		BorrowDate:       stampPtr(r.BorrowDate),
		ReturnDate:       stampPtr(r.ReturnDate),
		ActualReturnDate: stampPtr(r.ActualReturnDate),
		Fine:             int64(r.Fine),
		Notes:            r.Notes,
		ApprovedBy:       string(r.ApprovedBy),
		AllowedEvents:    allowed,
		CreatedAt:        stamp(r.CreatedAt),
		UpdatedAt:        stamp(r.UpdatedAt),
	}
}

func toHistoryDTO(h lending.HistoryRecord) HistoryDTO {
	return HistoryDTO{
		ID:         string(h.ID),
		RequestID:  string(h.RequestID),
		StudentID:  string(h.StudentID),
		ItemID:     string(h.ItemID),
		Quantity:   h.Quantity,
		BorrowDate: stamp(h.BorrowDate),
		ReturnDate: stampPtr(h.ReturnDate),
		Status:     string(h.Status),
		Fine:       int64(h.Fine),
		CreatedAt:  stamp(h.CreatedAt),
	}
}

func toProfileDTO(p lending.Profile) ProfileDTO {
	return ProfileDTO{
		ID:            string(p.ID),
		FullName:      p.FullName,
		Email:         p.Email,
		StudentNumber: p.StudentNumber,
		Role:          string(p.Role),
		FineBalance:   int64(p.FineBalance),
		CreatedAt:     stamp(p.CreatedAt),
	}
}

func toPaymentDTO(p lending.PaymentRequest) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		UserID:     string(p.UserID),
		Amount:     int64(p.Amount),
		Status:     string(p.Status),
		ReviewedBy: string(p.ReviewedBy),
		CreatedAt:  stamp(p.CreatedAt),
		UpdatedAt:  stamp(p.UpdatedAt),
	}
}

func toNotificationDTO(n lending.Notification) NotificationDTO {
	return NotificationDTO{
		ID:               string(n.ID),
		Title:            n.Title,
		Message:          n.Message,
		Type:             string(n.Kind),
		IsRead:           n.IsRead,
		RelatedItemID:    string(n.RelatedItemID),
		RelatedRequestID: string(n.RelatedRequestID),
		CreatedAt:        stamp(n.CreatedAt),
	}
}

func toWarningDTO(w lending.Warning) WarningDTO {
	dto := WarningDTO{
		Op:        w.Op,
		Effect:    string(w.Effect),
		RequestID: string(w.RequestID),
		ItemID:    string(w.ItemID),
		UserID:    string(w.UserID),
		Detail:    w.Detail,
		At:        stamp(w.At),
	}
	if w.Err != nil {
		dto.Error = w.Err.Error()
	}
	return dto
}

func toDriftDTOs(drifts []lending.Drift) []DriftDTO {
	out := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		out[i] = DriftDTO{
			ItemID:   string(d.ItemID),
			Name:     d.Name,
			Total:    d.Total,
			Recorded: d.Recorded,
			Expected: d.Expected,
		}
	}
	return out
}

// mapSlice converts a result list, never returning nil so clients get [].
func mapSlice[T, D any](in []T, fn func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

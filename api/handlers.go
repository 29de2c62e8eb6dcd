/*
handlers.go - HTTP API handlers for the borrow/return tracker

PURPOSE:
  Exposes the lending service via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every decision to lending.Service.

ENDPOINTS:
  Items:
    GET    /api/items                   List (?category=&search=&limit=)
    POST   /api/items                   Create (staff)
    GET    /api/items/{id}              Get
    PUT    /api/items/{id}              Update (staff)
    DELETE /api/items/{id}              Delete (staff)

  Requests:
    GET    /api/requests                List (?status=a,b&item_id=&student_id=&limit=)
    POST   /api/requests                File one request or one per line
    GET    /api/requests/{id}           Get
    POST   /api/requests/{id}/approve   Approve and reserve stock (staff)
    POST   /api/requests/{id}/reject    Reject with a reason (staff)
    POST   /api/requests/{id}/borrow    Hand the item over (staff)
    POST   /api/requests/{id}/return    Take it back, charge any fine (staff)

  History, profiles, payments, notifications, analytics, admin:
    see server.go

REQUEST FLOW:
  1. Read the caller from the context (auth.go)
  2. Parse path, query and body
  3. Call the service with the caller
  4. Serialize the result, or map the error with statusFor

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Status mapping and localized messages
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/warp/borrow-ledger/lending"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *lending.Service
	Warnings *lending.WarningLog // recent side-effect failures, may be nil
	Log      *zap.Logger
}

func NewHandler(svc *lending.Service, warnings *lending.WarningLog, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Warnings: warnings, Log: log}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems returns items matching the query.
// GET /api/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := h.Service.ListItems(r.Context(), IdentityFrom(r.Context()), lending.ItemFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(items, toItemDTO))
}

// CreateItem adds an item.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	in := lending.NewItem{
		Name:        deref(req.Name),
		Category:    deref(req.Category),
		Description: deref(req.Description),
		Location:    deref(req.Location),
	}
	if req.QuantityTotal != nil {
		in.QuantityTotal = *req.QuantityTotal
	}

	item, err := h.Service.CreateItem(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

// GetItem returns one item.
// GET /api/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Service.GetItem(r.Context(), IdentityFrom(r.Context()), lending.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// UpdateItem patches an item.
// PUT /api/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.Service.UpdateItem(r.Context(), IdentityFrom(r.Context()), lending.ItemID(chi.URLParam(r, "id")), lending.ItemPatch{
		Name:          req.Name,
		Category:      req.Category,
		Description:   req.Description,
		Location:      req.Location,
		QuantityTotal: req.QuantityTotal,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// DeleteItem removes an item nobody has requested.
// DELETE /api/items/{id}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteItem(r.Context(), IdentityFrom(r.Context()), lending.ItemID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BORROW REQUEST HANDLERS
// =============================================================================

// ListRequests returns requests; students only get their own.
// GET /api/requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := lending.RequestFilter{
		StudentID: lending.UserID(q.Get("student_id")),
		ItemID:    lending.ItemID(q.Get("item_id")),
		Limit:     limit,
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := lending.Status(strings.TrimSpace(part))
			if !st.Valid() {
				h.fail(w, r, &lending.ValidationError{Code: lending.CodeInvalidFilter, Field: "status", Message: fmt.Sprintf("unknown status %q", st)})
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	reqs, err := h.Service.ListRequests(r.Context(), IdentityFrom(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toRequestDTO))
}

// CreateRequest files a borrow request. A body with items files one
// request per line and answers with the list.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateBorrowRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	borrow, err := parseDay("borrow_date", req.BorrowDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	due, err := parseDay("return_date", req.ReturnDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	caller := IdentityFrom(r.Context())

	if len(req.Items) == 0 {
		created, err := h.Service.CreateRequest(r.Context(), caller, lending.NewRequest{
			ItemID: lending.ItemID(req.ItemID), Quantity: req.Quantity,
			BorrowDate: borrow, ReturnDate: due, Notes: req.Notes,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestDTO(*created))
		return
	}

	ins := make([]lending.NewRequest, len(req.Items))
	for i, line := range req.Items {
		ins[i] = lending.NewRequest{
			ItemID: lending.ItemID(line.ItemID), Quantity: line.Quantity,
			BorrowDate: borrow, ReturnDate: due, Notes: req.Notes,
		}
	}
	created, err := h.Service.CreateRequests(r.Context(), caller, ins)
	if err != nil {
		if len(created) > 0 {
			h.Log.Warn("batch borrow request partly filed",
				zap.String("caller", string(caller.UserID)),
				zap.Int("filed", len(created)),
				zap.Int("requested", len(ins)),
				zap.Error(err))
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapSlice(created, toRequestDTO))
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), IdentityFrom(r.Context()), requestID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ApproveRequest reserves stock for a pending request.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Approve(r.Context(), IdentityFrom(r.Context()), requestID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// RejectRequest closes a pending request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if err := decode(r, &body, true); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.Service.Reject(r.Context(), IdentityFrom(r.Context()), requestID(r), body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// StartLoan records the handover of an approved request.
// POST /api/requests/{id}/borrow
func (h *Handler) StartLoan(w http.ResponseWriter, r *http.Request) {
	var body StartLoanRequest
	if err := decode(r, &body, true); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.ExpectedDays < 0 {
		h.fail(w, r, &lending.ValidationError{Code: lending.CodeInvalidPeriod, Field: "expected_days", Message: "expected_days cannot be negative"})
		return
	}
	req, err := h.Service.StartLoan(r.Context(), IdentityFrom(r.Context()), requestID(r), body.ExpectedDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// MarkReturned closes a loan.
// POST /api/requests/{id}/return
func (h *Handler) MarkReturned(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.MarkReturned(r.Context(), IdentityFrom(r.Context()), requestID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReturnDTO{
		Success:  true,
		Fine:     int64(res.Fine),
		DaysLate: res.DaysLate,
		Request:  toRequestDTO(res.Request),
	})
}

// =============================================================================
// HISTORY
// =============================================================================

// ListHistory returns loan records.
// GET /api/history?filter=all|returned|active
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	view, err := lending.ParseHistoryView(r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.Service.ListHistory(r.Context(), IdentityFrom(r.Context()), view, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(recs, toHistoryDTO))
}

// =============================================================================
// PROFILES
// =============================================================================

// GetMyProfile returns the caller's profile.
// GET /api/profiles/me
func (h *Handler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	caller := IdentityFrom(r.Context())
	p, err := h.Service.GetProfile(r.Context(), caller, caller.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// RegisterMyProfile records the caller's sign-up.
// PUT /api/profiles/me
func (h *Handler) RegisterMyProfile(w http.ResponseWriter, r *http.Request) {
	var body RegisterProfileRequest
	if err := decode(r, &body, true); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Service.RegisterProfile(r.Context(), lending.NewProfile{
		ID:            IdentityFrom(r.Context()).UserID,
		FullName:      body.FullName,
		Email:         body.Email,
		StudentNumber: body.StudentNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// ListPendingProfiles returns sign-ups awaiting review.
// GET /api/profiles/pending
func (h *Handler) ListPendingProfiles(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListPendingProfiles(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ps, toProfileDTO))
}

// ListProfilesWithFines returns users owing money.
// GET /api/profiles/fines
func (h *Handler) ListProfilesWithFines(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListProfilesWithFines(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ps, toProfileDTO))
}

// ApproveUser activates a pending account.
// POST /api/profiles/{id}/approve
func (h *Handler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.ApproveUser(r.Context(), IdentityFrom(r.Context()), lending.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// RejectUser closes a pending account.
// POST /api/profiles/{id}/reject
func (h *Handler) RejectUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.RejectUser(r.Context(), IdentityFrom(r.Context()), lending.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ListPayments returns payment requests.
// GET /api/payments?status=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	ps, err := h.Service.ListPayments(r.Context(), IdentityFrom(r.Context()), lending.PaymentFilter{
		UserID: lending.UserID(q.Get("user_id")),
		Status: lending.PaymentStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ps, toPaymentDTO))
}

// SubmitPayment records a claim to have paid part of a fine.
// POST /api/payments
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var body SubmitPaymentRequest
	if err := decode(r, &body, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if !body.Amount.IsPositive() || !body.Amount.IsInteger() {
		h.fail(w, r, &lending.ValidationError{
			Code: lending.CodeInvalidAmount, Field: "amount",
			Message: fmt.Sprintf("amount must be a positive whole number of rupiah, got %s", body.Amount.String()),
		})
		return
	}

	p, err := h.Service.SubmitPayment(r.Context(), IdentityFrom(r.Context()), lending.Money(body.Amount.IntPart()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// ApprovePayment accepts a payment and reduces the fine balance.
// POST /api/payments/{id}/approve
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.ApprovePayment(r.Context(), IdentityFrom(r.Context()), lending.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// RejectPayment declines a payment.
// POST /api/payments/{id}/reject
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.RejectPayment(r.Context(), IdentityFrom(r.Context()), lending.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// ListNotifications returns the caller's notifications.
// GET /api/notifications?unread=true
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	ns, err := h.Service.ListNotifications(r.Context(), IdentityFrom(r.Context()), unread, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ns, toNotificationDTO))
}

// MarkNotificationRead marks one notification read.
// POST /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := lending.NotificationID(chi.URLParam(r, "id"))
	if err := h.Service.MarkNotificationRead(r.Context(), IdentityFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ANALYTICS & ADMIN
// =============================================================================

// GetAnalytics returns the dashboard summary.
// GET /api/analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Summary(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := SummaryDTO{
		TotalItems:    s.TotalItems,
		TotalRequests: s.TotalRequests,
		ActiveLoans:   s.ActiveLoans,
		TotalStudents: s.TotalStudents,
		Recent:        mapSlice(s.Recent, toHistoryDTO),
	}
	if s.MostBorrowed != nil {
		dto.MostBorrowed = &ItemCountDTO{ItemID: string(s.MostBorrowed.ItemID), Name: s.MostBorrowed.Name, Loans: s.MostBorrowed.Loans}
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListWarnings returns recent side-effect failures, newest first.
// GET /api/admin/warnings?limit=
func (h *Handler) ListWarnings(w http.ResponseWriter, r *http.Request) {
	if err := requireStaff(IdentityFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var warns []lending.Warning
	if h.Warnings != nil {
		warns = h.Warnings.Recent(limit)
	}
	writeJSON(w, http.StatusOK, mapSlice(warns, toWarningDTO))
}

// Reconcile repairs inventory drift.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Service.ReconcileInventory(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": toDriftDTOs(drifts)})
}

// =============================================================================
// HELPERS
// =============================================================================

func requireStaff(id lending.Identity) error {
	if !id.Authenticated() {
		return lending.ErrUnauthorized
	}
	if !id.Role.IsStaff() {
		return fmt.Errorf("%w: staff role required", lending.ErrForbidden)
	}
	return nil
}

func requestID(r *http.Request) lending.RequestID {
	return lending.RequestID(chi.URLParam(r, "id"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decode reads a JSON body into v. optional allows an empty body.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return fmt.Errorf("%w: invalid request body: %v", lending.ErrValidation, err)
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &lending.ValidationError{Code: lending.CodeInvalidFilter, Field: "limit", Message: fmt.Sprintf("invalid limit %q", raw)}
	}
	return n, nil
}

// parseDay reads a YYYY-MM-DD calendar day as midnight UTC.
func parseDay(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &lending.ValidationError{Code: lending.CodeInvalidDate, Field: field, Message: fmt.Sprintf("%s %q is not a YYYY-MM-DD date", field, raw)}
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to a status and writes the localized error body.
// Internal errors keep their details out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{
		Error: localize(code, r.Header.Get("Accept-Language")),
		Code:  code,
	}
	if status != http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail writes err and logs it when the fault is ours.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	} else if status == http.StatusConflict && lending.IsRetryable(err) {
		h.Log.Info("request lost a concurrent update",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, r, err)
}

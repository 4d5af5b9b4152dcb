package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/arjun-krishna/counselbook/internal/availability"
	"github.com/arjun-krishna/counselbook/internal/booking"
	"github.com/arjun-krishna/counselbook/internal/model"
)

// BookingService is the application surface the HTTP layer drives.
type BookingService interface {
	Slots(ctx context.Context, counsellorID string, date time.Time) ([]availability.Slot, error)
	Book(ctx context.Context, req booking.BookRequest) (booking.BookResult, error)
	Reconcile(ctx context.Context, req booking.ReconcileRequest) (model.Appointment, error)
	Cancel(ctx context.Context, actor booking.Actor, appointmentID, reason string) (model.Appointment, error)
	Complete(ctx context.Context, actor booking.Actor, appointmentID string) (model.Appointment, error)
	List(ctx context.Context, actor booking.Actor, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	svc      BookingService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(svc BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers the booking endpoints on mux.
func (h *BookingHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
	mux.HandleFunc("/api/v1/payments/verify", h.Verify)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments", h.List)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: msg}})
}

// writeServiceError maps the booking error taxonomy onto HTTP statuses.
func (h *BookingHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "unavailable", err.Error())
	case errors.Is(err, booking.ErrInvalidTiming):
		writeError(w, http.StatusUnprocessableEntity, "invalid_timing", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrPaymentGateway):
		writeError(w, http.StatusBadGateway, "payment_gateway_error", err.Error())
	case errors.Is(err, booking.ErrVerificationFailed):
		writeError(w, http.StatusBadRequest, "payment_verification_failed", err.Error())
	case errors.Is(err, booking.ErrConfiguration):
		writeError(w, http.StatusBadRequest, "configuration_error", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		h.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// actorFrom reads the authenticated party injected by the edge proxy.
func actorFrom(r *http.Request) (booking.Actor, bool) {
	a := booking.Actor{
		ID:   strings.TrimSpace(r.Header.Get("X-Actor-Id")),
		Role: booking.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role"))),
	}
	if a.ID == "" || !a.Role.Valid() {
		return booking.Actor{}, false
	}
	return a, true
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type paymentInfo struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type cancellationInfo struct {
	Reason       string `json:"reason"`
	CancelledBy  string `json:"cancelled_by"`
	CancelledAt  string `json:"cancelled_at"`
	RefundStatus string `json:"refund_status"`
}

type appointmentItem struct {
	AppointmentID string            `json:"appointment_id"`
	ClientID      string            `json:"client_id"`
	CounsellorID  string            `json:"counsellor_id"`
	Date          string            `json:"date"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	SessionType   string            `json:"session_type"`
	Status        string            `json:"status"`
	AmountMinor   int64             `json:"amount_minor"`
	Currency      string            `json:"currency"`
	Payment       paymentInfo       `json:"payment"`
	Cancellation  *cancellationInfo `json:"cancellation,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

func appointmentToItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: a.ID,
		ClientID:      a.ClientID,
		CounsellorID:  a.CounsellorID,
		Date:          a.Date.Format("2006-01-02"),
		StartTime:     a.Start.String(),
		EndTime:       a.End.String(),
		SessionType:   string(a.SessionType),
		Status:        string(a.Status),
		AmountMinor:   a.AmountMinor,
		Currency:      a.Currency,
		Payment: paymentInfo{
			OrderID: a.Payment.OrderID,
			Status:  string(a.Payment.Status),
			Method:  a.Payment.Method,
		},
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.Payment.Timestamp != nil {
		item.Payment.Timestamp = a.Payment.Timestamp.UTC().Format(time.RFC3339)
	}
	if a.Cancellation != nil {
		item.Cancellation = &cancellationInfo{
			Reason:       a.Cancellation.Reason,
			CancelledBy:  string(a.Cancellation.CancelledBy),
			CancelledAt:  a.Cancellation.Timestamp.UTC().Format(time.RFC3339),
			RefundStatus: string(a.Cancellation.RefundStatus),
		}
	}
	return item
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}

	counsellorID := strings.TrimSpace(r.URL.Query().Get("counsellor_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if counsellorID == "" || dateStr == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "counsellor_id and date are required")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.Slots(r.Context(), counsellorID, date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{StartTime: s.Start.String(), EndTime: s.End.String()})
	}
	writeJSON(w, http.StatusOK, items)
}

type bookRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	CounsellorID string `json:"counsellor_id" validate:"required"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	SessionType  string `json:"session_type" validate:"required,oneof=video chat in_person"`
	Notes        string `json:"notes" validate:"max=2000"`
}

type paymentOrderItem struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

type bookResponse struct {
	Appointment  appointmentItem  `json:"appointment"`
	PaymentOrder paymentOrderItem `json:"payment_order"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
		return
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "start_time must be HH:MM")
		return
	}
	end, err := availability.ParseClock(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "end_time must be HH:MM")
		return
	}

	res, err := h.svc.Book(r.Context(), booking.BookRequest{
		ClientID:     strings.TrimSpace(req.ClientID),
		CounsellorID: strings.TrimSpace(req.CounsellorID),
		Date:         date,
		Slot:         availability.Slot{Start: start, End: end},
		SessionType:  model.SessionType(req.SessionType),
		Notes:        strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookResponse{
		Appointment: appointmentToItem(res.Appointment),
		PaymentOrder: paymentOrderItem{
			OrderID:     res.Payment.OrderID,
			AmountMinor: res.Payment.AmountMinor,
			Currency:    res.Payment.Currency,
			KeyID:       res.Payment.KeyID,
		},
	})
}

type verifyRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	OrderID       string `json:"order_id" validate:"required"`
	PaymentID     string `json:"payment_id" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	Method        string `json:"method"`
}

func (h *BookingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	appt, err := h.svc.Reconcile(r.Context(), booking.ReconcileRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		OrderID:       strings.TrimSpace(req.OrderID),
		PaymentID:     strings.TrimSpace(req.PaymentID),
		Signature:     strings.TrimSpace(req.Signature),
		Method:        strings.TrimSpace(req.Method),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=2000"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "missing or invalid actor headers")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	appt, err := h.svc.Cancel(r.Context(), actor, strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

type completeRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "missing or invalid actor headers")
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	appt, err := h.svc.Complete(r.Context(), actor, strings.TrimSpace(req.AppointmentID))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "missing or invalid actor headers")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	appts, err := h.svc.List(r.Context(), actor, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentToItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

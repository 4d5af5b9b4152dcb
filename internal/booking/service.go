package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arjun-krishna/counselbook/internal/availability"
	"github.com/arjun-krishna/counselbook/internal/model"
	"github.com/arjun-krishna/counselbook/internal/payments"
	"github.com/arjun-krishna/counselbook/internal/pricing"
)

// Directory resolves counsellor records; implementations return ErrNotFound
// for unknown ids.
type Directory interface {
	Counsellor(ctx context.Context, id string) (model.Counsellor, error)
}

// ListFilter narrows appointment listings to one party.
type ListFilter struct {
	ClientID     string
	CounsellorID string
	Limit        int
}

// AppointmentStore is the persistence port. Implementations must enforce
// the slot-uniqueness invariant on CreateBooked (returning ErrSlotConflict
// for the losing side of a race) and make Confirm/Cancel/Complete atomic
// with respect to concurrent transitions on the same row.
type AppointmentStore interface {
	ListActive(ctx context.Context, counsellorID string, date time.Time) ([]model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	CreateBooked(ctx context.Context, appt *model.Appointment) error
	Confirm(ctx context.Context, id, method string, at time.Time) (model.Appointment, error)
	Cancel(ctx context.Context, id string, c model.Cancellation) (model.Appointment, error)
	Complete(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, f ListFilter) ([]model.Appointment, error)
	ExpirePending(ctx context.Context, before time.Time) ([]model.Appointment, error)
}

type Config struct {
	SlotDuration time.Duration
	Currency     string
	GatewayKeyID string // public key id the client needs to open checkout
	RefundCutoff time.Duration
	Location     *time.Location
}

func (c *Config) applyDefaults() {
	if c.SlotDuration <= 0 {
		c.SlotDuration = time.Hour
	}
	if c.Currency == "" {
		c.Currency = "INR"
	}
	if c.RefundCutoff <= 0 {
		c.RefundCutoff = 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Service is the single booking entry point consumed by every transport
// adapter. It owns slot queries, the booking transaction, payment
// reconciliation and lifecycle transitions.
type Service struct {
	dir      Directory
	store    AppointmentStore
	gateway  payments.Gateway
	verifier *payments.Verifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(dir Directory, store AppointmentStore, gateway payments.Gateway, verifier *payments.Verifier, logger *slog.Logger, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		dir:      dir,
		store:    store,
		gateway:  gateway,
		verifier: verifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Slots returns the counsellor's free slots for a calendar day: template
// candidates minus overlaps with pending/confirmed appointments.
func (s *Service) Slots(ctx context.Context, counsellorID string, date time.Time) ([]availability.Slot, error) {
	c, err := s.dir.Counsellor(ctx, counsellorID)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.cfg.Location)
	candidates := availability.SlotsForDay(c.Template[date.Weekday()], date, now, s.cfg.SlotDuration)
	if len(candidates) == 0 {
		return []availability.Slot{}, nil
	}

	existing, err := s.store.ListActive(ctx, counsellorID, date)
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Slot, 0, len(existing))
	for _, a := range existing {
		busy = append(busy, a.Slot())
	}
	return availability.FilterConflicts(candidates, busy), nil
}

type BookRequest struct {
	ClientID     string
	CounsellorID string
	Date         time.Time
	Slot         availability.Slot
	SessionType  model.SessionType
	Notes        string
}

// PaymentOrder is what the client needs to complete checkout externally.
type PaymentOrder struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	KeyID       string
}

type BookResult struct {
	Appointment model.Appointment
	Payment     PaymentOrder
}

// Book runs the booking transaction. The requested slot is validated
// against generated availability, priced from the counsellor's fee table,
// backed by a gateway order, and persisted as a pending appointment. The
// write-time uniqueness check in the store — not the read-time availability
// check — is what prevents two near-simultaneous requests from both
// succeeding; the read-time check only avoids creating gateway orders for
// requests that have already lost.
func (s *Service) Book(ctx context.Context, req BookRequest) (BookResult, error) {
	if req.Slot.End <= req.Slot.Start {
		return BookResult{}, fmt.Errorf("%w: slot end must be after start", ErrInvalidTiming)
	}

	c, err := s.dir.Counsellor(ctx, req.CounsellorID)
	if err != nil {
		return BookResult{}, err
	}
	if !c.Bookable() {
		return BookResult{}, fmt.Errorf("counsellor %s: %w", req.CounsellorID, ErrUnavailable)
	}

	now := s.now().In(s.cfg.Location)
	candidates := availability.SlotsForDay(c.Template[req.Date.Weekday()], req.Date, now, s.cfg.SlotDuration)
	if !containsSlot(candidates, req.Slot) {
		// Distinguish "in the past" from "not offered" for the caller.
		if s.pastSlot(req.Date, req.Slot, now) {
			return BookResult{}, fmt.Errorf("%s %s: %w", req.Date.Format("2006-01-02"), req.Slot.Start, ErrInvalidTiming)
		}
		return BookResult{}, fmt.Errorf("slot %s-%s not in counsellor availability: %w", req.Slot.Start, req.Slot.End, ErrSlotConflict)
	}

	existing, err := s.store.ListActive(ctx, req.CounsellorID, req.Date)
	if err != nil {
		return BookResult{}, err
	}
	for _, a := range existing {
		if a.Slot().Overlaps(req.Slot) {
			return BookResult{}, fmt.Errorf("slot %s-%s: %w", req.Slot.Start, req.Slot.End, ErrSlotConflict)
		}
	}

	duration := time.Duration(req.Slot.End-req.Slot.Start) * time.Minute
	amount, err := pricing.Amount(c.Fees, req.SessionType, duration)
	if err != nil {
		return BookResult{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	appt := model.Appointment{
		ID:           uuid.NewString(),
		ClientID:     req.ClientID,
		CounsellorID: req.CounsellorID,
		Date:         req.Date,
		Start:        req.Slot.Start,
		End:          req.Slot.End,
		SessionType:  req.SessionType,
		Status:       model.StatusPending,
		AmountMinor:  amount,
		Currency:     s.cfg.Currency,
		Notes:        req.Notes,
	}

	// Gateway order before persistence: a gateway failure must not leave an
	// appointment behind. The reverse orphan (an unpaid order for a booking
	// that lost the insert race) is unreferenced and expires at the provider.
	order, err := s.gateway.CreateOrder(ctx, amount, s.cfg.Currency, map[string]string{
		"appointment_id": appt.ID,
		"counsellor_id":  req.CounsellorID,
		"client_id":      req.ClientID,
	})
	if err != nil {
		return BookResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	appt.Payment = model.Payment{OrderID: order.ID, Status: model.PaymentPending}

	if err := s.store.CreateBooked(ctx, &appt); err != nil {
		if Retryable(err) {
			s.logger.Warn("booking lost slot race; gateway order abandoned",
				"appointment_id", appt.ID, "order_id", order.ID)
		}
		return BookResult{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"counsellor_id", appt.CounsellorID,
		"date", appt.Date.Format("2006-01-02"),
		"slot", appt.Start.String()+"-"+appt.End.String(),
		"amount_minor", amount,
	)
	return BookResult{
		Appointment: appt,
		Payment: PaymentOrder{
			OrderID:     order.ID,
			AmountMinor: amount,
			Currency:    s.cfg.Currency,
			KeyID:       s.cfg.GatewayKeyID,
		},
	}, nil
}

type ReconcileRequest struct {
	AppointmentID string
	OrderID       string
	PaymentID     string
	Signature     string
	Method        string
}

// Reconcile verifies a payment signature and confirms the appointment.
// Verification happens before any lookup or mutation; a mismatch leaves the
// appointment exactly as it was. Re-submitting a valid signature for an
// already-confirmed appointment is a no-op success.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (model.Appointment, error) {
	if !s.verifier.Verify(req.OrderID, req.PaymentID, req.Signature) {
		s.logger.Warn("payment signature mismatch",
			"appointment_id", req.AppointmentID, "order_id", req.OrderID)
		return model.Appointment{}, fmt.Errorf("order %s: %w", req.OrderID, ErrVerificationFailed)
	}

	appt, err := s.store.Get(ctx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Payment.OrderID != req.OrderID {
		// Valid signature for some order, but not this appointment's.
		s.logger.Warn("payment order mismatch",
			"appointment_id", req.AppointmentID, "order_id", req.OrderID)
		return model.Appointment{}, fmt.Errorf("order %s does not belong to appointment %s: %w",
			req.OrderID, req.AppointmentID, ErrVerificationFailed)
	}
	if appt.Status == model.StatusConfirmed {
		return appt, nil
	}

	confirmed, err := s.store.Confirm(ctx, req.AppointmentID, req.Method, s.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyConfirmed) {
			return confirmed, nil
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment confirmed", "appointment_id", confirmed.ID, "order_id", req.OrderID)
	return confirmed, nil
}

// Cancel transitions an appointment to cancelled on behalf of an actor.
// Refund eligibility: cancellations at least RefundCutoff before the
// session start are refund-pending; later ones are rejected.
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID, reason string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanCancel(actor, appt) {
		return model.Appointment{}, fmt.Errorf("%s %s cancelling appointment %s: %w",
			actor.Role, actor.ID, appointmentID, ErrForbidden)
	}
	if !appt.Status.CanTransition(model.StatusCancelled) {
		return model.Appointment{}, fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, ErrInvalidTransition)
	}

	now := s.now().In(s.cfg.Location)
	refund := model.RefundRejected
	if s.slotStart(appt.Date, appt.Start).Sub(now) >= s.cfg.RefundCutoff {
		refund = model.RefundPending
	}

	cancelled, err := s.store.Cancel(ctx, appointmentID, model.Cancellation{
		Reason:       reason,
		CancelledBy:  actor.cancelActor(),
		Timestamp:    now,
		RefundStatus: refund,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment cancelled",
		"appointment_id", cancelled.ID, "by", string(actor.Role), "refund_status", string(refund))
	return cancelled, nil
}

// Complete marks a confirmed appointment as completed (administrative or
// counsellor-side trigger once the session has happened).
func (s *Service) Complete(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanComplete(actor, appt) {
		return model.Appointment{}, fmt.Errorf("%s %s completing appointment %s: %w",
			actor.Role, actor.ID, appointmentID, ErrForbidden)
	}
	return s.store.Complete(ctx, appointmentID)
}

// List returns the actor's own appointments.
func (s *Service) List(ctx context.Context, actor Actor, limit int) ([]model.Appointment, error) {
	f := ListFilter{Limit: limit}
	switch actor.Role {
	case RoleClient:
		f.ClientID = actor.ID
	case RoleCounsellor:
		f.CounsellorID = actor.ID
	case RoleAdmin:
		// no party filter
	default:
		return nil, fmt.Errorf("role %q: %w", actor.Role, ErrForbidden)
	}
	return s.store.List(ctx, f)
}

func containsSlot(candidates []availability.Slot, slot availability.Slot) bool {
	for _, c := range candidates {
		if c == slot {
			return true
		}
	}
	return false
}

// slotStart anchors a day-local clock time in the booking location.
// Date values carry only calendar components (the HTTP layer and DATE
// columns both produce UTC midnights), so the location must come from
// config, not from Date.
func (s *Service) slotStart(date time.Time, c availability.Clock) time.Time {
	y, m, d := date.Date()
	return c.At(time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location))
}

// pastSlot applies the same boundary rule as the slot generator: a slot
// whose start has been reached (to the minute) is past.
func (s *Service) pastSlot(date time.Time, slot availability.Slot, now time.Time) bool {
	nowFloor := availability.ClockOf(now).At(now)
	return !s.slotStart(date, slot.Start).After(nowFloor)
}

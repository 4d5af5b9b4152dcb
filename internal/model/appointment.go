package model

import (
	"time"

	"github.com/arjun-krishna/counselbook/internal/availability"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition encodes the appointment state machine:
// pending -> confirmed | cancelled; confirmed -> completed | cancelled.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

type SessionType string

const (
	SessionVideo    SessionType = "video"
	SessionChat     SessionType = "chat"
	SessionInPerson SessionType = "in_person"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundRejected RefundStatus = "rejected"
)

type CancelActor string

const (
	CancelledByClient     CancelActor = "client"
	CancelledByCounsellor CancelActor = "counsellor"
	CancelledBySystem     CancelActor = "system"
)

// Payment is the gateway-order sub-record on an appointment.
type Payment struct {
	OrderID   string
	Status    PaymentStatus
	Method    string
	Timestamp *time.Time
}

type Cancellation struct {
	Reason       string
	CancelledBy  CancelActor
	Timestamp    time.Time
	RefundStatus RefundStatus
}

type Appointment struct {
	ID           string
	ClientID     string
	CounsellorID string
	Date         time.Time // calendar day, midnight in the booking location
	Start        availability.Clock
	End          availability.Clock
	SessionType  SessionType
	Status       AppointmentStatus
	AmountMinor  int64 // fixed at creation; never recomputed from fee changes
	Currency     string
	Payment      Payment
	Cancellation *Cancellation
	Notes        string
	CreatedAt    time.Time
}

// Slot returns the appointment's time window.
func (a Appointment) Slot() availability.Slot {
	return availability.Slot{Start: a.Start, End: a.End}
}

// DurationMinutes is derived from the slot boundaries.
func (a Appointment) DurationMinutes() int {
	return int(a.End - a.Start)
}

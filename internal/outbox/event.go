package outbox

import (
	"encoding/json"
	"time"

	"github.com/arjun-krishna/counselbook/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventBooked    = "booking.appointment.booked.v1"
	EventConfirmed = "booking.appointment.confirmed.v1"
	EventCancelled = "booking.appointment.cancelled.v1"
	EventCompleted = "booking.appointment.completed.v1"
)

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	CounsellorID  string `json:"counsellor_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	SessionType   string `json:"session_type"`
	Status        string `json:"status"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	OrderID       string `json:"order_id,omitempty"`
	CancelledBy   string `json:"cancelled_by,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	RefundStatus  string `json:"refund_status,omitempty"`
}

// AppointmentEvent builds the canonical event for an appointment state
// change. Every mutation path emits through this single builder so payloads
// cannot drift between the booking service and the pending reaper.
func AppointmentEvent(eventType string, appt model.Appointment) Event {
	p := appointmentPayload{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		CounsellorID:  appt.CounsellorID,
		Date:          appt.Date.Format("2006-01-02"),
		StartTime:     appt.Start.String(),
		EndTime:       appt.End.String(),
		SessionType:   string(appt.SessionType),
		Status:        string(appt.Status),
		AmountMinor:   appt.AmountMinor,
		Currency:      appt.Currency,
		OrderID:       appt.Payment.OrderID,
	}
	if c := appt.Cancellation; c != nil {
		p.CancelledBy = string(c.CancelledBy)
		p.CancelReason = c.Reason
		p.RefundStatus = string(c.RefundStatus)
	}
	payload, _ := json.Marshal(p)
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

// Record is a persisted outbox row awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

package booking

import "errors"

// Sentinel errors for the booking core. Callers match with errors.Is;
// lower layers wrap these with context via %w.
var (
	// ErrNotFound: counsellor or appointment id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable: counsellor exists but is unverified or inactive.
	ErrUnavailable = errors.New("counsellor unavailable")

	// ErrInvalidTiming: requested date or start time is in the past.
	ErrInvalidTiming = errors.New("requested time is in the past")

	// ErrSlotConflict: the requested slot is no longer free. Retryable by
	// the caller after re-fetching the slot list; never retried here.
	ErrSlotConflict = errors.New("slot already booked")

	// ErrPaymentGateway: gateway order creation failed. No appointment is
	// persisted when this is returned.
	ErrPaymentGateway = errors.New("payment gateway order failed")

	// ErrVerificationFailed: reconciliation signature mismatch. The
	// appointment stays pending; worth flagging for audit.
	ErrVerificationFailed = errors.New("payment verification failed")

	// ErrConfiguration: fee missing for the requested session type.
	ErrConfiguration = errors.New("booking configuration error")

	// ErrInvalidTransition: the appointment is in a state that does not
	// allow the requested transition (terminal-state guard included).
	ErrInvalidTransition = errors.New("invalid appointment state transition")

	// ErrAlreadyConfirmed: reconciliation hit an appointment that is
	// already confirmed. Treated as an idempotent success upstream.
	ErrAlreadyConfirmed = errors.New("appointment already confirmed")

	// ErrForbidden: the acting party does not own the appointment.
	ErrForbidden = errors.New("actor may not perform this action")
)

// Retryable reports whether the caller may succeed by re-fetching slots and
// resubmitting. Nothing in this package retries automatically.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotConflict)
}

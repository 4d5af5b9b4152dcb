package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arjun-krishna/counselbook/internal/availability"
	"github.com/arjun-krishna/counselbook/internal/booking"
	"github.com/arjun-krishna/counselbook/internal/model"
	"github.com/arjun-krishna/counselbook/internal/outbox"
	"github.com/arjun-krishna/counselbook/libs/db"
)

// Repository persists appointments. Every state change writes its outbox
// event in the same transaction, and the slot-uniqueness invariant is
// enforced by a partial unique index over (counsellor_id, date, start_time,
// end_time) restricted to pending/confirmed rows — a violated insert is the
// losing side of a booking race.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

const appointmentColumns = `
	id::text, client_id::text, counsellor_id::text, date, start_time, end_time,
	session_type, status, amount_minor, currency,
	COALESCE(payment_order_id, ''), payment_status, COALESCE(payment_method, ''), payment_at,
	cancelled_by, cancel_reason, cancelled_at, refund_status,
	notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var a model.Appointment
	var startStr, endStr string
	var paymentAt *time.Time
	var cancelledBy, cancelReason, refundStatus *string
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID, &a.ClientID, &a.CounsellorID, &a.Date, &startStr, &endStr,
		&a.SessionType, &a.Status, &a.AmountMinor, &a.Currency,
		&a.Payment.OrderID, &a.Payment.Status, &a.Payment.Method, &paymentAt,
		&cancelledBy, &cancelReason, &cancelledAt, &refundStatus,
		&a.Notes, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if a.Start, err = availability.ParseClock(startStr); err != nil {
		return model.Appointment{}, err
	}
	if a.End, err = availability.ParseClock(endStr); err != nil {
		return model.Appointment{}, err
	}
	a.Payment.Timestamp = paymentAt
	if cancelledBy != nil && cancelledAt != nil {
		c := &model.Cancellation{
			CancelledBy: model.CancelActor(*cancelledBy),
			Timestamp:   *cancelledAt,
		}
		if cancelReason != nil {
			c.Reason = *cancelReason
		}
		if refundStatus != nil {
			c.RefundStatus = model.RefundStatus(*refundStatus)
		}
		a.Cancellation = c
	}
	return a, nil
}

// ListActive returns pending and confirmed appointments for a counsellor on
// a calendar day, ordered by start time. Cancelled rows do not block slots.
func (r *Repository) ListActive(ctx context.Context, counsellorID string, date time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE counsellor_id = $1
			AND date = $2
			AND status IN ('pending', 'confirmed')
		ORDER BY start_time ASC
	`, counsellorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *Repository) Get(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
	}
	return a, err
}

// CreateBooked inserts a pending appointment and its booked event in one
// transaction. A unique-index violation means another request won the slot.
func (r *Repository) CreateBooked(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, client_id, counsellor_id, date, start_time, end_time,
			 session_type, status, amount_minor, currency,
			 payment_order_id, payment_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, $10, 'pending', $11)
		RETURNING created_at
	`, appt.ID, appt.ClientID, appt.CounsellorID, appt.Date,
		appt.Start.String(), appt.End.String(),
		appt.SessionType, appt.AmountMinor, appt.Currency,
		appt.Payment.OrderID, appt.Notes).Scan(&appt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("counsellor %s at %s %s: %w",
				appt.CounsellorID, appt.Date.Format("2006-01-02"), appt.Start, booking.ErrSlotConflict)
		}
		return err
	}
	appt.Status = model.StatusPending
	appt.Payment.Status = model.PaymentPending

	if err := r.outbox.Insert(ctx, tx, outbox.AppointmentEvent(outbox.EventBooked, *appt)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Confirm flips a pending appointment to confirmed and completes its payment
// record. The row is locked first so a concurrent cancellation and a
// confirmation cannot interleave: whichever commits first wins and the loser
// observes the new state.
func (r *Repository) Confirm(ctx context.Context, id, method string, at time.Time) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.getForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	switch appt.Status {
	case model.StatusConfirmed:
		return appt, fmt.Errorf("appointment %s: %w", id, booking.ErrAlreadyConfirmed)
	case model.StatusCancelled, model.StatusCompleted:
		return appt, fmt.Errorf("appointment %s is %s: %w", id, appt.Status, booking.ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
			payment_status = 'completed',
			payment_method = $2,
			payment_at = $3
		WHERE id = $1
	`, id, method, at)
	if err != nil {
		return model.Appointment{}, err
	}

	appt.Status = model.StatusConfirmed
	appt.Payment.Status = model.PaymentCompleted
	appt.Payment.Method = method
	appt.Payment.Timestamp = &at

	if err := r.outbox.Insert(ctx, tx, outbox.AppointmentEvent(outbox.EventConfirmed, appt)); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel transitions a pending or confirmed appointment to cancelled.
// Terminal states reject. The status flip alone releases the slot, since
// availability is derived from non-cancelled rows.
func (r *Repository) Cancel(ctx context.Context, id string, c model.Cancellation) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.getForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransition(model.StatusCancelled) {
		return appt, fmt.Errorf("appointment %s is %s: %w", id, appt.Status, booking.ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_by = $2,
			cancel_reason = $3,
			cancelled_at = $4,
			refund_status = $5
		WHERE id = $1
	`, id, string(c.CancelledBy), c.Reason, c.Timestamp, string(c.RefundStatus))
	if err != nil {
		return model.Appointment{}, err
	}

	appt.Status = model.StatusCancelled
	appt.Cancellation = &c

	if err := r.outbox.Insert(ctx, tx, outbox.AppointmentEvent(outbox.EventCancelled, appt)); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Complete marks a confirmed appointment as completed.
func (r *Repository) Complete(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.getForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusConfirmed {
		return appt, fmt.Errorf("appointment %s is %s: %w", id, appt.Status, booking.ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx, `UPDATE appointments SET status = 'completed' WHERE id = $1`, id); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCompleted

	if err := r.outbox.Insert(ctx, tx, outbox.AppointmentEvent(outbox.EventCompleted, appt)); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// List returns appointments for one party, newest first.
func (r *Repository) List(ctx context.Context, f booking.ListFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR client_id::text = $1)
			AND ($2 = '' OR counsellor_id::text = $2)
		ORDER BY date DESC, start_time DESC
		LIMIT $3
	`, f.ClientID, f.CounsellorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// ExpirePending cancels pending appointments created before the cutoff whose
// payment never completed, releasing their slots. One conditional UPDATE, so
// a concurrent confirmation that commits first is untouched.
func (r *Repository) ExpirePending(ctx context.Context, before time.Time) ([]model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_by = 'system',
			cancel_reason = 'payment not completed in time',
			cancelled_at = now(),
			refund_status = 'rejected'
		WHERE status = 'pending'
			AND payment_status = 'pending'
			AND created_at < $1
		RETURNING `+appointmentColumns+`
	`, before)
	if err != nil {
		return nil, err
	}
	var expired []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, a)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for _, a := range expired {
		if err := r.outbox.Insert(ctx, tx, outbox.AppointmentEvent(outbox.EventCancelled, a)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *Repository) getForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	a, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
	}
	return a, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arjun-krishna/counselbook/internal/availability"
	"github.com/arjun-krishna/counselbook/internal/model"
	"github.com/arjun-krishna/counselbook/internal/payments"
)

func mustClock(t *testing.T, s string) availability.Clock {
	t.Helper()
	c, err := availability.ParseClock(s)
	if err != nil {
		t.Fatalf("ParseClock(%q): %v", s, err)
	}
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDirectory struct {
	counsellors map[string]model.Counsellor
}

func (d *fakeDirectory) Counsellor(_ context.Context, id string) (model.Counsellor, error) {
	c, ok := d.counsellors[id]
	if !ok {
		return model.Counsellor{}, fmt.Errorf("counsellor %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// fakeStore mimics the persistence layer, including the slot-uniqueness
// constraint over non-cancelled appointments.
type fakeStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: map[string]model.Appointment{}}
}

func (s *fakeStore) put(a model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[a.ID] = a
}

func (s *fakeStore) ListActive(_ context.Context, counsellorID string, date time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.CounsellorID == counsellorID && a.Date.Equal(date) &&
			(a.Status == model.StatusPending || a.Status == model.StatusConfirmed) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *fakeStore) CreateBooked(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appts {
		if a.CounsellorID == appt.CounsellorID && a.Date.Equal(appt.Date) &&
			a.Start == appt.Start && a.End == appt.End &&
			(a.Status == model.StatusPending || a.Status == model.StatusConfirmed) {
			return fmt.Errorf("slot %s-%s: %w", appt.Start, appt.End, ErrSlotConflict)
		}
	}
	appt.CreatedAt = time.Now()
	s.appts[appt.ID] = *appt
	return nil
}

func (s *fakeStore) Confirm(_ context.Context, id, method string, at time.Time) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	switch a.Status {
	case model.StatusConfirmed:
		return a, fmt.Errorf("appointment %s: %w", id, ErrAlreadyConfirmed)
	case model.StatusCancelled, model.StatusCompleted:
		return model.Appointment{}, fmt.Errorf("appointment %s is %s: %w", id, a.Status, ErrInvalidTransition)
	}
	a.Status = model.StatusConfirmed
	a.Payment.Status = model.PaymentCompleted
	a.Payment.Method = method
	a.Payment.Timestamp = &at
	s.appts[id] = a
	return a, nil
}

func (s *fakeStore) Cancel(_ context.Context, id string, c model.Cancellation) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if !a.Status.CanTransition(model.StatusCancelled) {
		return model.Appointment{}, fmt.Errorf("appointment %s is %s: %w", id, a.Status, ErrInvalidTransition)
	}
	a.Status = model.StatusCancelled
	a.Cancellation = &c
	s.appts[id] = a
	return a, nil
}

func (s *fakeStore) Complete(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if a.Status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("appointment %s is %s: %w", id, a.Status, ErrInvalidTransition)
	}
	a.Status = model.StatusCompleted
	s.appts[id] = a
	return a, nil
}

func (s *fakeStore) List(_ context.Context, f ListFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if f.ClientID != "" && a.ClientID != f.ClientID {
			continue
		}
		if f.CounsellorID != "" && a.CounsellorID != f.CounsellorID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) ExpirePending(_ context.Context, before time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for id, a := range s.appts {
		if a.Status == model.StatusPending && a.Payment.Status == model.PaymentPending && a.CreatedAt.Before(before) {
			a.Status = model.StatusCancelled
			a.Cancellation = &model.Cancellation{
				Reason:       "payment not completed in time",
				CancelledBy:  model.CancelledBySystem,
				Timestamp:    time.Now(),
				RefundStatus: model.RefundRejected,
			}
			s.appts[id] = a
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu     sync.Mutex
	orders int
	fail   error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency string, _ map[string]string) (payments.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return payments.Order{}, g.fail
	}
	g.orders++
	return payments.Order{
		ID:          fmt.Sprintf("order_%d", g.orders),
		AmountMinor: amountMinor,
		Currency:    currency,
	}, nil
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders
}

const testSecret = "test-webhook-secret"

type fixture struct {
	svc     *Service
	dir     *fakeDirectory
	store   *fakeStore
	gateway *fakeGateway
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureIn(t, time.UTC)
}

func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	// Tuesday 2026-03-10, 08:00 in the booking location.
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)
	dir := &fakeDirectory{counsellors: map[string]model.Counsellor{
		"c1": {
			ID:       "c1",
			Name:     "Dr. Rao",
			Verified: true,
			Active:   true,
			Fees:     model.FeeTable{Video: 1000, Chat: 600},
			Template: availability.WeekTemplate{
				time.Tuesday: {Available: true, Start: mustClock(t, "09:00"), End: mustClock(t, "12:00")},
			},
		},
	}}
	store := newFakeStore()
	gateway := &fakeGateway{}
	svc := NewService(dir, store, gateway, payments.NewVerifier(testSecret), discardLogger(), Config{
		SlotDuration: time.Hour,
		Currency:     "INR",
		GatewayKeyID: "key_test",
		RefundCutoff: 24 * time.Hour,
		Location:     loc,
	})
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, dir: dir, store: store, gateway: gateway, now: now}
}

func (f *fixture) day() time.Time {
	return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) bookReq(t *testing.T, start, end string) BookRequest {
	t.Helper()
	return BookRequest{
		ClientID:     "u1",
		CounsellorID: "c1",
		Date:         f.day(),
		Slot:         availability.Slot{Start: mustClock(t, start), End: mustClock(t, end)},
		SessionType:  model.SessionVideo,
	}
}

func TestSlots_FiltersBookedAndPast(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.Appointment{
		ID: "a1", CounsellorID: "c1", Date: f.day(),
		Start: mustClock(t, "10:00"), End: mustClock(t, "11:00"),
		Status: model.StatusConfirmed,
	})

	slots, err := f.svc.Slots(context.Background(), "c1", f.day())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []string{"09:00-10:00", "11:00-12:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %v, got %d slots", want, len(slots))
	}
	for i, w := range want {
		got := slots[i].Start.String() + "-" + slots[i].End.String()
		if got != w {
			t.Fatalf("slot %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestSlots_UnknownCounsellor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Slots(context.Background(), "nope", f.day()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBook_Succeeds(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if res.Appointment.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", res.Appointment.Status)
	}
	if res.Appointment.AmountMinor != 1000 {
		t.Fatalf("expected amount 1000, got %d", res.Appointment.AmountMinor)
	}
	if res.Payment.OrderID == "" || res.Payment.OrderID != res.Appointment.Payment.OrderID {
		t.Fatalf("payment order id mismatch: %q vs %q", res.Payment.OrderID, res.Appointment.Payment.OrderID)
	}
	if res.Payment.KeyID != "key_test" || res.Payment.Currency != "INR" {
		t.Fatalf("unexpected payment order %+v", res.Payment)
	}
	if _, err := f.store.Get(context.Background(), res.Appointment.ID); err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
}

func TestBook_ConcurrentSameSlotOnlyOneWins(t *testing.T) {
	f := newFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.bookReq(t, "09:00", "10:00")
			req.ClientID = fmt.Sprintf("u%d", i)
			_, errs[i] = f.svc.Book(context.Background(), req)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestBook_PastSlotRejected(t *testing.T) {
	f := newFixture(t)
	req := f.bookReq(t, "09:00", "10:00")
	// now is 09:30: the 09:00 slot has started.
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC) }
	if _, err := f.svc.Book(context.Background(), req); !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("expected ErrInvalidTiming, got %v", err)
	}
	if f.gateway.orderCount() != 0 {
		t.Fatal("no gateway order should be created for a past slot")
	}
}

func TestBook_PastDateRejected(t *testing.T) {
	f := newFixture(t)
	req := f.bookReq(t, "09:00", "10:00")
	req.Date = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC) // previous Tuesday
	if _, err := f.svc.Book(context.Background(), req); !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("expected ErrInvalidTiming, got %v", err)
	}
}

func TestBook_OffTemplateSlotRejected(t *testing.T) {
	f := newFixture(t)
	req := f.bookReq(t, "14:00", "15:00")
	if _, err := f.svc.Book(context.Background(), req); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict for off-template slot, got %v", err)
	}
}

func TestBook_UnverifiedCounsellorUnavailable(t *testing.T) {
	f := newFixture(t)
	c := f.dir.counsellors["c1"]
	c.Verified = false
	f.dir.counsellors["c1"] = c
	if _, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBook_MissingFeeIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	req := f.bookReq(t, "09:00", "10:00")
	req.SessionType = model.SessionInPerson // no in-person fee configured
	if _, err := f.svc.Book(context.Background(), req); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if f.gateway.orderCount() != 0 {
		t.Fatal("no gateway order should be created without a fee")
	}
}

func TestBook_GatewayFailureLeavesNoAppointment(t *testing.T) {
	f := newFixture(t)
	f.gateway.fail = errors.New("gateway down")
	_, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
	appts, _ := f.store.List(context.Background(), ListFilter{})
	if len(appts) != 0 {
		t.Fatalf("gateway failure must not persist an appointment, found %d", len(appts))
	}
}

func TestReconcile_ConfirmsOnValidSignature(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	v := payments.NewVerifier(testSecret)
	appt, err := f.svc.Reconcile(context.Background(), ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       res.Payment.OrderID,
		PaymentID:     "pay_1",
		Signature:     v.Signature(res.Payment.OrderID, "pay_1"),
		Method:        "card",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
	if appt.Payment.Status != model.PaymentCompleted || appt.Payment.Method != "card" || appt.Payment.Timestamp == nil {
		t.Fatalf("payment record not updated: %+v", appt.Payment)
	}
}

func TestReconcile_InvalidSignatureLeavesPending(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	_, err = f.svc.Reconcile(context.Background(), ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       res.Payment.OrderID,
		PaymentID:     "pay_1",
		Signature:     "deadbeef",
	})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	appt, _ := f.store.Get(context.Background(), res.Appointment.ID)
	if appt.Status != model.StatusPending || appt.Payment.Status != model.PaymentPending {
		t.Fatalf("failed verification must not mutate the appointment: %+v", appt)
	}
}

func TestReconcile_OrderMismatchRejected(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// Valid signature, but for a different order than the appointment's.
	v := payments.NewVerifier(testSecret)
	_, err = f.svc.Reconcile(context.Background(), ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       "order_other",
		PaymentID:     "pay_1",
		Signature:     v.Signature("order_other", "pay_1"),
	})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	v := payments.NewVerifier(testSecret)
	req := ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       res.Payment.OrderID,
		PaymentID:     "pay_1",
		Signature:     v.Signature(res.Payment.OrderID, "pay_1"),
		Method:        "card",
	}
	if _, err := f.svc.Reconcile(context.Background(), req); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	appt, err := f.svc.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat Reconcile must succeed: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
}

func TestReconcile_CancelledAppointmentNotResurrected(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), Actor{ID: "u1", Role: RoleClient}, res.Appointment.ID, "changed plans"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	v := payments.NewVerifier(testSecret)
	_, err = f.svc.Reconcile(context.Background(), ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       res.Payment.OrderID,
		PaymentID:     "pay_1",
		Signature:     v.Signature(res.Payment.OrderID, "pay_1"),
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	appt, _ := f.store.Get(context.Background(), res.Appointment.ID)
	if appt.Status != model.StatusCancelled {
		t.Fatalf("cancelled appointment must stay cancelled, got %s", appt.Status)
	}
}

func TestCancel_RefundEligibility(t *testing.T) {
	f := newFixture(t)
	book := func(start, end string) model.Appointment {
		res, err := f.svc.Book(context.Background(), f.bookReq(t, start, end))
		if err != nil {
			t.Fatalf("Book: %v", err)
		}
		return res.Appointment
	}

	// Session is tomorrow relative to the cancel instant: eligible.
	early := book("09:00", "10:00")
	f.svc.now = func() time.Time { return f.now.Add(-30 * time.Hour) }
	got, err := f.svc.Cancel(context.Background(), Actor{ID: "u1", Role: RoleClient}, early.ID, "rescheduling")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Cancellation == nil || got.Cancellation.RefundStatus != model.RefundPending {
		t.Fatalf("expected refund pending for early cancel, got %+v", got.Cancellation)
	}

	// Two hours before start: no refund.
	f.svc.now = func() time.Time { return f.now }
	late := book("10:00", "11:00")
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	got, err = f.svc.Cancel(context.Background(), Actor{ID: "u1", Role: RoleClient}, late.ID, "cold feet")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Cancellation == nil || got.Cancellation.RefundStatus != model.RefundRejected {
		t.Fatalf("expected refund rejected for late cancel, got %+v", got.Cancellation)
	}
	if got.Cancellation.CancelledBy != model.CancelledByClient {
		t.Fatalf("expected cancelled_by client, got %s", got.Cancellation.CancelledBy)
	}
}

func TestCancel_RefundCutoffUsesBookingLocation(t *testing.T) {
	ist := time.FixedZone("IST", int((5*time.Hour + 30*time.Minute).Seconds()))
	f := newFixtureIn(t, ist)

	// Date rows come back from the store as UTC midnights; the session
	// still starts at 10:00 in the booking location.
	seed := func(id string) {
		f.store.put(model.Appointment{
			ID: id, ClientID: "u1", CounsellorID: "c1",
			Date:  time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			Start: mustClock(t, "10:00"), End: mustClock(t, "11:00"),
			Status:  model.StatusPending,
			Payment: model.Payment{OrderID: "order_x", Status: model.PaymentPending},
		})
	}
	actor := Actor{ID: "u1", Role: RoleClient}

	// 20 hours before the local start: inside the cutoff, no refund.
	seed("a-late")
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, ist) }
	got, err := f.svc.Cancel(context.Background(), actor, "a-late", "late")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Cancellation.RefundStatus != model.RefundRejected {
		t.Fatalf("20h before local start: expected refund rejected, got %q", got.Cancellation.RefundStatus)
	}

	// 25 hours before the local start: eligible.
	seed("a-early")
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, ist) }
	got, err = f.svc.Cancel(context.Background(), actor, "a-early", "early")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Cancellation.RefundStatus != model.RefundPending {
		t.Fatalf("25h before local start: expected refund pending, got %q", got.Cancellation.RefundStatus)
	}
}

func TestBook_PastSlotInBookingLocation(t *testing.T) {
	ist := time.FixedZone("IST", int((5*time.Hour + 30*time.Minute).Seconds()))
	f := newFixtureIn(t, ist)

	// 09:30 local: the 09:00 slot has started even though it is 04:00 UTC.
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 30, 0, 0, ist) }
	if _, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00")); !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("expected ErrInvalidTiming, got %v", err)
	}
}

func TestCancel_TerminalStatesRejected(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	actor := Actor{ID: "u1", Role: RoleClient}
	if _, err := f.svc.Cancel(context.Background(), actor, res.Appointment.ID, "first"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), actor, res.Appointment.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double cancel, got %v", err)
	}
}

func TestCancel_ForeignAppointmentForbidden(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	_, err = f.svc.Cancel(context.Background(), Actor{ID: "u2", Role: RoleClient}, res.Appointment.ID, "not mine")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestComplete_OnlyConfirmed(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	counsellor := Actor{ID: "c1", Role: RoleCounsellor}

	if _, err := f.svc.Complete(context.Background(), counsellor, res.Appointment.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending appointment must not complete, got %v", err)
	}

	v := payments.NewVerifier(testSecret)
	if _, err := f.svc.Reconcile(context.Background(), ReconcileRequest{
		AppointmentID: res.Appointment.ID,
		OrderID:       res.Payment.OrderID,
		PaymentID:     "pay_1",
		Signature:     v.Signature(res.Payment.OrderID, "pay_1"),
	}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, err := f.svc.Complete(context.Background(), Actor{ID: "u1", Role: RoleClient}, res.Appointment.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("client must not complete, got %v", err)
	}
	appt, err := f.svc.Complete(context.Background(), counsellor, res.Appointment.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if appt.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", appt.Status)
	}
}

func TestCancelledSlotBecomesBookableAgain(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), Actor{ID: "u1", Role: RoleClient}, res.Appointment.ID, "freed up"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	slots, err := f.svc.Slots(context.Background(), "c1", f.day())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	found := false
	for _, s := range slots {
		if s.Start == mustClock(t, "09:00") {
			found = true
		}
	}
	if !found {
		t.Fatal("cancelled slot must reappear in availability")
	}
	if _, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00")); err != nil {
		t.Fatalf("rebooking a cancelled slot: %v", err)
	}
}

func TestList_ScopedToActor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00")); err != nil {
		t.Fatalf("Book: %v", err)
	}
	req := f.bookReq(t, "10:00", "11:00")
	req.ClientID = "u2"
	if _, err := f.svc.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}

	mine, err := f.svc.List(context.Background(), Actor{ID: "u1", Role: RoleClient}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].ClientID != "u1" {
		t.Fatalf("expected only u1's appointment, got %d", len(mine))
	}

	all, err := f.svc.List(context.Background(), Actor{ID: "admin", Role: RoleAdmin}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin should see both appointments, got %d", len(all))
	}
}

func TestReaper_ExpiresStalePendingBookings(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), f.bookReq(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	r := NewReaper(f.store, discardLogger(), 30*time.Minute)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	r.sweep(context.Background())

	appt, _ := f.store.Get(context.Background(), res.Appointment.ID)
	if appt.Status != model.StatusCancelled {
		t.Fatalf("stale pending booking should be cancelled, got %s", appt.Status)
	}
	if appt.Cancellation == nil || appt.Cancellation.CancelledBy != model.CancelledBySystem {
		t.Fatalf("expected system cancellation, got %+v", appt.Cancellation)
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/testutil"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"
)

type mockSender struct {
	mu        sync.Mutex
	connected bool
	failFor   map[string]error
	statusErr error
	sent      []string
	statuses  []whatsapp.Payload
	onSend    func(to string)
}

func (m *mockSender) IsConnected() bool { return m.connected }

func (m *mockSender) Send(ctx context.Context, to string, p whatsapp.Payload) error {
	if m.onSend != nil {
		m.onSend(to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *mockSender) SendStatus(ctx context.Context, p whatsapp.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses = append(m.statuses, p)
	return nil
}

type fixture struct {
	svc      *Service
	disp     *Dispatcher
	sender   *mockSender
	recorder *testutil.Recorder
	sleeps   []time.Duration
	base     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:   &mockSender{connected: true, failFor: map[string]error{}},
		recorder: testutil.NewRecorder(16),
		base:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(testutil.NewDB(t), testutil.Logger())
	f.svc.now = func() time.Time { return f.base }
	bus := events.NewBus(testutil.Logger(), f.recorder)
	f.disp = NewDispatcher(f.svc, f.sender, bus, Delays{Individual: time.Second, Group: 2 * time.Second}, testutil.Logger())
	f.disp.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

// advance moves the clock past every schedule created so far.
func (f *fixture) advance(d time.Duration) {
	f.base = f.base.Add(d)
}

func recipients(jids ...string) []RecipientInput {
	out := make([]RecipientInput, len(jids))
	for i, j := range jids {
		out[i] = RecipientInput{Recipient: j}
	}
	return out
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.base.Add(time.Hour)

	cases := []struct {
		name string
		req  ScheduleRequest
	}{
		{"past", ScheduleRequest{Message: "hi", Kind: models.KindText, At: f.base.Add(-time.Minute), Recipients: recipients("22670000000")}},
		{"no recipients", ScheduleRequest{Message: "hi", Kind: models.KindText, At: future}},
		{"status with recipients", ScheduleRequest{Message: "hi", Kind: models.KindStatus, At: future, Recipients: recipients("22670000000")}},
		{"image without url", ScheduleRequest{Message: "hi", Kind: models.KindImage, At: future, Recipients: recipients("22670000000")}},
		{"bad recipient", ScheduleRequest{Message: "hi", Kind: models.KindText, At: future, Recipients: recipients("nope")}},
	}
	for _, c := range cases {
		if _, err := f.svc.Schedule(ctx, c.req); !errors.Is(err, apperrors.InvalidSchedule) {
			t.Errorf("%s: err = %v, want InvalidSchedule", c.name, err)
		}
	}

	msg, err := f.svc.Schedule(ctx, ScheduleRequest{
		Message:    "Promo",
		Kind:       models.KindText,
		At:         future,
		Recipients: recipients("+226 70 00 00 00", "120363025@g.us"),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if msg.Recipients[0].Type != models.RecipientIndividual || msg.Recipients[1].Type != models.RecipientGroup {
		t.Fatalf("recipient types = %s, %s", msg.Recipients[0].Type, msg.Recipients[1].Type)
	}
}

func TestStatusBroadcastWithoutRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.svc.Schedule(ctx, ScheduleRequest{
		Message:  "Nouveaux gateaux",
		MediaURL: "https://cdn.example/promo.mp4",
		Kind:     models.KindStatus,
		At:       f.base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	f.advance(2 * time.Minute)

	if err := f.disp.ProcessDue(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.ScheduleSent || len(got.Recipients) != 0 {
		t.Fatalf("schedule = %+v", got)
	}
	if len(f.sender.statuses) != 1 || f.sender.statuses[0].Kind != whatsapp.PayloadVideo {
		t.Fatalf("statuses = %+v", f.sender.statuses)
	}
	if types := f.recorder.Types(); len(types) != 1 || types[0] != events.TypeScheduleProcessed {
		t.Fatalf("events = %v", types)
	}
}

func TestStatusBroadcastFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.statusErr = errors.New("upload rejected")
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "hello", Kind: models.KindStatus, At: f.base.Add(time.Minute)})
	f.advance(time.Hour)

	f.disp.ProcessDue(ctx)
	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.ScheduleFailed || got.Error != "upload rejected" {
		t.Fatalf("schedule = %+v", got)
	}
}

func TestSingleRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "Votre commande est prete", Kind: models.KindText, At: f.base.Add(time.Minute), Recipients: recipients("22670000000")})
	f.advance(time.Minute)

	f.disp.ProcessDue(ctx)
	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.ScheduleSent || got.SentAt == nil {
		t.Fatalf("schedule = %+v", got)
	}
	if got.Recipients[0].Status != models.ScheduleSent {
		t.Fatalf("recipient = %+v", got.Recipients[0])
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != time.Second {
		t.Fatalf("sleeps = %v", f.sleeps)
	}
}

func TestPartialFailureKeepsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jids := []string{"22670000001", "22670000002", "22670000003", "22670000004", "120363025@g.us"}
	f.sender.failFor["22670000002@s.whatsapp.net"] = errors.New("not on whatsapp")
	f.sender.failFor["22670000004@s.whatsapp.net"] = errors.New("timeout")

	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "Promo", Kind: models.KindText, At: f.base.Add(time.Minute), Recipients: recipients(jids...)})
	f.advance(time.Minute)

	if err := f.disp.ProcessDue(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := f.svc.Get(ctx, msg.ID)

	var sent, failed int
	for _, r := range got.Recipients {
		switch r.Status {
		case models.ScheduleSent:
			sent++
		case models.ScheduleFailed:
			failed++
		default:
			t.Fatalf("recipient %s left %s", r.Recipient, r.Status)
		}
	}
	if sent != 3 || failed != 2 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
	if got.Status != models.ScheduleSent {
		t.Fatalf("parent status = %s, want SENT once no recipient is pending", got.Status)
	}
	if got.Recipients[1].Error != "not on whatsapp" {
		t.Fatalf("error not recorded: %+v", got.Recipients[1])
	}
	wantSleeps := []time.Duration{time.Second, time.Second, time.Second, time.Second, 2 * time.Second}
	if len(f.sleeps) != len(wantSleeps) {
		t.Fatalf("sleeps = %v", f.sleeps)
	}
	for i := range wantSleeps {
		if f.sleeps[i] != wantSleeps[i] {
			t.Fatalf("sleeps = %v, want %v", f.sleeps, wantSleeps)
		}
	}

	// a second tick has nothing left to do
	f.sender.sent = nil
	f.disp.ProcessDue(ctx)
	if len(f.sender.sent) != 0 {
		t.Fatalf("resent to %v", f.sender.sent)
	}
}

func TestNotConnectedSkipsTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.connected = false
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "x", Kind: models.KindText, At: f.base.Add(time.Minute), Recipients: recipients("22670000000")})
	f.advance(time.Hour)

	f.disp.ProcessDue(ctx)
	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.SchedulePending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
}

func TestDueItemsOrderAndCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "late", Kind: models.KindText, At: f.base.Add(10 * time.Minute), Recipients: recipients("22670000000")})
	early, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "early", Kind: models.KindText, At: f.base.Add(5 * time.Minute), Recipients: recipients("22670000000")})
	f.svc.Schedule(ctx, ScheduleRequest{Message: "tomorrow", Kind: models.KindText, At: f.base.Add(24 * time.Hour), Recipients: recipients("22670000000")})

	due, err := f.svc.DueItems(ctx, f.base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 || due[0].ID != early.ID || due[1].ID != late.ID {
		t.Fatalf("due = %+v", due)
	}
}

func TestCancelLeavesTerminalRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "x", Kind: models.KindText, At: f.base.Add(time.Hour), Recipients: recipients("22670000001", "22670000002", "22670000003")})
	if err := f.svc.MarkRecipientSent(ctx, msg.Recipients[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	got, err := f.svc.Cancel(ctx, msg.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.ScheduleFailed || got.Error != CancelReason {
		t.Fatalf("parent = %+v", got)
	}
	if got.Recipients[0].Status != models.ScheduleSent || got.Recipients[0].Error != "" {
		t.Fatalf("sent recipient changed: %+v", got.Recipients[0])
	}
	for _, r := range got.Recipients[1:] {
		if r.Status != models.ScheduleFailed || r.Error != CancelReason {
			t.Fatalf("pending recipient not cancelled: %+v", r)
		}
	}

	if _, err := f.svc.Cancel(ctx, 999); !errors.Is(err, apperrors.ScheduleNotFound) {
		t.Fatalf("missing cancel err = %v", err)
	}
	stats, _ := f.svc.Stats(ctx)
	if stats.Failed != 1 || stats.Pending != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCancelDuringTickStopsDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "Promo", Kind: models.KindText, At: f.base.Add(time.Minute), Recipients: recipients("22670000001", "22670000002", "22670000003")})
	f.advance(time.Minute)

	cancelled := false
	f.sender.onSend = func(string) {
		if cancelled {
			return
		}
		cancelled = true
		if _, err := f.svc.Cancel(ctx, msg.ID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	if err := f.disp.ProcessDue(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("delivered to %v after cancel", f.sender.sent)
	}

	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.ScheduleFailed || got.Error != CancelReason {
		t.Fatalf("parent = %+v", got)
	}
	for _, r := range got.Recipients {
		if r.Status != models.ScheduleFailed || r.Error != CancelReason {
			t.Fatalf("recipient rewritten after cancel: %+v", r)
		}
	}
}

func TestMarksNeverRewriteTerminalRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, _ := f.svc.Schedule(ctx, ScheduleRequest{Message: "x", Kind: models.KindText, At: f.base.Add(time.Hour), Recipients: recipients("22670000001")})
	rid := msg.Recipients[0].ID

	if err := f.svc.MarkRecipientFailed(ctx, rid, errors.New("timeout")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := f.svc.MarkRecipientSent(ctx, rid); !errors.Is(err, ErrSettled) {
		t.Fatalf("mark sent on failed recipient err = %v", err)
	}
	if pending, err := f.svc.RecipientPending(ctx, rid); err != nil || pending {
		t.Fatalf("recipient pending = %v, %v", pending, err)
	}

	if _, err := f.svc.Cancel(ctx, msg.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.svc.MarkFailed(ctx, msg.ID, errors.New("late failure")); !errors.Is(err, ErrSettled) {
		t.Fatalf("mark failed on cancelled schedule err = %v", err)
	}
	if ok, err := f.svc.Finalize(ctx, msg.ID); err != nil || ok {
		t.Fatalf("finalize cancelled schedule = %v, %v", ok, err)
	}
	got, _ := f.svc.Get(ctx, msg.ID)
	if got.Status != models.ScheduleFailed || got.Error != CancelReason || got.Recipients[0].Error != "timeout" {
		t.Fatalf("schedule = %+v", got)
	}
}

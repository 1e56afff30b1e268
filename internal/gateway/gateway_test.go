package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-automation/internal/autoreply"
	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/scheduler"
	"whatsapp-automation/internal/testutil"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"
)

type fakeSession struct {
	connected bool
	failFor   string
	sent      []string
	payloads  []whatsapp.Payload
}

func (f *fakeSession) Connect(ctx context.Context, phone string) (string, error) {
	return "ABCD-EFGH", nil
}

func (f *fakeSession) Disconnect(ctx context.Context) error { return nil }

func (f *fakeSession) Status() whatsapp.Status {
	return whatsapp.Status{IsConnected: f.connected}
}

func (f *fakeSession) IsConnected() bool { return f.connected }

func (f *fakeSession) Send(ctx context.Context, to string, p whatsapp.Payload) error {
	if !f.connected {
		return apperrors.NotConnected
	}
	if to == f.failFor {
		return apperrors.DeliveryFailed.Wrap(errors.New("recipient unreachable"))
	}
	f.sent = append(f.sent, to)
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeSession) SendStatus(ctx context.Context, p whatsapp.Payload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

func newGateway(t *testing.T, session *fakeSession) (*Gateway, *[]time.Duration) {
	t.Helper()
	db := testutil.NewDB(t)
	log := testutil.Logger()
	g := New(Deps{
		Session:   session,
		Contacts:  contacts.NewDirectory(db, 0, log),
		Messages:  messages.NewLog(db),
		Scheduler: scheduler.NewService(db, log),
		Replies:   autoreply.NewEngine(db, log),
		BulkDelay: time.Second,
	}, log)
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestConnectValidatesPhone(t *testing.T) {
	g, _ := newGateway(t, &fakeSession{})
	if _, err := g.Connect(context.Background(), ConnectRequest{PhoneNumber: ""}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("empty phone err = %v", err)
	}
	resp, err := g.Connect(context.Background(), ConnectRequest{PhoneNumber: "22670000000"})
	if err != nil || resp.PairingCode != "ABCD-EFGH" {
		t.Fatalf("connect = %+v, %v", resp, err)
	}
}

func TestSendRecordsOutgoingMessage(t *testing.T) {
	session := &fakeSession{connected: true}
	g, _ := newGateway(t, session)
	ctx := context.Background()

	if err := g.Send(ctx, SendRequest{To: "+226 70 11 22 33", Message: "Bonjour"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	jid := "22670112233@s.whatsapp.net"
	if len(session.sent) != 1 || session.sent[0] != jid {
		t.Fatalf("sent = %v", session.sent)
	}
	if _, err := g.Contacts.Get(ctx, jid); err != nil {
		t.Fatalf("contact not ensured: %v", err)
	}
	history, _ := g.Messages.History(ctx, jid, 10, 0)
	if len(history) != 1 || history[0].Direction != models.DirectionOutgoing || !history[0].IsFromMe {
		t.Fatalf("history = %+v", history)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	g, _ := newGateway(t, &fakeSession{})
	err := g.Send(context.Background(), SendRequest{To: "22670112233", Message: "Bonjour"})
	if !errors.Is(err, apperrors.NotConnected) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendBulk(t *testing.T) {
	session := &fakeSession{}
	g, slept := newGateway(t, session)
	ctx := context.Background()
	req := BulkRequest{Recipients: []string{"22670000001", "22670000002", "22670000003"}, Message: "Promo"}

	if _, err := g.SendBulk(ctx, req); !errors.Is(err, apperrors.NotConnected) {
		t.Fatalf("disconnected bulk err = %v", err)
	}

	session.connected = true
	session.failFor = "22670000002@s.whatsapp.net"
	results, err := g.SendBulk(ctx, req)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(results) != 3 || !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("results = %+v", results)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second {
		t.Fatalf("slept = %v", *slept)
	}

	if _, err := g.SendBulk(ctx, BulkRequest{Recipients: []string{"1", ""}, Message: "x"}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("blank recipient err = %v", err)
	}
}

func TestSendMediaAndStatusValidation(t *testing.T) {
	session := &fakeSession{connected: true}
	g, _ := newGateway(t, session)
	ctx := context.Background()

	bad := MediaRequest{To: "22670000001", Kind: "audio", URL: "https://cdn.example.com/a.mp3"}
	if err := g.SendMedia(ctx, bad); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("audio err = %v", err)
	}
	if err := g.SendMedia(ctx, MediaRequest{To: "22670000001", Kind: "image"}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("missing url err = %v", err)
	}
	ok := MediaRequest{To: "22670000001", Kind: "image", URL: "https://cdn.example.com/cake.jpg", Caption: "Nouveau"}
	if err := g.SendMedia(ctx, ok); err != nil {
		t.Fatalf("media: %v", err)
	}
	if p := session.payloads[0]; p.Kind != whatsapp.PayloadImage || p.Text != "Nouveau" {
		t.Fatalf("payload = %+v", p)
	}

	if err := g.SendStatus(ctx, StatusRequest{Kind: "video"}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("status without url err = %v", err)
	}
	if err := g.SendStatus(ctx, StatusRequest{Kind: "text", Text: "Ouvert ce dimanche"}); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestScheduleValidation(t *testing.T) {
	g, _ := newGateway(t, &fakeSession{})
	ctx := context.Background()

	_, err := g.Schedule(ctx, ScheduleRequest{Kind: "TEXT", Message: "hi", Recipients: []scheduler.RecipientInput{{Recipient: "22670000001"}}})
	if !errors.Is(err, apperrors.InvalidSchedule) {
		t.Fatalf("missing time err = %v", err)
	}
	_, err = g.Schedule(ctx, ScheduleRequest{
		Kind:       "TEXT",
		Message:    "hi",
		At:         time.Now().Add(-time.Minute),
		Recipients: []scheduler.RecipientInput{{Recipient: "22670000001"}},
	})
	if !errors.Is(err, apperrors.InvalidSchedule) {
		t.Fatalf("past time err = %v", err)
	}

	// scheduling works offline
	item, err := g.Schedule(ctx, ScheduleRequest{
		Kind:       "TEXT",
		Message:    "hi",
		At:         time.Now().Add(time.Hour),
		Recipients: []scheduler.RecipientInput{{Recipient: "22670000001"}},
	})
	if err != nil || item.Status != models.SchedulePending {
		t.Fatalf("schedule = %+v, %v", item, err)
	}
}

func TestUpsertAutoReplyRule(t *testing.T) {
	g, _ := newGateway(t, &fakeSession{})
	ctx := context.Background()

	if _, err := g.UpsertAutoReplyRule(ctx, RuleRequest{Keyword: "prix", MatchType: "FUZZY", Response: "x"}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("bad match type err = %v", err)
	}
	rule, err := g.UpsertAutoReplyRule(ctx, RuleRequest{Keyword: "prix", Response: "Nos prix sont sur le catalogue"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !rule.IsActive || rule.MatchType != models.MatchContains {
		t.Fatalf("rule = %+v", rule)
	}
	inactive := false
	updated, err := g.UpsertAutoReplyRule(ctx, RuleRequest{ID: rule.ID, Keyword: "tarif", Response: "Voir catalogue", IsActive: &inactive})
	if err != nil || updated.ID != rule.ID || updated.IsActive || updated.Keyword != "tarif" {
		t.Fatalf("update = %+v, %v", updated, err)
	}
}

func TestRunWorkerUnknown(t *testing.T) {
	g, _ := newGateway(t, &fakeSession{})
	if _, err := g.RunWorker(context.Background(), "segments"); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

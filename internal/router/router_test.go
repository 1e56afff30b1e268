package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"whatsapp-automation/internal/autoreply"
	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/testutil"
	"whatsapp-automation/internal/whatsapp"

	"gorm.io/gorm"
)

type mockSender struct {
	err  error
	to   []string
	body []string
}

func (m *mockSender) Send(ctx context.Context, to string, p whatsapp.Payload) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.body = append(m.body, p.Text)
	return nil
}

type fixture struct {
	db       *gorm.DB
	router   *Router
	sender   *mockSender
	recorder *testutil.Recorder
	delays   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := testutil.Logger()
	f := &fixture{db: db, sender: &mockSender{}, recorder: testutil.NewRecorder(8)}

	replies := autoreply.NewEngine(db, log)
	if _, err := replies.Create(context.Background(), autoreply.RuleInput{Keyword: "prix", Response: "Nos prix: 5000 FCFA", IsActive: true}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	f.router = New(Deps{
		Directory:  contacts.NewDirectory(db, 0, log),
		Messages:   messages.NewLog(db),
		Replier:    replies,
		Sender:     f.sender,
		Bus:        events.NewBus(log, f.recorder),
		ReplyDelay: time.Second,
	}, log)
	f.router.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	return f
}

func (f *fixture) messages(t *testing.T) []models.Message {
	t.Helper()
	var msgs []models.Message
	if err := f.db.Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return msgs
}

func TestDirectMessageGetsAutoReply(t *testing.T) {
	f := newFixture(t)
	jid := "22670000000@s.whatsapp.net"
	f.router.Handle(context.Background(), whatsapp.InboundMessage{ID: "m1", ChatJID: jid, PushName: "Awa", Type: "text", Text: "Quel est le prix ?"})

	if len(f.sender.to) != 1 || f.sender.to[0] != jid || f.sender.body[0] != "Nos prix: 5000 FCFA" {
		t.Fatalf("sent = %v %v", f.sender.to, f.sender.body)
	}
	if len(f.delays) != 1 || f.delays[0] != time.Second {
		t.Fatalf("delays = %v", f.delays)
	}

	msgs := f.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("logged %d messages", len(msgs))
	}
	if msgs[0].Direction != models.DirectionIncoming || msgs[1].Direction != models.DirectionOutgoing || !msgs[1].IsAutoReply {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.HasPrefix(msgs[1].MessageID, "auto-") {
		t.Fatalf("auto-reply id = %q", msgs[1].MessageID)
	}

	var c models.Contact
	if err := f.db.Where("jid = ?", jid).First(&c).Error; err != nil {
		t.Fatalf("contact not created: %v", err)
	}
	if c.PushName != "Awa" || c.MessageCount != 1 {
		t.Fatalf("contact = %+v", c)
	}
	if types := f.recorder.Types(); len(types) != 1 || types[0] != events.TypeMessageInbound {
		t.Fatalf("events = %v", types)
	}
}

func TestGroupMessagesAreNotAnswered(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), whatsapp.InboundMessage{ID: "g1", ChatJID: "120363025@g.us", SenderJID: "22670000000@s.whatsapp.net", IsGroup: true, Text: "prix ?"})

	if len(f.sender.to) != 0 {
		t.Fatalf("replied in group: %v", f.sender.to)
	}
	if msgs := f.messages(t); len(msgs) != 1 || msgs[0].ContactJID != "120363025@g.us" {
		t.Fatalf("messages = %+v", msgs)
	}
	var n int64
	f.db.Model(&models.Contact{}).Count(&n)
	if n != 0 {
		t.Fatalf("contacts = %d", n)
	}
}

func TestIgnoredMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.Handle(ctx, whatsapp.InboundMessage{ID: "1", ChatJID: "a@s.whatsapp.net", FromMe: true, Text: "prix"})
	f.router.Handle(ctx, whatsapp.InboundMessage{ID: "2", ChatJID: whatsapp.StatusBroadcast, IsBroadcast: true, Text: "prix"})
	f.router.Handle(ctx, whatsapp.InboundMessage{ID: "3", ChatJID: "a@s.whatsapp.net", Text: "   "})

	if msgs := f.messages(t); len(msgs) != 0 {
		t.Fatalf("logged %d messages", len(msgs))
	}
}

func TestSendFailureIsNotLogged(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("not connected")
	f.router.Handle(context.Background(), whatsapp.InboundMessage{ID: "m1", ChatJID: "a@s.whatsapp.net", Text: "prix"})

	if msgs := f.messages(t); len(msgs) != 1 {
		t.Fatalf("messages = %d, want only the inbound one", len(msgs))
	}
}

func TestRunPreservesOrder(t *testing.T) {
	f := newFixture(t)
	in := make(chan whatsapp.InboundMessage, 3)
	in <- whatsapp.InboundMessage{ID: "1", ChatJID: "a@s.whatsapp.net", Text: "bonjour"}
	in <- whatsapp.InboundMessage{ID: "2", ChatJID: "a@s.whatsapp.net", Text: "prix"}
	in <- whatsapp.InboundMessage{ID: "3", ChatJID: "a@s.whatsapp.net", Text: "merci"}
	close(in)

	f.router.Run(context.Background(), in)

	msgs := f.messages(t)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	if len(ids) != 4 || ids[0] != "1" || ids[1] != "2" || !strings.HasPrefix(ids[2], "auto-") || ids[3] != "3" {
		t.Fatalf("log order = %v", ids)
	}
}

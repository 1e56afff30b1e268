package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/testutil"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"

	"gorm.io/gorm"
)

type mockSender struct {
	to   []string
	body []string
}

func (m *mockSender) Send(ctx context.Context, to string, p whatsapp.Payload) error {
	m.to = append(m.to, to)
	m.body = append(m.body, p.Text)
	return nil
}

type fixture struct {
	db      *gorm.DB
	orders  *Orders
	sender  *mockSender
	engine  *followup.Engine
	contact *contacts.Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := testutil.Logger()
	f := &fixture{
		db:      db,
		sender:  &mockSender{},
		engine:  followup.NewEngine(db, log),
		contact: contacts.NewDirectory(db, 0, log),
	}
	f.orders = NewOrders(NewGormOrderStore(db), f.sender, f.contact, f.engine, Options{AdminPhone: "22670999999", Currency: "FCFA"}, log)

	when := time.Date(2025, 6, 14, 16, 0, 0, 0, time.UTC)
	order := models.Order{
		ID:            "ord-1",
		OrderNumber:   "CMD-0042",
		CustomerName:  "Awa Traore",
		DeliveryPhone: "+226 70 00 00 00",
		Total:         25000,
		Status:        "PENDING",
		ScheduledAt:   &when,
		Items: []models.OrderItem{
			{ProductName: "Gateau chocolat", Quantity: 1, Price: 20000},
			{ProductName: "Cupcakes", Quantity: 5, Price: 1000},
		},
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return f
}

func TestNotifyNewOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orders.NotifyNewOrder(ctx, "ord-1"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(f.sender.to) != 1 || f.sender.to[0] != "22670999999" {
		t.Fatalf("sent to %v", f.sender.to)
	}
	body := f.sender.body[0]
	for _, want := range []string{"#CMD-0042", "Gateau chocolat x1 (20000 FCFA)", "*Total: 25000 FCFA*", "Address: Not specified", "14/06/2025 16:00"} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q:\n%s", want, body)
		}
	}
	var order models.Order
	f.db.First(&order, "id = ?", "ord-1")
	if !order.WhatsappSent {
		t.Fatal("order not flagged as notified")
	}

	if err := f.orders.NotifyNewOrder(ctx, "missing"); !errors.Is(err, apperrors.OrderNotFound) {
		t.Fatalf("missing order err = %v", err)
	}
}

func TestDeliveredOrderSchedulesFollowUpOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.CreateTemplate(ctx, followup.TemplateInput{
		Name:      "Avis",
		Trigger:   models.TriggerAfterDelivery,
		DelayDays: 1,
		Message:   "Bonjour {prenom}, comment etait la commande {numero_commande} ?",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("template: %v", err)
	}

	results, err := f.orders.NotifyStatusChange(ctx, "ord-1", "delivered")
	if err != nil {
		t.Fatalf("status change: %v", err)
	}
	if len(results) != 1 || results[0].FollowUp == nil || results[0].Duplicate {
		t.Fatalf("results = %+v", results)
	}
	if f.sender.to[0] != "22670000000@s.whatsapp.net" || !strings.Contains(f.sender.body[0], "delivered") {
		t.Fatalf("customer message = %v %v", f.sender.to, f.sender.body)
	}

	c, err := f.contact.Get(ctx, "22670000000@s.whatsapp.net")
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if c.TotalOrders != 1 || c.TotalSpent != 25000 || c.Segment != models.SegmentNew || c.Name != "Awa Traore" {
		t.Fatalf("contact = %+v", c)
	}

	again, _ := f.orders.NotifyStatusChange(ctx, "ord-1", "DELIVERED")
	if len(again) != 1 || !again[0].Duplicate {
		t.Fatalf("repeat results = %+v", again)
	}
}

func TestStatusWithoutTrigger(t *testing.T) {
	f := newFixture(t)
	results, err := f.orders.NotifyStatusChange(context.Background(), "ord-1", "PREPARING")
	if err != nil || results != nil {
		t.Fatalf("results = %+v, err = %v", results, err)
	}
	if !strings.Contains(f.sender.body[0], "being prepared") {
		t.Fatalf("message = %q", f.sender.body[0])
	}
}

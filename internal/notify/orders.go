package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderStore is the read view of the shop's orders plus the one flag this
// service may write.
type OrderStore interface {
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	MarkNotified(ctx context.Context, id string) error
}

type GormOrderStore struct {
	db *gorm.DB
}

func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

func (s *GormOrderStore) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.OrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormOrderStore) MarkNotified(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Update("whatsapp_sent", true).Error
}

type Sender interface {
	Send(ctx context.Context, to string, p whatsapp.Payload) error
}

type Contacts interface {
	Ensure(ctx context.Context, jid, name string) (*models.Contact, error)
	RecordOrder(ctx context.Context, jid string, amount float64, at time.Time) (*models.Contact, error)
}

type Triggers interface {
	ScheduleByTrigger(ctx context.Context, req followup.TriggerRequest) ([]followup.ScheduleResult, error)
}

type Options struct {
	AdminPhone string
	Currency   string
}

// Orders sends order notifications and turns order status changes into
// follow-up triggers.
type Orders struct {
	store    OrderStore
	sender   Sender
	contacts Contacts
	triggers Triggers
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewOrders(store OrderStore, sender Sender, dir Contacts, triggers Triggers, opts Options, log *zap.Logger) *Orders {
	if opts.Currency == "" {
		opts.Currency = "FCFA"
	}
	return &Orders{
		store:    store,
		sender:   sender,
		contacts: dir,
		triggers: triggers,
		opts:     opts,
		log:      log.With(zap.String("component", "notify")),
		now:      time.Now,
	}
}

// NotifyNewOrder sends the order summary to the admin number and flags the
// order as notified.
func (o *Orders) NotifyNewOrder(ctx context.Context, orderID string) error {
	if o.opts.AdminPhone == "" {
		return apperrors.InvalidInput.Wrap(errors.New("admin phone is not configured"))
	}
	order, err := o.store.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.sender.Send(ctx, o.opts.AdminPhone, whatsapp.Text(o.newOrderMessage(order))); err != nil {
		return err
	}
	if err := o.store.MarkNotified(ctx, orderID); err != nil {
		return fmt.Errorf("mark order %s notified: %w", orderID, err)
	}
	o.log.Info("Order notification sent", zap.String("order", order.OrderNumber))
	return nil
}

var statusLines = map[string]string{
	"CONFIRMED": "Your order has been confirmed.",
	"PREPARING": "Your order is being prepared.",
	"READY":     "Your order is ready for pickup.",
	"DELIVERED": "Your order has been delivered. Thank you for your trust!",
	"CANCELLED": "Your order has been cancelled.",
}

var statusTriggers = map[string]models.Trigger{
	"CONFIRMED": models.TriggerAfterOrder,
	"DELIVERED": models.TriggerAfterDelivery,
	"CANCELLED": models.TriggerOrderCancelled,
}

// NotifyStatusChange messages the customer about the new status and fires
// the matching follow-up trigger. A delivered order also counts toward the
// customer's totals. The trigger event key is "<order id>:<status>" so a
// repeated notification does not schedule follow-ups twice.
func (o *Orders) NotifyStatusChange(ctx context.Context, orderID, status string) ([]followup.ScheduleResult, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	order, err := o.store.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	jid, err := whatsapp.NormalizeJID(order.DeliveryPhone)
	if err != nil {
		return nil, apperrors.InvalidInput.Wrap(fmt.Errorf("order %s delivery phone: %w", orderID, err))
	}
	if err := o.sender.Send(ctx, jid, whatsapp.Text(o.statusMessage(order, status))); err != nil {
		return nil, err
	}
	o.log.Info("Order status notification sent", zap.String("order", order.OrderNumber), zap.String("status", status))

	trigger, ok := statusTriggers[status]
	if !ok {
		return nil, nil
	}
	if _, err := o.contacts.Ensure(ctx, jid, order.CustomerName); err != nil {
		return nil, err
	}
	if status == "DELIVERED" {
		if _, err := o.contacts.RecordOrder(ctx, jid, order.Total, o.now().UTC()); err != nil {
			return nil, err
		}
	}
	return o.triggers.ScheduleByTrigger(ctx, followup.TriggerRequest{
		ContactJID: jid,
		Trigger:    trigger,
		EventKey:   orderID + ":" + status,
		Metadata: map[string]interface{}{
			"numero_commande": order.OrderNumber,
			"order_number":    order.OrderNumber,
			"montant":         order.Total,
			"amount":          order.Total,
		},
	})
}

func (o *Orders) newOrderMessage(order *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New order #%s*\n\n", order.OrderNumber)
	fmt.Fprintf(&b, "Customer: %s\n", order.CustomerName)
	fmt.Fprintf(&b, "Phone: %s\n", order.DeliveryPhone)
	address := order.DeliveryAddress
	if address == "" {
		address = "Not specified"
	}
	fmt.Fprintf(&b, "Address: %s\n\n", address)
	b.WriteString("*Items:*\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "- %s x%d (%s)\n", item.ProductName, item.Quantity, o.money(item.Price))
	}
	fmt.Fprintf(&b, "\n*Total: %s*", o.money(order.Total))
	if order.ScheduledAt != nil {
		fmt.Fprintf(&b, "\nDelivery: %s", order.ScheduledAt.Format("02/01/2006 15:04"))
	}
	if order.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", order.Notes)
	}
	return b.String()
}

func (o *Orders) statusMessage(order *models.Order, status string) string {
	line, ok := statusLines[status]
	if !ok {
		line = "Status: " + status
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Update - Order #%s*\n\n%s\n\nAmount: %s", order.OrderNumber, line, o.money(order.Total))
	if order.ScheduledAt != nil {
		fmt.Fprintf(&b, "\nDelivery: %s", order.ScheduledAt.Format("02/01/2006 15:04"))
	}
	b.WriteString("\n\nQuestions? Just reply to this message.")
	return b.String()
}

func (o *Orders) money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + o.opts.Currency
}

// compile-time checks
var (
	_ Contacts = (*contacts.Directory)(nil)
	_ Triggers = (*followup.Engine)(nil)
)

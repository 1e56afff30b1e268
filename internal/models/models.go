package models

import (
	"time"

	"gorm.io/datatypes"
)

// Segment is a customer lifecycle classification.
type Segment string

const (
	SegmentProspect Segment = "PROSPECT"
	SegmentNew      Segment = "NEW"
	SegmentRegular  Segment = "REGULAR"
	SegmentVIP      Segment = "VIP"
	SegmentInactive Segment = "INACTIVE"
	SegmentBlocked  Segment = "BLOCKED"
)

// Contact is every counterparty seen by the system.
type Contact struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	JID            string                      `gorm:"column:jid;type:varchar(100);uniqueIndex;not null" json:"jid"`
	Phone          string                      `gorm:"type:varchar(30);index" json:"phone"`
	Name           string                      `gorm:"type:varchar(255)" json:"name"`
	PushName       string                      `gorm:"type:varchar(255)" json:"push_name"`
	FirstMessageAt time.Time                   `json:"first_message_at"`
	LastMessageAt  time.Time                   `gorm:"index" json:"last_message_at"`
	MessageCount   int                         `gorm:"default:0" json:"message_count"`
	TotalOrders    int                         `gorm:"default:0" json:"total_orders"`
	TotalSpent     float64                     `gorm:"default:0" json:"total_spent"`
	LastOrderAt    *time.Time                  `json:"last_order_at"`
	IsBlocked      bool                        `gorm:"default:false" json:"is_blocked"`
	IsFavorite     bool                        `gorm:"default:false" json:"is_favorite"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	Notes          string                      `gorm:"type:text" json:"notes"`
	Segment        Segment                     `gorm:"type:varchar(20);index;default:'PROSPECT'" json:"segment"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "whatsapp_contacts"
}

// DisplayName prefers the saved name, then the sender's push name.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PushName
}

type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// Message is one entry of the conversation log.
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   string    `gorm:"type:varchar(255);index" json:"message_id"`
	ContactJID  string    `gorm:"column:contact_jid;type:varchar(100);index;not null" json:"contact_jid"`
	Type        string    `gorm:"type:varchar(20)" json:"type"`
	Content     string    `gorm:"type:text" json:"content"`
	MediaURL    string    `gorm:"type:text" json:"media_url,omitempty"`
	Direction   Direction `gorm:"type:varchar(10);index" json:"direction"`
	IsFromMe    bool      `json:"is_from_me"`
	IsAutoReply bool      `gorm:"default:false" json:"is_auto_reply"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageKind is the payload kind of a scheduled message.
type MessageKind string

const (
	KindText   MessageKind = "TEXT"
	KindImage  MessageKind = "IMAGE"
	KindVideo  MessageKind = "VIDEO"
	KindStatus MessageKind = "STATUS"
)

type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "PENDING"
	ScheduleSent    ScheduleStatus = "SENT"
	ScheduleFailed  ScheduleStatus = "FAILED"
)

// ScheduledMessage is a queued message with 0..N recipients.
// STATUS kind goes to the status broadcast and has no recipient rows.
type ScheduledMessage struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Message     string         `gorm:"type:text" json:"message"`
	MediaURL    string         `gorm:"type:text" json:"media_url,omitempty"`
	Type        MessageKind    `gorm:"type:varchar(20);not null" json:"type"`
	ScheduledAt time.Time      `gorm:"index;not null" json:"scheduled_at"`
	Status      ScheduleStatus `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	SentAt      *time.Time     `json:"sent_at"`
	Recipients  []Recipient    `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE;" json:"recipients"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduledMessage) TableName() string {
	return "whatsapp_schedules"
}

type RecipientType string

const (
	RecipientIndividual RecipientType = "INDIVIDUAL"
	RecipientGroup      RecipientType = "GROUP"
)

type Recipient struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ScheduleID uint           `gorm:"index;not null" json:"schedule_id"`
	Recipient  string         `gorm:"type:varchar(100);not null" json:"recipient"`
	Type       RecipientType  `gorm:"type:varchar(20);default:'INDIVIDUAL'" json:"type"`
	Status     ScheduleStatus `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	SentAt     *time.Time     `json:"sent_at"`
}

func (Recipient) TableName() string {
	return "whatsapp_recipients"
}

// Trigger is the lifecycle event a follow-up template reacts to.
type Trigger string

const (
	TriggerAfterOrder     Trigger = "AFTER_ORDER"
	TriggerAfterDelivery  Trigger = "AFTER_DELIVERY"
	TriggerOrderCancelled Trigger = "ORDER_CANCELLED"
	TriggerInactive       Trigger = "INACTIVE_CUSTOMER"
	TriggerFirstContact   Trigger = "FIRST_CONTACT"
	TriggerManual         Trigger = "MANUAL"
)

type FollowUpTemplate struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Name         string      `gorm:"type:varchar(255);not null" json:"name"`
	Description  string      `gorm:"type:text" json:"description"`
	Trigger      Trigger     `gorm:"column:trigger_event;type:varchar(40);index;not null" json:"trigger"`
	DelayDays    int         `gorm:"default:0" json:"delay_days"`
	DelayHours   int         `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int         `gorm:"default:0" json:"delay_minutes"`
	Message      string      `gorm:"type:text;not null" json:"message"`
	MediaURL     string      `gorm:"type:text" json:"media_url,omitempty"`
	MediaType    MessageKind `gorm:"type:varchar(20)" json:"media_type,omitempty"`
	IsActive     bool        `json:"is_active"`
	Priority     int         `gorm:"default:0" json:"priority"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FollowUpTemplate) TableName() string {
	return "follow_up_templates"
}

// Delay is the total offset between trigger time and delivery.
func (t FollowUpTemplate) Delay() time.Duration {
	seconds := int64(t.DelayDays)*86400 + int64(t.DelayHours)*3600 + int64(t.DelayMinutes)*60
	return time.Duration(seconds) * time.Second
}

type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "PENDING"
	FollowUpSent      FollowUpStatus = "SENT"
	FollowUpFailed    FollowUpStatus = "FAILED"
	FollowUpCancelled FollowUpStatus = "CANCELLED"
)

// FollowUp is one scheduled instance of a template for a contact.
// EventKey, when set, makes (contact, template, event) unique; NULL keys never collide.
type FollowUp struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	ContactID   uint              `gorm:"not null;uniqueIndex:idx_follow_up_event" json:"contact_id"`
	Contact     *Contact          `gorm:"constraint:OnDelete:CASCADE;" json:"contact,omitempty"`
	TemplateID  uint              `gorm:"not null;uniqueIndex:idx_follow_up_event" json:"template_id"`
	Template    *FollowUpTemplate `gorm:"constraint:OnDelete:CASCADE;" json:"template,omitempty"`
	EventKey    *string           `gorm:"type:varchar(255);uniqueIndex:idx_follow_up_event" json:"event_key,omitempty"`
	ScheduledAt time.Time         `gorm:"index;not null" json:"scheduled_at"`
	Status      FollowUpStatus    `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	SentAt      *time.Time        `json:"sent_at"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FollowUp) TableName() string {
	return "follow_ups"
}

type MatchType string

const (
	MatchExact      MatchType = "EXACT"
	MatchContains   MatchType = "CONTAINS"
	MatchStartsWith MatchType = "STARTS_WITH"
	MatchEndsWith   MatchType = "ENDS_WITH"
	MatchRegex      MatchType = "REGEX"
)

// AutoReplyRule maps a keyword to a canned response.
type AutoReplyRule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Keyword    string    `gorm:"type:varchar(255);not null" json:"keyword"`
	MatchType  MatchType `gorm:"type:varchar(20);default:'CONTAINS'" json:"match_type"`
	Response   string    `gorm:"type:text;not null" json:"response"`
	Priority   int       `gorm:"default:0;index" json:"priority"`
	IsActive   bool      `gorm:"index" json:"is_active"`
	UsageCount int       `gorm:"default:0" json:"usage_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutoReplyRule) TableName() string {
	return "auto_replies"
}

// Group is the local directory of joined WhatsApp groups.
type Group struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	JID               string    `gorm:"column:jid;type:varchar(100);uniqueIndex;not null" json:"jid"`
	Name              string    `gorm:"type:varchar(255)" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	ParticipantsCount int       `json:"participants_count"`
	IsActive          bool      `json:"is_active"`
	LastSyncAt        time.Time `json:"last_sync_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Group) TableName() string {
	return "whatsapp_groups"
}

// Order is the read view of the shop's order record.
type Order struct {
	ID              string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OrderNumber     string      `gorm:"type:varchar(50)" json:"order_number"`
	CustomerName    string      `gorm:"type:varchar(255)" json:"customer_name"`
	DeliveryPhone   string      `gorm:"type:varchar(30)" json:"delivery_phone"`
	DeliveryAddress string      `gorm:"type:text" json:"delivery_address"`
	Total           float64     `json:"total"`
	Status          string      `gorm:"type:varchar(20)" json:"status"`
	ScheduledAt     *time.Time  `json:"scheduled_at"`
	Notes           string      `gorm:"type:text" json:"notes"`
	WhatsappSent    bool        `gorm:"default:false" json:"whatsapp_sent"`
	Items           []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	OrderID     string  `gorm:"type:varchar(64);index" json:"order_id"`
	ProductName string  `gorm:"type:varchar(255)" json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// SystemSetting holds runtime settings editable without a restart.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

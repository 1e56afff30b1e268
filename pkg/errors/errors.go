package errors

import (
	"errors"
	"unicode/utf8"
)

// MaxReasonLength bounds persisted failure reasons.
const MaxReasonLength = 500

// Definition is an error code with its default message.
type Definition struct {
	Code    string
	Message string
}

func (d Definition) Error() string {
	return d.Message
}

// Wrap attaches cause to the definition. The result matches d with errors.Is.
func (d Definition) Wrap(cause error) error {
	if cause == nil {
		return d
	}
	return &Error{Definition: d, Err: cause}
}

// Error is a Definition carrying its underlying cause.
type Error struct {
	Definition
	Err error
}

func (e *Error) Error() string {
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	d, ok := target.(Definition)
	return ok && d.Code == e.Code
}

// Session errors.
var (
	NotConnected         = Definition{Code: "NOT_CONNECTED", Message: "WhatsApp session is not connected"}
	AlreadyConnected     = Definition{Code: "ALREADY_CONNECTED", Message: "WhatsApp session is already connected"}
	ConnectionInProgress = Definition{Code: "CONNECTION_IN_PROGRESS", Message: "WhatsApp connection already in progress"}
	PairingFailed        = Definition{Code: "PAIRING_FAILED", Message: "Pairing code request failed"}
	CredentialsInvalid   = Definition{Code: "CREDENTIALS_INVALID", Message: "Session credentials invalidated"}
	TransientDisconnect  = Definition{Code: "TRANSIENT_DISCONNECT", Message: "Session dropped, reconnecting"}
)

// Delivery errors.
var (
	DeliveryFailed = Definition{Code: "DELIVERY_FAILED", Message: "Message delivery failed"}
)

// Scheduling and lookup errors.
var (
	InvalidSchedule  = Definition{Code: "INVALID_SCHEDULE", Message: "Invalid schedule"}
	ScheduleNotFound = Definition{Code: "SCHEDULE_NOT_FOUND", Message: "Scheduled message not found"}
	TemplateInactive = Definition{Code: "TEMPLATE_INACTIVE", Message: "Follow-up template inactive"}
	TemplateNotFound = Definition{Code: "TEMPLATE_NOT_FOUND", Message: "Follow-up template not found"}
	FollowUpNotFound = Definition{Code: "FOLLOW_UP_NOT_FOUND", Message: "Follow-up not found"}
	RuleNotFound     = Definition{Code: "RULE_NOT_FOUND", Message: "Auto-reply rule not found"}
	ContactNotFound  = Definition{Code: "CONTACT_NOT_FOUND", Message: "Contact not found"}
	GroupNotFound    = Definition{Code: "GROUP_NOT_FOUND", Message: "Group not found"}
	OrderNotFound    = Definition{Code: "ORDER_NOT_FOUND", Message: "Order not found"}
	InvalidInput     = Definition{Code: "INVALID_INPUT", Message: "Invalid input"}
)

// Lookup maps codes to their definitions.
var Lookup = map[string]Definition{
	NotConnected.Code:         NotConnected,
	AlreadyConnected.Code:     AlreadyConnected,
	ConnectionInProgress.Code: ConnectionInProgress,
	PairingFailed.Code:        PairingFailed,
	CredentialsInvalid.Code:   CredentialsInvalid,
	TransientDisconnect.Code:  TransientDisconnect,
	DeliveryFailed.Code:       DeliveryFailed,
	InvalidSchedule.Code:      InvalidSchedule,
	ScheduleNotFound.Code:     ScheduleNotFound,
	TemplateInactive.Code:     TemplateInactive,
	TemplateNotFound.Code:     TemplateNotFound,
	FollowUpNotFound.Code:     FollowUpNotFound,
	RuleNotFound.Code:         RuleNotFound,
	ContactNotFound.Code:      ContactNotFound,
	GroupNotFound.Code:        GroupNotFound,
	OrderNotFound.Code:        OrderNotFound,
	InvalidInput.Code:         InvalidInput,
}

// From returns the definition found in err's chain.
func From(err error) (Definition, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Definition, true
	}
	var d Definition
	if errors.As(err, &d) {
		return d, true
	}
	return Definition{}, false
}

// Reason renders err for persistence, bounded to MaxReasonLength runes.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxReasonLength)
}

func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

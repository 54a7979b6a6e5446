package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventPaymentRefunded  = "payment_refunded"
)

const (
	StatusReceived     = "received"
	StatusCredited     = "credited"
	StatusIgnored      = "ignored"
	StatusManualReview = "manual_review"
)

// EventRecord is one provider event as stored in payment_events.
type EventRecord struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	Provider    string          `gorm:"type:text;not null"`
	EventID     string          `gorm:"type:text;not null"`
	EventType   string          `gorm:"type:text;not null"`
	TenantID    string          `gorm:"type:text;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Currency    string          `gorm:"type:text;not null"`
	Tokens      decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Status      string          `gorm:"type:text;not null"`
	Payload     datatypes.JSON  `gorm:"type:text"`
	ReceivedAt  time.Time       `gorm:"not null"`
	ProcessedAt *time.Time
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the provider-neutral shape accepted by ProcessEvent.
type PaymentEvent struct {
	Provider   string          `json:"provider"`
	EventID    string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OccurredAt time.Time       `json:"occurred_at"`
	RawPayload []byte          `json:"-"`
}

// ProcessResult reports how an event was applied. Duplicate is true when the
// event had already been processed by an earlier delivery.
type ProcessResult struct {
	EventID   string           `json:"event_id"`
	Status    string           `json:"status"`
	Tokens    decimal.Decimal  `json:"tokens"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	Duplicate bool             `json:"duplicate"`
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, eventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, tokens decimal.Decimal, processedAt time.Time) error
}

type Service interface {
	ProcessEvent(ctx context.Context, event PaymentEvent) (ProcessResult, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrSignatureExpired = errors.New("signature_expired")
	ErrWebhookDisabled  = errors.New("webhook_disabled")
)

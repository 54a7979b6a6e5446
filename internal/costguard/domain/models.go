package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// State is the per-tenant per-day spend state.
type State string

const (
	StateNormal    State = "NORMAL"
	StateSoftAlert State = "SOFT_ALERT"
	StatePaused    State = "PAUSED"
)

type PauseSource string

const (
	PauseSourceManual PauseSource = "manual"
	PauseSourceAuto   PauseSource = "auto"
)

type AlertKind string

const (
	AlertKindSoft        AlertKind = "soft_alert"
	AlertKindCapExceeded AlertKind = "cap_exceeded"
)

// UsageDateLayout formats the UTC calendar day of a usage record.
const UsageDateLayout = "2006-01-02"

// UsageRecord aggregates one tenant's AI spend for one UTC day.
type UsageRecord struct {
	TenantID     string          `gorm:"type:text;primaryKey" json:"tenant_id"`
	UsageDate    string          `gorm:"type:text;primaryKey" json:"date"`
	InputTokens  int64           `gorm:"not null" json:"input_tokens"`
	OutputTokens int64           `gorm:"not null" json:"output_tokens"`
	CostUSD      decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"cost_usd"`
	RequestCount int64           `gorm:"not null" json:"request_count"`
	LastUpdated  time.Time       `gorm:"not null" json:"last_updated"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "ai_usage_records" }

// TenantPause blocks a tenant's AI calls until ExpiresAt, or until resumed
// when ExpiresAt is nil.
type TenantPause struct {
	TenantID  string      `gorm:"type:text;primaryKey" json:"tenant_id"`
	Reason    string      `gorm:"type:text;not null" json:"reason"`
	Source    PauseSource `gorm:"type:text;not null" json:"source"`
	PausedAt  time.Time   `gorm:"not null" json:"paused_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// TableName sets the database table name.
func (TenantPause) TableName() string { return "tenant_pauses" }

// ActiveAt reports whether the pause still applies at now.
func (p TenantPause) ActiveAt(now time.Time) bool {
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// CostAlert records a threshold crossing, at most once per tenant, day and kind.
type CostAlert struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID  string          `gorm:"type:text;not null" json:"tenant_id"`
	UsageDate string          `gorm:"type:text;not null" json:"date"`
	Kind      AlertKind       `gorm:"type:text;not null" json:"kind"`
	CostUSD   decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"cost_usd"`
	CapUSD    decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"cap_usd"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (CostAlert) TableName() string { return "cost_alerts" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EntryDirection represents debit or credit postings.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

// Operation names the billable or crediting action behind a ledger entry.
type Operation string

const (
	OperationQualificationTurn Operation = "qualification_turn"
	OperationAIGeneration      Operation = "ai_generation"
	OperationScoreRefresh      Operation = "score_refresh"
	OperationTopUp             Operation = "top_up"
	OperationAdjustment        Operation = "adjustment"
)

// TokenBalance is the spendable token balance of one tenant.
type TokenBalance struct {
	TenantID    string              `gorm:"type:text;primaryKey"`
	Balance     decimal.Decimal     `gorm:"type:numeric(20,6);not null"`
	DailyCapUSD decimal.NullDecimal `gorm:"type:numeric(20,6)"`
	LastUpdated time.Time           `gorm:"not null"`
	CreatedAt   time.Time           `gorm:"not null"`
}

// TableName sets the database table name.
func (TokenBalance) TableName() string { return "token_balances" }

// LedgerEntry is the append-only audit record of one balance mutation.
type LedgerEntry struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID     string          `gorm:"type:text;not null;index" json:"tenant_id"`
	Direction    EntryDirection  `gorm:"type:text;not null" json:"direction"`
	Delta        decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"delta"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"balance_after"`
	Operation    Operation       `gorm:"type:text;not null" json:"operation"`
	Description  string          `gorm:"type:text" json:"description,omitempty"`
	ReferenceID  *string         `gorm:"type:text" json:"reference_id,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "token_ledger_entries" }

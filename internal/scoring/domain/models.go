package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Lead holds the scoring inputs and the last computed score.
type Lead struct {
	ID                string                        `gorm:"type:text;primaryKey" json:"id"`
	TenantID          string                        `gorm:"type:text;not null" json:"tenant_id"`
	BudgetEstimate    decimal.NullDecimal           `gorm:"type:numeric(20,2)" json:"budget_estimate"`
	IntentLevel       string                        `gorm:"type:text;not null" json:"intent_level"`
	InteractionCount  int                           `gorm:"not null" json:"interaction_count"`
	LastInteractionAt *time.Time                    `json:"last_interaction_at,omitempty"`
	Score             *int                          `json:"score,omitempty"`
	ScoreBreakdown    datatypes.JSONType[Breakdown] `gorm:"type:jsonb;not null" json:"score_breakdown"`
	ScoredAt          *time.Time                    `json:"scored_at,omitempty"`
	RoutedAt          *time.Time                    `json:"routed_at,omitempty"`
	CreatedAt         time.Time                     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Lead) TableName() string { return "leads" }

// Snapshot returns the fields ComputeScore reads.
func (l Lead) Snapshot() Snapshot {
	s := Snapshot{
		IntentLevel:       l.IntentLevel,
		InteractionCount:  l.InteractionCount,
		LastInteractionAt: l.LastInteractionAt,
		CreatedAt:         l.CreatedAt,
	}
	if l.BudgetEstimate.Valid {
		budget := l.BudgetEstimate.Decimal
		s.BudgetEstimate = &budget
	}
	return s
}

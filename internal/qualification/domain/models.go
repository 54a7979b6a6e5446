package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// State is the per-lead interview progress. CurrentTurn never decreases
// and ExtractedData keys are never removed while a run is in progress.
type State struct {
	LeadID             string            `gorm:"type:text;primaryKey" json:"lead_id"`
	TenantID           string            `gorm:"type:text;not null" json:"tenant_id"`
	CurrentTurn        int               `gorm:"not null" json:"current_turn"`
	Status             Status            `gorm:"type:text;not null" json:"status"`
	Escalated          bool              `gorm:"not null" json:"escalated"`
	ExtractedData      datatypes.JSONMap `gorm:"type:jsonb;not null" json:"extracted_data"`
	QualificationScore *int              `json:"qualification_score,omitempty"`
	StartedAt          time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt          time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (State) TableName() string { return "qualification_states" }

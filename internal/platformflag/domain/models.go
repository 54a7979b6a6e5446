package domain

import (
	"context"
	"errors"
	"time"
)

// KeyAIKillSwitch halts every tenant's AI calls while enabled.
const KeyAIKillSwitch = "ai_kill_switch"

// Flag is a named process-wide switch.
type Flag struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	Reason    string    `gorm:"type:text;not null" json:"reason"`
	UpdatedBy string    `gorm:"type:text;not null" json:"updated_by"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Flag) TableName() string { return "platform_flags" }

type SetRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

// KillSwitch is the administrative entity consulted once per AI operation.
type KillSwitch interface {
	Get(ctx context.Context) (Flag, error)
	Set(ctx context.Context, req SetRequest) (Flag, error)
	Active(ctx context.Context) (bool, error)
}

var ErrInvalidActor = errors.New("invalid_actor")

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type UpsertLeadRequest struct {
	TenantID          string           `json:"tenant_id"`
	LeadID            string           `json:"lead_id"`
	BudgetEstimate    *decimal.Decimal `json:"budget_estimate"`
	IntentLevel       *string          `json:"intent_level"`
	InteractionCount  *int             `json:"interaction_count"`
	LastInteractionAt *time.Time       `json:"last_interaction_at"`
}

type Service interface {
	UpsertLead(ctx context.Context, req UpsertLeadRequest) (*Lead, error)
	GetLead(ctx context.Context, tenantID, leadID string) (*Lead, error)
	RecordInteraction(ctx context.Context, tenantID, leadID string) (*Lead, error)
	Refresh(ctx context.Context, tenantID, leadID string) (*Lead, error)
	MarkRouted(ctx context.Context, tenantID, leadID string) error
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidLead   = errors.New("invalid_lead")
	ErrInvalidBudget = errors.New("invalid_budget")
	ErrInvalidCount  = errors.New("invalid_interaction_count")
	ErrLeadNotFound  = errors.New("lead_not_found")
)

package domain

import (
	"context"
	"errors"
)

type StartRequest struct {
	TenantID string `json:"tenant_id"`
	LeadID   string `json:"lead_id"`
}

type ProcessRequest struct {
	TenantID string `json:"tenant_id"`
	LeadID   string `json:"lead_id"`
	Response string `json:"response"`
}

// TurnResult is returned by Start and ProcessResponse. Message is the next
// turn's prompt, or the closing message once Completed.
type TurnResult struct {
	LeadID             string         `json:"lead_id"`
	Turn               int            `json:"turn"`
	Goal               Goal           `json:"goal,omitempty"`
	Completed          bool           `json:"completed"`
	Escalated          bool           `json:"escalated"`
	EscalationReason   string         `json:"escalation_reason,omitempty"`
	Message            string         `json:"message"`
	QualificationScore *int           `json:"qualification_score,omitempty"`
	ExtractedData      map[string]any `json:"extracted_data"`
	Rejected           []string       `json:"rejected_fields,omitempty"`
}

// RouteRequest hands a completed lead to the routing collaborator.
type RouteRequest struct {
	TenantID           string `json:"tenant_id"`
	LeadID             string `json:"lead_id"`
	QualificationScore int    `json:"qualification_score"`
	Reason             string `json:"reason"`
}

type Router interface {
	Route(ctx context.Context, req RouteRequest) error
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (TurnResult, error)
	ProcessResponse(ctx context.Context, req ProcessRequest) (TurnResult, error)
	GetState(ctx context.Context, tenantID, leadID string) (*State, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidLead      = errors.New("invalid_lead")
	ErrEmptyResponse    = errors.New("empty_response")
	ErrNotStarted       = errors.New("qualification_not_started")
	ErrAlreadyCompleted = errors.New("qualification_completed")
	ErrConcurrentUpdate = errors.New("qualification_concurrent_update")
)

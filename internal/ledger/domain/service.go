package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/pkg/db/pagination"
)

// Balance is the read view of a tenant balance. RemainingUSD is the part of
// DailyCapUSD not yet spent today and is set only when a cap is.
type Balance struct {
	TenantID     string           `json:"tenant_id"`
	Balance      decimal.Decimal  `json:"balance"`
	DailyCapUSD  *decimal.Decimal `json:"daily_cap_usd,omitempty"`
	RemainingUSD *decimal.Decimal `json:"remaining_usd,omitempty"`
	LastUpdated  time.Time        `json:"last_updated"`
}

type DeductRequest struct {
	TenantID    string          `json:"tenant_id"`
	Amount      decimal.Decimal `json:"amount"`
	Operation   Operation       `json:"operation"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

type TopUpRequest struct {
	TenantID    string          `json:"tenant_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

// TopUpResult reports the balance after a top-up. Applied is false when the
// reference was already credited.
type TopUpResult struct {
	Balance decimal.Decimal `json:"balance"`
	Applied bool            `json:"applied"`
}

type ListEntriesRequest struct {
	TenantID  string `json:"tenant_id"`
	PageToken string `json:"page_token"`
	PageSize  int    `json:"page_size"`
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

// Service owns tenant token balances. Every mutation runs in one row-locked
// transaction and appends a LedgerEntry.
type Service interface {
	EnsureTenant(ctx context.Context, tenantID string) (Balance, error)
	GetBalance(ctx context.Context, tenantID string) (Balance, error)
	DeductTokens(ctx context.Context, req DeductRequest) (decimal.Decimal, error)
	TopUpTokens(ctx context.Context, req TopUpRequest) (TopUpResult, error)
	SetCap(ctx context.Context, tenantID string, capUSD decimal.Decimal) (Balance, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOperation    = errors.New("invalid_operation")
	ErrInvalidReference    = errors.New("invalid_reference")
	ErrInvalidCap          = errors.New("invalid_cap")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrTenantNotFound      = errors.New("tenant_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)

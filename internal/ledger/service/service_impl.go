package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/smallbiznis/leadcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	Scope      *db.Scope
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	scope      *db.Scope
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		scope:      p.Scope,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) EnsureTenant(ctx context.Context, tenantID string) (ledgerdomain.Balance, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidTenant
	}

	created := false
	err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		created, err = s.insertBalanceRow(tx, tenantID)
		return err
	})
	if err != nil {
		return ledgerdomain.Balance{}, db.Classify(err)
	}
	if created {
		obslogger.WithTenant(ctx, s.log, tenantID).Info("tenant balance created")
	}
	return s.GetBalance(ctx, tenantID)
}

func (s *Service) GetBalance(ctx context.Context, tenantID string) (ledgerdomain.Balance, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidTenant
	}

	var row ledgerdomain.TokenBalance
	err := s.scope.Conn(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Balance{}, ledgerdomain.ErrTenantNotFound
	}
	if err != nil {
		return ledgerdomain.Balance{}, db.Classify(err)
	}

	out := toBalance(row)
	if out.DailyCapUSD != nil {
		spent, err := s.spentToday(ctx, tenantID)
		if err != nil {
			return ledgerdomain.Balance{}, db.Classify(err)
		}
		remaining := decimal.Max(out.DailyCapUSD.Sub(spent), decimal.Zero)
		out.RemainingUSD = &remaining
	}
	return out, nil
}

func (s *Service) spentToday(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	var record costdomain.UsageRecord
	err := s.scope.Conn(ctx).
		Where("tenant_id = ? AND usage_date = ?", tenantID, s.clock.Now().UTC().Format(costdomain.UsageDateLayout)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return record.CostUSD, nil
}

func (s *Service) DeductTokens(ctx context.Context, req ledgerdomain.DeductRequest) (decimal.Decimal, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return decimal.Zero, ledgerdomain.ErrInvalidTenant
	}
	if !req.Amount.IsPositive() {
		return decimal.Zero, ledgerdomain.ErrInvalidAmount
	}
	operation := ledgerdomain.Operation(strings.TrimSpace(string(req.Operation)))
	if operation == "" {
		return decimal.Zero, ledgerdomain.ErrInvalidOperation
	}

	var newBalance decimal.Decimal
	err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		row, err := lockBalance(tx, tenantID)
		if err != nil {
			return err
		}

		next := row.Balance.Sub(req.Amount)
		if next.IsNegative() {
			return ledgerdomain.ErrInsufficientBalance
		}

		now := s.clock.Now()
		if err := tx.Exec(
			`UPDATE token_balances SET balance = ?, last_updated = ? WHERE tenant_id = ?`,
			next, now, tenantID,
		).Error; err != nil {
			return err
		}
		if _, err := s.appendEntry(tx, ledgerdomain.LedgerEntry{
			TenantID:     tenantID,
			Direction:    ledgerdomain.EntryDirectionDebit,
			Delta:        req.Amount.Neg(),
			BalanceAfter: next,
			Operation:    operation,
			Description:  strings.TrimSpace(req.Description),
			ReferenceID:  optionalString(req.ReferenceID),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		newBalance = next
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
			s.obsMetrics.RecordInsufficientBalance(ctx, string(operation))
			obslogger.WithTenant(ctx, s.log, tenantID).Debug("deduction rejected",
				zap.String("operation", string(operation)),
				zap.String("amount", req.Amount.String()),
			)
			return decimal.Zero, err
		case errors.Is(err, ledgerdomain.ErrTenantNotFound):
			return decimal.Zero, err
		}
		return decimal.Zero, db.Classify(err)
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(operation), string(ledgerdomain.EntryDirectionDebit))
	return newBalance, nil
}

func (s *Service) TopUpTokens(ctx context.Context, req ledgerdomain.TopUpRequest) (ledgerdomain.TopUpResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return ledgerdomain.TopUpResult{}, ledgerdomain.ErrInvalidTenant
	}
	if !req.Amount.IsPositive() {
		return ledgerdomain.TopUpResult{}, ledgerdomain.ErrInvalidAmount
	}
	referenceID := strings.TrimSpace(req.ReferenceID)
	if referenceID == "" {
		return ledgerdomain.TopUpResult{}, ledgerdomain.ErrInvalidReference
	}

	var result ledgerdomain.TopUpResult
	err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := s.insertBalanceRow(tx, tenantID); err != nil {
			return err
		}
		row, err := lockBalance(tx, tenantID)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&ledgerdomain.LedgerEntry{}).
			Where("tenant_id = ? AND direction = ? AND reference_id = ?", tenantID, ledgerdomain.EntryDirectionCredit, referenceID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			result = ledgerdomain.TopUpResult{Balance: row.Balance, Applied: false}
			return nil
		}

		now := s.clock.Now()
		next := row.Balance.Add(req.Amount)
		inserted, err := s.appendEntry(tx, ledgerdomain.LedgerEntry{
			TenantID:     tenantID,
			Direction:    ledgerdomain.EntryDirectionCredit,
			Delta:        req.Amount,
			BalanceAfter: next,
			Operation:    ledgerdomain.OperationTopUp,
			Description:  strings.TrimSpace(req.Description),
			ReferenceID:  &referenceID,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result = ledgerdomain.TopUpResult{Balance: row.Balance, Applied: false}
			return nil
		}

		if err := tx.Exec(
			`UPDATE token_balances SET balance = ?, last_updated = ? WHERE tenant_id = ?`,
			next, now, tenantID,
		).Error; err != nil {
			return err
		}
		result = ledgerdomain.TopUpResult{Balance: next, Applied: true}
		return nil
	})
	if err != nil {
		return ledgerdomain.TopUpResult{}, db.Classify(err)
	}

	if result.Applied {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.OperationTopUp), string(ledgerdomain.EntryDirectionCredit))
		obslogger.WithTenant(ctx, s.log, tenantID).Info("tokens credited",
			zap.String("reference_id", referenceID),
			zap.String("amount", req.Amount.String()),
		)
	} else {
		obslogger.WithTenant(ctx, s.log, tenantID).Info("duplicate top-up ignored",
			zap.String("reference_id", referenceID),
		)
	}
	return result, nil
}

func (s *Service) SetCap(ctx context.Context, tenantID string, capUSD decimal.Decimal) (ledgerdomain.Balance, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidTenant
	}
	if capUSD.IsNegative() {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidCap
	}

	var updated ledgerdomain.TokenBalance
	err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		row, err := lockBalance(tx, tenantID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := tx.Exec(
			`UPDATE token_balances SET daily_cap_usd = ?, last_updated = ? WHERE tenant_id = ?`,
			capUSD, now, tenantID,
		).Error; err != nil {
			return err
		}
		row.DailyCapUSD = decimal.NewNullDecimal(capUSD)
		row.LastUpdated = now
		updated = row
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrTenantNotFound) {
			return ledgerdomain.Balance{}, err
		}
		return ledgerdomain.Balance{}, db.Classify(err)
	}

	obslogger.WithTenant(ctx, s.log, tenantID).Info("daily cap updated", zap.String("cap_usd", capUSD.String()))
	return toBalance(updated), nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidTenant
	}
	limit := pagination.Pagination{PageSize: req.PageSize}.Limit()

	query := s.scope.Conn(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Limit(limit + 1)
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", before)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return ledgerdomain.ListEntriesResponse{}, db.Classify(err)
	}

	page, info, err := pagination.BuildCursorPage(entries, limit, func(e ledgerdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), CreatedAt: e.CreatedAt.Format(time.RFC3339Nano)}
	})
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	return ledgerdomain.ListEntriesResponse{PageInfo: info, Entries: page}, nil
}

func (s *Service) insertBalanceRow(tx *gorm.DB, tenantID string) (bool, error) {
	now := s.clock.Now()
	result := tx.Exec(
		`INSERT INTO token_balances (tenant_id, balance, last_updated, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, decimal.Zero, now, now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) appendEntry(tx *gorm.DB, entry ledgerdomain.LedgerEntry) (bool, error) {
	entry.ID = s.genID.Generate()
	result := tx.Exec(
		`INSERT INTO token_ledger_entries (
			id, tenant_id, direction, delta, balance_after, operation, description, reference_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		entry.ID,
		entry.TenantID,
		string(entry.Direction),
		entry.Delta,
		entry.BalanceAfter,
		string(entry.Operation),
		entry.Description,
		entry.ReferenceID,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func lockBalance(tx *gorm.DB, tenantID string) (ledgerdomain.TokenBalance, error) {
	var row ledgerdomain.TokenBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.TokenBalance{}, ledgerdomain.ErrTenantNotFound
	}
	return row, err
}

func toBalance(row ledgerdomain.TokenBalance) ledgerdomain.Balance {
	out := ledgerdomain.Balance{
		TenantID:    row.TenantID,
		Balance:     row.Balance,
		LastUpdated: row.LastUpdated,
	}
	if row.DailyCapUSD.Valid {
		capUSD := row.DailyCapUSD.Decimal
		out.DailyCapUSD = &capUSD
	}
	return out
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

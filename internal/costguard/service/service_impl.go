package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CapSource supplies per-tenant cap overrides.
type CapSource interface {
	GetBalance(ctx context.Context, tenantID string) (ledgerdomain.Balance, error)
}

type Params struct {
	fx.In

	Scope      *db.Scope
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	RateCard   *config.RateCardHolder
	KillSwitch flagdomain.KillSwitch
	Caps       ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	scope      *db.Scope
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	rateCard   *config.RateCardHolder
	killSwitch flagdomain.KillSwitch
	caps       CapSource
	obsMetrics *obsmetrics.Metrics

	defaultCap    decimal.Decimal
	softRatio     decimal.Decimal
	pauseDuration time.Duration
}

func NewService(p Params) costdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := p.Log.Named("costguard.service")

	defaultCap, err := decimal.NewFromString(strings.TrimSpace(p.Config.CostGuard.DefaultDailyCapUSD))
	if err != nil || defaultCap.IsNegative() {
		log.Warn("invalid default daily cap, using 10", zap.String("value", p.Config.CostGuard.DefaultDailyCapUSD))
		defaultCap = decimal.NewFromInt(10)
	}
	softRatio, err := decimal.NewFromString(strings.TrimSpace(p.Config.CostGuard.SoftAlertRatio))
	if err != nil || !softRatio.IsPositive() || softRatio.GreaterThan(decimal.NewFromInt(1)) {
		softRatio = decimal.RequireFromString("0.8")
	}
	pauseDuration := p.Config.CostGuard.PauseDuration
	if pauseDuration <= 0 {
		pauseDuration = 24 * time.Hour
	}

	return &Service{
		scope:         p.Scope,
		log:           log,
		genID:         p.GenID,
		clock:         clk,
		rateCard:      p.RateCard,
		killSwitch:    p.KillSwitch,
		caps:          p.Caps,
		obsMetrics:    p.ObsMetrics,
		defaultCap:    defaultCap,
		softRatio:     softRatio,
		pauseDuration: pauseDuration,
	}
}

func (s *Service) CheckAllowed(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return costdomain.ErrInvalidTenant
	}
	if err := s.checkKillSwitch(ctx); err != nil {
		return err
	}

	pause, err := s.activePause(s.scope.Conn(ctx), tenantID, s.clock.Now())
	if err != nil {
		return db.Classify(err)
	}
	if pause != nil {
		s.obsMetrics.RecordCostGuardDecision(ctx, "paused")
		return costdomain.ErrTenantPaused
	}
	return nil
}

func (s *Service) CheckBudget(ctx context.Context, req costdomain.TrackUsageRequest) error {
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		return costdomain.ErrInvalidTokens
	}
	if err := s.CheckAllowed(ctx, req.TenantID); err != nil {
		return err
	}
	tenantID := strings.TrimSpace(req.TenantID)

	capUSD, err := s.capFor(ctx, tenantID)
	if err != nil {
		return err
	}
	usage, err := s.GetUsage(ctx, tenantID, s.clock.Now())
	if err != nil {
		return err
	}
	callCost := costdomain.Cost(s.rateCard.Get().Resolve(req.Model), req.InputTokens, req.OutputTokens)
	if costdomain.Evaluate(usage.CostUSD.Add(callCost), capUSD, s.softRatio) == costdomain.StatePaused {
		s.obsMetrics.RecordCostGuardDecision(ctx, "projected_over_cap")
		return costdomain.ErrCapExceeded
	}
	return nil
}

func (s *Service) TrackUsage(ctx context.Context, req costdomain.TrackUsageRequest) (costdomain.UsageSnapshot, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return costdomain.UsageSnapshot{}, costdomain.ErrInvalidTenant
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		return costdomain.UsageSnapshot{}, costdomain.ErrInvalidTokens
	}
	if err := s.checkKillSwitch(ctx); err != nil {
		return costdomain.UsageSnapshot{}, err
	}

	capUSD, err := s.capFor(ctx, tenantID)
	if err != nil {
		return costdomain.UsageSnapshot{}, err
	}
	rate := s.rateCard.Get().Resolve(req.Model)
	callCost := costdomain.Cost(rate, req.InputTokens, req.OutputTokens)

	var (
		snapshot    costdomain.UsageSnapshot
		capExceeded bool
		softAlerted bool
	)
	err = s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock.Now()
		pause, err := s.activePause(tx, tenantID, now)
		if err != nil {
			return err
		}
		if pause != nil {
			return costdomain.ErrTenantPaused
		}

		date := now.UTC().Format(costdomain.UsageDateLayout)
		if err := tx.Exec(
			`INSERT INTO ai_usage_records (
				tenant_id, usage_date, input_tokens, output_tokens, cost_usd, request_count, last_updated, created_at
			) VALUES (?, ?, 0, 0, ?, 0, ?, ?)
			ON CONFLICT (tenant_id, usage_date) DO NOTHING`,
			tenantID, date, decimal.Zero, now, now,
		).Error; err != nil {
			return err
		}

		var record costdomain.UsageRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND usage_date = ?", tenantID, date).
			Take(&record).Error; err != nil {
			return err
		}

		cumulative := record.CostUSD.Add(callCost)
		state := costdomain.Evaluate(cumulative, capUSD, s.softRatio)
		if state == costdomain.StatePaused {
			expires := now.Add(s.pauseDuration)
			if err := upsertPause(tx, costdomain.TenantPause{
				TenantID:  tenantID,
				Reason:    "daily cap exceeded",
				Source:    costdomain.PauseSourceAuto,
				PausedAt:  now,
				ExpiresAt: &expires,
			}); err != nil {
				return err
			}
			if _, err := s.insertAlert(tx, tenantID, date, costdomain.AlertKindCapExceeded, cumulative, capUSD, now); err != nil {
				return err
			}
			snapshot = toSnapshot(record, decimal.Zero, capUSD, state)
			capExceeded = true
			return nil
		}

		if err := tx.Exec(
			`UPDATE ai_usage_records
			SET input_tokens = ?, output_tokens = ?, cost_usd = ?, request_count = ?, last_updated = ?
			WHERE tenant_id = ? AND usage_date = ?`,
			record.InputTokens+req.InputTokens,
			record.OutputTokens+req.OutputTokens,
			cumulative,
			record.RequestCount+1,
			now,
			tenantID, date,
		).Error; err != nil {
			return err
		}
		record.InputTokens += req.InputTokens
		record.OutputTokens += req.OutputTokens
		record.CostUSD = cumulative
		record.RequestCount++

		if state == costdomain.StateSoftAlert {
			softAlerted, err = s.insertAlert(tx, tenantID, date, costdomain.AlertKindSoft, cumulative, capUSD, now)
			if err != nil {
				return err
			}
		}
		snapshot = toSnapshot(record, callCost, capUSD, state)
		return nil
	})
	if err != nil {
		if errors.Is(err, costdomain.ErrTenantPaused) {
			s.obsMetrics.RecordCostGuardDecision(ctx, "paused")
			return costdomain.UsageSnapshot{}, err
		}
		return costdomain.UsageSnapshot{}, db.Classify(err)
	}

	if capExceeded {
		s.obsMetrics.RecordCostGuardDecision(ctx, "cap_exceeded")
		s.obsMetrics.RecordCostAlert(ctx, string(costdomain.AlertKindCapExceeded))
		obslogger.WithTenant(ctx, s.log, tenantID).Warn("daily cap exceeded, tenant auto-paused",
			zap.String("cap_usd", capUSD.String()),
			zap.String("call_cost_usd", callCost.String()),
			zap.Duration("pause", s.pauseDuration),
		)
		return snapshot, costdomain.ErrCapExceeded
	}

	s.obsMetrics.RecordCostGuardDecision(ctx, "allowed")
	s.obsMetrics.RecordAICost(ctx, rate.Model, callCost.InexactFloat64())
	if softAlerted {
		s.obsMetrics.RecordCostAlert(ctx, string(costdomain.AlertKindSoft))
		obslogger.WithTenant(ctx, s.log, tenantID).Warn("daily spend crossed soft alert threshold",
			zap.String("cost_usd", snapshot.CostUSD.String()),
			zap.String("cap_usd", capUSD.String()),
		)
	}
	return snapshot, nil
}

func (s *Service) Pause(ctx context.Context, req costdomain.PauseRequest) (costdomain.TenantPause, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return costdomain.TenantPause{}, costdomain.ErrInvalidTenant
	}
	if req.Duration < 0 {
		return costdomain.TenantPause{}, costdomain.ErrInvalidDuration
	}

	now := s.clock.Now()
	pause := costdomain.TenantPause{
		TenantID: tenantID,
		Reason:   strings.TrimSpace(req.Reason),
		Source:   costdomain.PauseSourceManual,
		PausedAt: now,
	}
	if pause.Reason == "" {
		pause.Reason = "manual pause"
	}
	if req.Duration > 0 {
		expires := now.Add(req.Duration)
		pause.ExpiresAt = &expires
	}

	if err := upsertPause(s.scope.Conn(ctx), pause); err != nil {
		return costdomain.TenantPause{}, db.Classify(err)
	}
	obslogger.WithTenant(ctx, s.log, tenantID).Info("tenant paused",
		zap.String("reason", pause.Reason),
		zap.Duration("duration", req.Duration),
	)
	return pause, nil
}

func (s *Service) Resume(ctx context.Context, tenantID string) (bool, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, costdomain.ErrInvalidTenant
	}
	result := s.scope.Conn(ctx).Exec(`DELETE FROM tenant_pauses WHERE tenant_id = ?`, tenantID)
	if result.Error != nil {
		return false, db.Classify(result.Error)
	}
	resumed := result.RowsAffected > 0
	if resumed {
		obslogger.WithTenant(ctx, s.log, tenantID).Info("tenant resumed")
	}
	return resumed, nil
}

func (s *Service) GetUsage(ctx context.Context, tenantID string, day time.Time) (costdomain.UsageRecord, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return costdomain.UsageRecord{}, costdomain.ErrInvalidTenant
	}
	date := day.UTC().Format(costdomain.UsageDateLayout)

	var record costdomain.UsageRecord
	err := s.scope.Conn(ctx).Where("tenant_id = ? AND usage_date = ?", tenantID, date).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return costdomain.UsageRecord{TenantID: tenantID, UsageDate: date, CostUSD: decimal.Zero}, nil
	}
	if err != nil {
		return costdomain.UsageRecord{}, db.Classify(err)
	}
	return record, nil
}

func (s *Service) Status(ctx context.Context, tenantID string) (costdomain.Status, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return costdomain.Status{}, costdomain.ErrInvalidTenant
	}
	now := s.clock.Now()

	capUSD, err := s.capFor(ctx, tenantID)
	if err != nil {
		return costdomain.Status{}, err
	}
	usage, err := s.GetUsage(ctx, tenantID, now)
	if err != nil {
		return costdomain.Status{}, err
	}
	pause, err := s.activePause(s.scope.Conn(ctx), tenantID, now)
	if err != nil {
		return costdomain.Status{}, db.Classify(err)
	}

	remaining := capUSD.Sub(usage.CostUSD)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	status := costdomain.Status{
		TenantID:     tenantID,
		Date:         usage.UsageDate,
		CostUSD:      usage.CostUSD,
		CapUSD:       capUSD,
		RemainingUSD: remaining,
		State:        costdomain.Evaluate(usage.CostUSD, capUSD, s.softRatio),
		Pause:        pause,
	}
	if pause != nil {
		status.State = costdomain.StatePaused
	} else if status.State == costdomain.StatePaused {
		// over cap but manually resumed
		status.State = costdomain.StateSoftAlert
	}
	return status, nil
}

func (s *Service) SweepExpiredPauses(ctx context.Context) (int64, error) {
	conn := s.scope.Conn(ctx)
	now := s.clock.Now()

	var pauses []costdomain.TenantPause
	if err := conn.Where("expires_at IS NOT NULL").Find(&pauses).Error; err != nil {
		return 0, db.Classify(err)
	}

	var cleared int64
	for _, pause := range pauses {
		if pause.ActiveAt(now) {
			continue
		}
		var removed bool
		err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
			var current costdomain.TenantPause
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("tenant_id = ?", pause.TenantID).
				Take(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if current.ActiveAt(now) {
				return nil
			}
			result := tx.Exec(`DELETE FROM tenant_pauses WHERE tenant_id = ?`, pause.TenantID)
			removed = result.RowsAffected > 0
			return result.Error
		})
		if err != nil {
			return cleared, db.Classify(err)
		}
		if removed {
			cleared++
			obslogger.WithTenant(ctx, s.log, pause.TenantID).Info("pause expired, tenant resumed",
				zap.String("source", string(pause.Source)),
			)
		}
	}
	return cleared, nil
}

// PurgeUsageBefore deletes usage rows dated before cutoff, at most limit rows
// per call when limit is positive.
func (s *Service) PurgeUsageBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	date := cutoff.UTC().Format(costdomain.UsageDateLayout)
	conn := s.scope.Conn(ctx)

	var result *gorm.DB
	if limit > 0 {
		result = conn.Exec(
			`DELETE FROM ai_usage_records WHERE (tenant_id, usage_date) IN (
				SELECT tenant_id, usage_date FROM ai_usage_records
				WHERE usage_date < ? ORDER BY usage_date LIMIT ?
			)`,
			date, limit,
		)
	} else {
		result = conn.Exec(`DELETE FROM ai_usage_records WHERE usage_date < ?`, date)
	}
	if result.Error != nil {
		return 0, db.Classify(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) checkKillSwitch(ctx context.Context) error {
	if s.killSwitch == nil {
		return nil
	}
	active, err := s.killSwitch.Active(ctx)
	if err != nil {
		return err
	}
	if active {
		s.obsMetrics.RecordCostGuardDecision(ctx, "kill_switch")
		return costdomain.ErrKillSwitchActive
	}
	return nil
}

func (s *Service) capFor(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	if s.caps == nil {
		return s.defaultCap, nil
	}
	bal, err := s.caps.GetBalance(ctx, tenantID)
	if errors.Is(err, ledgerdomain.ErrTenantNotFound) {
		return s.defaultCap, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if bal.DailyCapUSD != nil {
		return *bal.DailyCapUSD, nil
	}
	return s.defaultCap, nil
}

func (s *Service) activePause(conn *gorm.DB, tenantID string, now time.Time) (*costdomain.TenantPause, error) {
	var pause costdomain.TenantPause
	err := conn.Where("tenant_id = ?", tenantID).Take(&pause).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !pause.ActiveAt(now) {
		return nil, nil
	}
	return &pause, nil
}

func (s *Service) insertAlert(tx *gorm.DB, tenantID, date string, kind costdomain.AlertKind, cost, capUSD decimal.Decimal, now time.Time) (bool, error) {
	result := tx.Exec(
		`INSERT INTO cost_alerts (id, tenant_id, usage_date, kind, cost_usd, cap_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, usage_date, kind) DO NOTHING`,
		s.genID.Generate(), tenantID, date, string(kind), cost, capUSD, now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func upsertPause(conn *gorm.DB, pause costdomain.TenantPause) error {
	return conn.Exec(
		`INSERT INTO tenant_pauses (tenant_id, reason, source, paused_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			reason = excluded.reason,
			source = excluded.source,
			paused_at = excluded.paused_at,
			expires_at = excluded.expires_at`,
		pause.TenantID, pause.Reason, string(pause.Source), pause.PausedAt, pause.ExpiresAt,
	).Error
}

func toSnapshot(record costdomain.UsageRecord, callCost, capUSD decimal.Decimal, state costdomain.State) costdomain.UsageSnapshot {
	return costdomain.UsageSnapshot{
		TenantID:     record.TenantID,
		Date:         record.UsageDate,
		InputTokens:  record.InputTokens,
		OutputTokens: record.OutputTokens,
		RequestCount: record.RequestCount,
		CostUSD:      record.CostUSD,
		CallCostUSD:  callCost,
		CapUSD:       capUSD,
		State:        state,
		SoftAlert:    state == costdomain.StateSoftAlert,
	}
}

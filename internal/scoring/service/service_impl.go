package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/leadcore/internal/clock"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	Scope *db.Scope
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	scope *db.Scope
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) scoringdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		scope: p.Scope,
		log:   p.Log.Named("scoring.service"),
		clock: clk,
	}
}

func (s *Service) UpsertLead(ctx context.Context, req scoringdomain.UpsertLeadRequest) (*scoringdomain.Lead, error) {
	tenantID, leadID, err := normalizeIDs(req.TenantID, req.LeadID)
	if err != nil {
		return nil, err
	}
	if req.BudgetEstimate != nil && req.BudgetEstimate.IsNegative() {
		return nil, scoringdomain.ErrInvalidBudget
	}
	if req.InteractionCount != nil && *req.InteractionCount < 0 {
		return nil, scoringdomain.ErrInvalidCount
	}

	var lead scoringdomain.Lead
	err = s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock.Now()
		existing, err := lockLeadByID(tx, leadID)
		switch {
		case errors.Is(err, scoringdomain.ErrLeadNotFound):
			lead = scoringdomain.Lead{
				ID:             leadID,
				TenantID:       tenantID,
				ScoreBreakdown: datatypes.NewJSONType(scoringdomain.Breakdown{}),
				CreatedAt:      now,
			}
		case err != nil:
			return err
		case existing.TenantID != tenantID:
			return scoringdomain.ErrLeadNotFound
		default:
			lead = *existing
		}

		applyUpsert(&lead, req)
		lead.UpdatedAt = now
		if existing == nil {
			return tx.Create(&lead).Error
		}
		return tx.Model(&scoringdomain.Lead{}).
			Where("id = ?", leadID).
			Updates(map[string]any{
				"budget_estimate":     lead.BudgetEstimate,
				"intent_level":        lead.IntentLevel,
				"interaction_count":   lead.InteractionCount,
				"last_interaction_at": lead.LastInteractionAt,
				"updated_at":          lead.UpdatedAt,
			}).Error
	})
	if err != nil {
		return nil, db.Classify(err, scoringdomain.ErrLeadNotFound)
	}
	return &lead, nil
}

func (s *Service) GetLead(ctx context.Context, tenantID, leadID string) (*scoringdomain.Lead, error) {
	tenantID, leadID, err := normalizeIDs(tenantID, leadID)
	if err != nil {
		return nil, err
	}
	var lead scoringdomain.Lead
	err = s.scope.Conn(ctx).Where("id = ? AND tenant_id = ?", leadID, tenantID).Take(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, scoringdomain.ErrLeadNotFound
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &lead, nil
}

func (s *Service) RecordInteraction(ctx context.Context, tenantID, leadID string) (*scoringdomain.Lead, error) {
	tenantID, leadID, err := normalizeIDs(tenantID, leadID)
	if err != nil {
		return nil, err
	}

	var lead *scoringdomain.Lead
	err = s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := lockLead(tx, tenantID, leadID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		existing.InteractionCount++
		existing.LastInteractionAt = &now
		existing.UpdatedAt = now
		lead = existing
		return tx.Exec(
			`UPDATE leads SET interaction_count = ?, last_interaction_at = ?, updated_at = ? WHERE id = ?`,
			existing.InteractionCount, now, now, leadID,
		).Error
	})
	if err != nil {
		return nil, db.Classify(err, scoringdomain.ErrLeadNotFound)
	}
	return lead, nil
}

func (s *Service) Refresh(ctx context.Context, tenantID, leadID string) (*scoringdomain.Lead, error) {
	tenantID, leadID, err := normalizeIDs(tenantID, leadID)
	if err != nil {
		return nil, err
	}

	var lead *scoringdomain.Lead
	err = s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := lockLead(tx, tenantID, leadID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		score := scoringdomain.ComputeScore(existing.Snapshot(), now)

		total := score.Total
		existing.Score = &total
		existing.ScoreBreakdown = datatypes.NewJSONType(score.Breakdown)
		existing.ScoredAt = &now
		existing.UpdatedAt = now
		lead = existing
		return tx.Model(&scoringdomain.Lead{}).
			Where("id = ?", leadID).
			Updates(map[string]any{
				"score":           total,
				"score_breakdown": existing.ScoreBreakdown,
				"scored_at":       now,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, db.Classify(err, scoringdomain.ErrLeadNotFound)
	}

	obslogger.WithTenant(ctx, s.log, tenantID).Debug("lead scored",
		zap.String("lead_id", leadID),
		zap.Int("score", *lead.Score),
	)
	return lead, nil
}

func (s *Service) MarkRouted(ctx context.Context, tenantID, leadID string) error {
	tenantID, leadID, err := normalizeIDs(tenantID, leadID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	result := s.scope.Conn(ctx).Exec(
		`UPDATE leads SET routed_at = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		now, now, leadID, tenantID,
	)
	if result.Error != nil {
		return db.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return scoringdomain.ErrLeadNotFound
	}
	return nil
}

func lockLead(tx *gorm.DB, tenantID, leadID string) (*scoringdomain.Lead, error) {
	lead, err := lockLeadByID(tx, leadID)
	if err != nil {
		return nil, err
	}
	// lead ids are global; another tenant's lead is reported as missing
	if lead.TenantID != tenantID {
		return nil, scoringdomain.ErrLeadNotFound
	}
	return lead, nil
}

func lockLeadByID(tx *gorm.DB, leadID string) (*scoringdomain.Lead, error) {
	var lead scoringdomain.Lead
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", leadID).
		Take(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, scoringdomain.ErrLeadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func applyUpsert(lead *scoringdomain.Lead, req scoringdomain.UpsertLeadRequest) {
	if req.BudgetEstimate != nil {
		lead.BudgetEstimate.Decimal = *req.BudgetEstimate
		lead.BudgetEstimate.Valid = true
	}
	if req.IntentLevel != nil {
		lead.IntentLevel = strings.ToLower(strings.TrimSpace(*req.IntentLevel))
	}
	if req.InteractionCount != nil {
		lead.InteractionCount = *req.InteractionCount
	}
	if req.LastInteractionAt != nil {
		at := req.LastInteractionAt.UTC()
		lead.LastInteractionAt = &at
	}
}

func normalizeIDs(tenantID, leadID string) (string, string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", "", scoringdomain.ErrInvalidTenant
	}
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return "", "", scoringdomain.ErrInvalidLead
	}
	return tenantID, leadID, nil
}

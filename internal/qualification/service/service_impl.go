package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/contentgen"
	"github.com/smallbiznis/leadcore/internal/fallback"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	"github.com/smallbiznis/leadcore/internal/ratelimit"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/smallbiznis/leadcore/pkg/effect"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const extractionMaxTokens = 256

// Extractor turns a free-text reply into untyped fields.
type Extractor interface {
	Extract(ctx context.Context, req contentgen.Request) (map[string]any, error)
}

type Params struct {
	fx.In

	Scope      *db.Scope
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Mutex      ratelimit.Mutex
	Extractor  Extractor
	Ledger     ledgerdomain.Service
	Leads      scoringdomain.Service
	Router     qualdomain.Router
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	scope      *db.Scope
	log        *zap.Logger
	clock      clock.Clock
	mutex      ratelimit.Mutex
	extractor  Extractor
	ledger     ledgerdomain.Service
	leads      scoringdomain.Service
	router     qualdomain.Router
	obsMetrics *obsmetrics.Metrics
	turnCost   decimal.Decimal
}

func NewService(p Params) qualdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	mutex := p.Mutex
	if mutex == nil {
		mutex = ratelimit.NewLocalMutex()
	}
	log := p.Log.Named("qualification.service")

	turnCost, err := decimal.NewFromString(strings.TrimSpace(p.Config.Ledger.QualificationTurnCost))
	if err != nil || !turnCost.IsPositive() {
		log.Warn("invalid qualification turn cost, using 1", zap.String("value", p.Config.Ledger.QualificationTurnCost))
		turnCost = decimal.NewFromInt(1)
	}

	return &Service{
		scope:      p.Scope,
		log:        log,
		clock:      clk,
		mutex:      mutex,
		extractor:  p.Extractor,
		ledger:     p.Ledger,
		leads:      p.Leads,
		router:     p.Router,
		obsMetrics: p.ObsMetrics,
		turnCost:   turnCost,
	}
}

func (s *Service) Start(ctx context.Context, req qualdomain.StartRequest) (qualdomain.TurnResult, error) {
	tenantID, leadID, err := normalizeIDs(req.TenantID, req.LeadID)
	if err != nil {
		return qualdomain.TurnResult{}, err
	}
	if _, err := s.leads.GetLead(ctx, tenantID, leadID); err != nil {
		return qualdomain.TurnResult{}, err
	}

	unlock, err := s.mutex.Lock(ctx, lockKey(leadID))
	if err != nil {
		return qualdomain.TurnResult{}, err
	}
	defer unlock()

	now := s.clock.Now()
	err = s.scope.Conn(ctx).Exec(
		`INSERT INTO qualification_states (
			lead_id, tenant_id, current_turn, status, escalated, extracted_data,
			qualification_score, started_at, completed_at, updated_at
		) VALUES (?, ?, 1, ?, ?, ?, NULL, ?, NULL, ?)
		ON CONFLICT (lead_id) DO UPDATE SET
			current_turn = 1,
			status = excluded.status,
			escalated = excluded.escalated,
			extracted_data = excluded.extracted_data,
			qualification_score = NULL,
			started_at = excluded.started_at,
			completed_at = NULL,
			updated_at = excluded.updated_at`,
		leadID, tenantID, string(qualdomain.StatusInProgress), false, datatypes.JSONMap{}, now, now,
	).Error
	if err != nil {
		return qualdomain.TurnResult{}, db.Classify(err)
	}

	first, _ := qualdomain.TurnFor(1)
	obslogger.WithTenant(ctx, s.log, tenantID).Info("qualification started", zap.String("lead_id", leadID))
	return qualdomain.TurnResult{
		LeadID:        leadID,
		Turn:          1,
		Goal:          first.Goal,
		Message:       first.Prompt,
		ExtractedData: map[string]any{},
	}, nil
}

func (s *Service) ProcessResponse(ctx context.Context, req qualdomain.ProcessRequest) (qualdomain.TurnResult, error) {
	tenantID, leadID, err := normalizeIDs(req.TenantID, req.LeadID)
	if err != nil {
		return qualdomain.TurnResult{}, err
	}
	response := strings.TrimSpace(req.Response)
	if response == "" {
		return qualdomain.TurnResult{}, qualdomain.ErrEmptyResponse
	}

	log := obslogger.WithTenant(ctx, s.log, tenantID).With(zap.String("lead_id", leadID))

	unlock, err := s.mutex.Lock(ctx, lockKey(leadID))
	if err != nil {
		return qualdomain.TurnResult{}, err
	}
	defer unlock()

	state, err := s.GetState(ctx, tenantID, leadID)
	if err != nil {
		return qualdomain.TurnResult{}, err
	}
	if state.Status == qualdomain.StatusCompleted {
		return qualdomain.TurnResult{}, qualdomain.ErrAlreadyCompleted
	}
	turn, ok := qualdomain.TurnFor(state.CurrentTurn)
	if !ok {
		return qualdomain.TurnResult{}, fmt.Errorf("qualification state for lead %s has turn %d", leadID, state.CurrentTurn)
	}

	// checked before the billable extraction; the debit commits with the state write
	if err := s.ensureAffordable(ctx, tenantID); err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			s.obsMetrics.RecordQualificationTurn(ctx, turn.Number, "insufficient_balance")
		}
		return qualdomain.TurnResult{}, err
	}

	// extraction runs before any write so a failed or timed out call costs nothing
	raw, err := s.extractor.Extract(ctx, extractionRequest(tenantID, turn, response))
	if err != nil {
		s.obsMetrics.RecordQualificationTurn(ctx, turn.Number, "extraction_failed")
		log.Warn("qualification extraction failed",
			zap.Int("turn", turn.Number),
			zap.Error(err),
		)
		return qualdomain.TurnResult{}, err
	}
	fields, rejected := qualdomain.Coerce(raw)
	if len(rejected) > 0 {
		log.Debug("dropped extracted fields", zap.Strings("fields", rejected))
	}

	merged := qualdomain.Merge(state.ExtractedData, fields)
	escalate, reason := qualdomain.ShouldEscalate(merged)
	completed := escalate || turn.Number == qualdomain.MaxTurns
	if completed && !escalate {
		reason = qualdomain.ReasonMaxTurns
	}

	now := s.clock.Now()
	result := qualdomain.TurnResult{
		LeadID:        leadID,
		Turn:          turn.Number + 1,
		Completed:     completed,
		Escalated:     completed,
		ExtractedData: merged,
		Rejected:      rejected,
	}
	updates := map[string]any{
		"current_turn":   turn.Number + 1,
		"extracted_data": datatypes.JSONMap(merged),
		"updated_at":     now,
	}
	if completed {
		score := qualdomain.Score(merged)
		result.QualificationScore = &score
		result.EscalationReason = reason
		result.Message = qualdomain.ClosingMessage
		if escalate {
			result.Message = qualdomain.EscalationMessage
		}
		updates["status"] = string(qualdomain.StatusCompleted)
		updates["escalated"] = true
		updates["qualification_score"] = score
		updates["completed_at"] = now
	} else {
		next, _ := qualdomain.TurnFor(turn.Number + 1)
		result.Goal = next.Goal
		result.Message = next.Prompt
	}

	err = s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := effect.Critical(ctx, "deduct_turn_cost", func(ctx context.Context) error {
			_, err := s.ledger.DeductTokens(ctx, ledgerdomain.DeductRequest{
				TenantID:    tenantID,
				Amount:      s.turnCost,
				Operation:   ledgerdomain.OperationQualificationTurn,
				Description: fmt.Sprintf("qualification turn %d", turn.Number),
				ReferenceID: fmt.Sprintf("qualification:%s:%d", leadID, turn.Number),
			})
			return err
		}); err != nil {
			return err
		}

		res := tx.Model(&qualdomain.State{}).
			Where("lead_id = ? AND current_turn = ? AND status = ?", leadID, turn.Number, string(qualdomain.StatusInProgress)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return qualdomain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			outcome = "insufficient_balance"
		}
		s.obsMetrics.RecordQualificationTurn(ctx, turn.Number, outcome)
		return qualdomain.TurnResult{}, db.Classify(err,
			ledgerdomain.ErrInsufficientBalance,
			ledgerdomain.ErrTenantNotFound,
			qualdomain.ErrConcurrentUpdate,
		)
	}

	effect.BestEffort(ctx, log, "refresh_lead_score", func(ctx context.Context) error {
		if _, err := s.leads.RecordInteraction(ctx, tenantID, leadID); err != nil {
			return err
		}
		_, err := s.leads.Refresh(ctx, tenantID, leadID)
		return err
	})

	if !completed {
		s.obsMetrics.RecordQualificationTurn(ctx, turn.Number, "advanced")
		return result, nil
	}

	s.obsMetrics.RecordQualificationTurn(ctx, turn.Number, "completed")
	log.Info("qualification completed",
		zap.Int("turn", turn.Number),
		zap.String("reason", reason),
		zap.Int("qualification_score", *result.QualificationScore),
	)
	effect.BestEffort(ctx, log, "route_lead", func(ctx context.Context) error {
		return s.router.Route(ctx, qualdomain.RouteRequest{
			TenantID:           tenantID,
			LeadID:             leadID,
			QualificationScore: *result.QualificationScore,
			Reason:             reason,
		})
	})
	return result, nil
}

// ensureAffordable fails when the tenant cannot pay for one turn.
func (s *Service) ensureAffordable(ctx context.Context, tenantID string) error {
	balance, err := s.ledger.GetBalance(ctx, tenantID)
	if err != nil {
		return err
	}
	if balance.Balance.LessThan(s.turnCost) {
		return ledgerdomain.ErrInsufficientBalance
	}
	return nil
}

func (s *Service) GetState(ctx context.Context, tenantID, leadID string) (*qualdomain.State, error) {
	tenantID, leadID, err := normalizeIDs(tenantID, leadID)
	if err != nil {
		return nil, err
	}
	var state qualdomain.State
	err = s.scope.Conn(ctx).
		Where("lead_id = ? AND tenant_id = ?", leadID, tenantID).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qualdomain.ErrNotStarted
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	if state.ExtractedData == nil {
		state.ExtractedData = datatypes.JSONMap{}
	}
	return &state, nil
}

func extractionRequest(tenantID string, turn qualdomain.Turn, response string) contentgen.Request {
	system := "You extract structured lead qualification data from a prospect's reply. " +
		"Respond with one JSON object and nothing else. Allowed keys: " +
		"intent (high|medium|low), pain_point (text), budget_range (<$5K|$5K-$10K|$10K-$50K|$50K+), " +
		"timeline (immediate|1-3 months|3-6 months|6+ months), urgency (high|medium|low), " +
		"decision_authority (yes|sole|shared|no), stakeholders (text), objections (text), concerns (text), " +
		"preferred_contact (text), availability (text). Omit keys the reply does not support."
	prompt := fmt.Sprintf(
		"Question asked: %s\nFocus on: %s\nProspect reply: %s",
		turn.Prompt, strings.Join(turn.Fields, ", "), response,
	)
	return contentgen.Request{
		TenantID:    tenantID,
		System:      system,
		Prompt:      prompt,
		MaxTokens:   extractionMaxTokens,
		Temperature: 0,
		Category:    fallback.CategoryScoring,
	}
}

func lockKey(leadID string) string {
	return "qualification:lead:" + leadID
}

func normalizeIDs(tenantID, leadID string) (string, string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", "", qualdomain.ErrInvalidTenant
	}
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return "", "", qualdomain.ErrInvalidLead
	}
	return tenantID, leadID, nil
}

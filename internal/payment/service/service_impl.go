package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Scope      *db.Scope
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	LedgerSvc  ledgerdomain.Service
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	scope         *db.Scope
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	ledgerSvc     ledgerdomain.Service
	repo          paymentdomain.Repository
	obsMetrics    *obsmetrics.Metrics
	tokensPerUnit decimal.Decimal
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := p.Log.Named("payment.service")

	rate, err := decimal.NewFromString(strings.TrimSpace(p.Config.Payment.TokensPerCurrencyUnit))
	if err != nil || !rate.IsPositive() {
		log.Warn("invalid tokens per currency unit, using 1", zap.String("value", p.Config.Payment.TokensPerCurrencyUnit))
		rate = decimal.NewFromInt(1)
	}

	return &Service{
		scope:         p.Scope,
		log:           log,
		genID:         p.GenID,
		clock:         clk,
		ledgerSvc:     p.LedgerSvc,
		repo:          p.Repo,
		obsMetrics:    p.ObsMetrics,
		tokensPerUnit: rate,
	}
}

// ProcessEvent records the event once per (provider, event id) and credits the
// tenant for successful payments. Redeliveries return the stored outcome.
func (s *Service) ProcessEvent(ctx context.Context, event paymentdomain.PaymentEvent) (paymentdomain.ProcessResult, error) {
	if err := normalizeEvent(&event); err != nil {
		return paymentdomain.ProcessResult{}, err
	}

	payload := datatypes.JSON(event.RawPayload)
	if len(payload) == 0 {
		payload = datatypes.JSON("{}")
	} else if !json.Valid(payload) {
		return paymentdomain.ProcessResult{}, paymentdomain.ErrInvalidPayload
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:         s.genID.Generate(),
		Provider:   event.Provider,
		EventID:    event.EventID,
		EventType:  event.Type,
		TenantID:   event.TenantID,
		Amount:     event.Amount,
		Currency:   event.Currency,
		Tokens:     decimal.Zero,
		Status:     paymentdomain.StatusReceived,
		Payload:    payload,
		ReceivedAt: now,
	}

	var (
		result   paymentdomain.ProcessResult
		inserted bool
	)
	err := s.scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		inserted, err = s.repo.InsertEvent(ctx, tx, &received)
		if err != nil {
			return err
		}
		stored := &received
		if !inserted {
			stored, err = s.repo.FindEvent(ctx, tx, event.Provider, event.EventID)
			if err != nil {
				return err
			}
			if stored == nil {
				return paymentdomain.ErrInvalidEvent
			}
			if stored.ProcessedAt != nil {
				result = paymentdomain.ProcessResult{
					EventID:   stored.EventID,
					Status:    stored.Status,
					Tokens:    stored.Tokens,
					Duplicate: true,
				}
				return nil
			}
		}

		result, err = s.apply(ctx, stored, event)
		if err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, tx, stored.ID, result.Status, result.Tokens, now)
	})
	if err != nil {
		return paymentdomain.ProcessResult{}, db.Classify(err,
			paymentdomain.ErrInvalidEvent,
			ledgerdomain.ErrInvalidTenant,
			ledgerdomain.ErrInvalidAmount,
		)
	}

	if inserted {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	obslogger.WithTenant(ctx, s.log, event.TenantID).Info("payment event processed",
		zap.String("provider", event.Provider),
		zap.String("event_id", event.EventID),
		zap.String("status", result.Status),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, stored *paymentdomain.EventRecord, event paymentdomain.PaymentEvent) (paymentdomain.ProcessResult, error) {
	result := paymentdomain.ProcessResult{EventID: stored.EventID, Tokens: decimal.Zero}

	switch event.Type {
	case paymentdomain.EventPaymentSucceeded:
		tokens := event.Amount.Mul(s.tokensPerUnit)
		topUp, err := s.ledgerSvc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{
			TenantID:    event.TenantID,
			Amount:      tokens,
			ReferenceID: Reference(event.Provider, event.EventID),
			Description: fmt.Sprintf("%s payment %s %s", event.Provider, event.Amount.String(), event.Currency),
		})
		if err != nil {
			return paymentdomain.ProcessResult{}, err
		}
		balance := topUp.Balance
		result.Status = paymentdomain.StatusCredited
		result.Tokens = tokens
		result.Balance = &balance
		if !topUp.Applied {
			obslogger.WithTenant(ctx, s.log, event.TenantID).Warn("payment reference already credited",
				zap.String("reference_id", Reference(event.Provider, event.EventID)),
			)
		}
	case paymentdomain.EventPaymentRefunded:
		// refunds are not debited automatically
		obslogger.WithTenant(ctx, s.log, event.TenantID).Warn("payment refund needs manual review",
			zap.String("event_id", event.EventID),
			zap.String("amount", event.Amount.String()),
		)
		result.Status = paymentdomain.StatusManualReview
	default:
		result.Status = paymentdomain.StatusIgnored
	}
	return result, nil
}

// Reference is the ledger reference id for a provider event.
func Reference(provider, eventID string) string {
	return provider + ":" + eventID
}

func normalizeEvent(event *paymentdomain.PaymentEvent) error {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.TenantID = strings.TrimSpace(event.TenantID)
	if event.TenantID == "" {
		return paymentdomain.ErrInvalidTenant
	}
	event.Type = strings.ToLower(strings.TrimSpace(event.Type))
	switch event.Type {
	case paymentdomain.EventPaymentSucceeded, paymentdomain.EventPaymentRefunded:
		if !event.Amount.IsPositive() {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventPaymentFailed:
		if event.Amount.IsNegative() {
			return paymentdomain.ErrInvalidAmount
		}
	default:
		return paymentdomain.ErrInvalidEventType
	}
	currency := strings.ToUpper(strings.TrimSpace(event.Currency))
	if len(currency) != 3 {
		return paymentdomain.ErrInvalidCurrency
	}
	event.Currency = currency
	return nil
}

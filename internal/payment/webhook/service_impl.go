package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	obscontext "github.com/smallbiznis/leadcore/internal/observability/context"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	PaymentSvc paymentdomain.Service
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	secret     string
	tolerance  time.Duration
}

// eventPayload is the provider-neutral webhook body.
type eventPayload struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Created  int64           `json:"created"`
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		clock:      clk,
		paymentSvc: p.PaymentSvc,
		secret:     strings.TrimSpace(p.Cfg.Payment.WebhookSecret),
		tolerance:  DefaultTolerance,
	}
}

// Ingest verifies and applies one webhook delivery.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, signature string) (paymentdomain.ProcessResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ProcessResult{}, paymentdomain.ErrInvalidProvider
	}
	ctx = obscontext.WithActor(ctx, "webhook", provider)
	if err := Verify(s.secret, payload, signature, s.clock.Now(), s.tolerance); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		return paymentdomain.ProcessResult{}, err
	}

	event, err := s.parse(provider, payload)
	if err != nil {
		return paymentdomain.ProcessResult{}, err
	}
	return s.paymentSvc.ProcessEvent(ctx, event)
}

func (s *Service) parse(provider string, payload []byte) (paymentdomain.PaymentEvent, error) {
	var body eventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return paymentdomain.PaymentEvent{}, paymentdomain.ErrInvalidPayload
	}
	occurredAt := s.clock.Now()
	if body.Created > 0 {
		occurredAt = time.Unix(body.Created, 0).UTC()
	}
	return paymentdomain.PaymentEvent{
		Provider:   provider,
		EventID:    body.ID,
		Type:       body.Type,
		TenantID:   body.TenantID,
		Amount:     body.Amount,
		Currency:   body.Currency,
		OccurredAt: occurredAt,
		RawPayload: payload,
	}, nil
}

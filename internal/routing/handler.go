package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	"go.uber.org/zap"
)

// Handler completes a lead hand-off by stamping routed_at.
type Handler struct {
	leads scoringdomain.Service
	log   *zap.Logger
}

func NewHandler(leads scoringdomain.Service, log *zap.Logger) *Handler {
	return &Handler{leads: leads, log: log.Named("routing.handler")}
}

func (h *Handler) Handle(ctx context.Context, payload qualdomain.RouteRequest) error {
	if err := h.leads.MarkRouted(ctx, payload.TenantID, payload.LeadID); err != nil {
		if errors.Is(err, scoringdomain.ErrLeadNotFound) ||
			errors.Is(err, scoringdomain.ErrInvalidLead) ||
			errors.Is(err, scoringdomain.ErrInvalidTenant) {
			h.log.Warn("dropping route for unknown lead",
				zap.String("tenant_id", payload.TenantID),
				zap.String("lead_id", payload.LeadID),
			)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	h.log.Info("lead routed",
		zap.String("tenant_id", payload.TenantID),
		zap.String("lead_id", payload.LeadID),
		zap.Int("qualification_score", payload.QualificationScore),
		zap.String("reason", payload.Reason),
	)
	return nil
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadRoutePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return h.Handle(ctx, payload)
}

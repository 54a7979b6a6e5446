package routing

import (
	"context"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/leadcore/internal/config"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Router enqueues lead hand-offs. Without Redis the handler runs inline.
type Router struct {
	client  *asynq.Client
	queue   string
	handler *Handler
	log     *zap.Logger
}

func NewRouter(lc fx.Lifecycle, cfg config.Config, handler *Handler, log *zap.Logger) *Router {
	r := &Router{
		queue:   defaultQueue,
		handler: handler,
		log:     log.Named("routing.router"),
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		r.log.Info("redis not configured, routing leads inline")
		return r
	}

	r.client = asynq.NewClient(redisClientOpt(addr, cfg.RedisPassword, cfg.RedisDB))
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.client.Close()
			},
		})
	}
	return r
}

func (r *Router) Route(ctx context.Context, req qualdomain.RouteRequest) error {
	if r.client == nil {
		return r.handler.Handle(ctx, req)
	}

	task, err := NewLeadRouteTask(req)
	if err != nil {
		return err
	}
	info, err := r.client.EnqueueContext(ctx, task, asynq.Queue(r.queue), asynq.MaxRetry(5))
	if err != nil {
		return err
	}
	r.log.Debug("lead route enqueued",
		zap.String("lead_id", req.LeadID),
		zap.String("task_id", info.ID),
	)
	return nil
}

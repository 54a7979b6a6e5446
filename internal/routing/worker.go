package routing

import (
	"context"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/leadcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Worker consumes lead.route tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

func NewWorker(cfg config.Config, handler *Handler, log *zap.Logger) (*Worker, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("routing worker requires REDIS_ADDR")
	}

	server := asynq.NewServer(redisClientOpt(addr, cfg.RedisPassword, cfg.RedisDB), asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			defaultQueue: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskLeadRoute, handler.ProcessTask)

	return &Worker{server: server, mux: mux, log: log.Named("routing.worker")}, nil
}

// RegisterWorker ties the worker to the fx lifecycle.
func RegisterWorker(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.log.Info("routing worker starting")
			return w.server.Start(w.mux)
		},
		OnStop: func(ctx context.Context) error {
			w.server.Shutdown()
			return nil
		},
	})
}

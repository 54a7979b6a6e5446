package routing

import (
	"strings"

	"github.com/smallbiznis/leadcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("routing",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

var WorkerModule = fx.Module("routing.worker",
	fx.Provide(NewWorker),
	fx.Invoke(RegisterWorker),
)

// EmbeddedWorkerModule runs the worker in-process when Redis is configured.
// Without Redis the router already handles tasks inline.
var EmbeddedWorkerModule = fx.Module("routing.worker.embedded",
	fx.Invoke(RegisterEmbeddedWorker),
)

func RegisterEmbeddedWorker(lc fx.Lifecycle, cfg config.Config, handler *Handler, log *zap.Logger) error {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		log.Named("routing.worker").Info("redis not configured, lead routing runs inline")
		return nil
	}
	w, err := NewWorker(cfg, handler, log)
	if err != nil {
		return err
	}
	RegisterWorker(lc, w)
	return nil
}

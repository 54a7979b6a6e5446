package observability

import (
	"github.com/smallbiznis/leadcore/internal/observability/logger"
	"github.com/smallbiznis/leadcore/internal/observability/metrics"
	"github.com/smallbiznis/leadcore/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		provideGormLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(announce),
)

// announce builds the tracer and scheduler collectors eagerly and logs
// where telemetry is going.
func announce(log *zap.Logger, cfg Config, mcfg metrics.Config, _ *sdktrace.TracerProvider) {
	metrics.SchedulerWithConfig(mcfg)
	log.Info("observability configured",
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("otel_enabled", cfg.OtelEnabled),
		zap.String("otel_protocol", cfg.OtelExporterProtocol),
		zap.Float64("otel_sampling_ratio", cfg.OtelSamplingRatio),
		zap.Duration("slow_query", cfg.SlowQuery),
	)
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideGormLoggerConfig(cfg Config) logger.GormLoggerConfig {
	level := gormlogger.Warn
	if cfg.Debug() {
		level = gormlogger.Info
	}
	return logger.GormLoggerConfig{
		Level:                level,
		SlowThreshold:        cfg.SlowQuery,
		IgnoreRecordNotFound: true,
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/leadcore/internal/config"
)

const (
	defaultSamplingRatio = 0.1
	defaultSlowQuery     = 200 * time.Millisecond
)

// Config is the normalized observability slice of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string
	SlowQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "leadcore"
	}
	level := strings.ToLower(strings.TrimSpace(obs.LogLevel))
	if level == "" {
		level = "info"
	}
	ratio := obs.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}
	slow := obs.SlowQuery
	if slow <= 0 {
		slow = defaultSlowQuery
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             level,
		LogFormat:            normalizeFormat(obs.LogFormat),
		SlowQuery:            slow,
		OtelEnabled:          obs.TracingEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: normalizeProtocol(obs.OTLPProtocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on verbose request and query logging.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}

func normalizeProtocol(protocol string) string {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return "http"
	default:
		return "grpc"
	}
}

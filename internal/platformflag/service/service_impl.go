package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leadcore/internal/clock"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	invalidateChannel = "leadcore:platform_flags"
	cacheTTL          = 2 * time.Second
)

type Params struct {
	fx.In

	Lc    fx.Lifecycle `optional:"true"`
	Scope *db.Scope
	Log   *zap.Logger
	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

// Service stores the kill-switch in platform_flags and caches it briefly.
// With Redis, writes publish an invalidation so every replica reloads.
type Service struct {
	scope *db.Scope
	log   *zap.Logger
	clock clock.Clock
	redis *redis.Client

	mu       sync.Mutex
	cached   flagdomain.Flag
	cachedAt time.Time
	loaded   bool
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	s := &Service{
		scope: p.Scope,
		log:   p.Log.Named("platformflag.service"),
		clock: clk,
		redis: p.Redis,
	}
	if p.Lc != nil && p.Redis != nil {
		var sub *redis.PubSub
		p.Lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				sub = p.Redis.Subscribe(context.Background(), invalidateChannel)
				go s.listen(sub)
				return nil
			},
			OnStop: func(context.Context) error {
				if sub != nil {
					return sub.Close()
				}
				return nil
			},
		})
	}
	return s
}

func (s *Service) Get(ctx context.Context) (flagdomain.Flag, error) {
	var flag flagdomain.Flag
	err := s.scope.Conn(ctx).Where("key = ?", flagdomain.KeyAIKillSwitch).Take(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return flagdomain.Flag{Key: flagdomain.KeyAIKillSwitch}, nil
	}
	if err != nil {
		return flagdomain.Flag{}, db.Classify(err)
	}
	return flag, nil
}

func (s *Service) Set(ctx context.Context, req flagdomain.SetRequest) (flagdomain.Flag, error) {
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return flagdomain.Flag{}, flagdomain.ErrInvalidActor
	}

	flag := flagdomain.Flag{
		Key:       flagdomain.KeyAIKillSwitch,
		Enabled:   req.Enabled,
		Reason:    strings.TrimSpace(req.Reason),
		UpdatedBy: actor,
		UpdatedAt: s.clock.Now(),
	}
	err := s.scope.Conn(ctx).Exec(
		`INSERT INTO platform_flags (key, enabled, reason, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			enabled = excluded.enabled,
			reason = excluded.reason,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		flag.Key, flag.Enabled, flag.Reason, flag.UpdatedBy, flag.UpdatedAt,
	).Error
	if err != nil {
		return flagdomain.Flag{}, db.Classify(err)
	}

	s.store(flag)
	if s.redis != nil {
		if err := s.redis.Publish(ctx, invalidateChannel, flag.Key).Err(); err != nil {
			obslogger.WithContext(ctx, s.log).Warn("failed to publish flag invalidation", zap.Error(err))
		}
	}

	obslogger.WithContext(ctx, s.log).Warn("kill switch updated",
		zap.Bool("enabled", flag.Enabled),
		zap.String("reason", flag.Reason),
		zap.String("actor", actor),
	)
	return flag, nil
}

func (s *Service) Active(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.loaded && s.clock.Now().Sub(s.cachedAt) < cacheTTL {
		enabled := s.cached.Enabled
		s.mu.Unlock()
		return enabled, nil
	}
	s.mu.Unlock()

	flag, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	s.store(flag)
	return flag.Enabled, nil
}

func (s *Service) store(flag flagdomain.Flag) {
	s.mu.Lock()
	s.cached = flag
	s.cachedAt = s.clock.Now()
	s.loaded = true
	s.mu.Unlock()
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

func (s *Service) listen(sub *redis.PubSub) {
	for range sub.Channel() {
		s.invalidate()
	}
}

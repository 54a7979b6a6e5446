// Package effect classifies side effects of an operation as critical or best-effort.
package effect

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Critical runs fn and returns its error annotated with the effect name.
// A failing critical effect aborts the enclosing operation.
func Critical(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// BestEffort runs fn and logs any error or panic instead of returning it.
// It reports whether fn succeeded.
func BestEffort(ctx context.Context, log *zap.Logger, name string, fn func(ctx context.Context) error) (ok bool) {
	if log == nil {
		log = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("best-effort side effect panicked", zap.String("effect", name), zap.Any("panic", r))
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		log.Warn("best-effort side effect failed", zap.String("effect", name), zap.Error(err))
		return false
	}
	return true
}

// Package idempotency claims the right to perform a side effect once per key
// within a TTL window. Claims are atomic set-if-absent writes to the shared
// hot store, so every process agrees on a single winner.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/kv"
)

// Claim is the outcome of a claim attempt. When Granted is false, Token holds
// the value stored by the current holder, if it could be read.
type Claim struct {
	Granted bool
	Token   string
}

type Guard struct {
	store  kv.Store
	logger zerolog.Logger
}

func NewGuard(store kv.Store, logger zerolog.Logger) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency: store must not be nil")
	}
	return &Guard{store: store, logger: logger}, nil
}

func (g *Guard) Claim(ctx context.Context, key, token string, ttl time.Duration) (Claim, error) {
	if key == "" {
		return Claim{}, errors.New("idempotency: empty key")
	}
	if ttl <= 0 {
		return Claim{}, errors.New("idempotency: ttl must be positive")
	}
	if token == "" {
		token = "1"
	}

	ok, err := g.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: claim %q: %w", key, err)
	}
	if ok {
		return Claim{Granted: true, Token: token}, nil
	}

	holder, err := g.store.Get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		g.logger.Warn().Err(err).Str("key", key).Msg("idempotency: read holder token failed")
	}
	return Claim{Granted: false, Token: holder}, nil
}

// Release drops a claim so that the next attempt for key is granted again.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("idempotency: release %q: %w", key, err)
	}
	return nil
}

// WithClaim runs fn only when the claim for key is granted. A denied claim is
// not an error: the zero value is returned with Claim.Granted false and the
// caller treats the work as already handled. When fn fails the claim is
// released so a redelivery can try again.
func WithClaim[T any](ctx context.Context, g *Guard, key, token string, ttl time.Duration, fn func(context.Context) (T, error)) (T, Claim, error) {
	var zero T

	claim, err := g.Claim(ctx, key, token, ttl)
	if err != nil {
		return zero, Claim{}, err
	}
	if !claim.Granted {
		g.logger.Debug().Str("key", key).Msg("idempotency: duplicate suppressed")
		return zero, claim, nil
	}

	result, err := fn(ctx)
	if err != nil {
		if relErr := g.Release(ctx, key); relErr != nil {
			g.logger.Warn().Err(relErr).Str("key", key).Msg("idempotency: release after failure")
		}
		return zero, claim, err
	}
	return result, claim, nil
}

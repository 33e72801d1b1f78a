package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jewelcraft/jewelcraft-backend/pkg/redis"
)

// IdempotencyScope namespaces the cached event ids.
const IdempotencyScope = "stripe-webhook"

// IdempotencyGuard caches event ids the ledger has already marked processed.
// The ledger stays authoritative; a miss here always falls through to it.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Seen reports whether eventID was cached as processed.
func (g *IdempotencyGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	if g == nil {
		return false, nil
	}
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	seen, err := g.store.Exists(ctx, g.store.IdempotencyKey(g.scope, eventID))
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return seen, nil
}

// Mark caches eventID as processed.
func (g *IdempotencyGuard) Mark(ctx context.Context, eventID string) error {
	if g == nil {
		return nil
	}
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

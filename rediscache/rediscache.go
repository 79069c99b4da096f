// Package rediscache caches tenant resolution in Redis.
//
// Resolving a tenant from the graph costs a gateway lookup plus a walk up the
// space hierarchy for every inbound message. Gateways rarely move between
// tenants, so the outcome is cached per gateway hardware id for a bounded time.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/redis/go-redis/v9"

	"github.com/go-digitaltwin/reflector"
)

// DefaultTTL bounds how long a cached tenant is trusted unless configured
// otherwise.
const DefaultTTL = 5 * time.Minute

// DefaultPrefix namespaces the keys written by a TenantResolver.
const DefaultPrefix = "reflector:tenant:"

// TenantResolver decorates a reflector.TenantResolver with a Redis cache keyed
// by the hardware id of the sending gateway.
//
// Only successful resolutions are cached. Messages that name no gateway go
// straight to the wrapped resolver. Redis is an optimisation: when it fails,
// the failure is logged and the wrapped resolver answers instead.
type TenantResolver struct {
	Client *redis.Client
	Next   reflector.TenantResolver
	// TTL of cache entries. Zero means DefaultTTL.
	TTL time.Duration
	// Prefix of cache keys. Empty means DefaultPrefix.
	Prefix string
}

var _ reflector.TenantResolver = TenantResolver{}

func (r TenantResolver) ResolveTenant(ctx context.Context, d reflector.Delivery) (reflector.TenantContext, error) {
	gateway := d.Message.Gateway
	if gateway == "" {
		return r.Next.ResolveTenant(ctx, d)
	}
	logger := component.Logger(ctx).With(slog.String("gateway", gateway))
	key := r.key(gateway)

	tc, ok, err := r.lookup(ctx, key)
	if err != nil {
		logger.Warn("Couldn't read tenant cache, resolving without it", slog.Any("error", err))
	}
	if ok {
		measureLookup(ctx, true)
		return tc, nil
	}
	measureLookup(ctx, false)

	tc, err = r.Next.ResolveTenant(ctx, d)
	if err != nil {
		return tc, err
	}
	if err := r.store(ctx, key, tc); err != nil {
		logger.Warn("Couldn't write tenant cache", slog.Any("error", err))
	}
	return tc, nil
}

// Invalidate evicts the cached tenant of the given gateway.
func (r TenantResolver) Invalidate(ctx context.Context, gateway string) error {
	return r.Client.Del(ctx, r.key(gateway)).Err()
}

func (r TenantResolver) key(gateway string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + gateway
}

func (r TenantResolver) lookup(ctx context.Context, key string) (tc reflector.TenantContext, ok bool, err error) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return tc, false, nil
	}
	if err != nil {
		return tc, false, err
	}
	if err := json.Unmarshal(b, &tc); err != nil {
		return tc, false, err
	}
	return tc, true, nil
}

func (r TenantResolver) store(ctx context.Context, key string, tc reflector.TenantContext) error {
	b, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return r.Client.Set(ctx, key, b, ttl).Err()
}

package rediscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/go-digitaltwin/reflector"
	"github.com/go-digitaltwin/reflector/internal/dbtest"
)

// countingResolver resolves gateways from a fixed table and counts its calls.
type countingResolver struct {
	mu      sync.Mutex
	calls   int
	tenants map[string]reflector.TenantContext
}

func (r *countingResolver) ResolveTenant(_ context.Context, d reflector.Delivery) (reflector.TenantContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	tc, ok := r.tenants[d.Message.Gateway]
	if !ok {
		return tc, reflector.ErrTenantNotFound
	}
	return tc, nil
}

func fromGateway(gateway string) reflector.Delivery {
	return reflector.Delivery{Message: reflector.IngressMessage{Gateway: gateway}}
}

func TestTenantResolver(t *testing.T) {
	client := dbtest.SetupRedis(t)
	ctx := context.Background()

	acme := reflector.TenantContext{
		Tenant:  uuid.New(),
		Gateway: uuid.NullUUID{UUID: uuid.New(), Valid: true},
	}
	next := &countingResolver{tenants: map[string]reflector.TenantContext{"gw-1": acme}}
	r := TenantResolver{Client: client, Next: next, Prefix: "test:" + t.Name() + ":"}

	for i := range 3 {
		got, err := r.ResolveTenant(ctx, fromGateway("gw-1"))
		if err != nil {
			t.Fatalf("ResolveTenant(call %d) error = %v", i+1, err)
		}
		if got != acme {
			t.Errorf("ResolveTenant(call %d) = %v, want %v", i+1, got, acme)
		}
	}
	if next.calls != 1 {
		t.Errorf("Wrapped resolver called %d times, want 1", next.calls)
	}

	// Failures are not cached.
	for range 2 {
		if _, err := r.ResolveTenant(ctx, fromGateway("gw-unknown")); !reflector.IsTenantNotFound(err) {
			t.Errorf("ResolveTenant(unknown) error = %v, want tenant not found", err)
		}
	}
	if next.calls != 3 {
		t.Errorf("Wrapped resolver called %d times, want 3", next.calls)
	}

	if err := r.Invalidate(ctx, "gw-1"); err != nil {
		t.Fatal("Invalidate:", err)
	}
	if _, err := r.ResolveTenant(ctx, fromGateway("gw-1")); err != nil {
		t.Fatal("ResolveTenant(after invalidate):", err)
	}
	if next.calls != 4 {
		t.Errorf("Wrapped resolver called %d times, want 4", next.calls)
	}
}

func TestTenantResolver_expiry(t *testing.T) {
	client := dbtest.SetupRedis(t)
	ctx := context.Background()

	next := &countingResolver{tenants: map[string]reflector.TenantContext{"gw-1": {Tenant: uuid.New()}}}
	r := TenantResolver{Client: client, Next: next, TTL: 100 * time.Millisecond, Prefix: "test:" + t.Name() + ":"}

	if _, err := r.ResolveTenant(ctx, fromGateway("gw-1")); err != nil {
		t.Fatal("ResolveTenant:", err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := r.ResolveTenant(ctx, fromGateway("gw-1")); err != nil {
		t.Fatal("ResolveTenant:", err)
	}
	if next.calls != 2 {
		t.Errorf("Wrapped resolver called %d times, want 2 after expiry", next.calls)
	}
}

// Without Redis, every message is resolved by the wrapped resolver.
func TestTenantResolver_unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	want := reflector.TenantContext{Tenant: uuid.New()}
	next := &countingResolver{tenants: map[string]reflector.TenantContext{"gw-1": want}}
	r := TenantResolver{Client: client, Next: next}

	for range 2 {
		got, err := r.ResolveTenant(context.Background(), fromGateway("gw-1"))
		if err != nil {
			t.Fatalf("ResolveTenant() error = %v", err)
		}
		if got != want {
			t.Errorf("ResolveTenant() = %v, want %v", got, want)
		}
	}
	if next.calls != 2 {
		t.Errorf("Wrapped resolver called %d times, want 2", next.calls)
	}
}

func TestTenantResolver_noGateway(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	next := &countingResolver{tenants: map[string]reflector.TenantContext{"": {Tenant: uuid.New()}}}
	r := TenantResolver{Client: client, Next: next}
	if _, err := r.ResolveTenant(context.Background(), fromGateway("")); err != nil {
		t.Fatalf("ResolveTenant() error = %v", err)
	}
	if next.calls != 1 {
		t.Errorf("Wrapped resolver called %d times, want 1", next.calls)
	}
}

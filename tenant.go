package reflector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
)

// TenantContext identifies the tenant (and optionally the gateway) on whose
// behalf a message is handled. It is resolved once per message and passed by
// value thereafter.
type TenantContext struct {
	Tenant  uuid.UUID     `json:"tenant"`
	Gateway uuid.NullUUID `json:"gateway"`
}

// A TenantResolver maps an inbound message to the TenantContext it applies to.
//
// Resolvers report messages that map to no tenant with an error that
// classifies as ErrorTenantNotFound (see IsTenantNotFound).
type TenantResolver interface {
	ResolveTenant(ctx context.Context, d Delivery) (TenantContext, error)
}

// StaticTenant resolves every message to the same, externally configured,
// tenant and gateway. It suits controlled environments where the reflector is
// deployed per tenant.
type StaticTenant TenantContext

func (s StaticTenant) ResolveTenant(context.Context, Delivery) (TenantContext, error) {
	if s.Tenant == uuid.Nil {
		return TenantContext{}, tenantNotFound("no tenant configured")
	}
	return TenantContext(s), nil
}

// DefaultMaxSpaceDepth bounds the space ancestry walked by GraphTenantResolver.
const DefaultMaxSpaceDepth = 16

// GraphTenantResolver resolves a message by looking up its sending gateway in
// the graph. The gateway's tenant is the root of the space hierarchy the
// gateway is located in.
type GraphTenantResolver struct {
	Graph interface {
		SpaceStore
		DeviceStore
	}
	// MaxSpaceDepth bounds the walk from the gateway's space to its root, so that
	// a cycle in the graph cannot stall message handling. Zero means
	// DefaultMaxSpaceDepth.
	MaxSpaceDepth int
}

func (r GraphTenantResolver) ResolveTenant(ctx context.Context, d Delivery) (TenantContext, error) {
	hardwareID := d.Message.Gateway
	if hardwareID == "" {
		return TenantContext{}, tenantNotFound("message names no gateway")
	}
	logger := component.Logger(ctx).With(slog.String("gateway", hardwareID))

	gateways, err := r.Graph.RetrieveDevices(ctx, DeviceQuery{HardwareIDs: []string{hardwareID}})
	if err != nil {
		return TenantContext{}, fmt.Errorf("retrieve gateway: %w", err)
	}
	if len(gateways) == 0 {
		return TenantContext{}, tenantNotFound("gateway %q is not registered", hardwareID)
	}
	gateway := gateways[0]

	tenant, err := r.rootOf(ctx, gateway.Space)
	if err != nil {
		return TenantContext{}, err
	}
	logger.Debug("Resolved tenant from gateway", slog.Any("tenant", tenant))
	return TenantContext{
		Tenant:  tenant,
		Gateway: uuid.NullUUID{UUID: gateway.ID, Valid: true},
	}, nil
}

// rootOf walks up the space hierarchy from the given space to its root.
func (r GraphTenantResolver) rootOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	depth := r.MaxSpaceDepth
	if depth <= 0 {
		depth = DefaultMaxSpaceDepth
	}
	root, ok, err := rootSpace(ctx, r.Graph, id, depth)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, tenantNotFound("space %v has no registered root within %d levels", id, depth)
	}
	return root, nil
}

// rootSpace walks up the space hierarchy from id to its root, visiting at most
// depth spaces. It reports false when a space on the way is not registered or
// the hierarchy is deeper than depth.
func rootSpace(ctx context.Context, spaces SpaceStore, id uuid.UUID, depth int) (uuid.UUID, bool, error) {
	for range depth {
		found, err := spaces.RetrieveSpaces(ctx, SpaceQuery{IDs: []uuid.UUID{id}})
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("retrieve space: %w", err)
		}
		if len(found) == 0 {
			return uuid.Nil, false, nil
		}
		if !found[0].Parent.Valid {
			return found[0].ID, true, nil
		}
		id = found[0].Parent.UUID
	}
	return uuid.Nil, false, nil
}

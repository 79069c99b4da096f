package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrProvisioningTimeout is returned when a resource did not become ready
	// within ProvisionOptions.Timeout. The resource itself is left in place; a
	// later call observes it again and may succeed once the provisioning system
	// catches up.
	ErrProvisioningTimeout = errors.New("provisioning timed out")
	// ErrProvisioningFailed is returned when the provisioning system reports a
	// resource as Failed.
	ErrProvisioningFailed = errors.New("provisioning failed")
)

// ProvisionOptions bound the wait for a resource to become ready.
type ProvisionOptions = PollOptions

// DefaultProvisionOptions suit infrastructure-grade resources, which take
// seconds to minutes to provision.
var DefaultProvisionOptions = ProvisionOptions{
	InitialDelay: 10 * time.Second,
	Interval:     time.Second,
	Timeout:      15 * time.Minute,
}

// TenantTypeName is the type of root spaces created by EnsureTenant.
const TenantTypeName = "Tenant"

// Provisioner ensures infrastructure a tenant depends on exists and is ready.
//
// Ensuring is idempotent: existing resources are looked up before any create,
// so calling the same operation twice issues at most one create. The lookup and
// the create are not atomic; concurrent callers racing to provision the same
// resource are settled by the graph, if at all.
type Provisioner struct {
	Graph interface {
		SpaceStore
		ResourceStore
	}
	// Options bound the wait for readiness. The zero value means
	// DefaultProvisionOptions.
	Options ProvisionOptions
}

func (p Provisioner) options() ProvisionOptions {
	if p.Options == (ProvisionOptions{}) {
		return DefaultProvisionOptions
	}
	return p.Options
}

// A ResourceMatch reports whether an existing resource satisfies a request to
// provision a resource.
type ResourceMatch func(ProvisionedResource) bool

// Ensure returns a ready resource of the given kind in the tenant's space that
// satisfies match. If no existing resource matches, Ensure creates one from desired
// (whose Kind and Space are overridden) and waits for it to become ready.
//
// Ensure blocks until the resource is ready, the provisioning system reports it
// failed (ErrProvisioningFailed), Options.Timeout elapses
// (ErrProvisioningTimeout), or ctx is done.
func (p Provisioner) Ensure(ctx context.Context, kind ResourceKind, tenant uuid.UUID, match ResourceMatch, desired ProvisionedResource) (r ProvisionedResource, err error) {
	ctx, span := tracer.Start(ctx, "Provisioner.Ensure", trace.WithAttributes(
		attribute.String("resource.kind", string(kind)),
		attribute.Stringer("tenant", tenant),
	))
	defer span.End()
	defer func(start time.Time) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		measureProvisioning(ctx, kind, err == nil, time.Since(start))
	}(time.Now())

	logger := component.Logger(ctx).With(
		slog.String("resource.kind", string(kind)),
		slog.Any("tenant", tenant),
	)

	logger.Debug("Looking up existing resources...")
	existing, err := p.Graph.RetrieveResources(ctx, ResourceQuery{
		Kind:  kind,
		Space: uuid.NullUUID{UUID: tenant, Valid: true},
	})
	if err != nil {
		return ProvisionedResource{}, fmt.Errorf("retrieve %v resources: %w", kind, err)
	}
	for _, r := range existing {
		if !match(r) {
			continue
		}
		if r.Ready() {
			logger.Debug("Found a ready resource", slog.Any("resource.id", r.ID))
			return r, nil
		}
		logger.Info("Found a matching resource that is not ready yet, waiting for it...", slog.Any("resource.id", r.ID))
		return p.awaitReady(ctx, logger, r.ID)
	}

	desired.Kind = kind
	desired.Space = tenant
	logger.Debug("No matching resource found, creating one...")
	id, err := p.Graph.CreateResource(ctx, desired)
	if err != nil {
		return ProvisionedResource{}, fmt.Errorf("create %v resource: %w", kind, err)
	}
	logger = logger.With(slog.Any("resource.id", id))
	logger.Info("Resource created, waiting for it to become ready...")
	return p.awaitReady(ctx, logger, id)
}

func (p Provisioner) awaitReady(ctx context.Context, logger *slog.Logger, id uuid.UUID) (ProvisionedResource, error) {
	opts := p.options()
	r, err := Poll(ctx, opts, func(ctx context.Context) (ProvisionedResource, bool, error) {
		r, err := p.Graph.RetrieveResource(ctx, id)
		if err != nil {
			return r, false, fmt.Errorf("retrieve resource %v: %w", id, err)
		}
		if r.Status == ResourceFailed {
			return r, false, fmt.Errorf("%w: resource %v", ErrProvisioningFailed, id)
		}
		logger.Debug("Polled resource status", slog.String("status", r.Status))
		return r, r.Ready(), nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return r, fmt.Errorf("%w: resource %v is %q after %v", ErrProvisioningTimeout, id, r.Status, opts.Timeout)
	}
	if err != nil {
		return r, err
	}
	logger.Info("Resource is ready")
	return r, nil
}

// EnsureIoTHub returns the tenant's ready IoTHub resource, creating one if the
// tenant has none. A tenant has at most one IoTHub, so any existing one matches.
func (p Provisioner) EnsureIoTHub(ctx context.Context, tenant uuid.UUID) (ProvisionedResource, error) {
	return p.Ensure(ctx, KindIoTHub, tenant, func(ProvisionedResource) bool { return true }, ProvisionedResource{})
}

// EventHubConfig locates an event hub that device messages are routed to.
type EventHubConfig struct {
	// Path is the path of the event hub namespace.
	Path string
	// Hub is the name of the event hub, appended to connection strings as
	// their EntityPath.
	Hub                       string
	ConnectionString          string
	SecondaryConnectionString string
}

func (c EventHubConfig) entityPath(connectionString string) string {
	return connectionString + ";EntityPath=" + c.Hub
}

// Matches reports whether r routes to the event hub described by c. Connection
// strings are compared case-insensitively.
func (c EventHubConfig) Matches(r ProvisionedResource) bool {
	return r.Path == c.Path &&
		strings.EqualFold(r.ConnectionString, c.entityPath(c.ConnectionString)) &&
		strings.EqualFold(r.SecondaryConnectionString, c.entityPath(c.SecondaryConnectionString))
}

// EnsureDeviceEventEndpoint returns the tenant's ready endpoint that routes
// device messages to the configured event hub, creating it if needed.
func (p Provisioner) EnsureDeviceEventEndpoint(ctx context.Context, tenant uuid.UUID, hub EventHubConfig) (ProvisionedResource, error) {
	return p.Ensure(ctx, KindEventHub, tenant, hub.Matches, ProvisionedResource{
		Path:                      hub.Path,
		ConnectionString:          hub.entityPath(hub.ConnectionString),
		SecondaryConnectionString: hub.entityPath(hub.SecondaryConnectionString),
		EventTypes:                []string{EventDeviceMessage},
	})
}

// EnsureTenant returns the id of the root space with the given name, creating a
// root space of type TenantTypeName if none exists.
func (p Provisioner) EnsureTenant(ctx context.Context, name string) (uuid.UUID, error) {
	logger := component.Logger(ctx).With(slog.String("tenant.name", name))
	spaces, err := p.Graph.RetrieveSpaces(ctx, SpaceQuery{Name: name})
	if err != nil {
		return uuid.Nil, fmt.Errorf("retrieve spaces: %w", err)
	}
	for _, s := range spaces {
		if !s.Parent.Valid {
			logger.Debug("Found tenant space", slog.Any("tenant", s.ID))
			return s.ID, nil
		}
	}
	id, err := p.Graph.CreateSpace(ctx, Space{Name: name, TypeName: TenantTypeName})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create tenant space: %w", err)
	}
	logger.Info("Tenant space created", slog.Any("tenant", id))
	return id, nil
}

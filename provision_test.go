package reflector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/go-digitaltwin/reflector"
	"github.com/go-digitaltwin/reflector/memgraph"
)

var testProvisionOptions = reflector.ProvisionOptions{
	Interval: time.Millisecond,
	Timeout:  time.Second,
}

// observedGraph records the statuses that RetrieveResource reports.
type observedGraph struct {
	*memgraph.Graph

	mu       sync.Mutex
	statuses []string
	creates  int
}

func (g *observedGraph) RetrieveResource(ctx context.Context, id uuid.UUID) (reflector.ProvisionedResource, error) {
	r, err := g.Graph.RetrieveResource(ctx, id)
	if err == nil {
		g.mu.Lock()
		g.statuses = append(g.statuses, r.Status)
		g.mu.Unlock()
	}
	return r, err
}

func (g *observedGraph) CreateResource(ctx context.Context, r reflector.ProvisionedResource) (uuid.UUID, error) {
	g.mu.Lock()
	g.creates++
	g.mu.Unlock()
	return g.Graph.CreateResource(ctx, r)
}

func TestProvisioner_EnsureIoTHub(t *testing.T) {
	ctx := context.Background()
	g := &observedGraph{Graph: memgraph.New()}
	g.ReadyAfter = 5
	p := reflector.Provisioner{Graph: g, Options: testProvisionOptions}
	tenant := uuid.New()

	hub, err := p.EnsureIoTHub(ctx, tenant)
	if err != nil {
		t.Fatalf("EnsureIoTHub() error = %v", err)
	}
	if hub.Status != reflector.ResourceRunning || hub.Kind != reflector.KindIoTHub || hub.Space != tenant {
		t.Errorf("EnsureIoTHub() = %+v, want a Running IoTHub of the tenant", hub)
	}
	// The resource was returned once ready, and not earlier.
	if n := len(g.statuses); n != 6 {
		t.Errorf("EnsureIoTHub() polled %d times, want 6", n)
	}
	for i, s := range g.statuses[:len(g.statuses)-1] {
		if s != reflector.ResourceProvisioning {
			t.Errorf("Poll %d observed %q, want %q", i+1, s, reflector.ResourceProvisioning)
		}
	}

	again, err := p.EnsureIoTHub(ctx, tenant)
	if err != nil {
		t.Fatalf("EnsureIoTHub(again) error = %v", err)
	}
	if again.ID != hub.ID {
		t.Errorf("EnsureIoTHub(again) = %v, want existing %v", again.ID, hub.ID)
	}
	if g.creates != 1 {
		t.Errorf("Provisioner created %d resources, want 1", g.creates)
	}
}

// A matching resource that is still provisioning is awaited rather than
// duplicated.
func TestProvisioner_Ensure_pending(t *testing.T) {
	ctx := context.Background()
	g := &observedGraph{Graph: memgraph.New()}
	g.ReadyAfter = 2
	tenant := uuid.New()
	pending, err := g.Graph.CreateResource(ctx, reflector.ProvisionedResource{Kind: reflector.KindIoTHub, Space: tenant})
	if err != nil {
		t.Fatal("CreateResource:", err)
	}

	p := reflector.Provisioner{Graph: g, Options: testProvisionOptions}
	hub, err := p.EnsureIoTHub(ctx, tenant)
	if err != nil {
		t.Fatalf("EnsureIoTHub() error = %v", err)
	}
	if hub.ID != pending || !hub.Ready() {
		t.Errorf("EnsureIoTHub() = %+v, want pending resource %v once ready", hub, pending)
	}
	if g.creates != 0 {
		t.Errorf("Provisioner created %d resources, want 0", g.creates)
	}
}

func TestProvisioner_Ensure_timeout(t *testing.T) {
	g := memgraph.New()
	g.ReadyAfter = -1
	p := reflector.Provisioner{Graph: g, Options: reflector.ProvisionOptions{
		Interval: time.Millisecond,
		Timeout:  20 * time.Millisecond,
	}}
	_, err := p.EnsureIoTHub(context.Background(), uuid.New())
	if !errors.Is(err, reflector.ErrProvisioningTimeout) {
		t.Errorf("EnsureIoTHub() error = %v, want %v", err, reflector.ErrProvisioningTimeout)
	}
}

func TestProvisioner_Ensure_failed(t *testing.T) {
	ctx := context.Background()
	g := memgraph.New()
	tenant := uuid.New()
	if _, err := g.CreateResource(ctx, reflector.ProvisionedResource{
		Kind:   reflector.KindIoTHub,
		Space:  tenant,
		Status: reflector.ResourceFailed,
	}); err != nil {
		t.Fatal("CreateResource:", err)
	}

	p := reflector.Provisioner{Graph: g, Options: testProvisionOptions}
	_, err := p.EnsureIoTHub(ctx, tenant)
	if !errors.Is(err, reflector.ErrProvisioningFailed) {
		t.Errorf("EnsureIoTHub() error = %v, want %v", err, reflector.ErrProvisioningFailed)
	}
}

func TestProvisioner_Ensure_canceled(t *testing.T) {
	g := memgraph.New()
	g.ReadyAfter = -1
	p := reflector.Provisioner{Graph: g, Options: testProvisionOptions}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.EnsureIoTHub(ctx, uuid.New())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("EnsureIoTHub() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestProvisioner_EnsureDeviceEventEndpoint(t *testing.T) {
	ctx := context.Background()
	g := &observedGraph{Graph: memgraph.New()}
	g.ReadyAfter = 1
	p := reflector.Provisioner{Graph: g, Options: testProvisionOptions}
	tenant := uuid.New()
	hub := reflector.EventHubConfig{
		Path:                      "telemetry-ns",
		Hub:                       "devices",
		ConnectionString:          "Endpoint=sb://telemetry-ns/;SharedAccessKey=primary",
		SecondaryConnectionString: "Endpoint=sb://telemetry-ns/;SharedAccessKey=secondary",
	}

	endpoint, err := p.EnsureDeviceEventEndpoint(ctx, tenant, hub)
	if err != nil {
		t.Fatalf("EnsureDeviceEventEndpoint() error = %v", err)
	}
	if endpoint.Status != reflector.ResourceReady {
		t.Errorf("EnsureDeviceEventEndpoint().Status = %q, want %q", endpoint.Status, reflector.ResourceReady)
	}
	if want := hub.ConnectionString + ";EntityPath=devices"; endpoint.ConnectionString != want {
		t.Errorf("EnsureDeviceEventEndpoint().ConnectionString = %q, want %q", endpoint.ConnectionString, want)
	}
	if len(endpoint.EventTypes) != 1 || endpoint.EventTypes[0] != reflector.EventDeviceMessage {
		t.Errorf("EnsureDeviceEventEndpoint().EventTypes = %v, want [%v]", endpoint.EventTypes, reflector.EventDeviceMessage)
	}

	// Connection strings match regardless of case.
	same := hub
	same.ConnectionString = "endpoint=sb://telemetry-ns/;sharedaccesskey=PRIMARY"
	again, err := p.EnsureDeviceEventEndpoint(ctx, tenant, same)
	if err != nil {
		t.Fatalf("EnsureDeviceEventEndpoint(again) error = %v", err)
	}
	if again.ID != endpoint.ID {
		t.Errorf("EnsureDeviceEventEndpoint(again) = %v, want existing %v", again.ID, endpoint.ID)
	}

	other := hub
	other.Path = "archive-ns"
	archive, err := p.EnsureDeviceEventEndpoint(ctx, tenant, other)
	if err != nil {
		t.Fatalf("EnsureDeviceEventEndpoint(other) error = %v", err)
	}
	if archive.ID == endpoint.ID {
		t.Error("EnsureDeviceEventEndpoint() of another event hub returned the existing endpoint")
	}
	if g.creates != 2 {
		t.Errorf("Provisioner created %d resources, want 2", g.creates)
	}
}

func TestProvisioner_EnsureTenant(t *testing.T) {
	ctx := context.Background()
	g := memgraph.New()
	p := reflector.Provisioner{Graph: g}

	// A child space of the same name is not a tenant.
	root, _ := g.CreateSpace(ctx, reflector.Space{Name: "holding"})
	if _, err := g.CreateSpace(ctx, reflector.Space{Name: "acme", Parent: uuid.NullUUID{UUID: root, Valid: true}}); err != nil {
		t.Fatal("CreateSpace:", err)
	}

	tenant, err := p.EnsureTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("EnsureTenant() error = %v", err)
	}
	again, err := p.EnsureTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("EnsureTenant(again) error = %v", err)
	}
	if again != tenant {
		t.Errorf("EnsureTenant(again) = %v, want %v", again, tenant)
	}

	spaces, err := g.RetrieveSpaces(ctx, reflector.SpaceQuery{IDs: []uuid.UUID{tenant}})
	if err != nil || len(spaces) != 1 {
		t.Fatalf("RetrieveSpaces() = %v, %v", spaces, err)
	}
	if spaces[0].Parent.Valid || spaces[0].TypeName != reflector.TenantTypeName {
		t.Errorf("Tenant space = %+v, want a root space of type %q", spaces[0], reflector.TenantTypeName)
	}
}

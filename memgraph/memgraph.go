// Package memgraph implements the reflector's Graph API in memory.
//
// The in-memory graph enforces the same uniqueness constraints as a production
// graph: hardware ids of devices and sensors, and (name, category, space) of
// types. It also plays the part of the external provisioning system: resources
// are created Provisioning and become ready after a configurable number of
// status reads.
//
// Use it in tests, and for running the reflector without a database.
package memgraph

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/go-digitaltwin/reflector"
)

// Graph is an in-memory reflector.Graph. The zero value is not usable; call New.
//
// Graph is safe for concurrent use. Each operation is atomic.
type Graph struct {
	// ReadyAfter is the number of times a newly created resource reports
	// Provisioning to RetrieveResource before it reports the ready status of its
	// kind. A negative value keeps new resources Provisioning until
	// SetResourceStatus says otherwise.
	//
	// ReadyAfter is read when a resource is created.
	ReadyAfter int

	mu        sync.Mutex
	spaces    map[uuid.UUID]reflector.Space
	devices   map[uuid.UUID]reflector.Device
	sensors   map[uuid.UUID]reflector.Sensor
	types     []reflector.TypeDescriptor
	resources map[uuid.UUID]*resource
}

type resource struct {
	reflector.ProvisionedResource
	// pendingReads counts the status reads until the resource becomes ready. It
	// is negative for resources that never become ready on their own.
	pendingReads int
}

// New returns an empty in-memory graph.
func New() *Graph {
	return &Graph{
		spaces:    make(map[uuid.UUID]reflector.Space),
		devices:   make(map[uuid.UUID]reflector.Device),
		sensors:   make(map[uuid.UUID]reflector.Sensor),
		resources: make(map[uuid.UUID]*resource),
	}
}

// Every operation fails on a done context, like a remote graph would.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return reflector.Unavailable(err, "memgraph: context done")
	}
	return nil
}

func (g *Graph) RetrieveSpaces(ctx context.Context, q reflector.SpaceQuery) ([]reflector.Space, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var found []reflector.Space
	for _, s := range g.spaces {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, s.ID) {
			continue
		}
		if q.Name != "" && s.Name != q.Name {
			continue
		}
		if q.Parent.Valid && s.Parent != q.Parent {
			continue
		}
		found = append(found, s)
	}
	sortByID(found, func(s reflector.Space) uuid.UUID { return s.ID })
	return found, nil
}

func (g *Graph) CreateSpace(ctx context.Context, s reflector.Space) (uuid.UUID, error) {
	if err := checkContext(ctx); err != nil {
		return uuid.Nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.Parent.Valid {
		if _, ok := g.spaces[s.Parent.UUID]; !ok {
			return uuid.Nil, reflector.NotFound("parent space %v", s.Parent.UUID)
		}
	}
	s.ID = uuid.New()
	g.spaces[s.ID] = s
	return s.ID, nil
}

func (g *Graph) DeleteSpace(ctx context.Context, id uuid.UUID) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.spaces[id]; !ok {
		return reflector.NotFound("space %v", id)
	}
	delete(g.spaces, id)
	return nil
}

func (g *Graph) RetrieveDevices(ctx context.Context, q reflector.DeviceQuery) ([]reflector.Device, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var found []reflector.Device
	for _, d := range g.devices {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, d.ID) {
			continue
		}
		if len(q.HardwareIDs) > 0 && !slices.Contains(q.HardwareIDs, d.HardwareID) {
			continue
		}
		if len(q.TypeIDs) > 0 && !slices.Contains(q.TypeIDs, d.TypeID) {
			continue
		}
		if q.Space.Valid && d.Space != q.Space.UUID {
			continue
		}
		d.Properties = maps.Clone(d.Properties)
		found = append(found, d)
	}
	sortByID(found, func(d reflector.Device) uuid.UUID { return d.ID })
	return found, nil
}

func (g *Graph) CreateDevice(ctx context.Context, d reflector.Device) (uuid.UUID, error) {
	if err := checkContext(ctx); err != nil {
		return uuid.Nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deviceByHardwareID(d.HardwareID, uuid.Nil) {
		return uuid.Nil, reflector.Conflict("device with hardware id %q already exists", d.HardwareID)
	}
	d.ID = uuid.New()
	d.Properties = maps.Clone(d.Properties)
	g.devices[d.ID] = d
	return d.ID, nil
}

func (g *Graph) UpdateDevice(ctx context.Context, d reflector.Device) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.devices[d.ID]; !ok {
		return reflector.NotFound("device %v", d.ID)
	}
	if g.deviceByHardwareID(d.HardwareID, d.ID) {
		return reflector.Conflict("device with hardware id %q already exists", d.HardwareID)
	}
	d.Properties = maps.Clone(d.Properties)
	g.devices[d.ID] = d
	return nil
}

// deviceByHardwareID reports whether a device other than except has the given
// hardware id. Callers must hold g.mu.
func (g *Graph) deviceByHardwareID(hardwareID string, except uuid.UUID) bool {
	for id, d := range g.devices {
		if id != except && d.HardwareID == hardwareID {
			return true
		}
	}
	return false
}

func (g *Graph) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.devices[id]; !ok {
		return reflector.NotFound("device %v", id)
	}
	delete(g.devices, id)
	maps.DeleteFunc(g.sensors, func(_ uuid.UUID, s reflector.Sensor) bool {
		return s.Device == id
	})
	return nil
}

func (g *Graph) RetrieveSensors(ctx context.Context, q reflector.SensorQuery) ([]reflector.Sensor, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var found []reflector.Sensor
	for _, s := range g.sensors {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, s.ID) {
			continue
		}
		if len(q.HardwareIDs) > 0 && !slices.Contains(q.HardwareIDs, s.HardwareID) {
			continue
		}
		if len(q.TypeIDs) > 0 && !slices.Contains(q.TypeIDs, s.TypeID) {
			continue
		}
		if q.Device.Valid && s.Device != q.Device.UUID {
			continue
		}
		found = append(found, s)
	}
	sortByID(found, func(s reflector.Sensor) uuid.UUID { return s.ID })
	return found, nil
}

func (g *Graph) CreateSensor(ctx context.Context, s reflector.Sensor) (uuid.UUID, error) {
	if err := checkContext(ctx); err != nil {
		return uuid.Nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.devices[s.Device]; !ok {
		return uuid.Nil, reflector.NotFound("device %v", s.Device)
	}
	for _, existing := range g.sensors {
		if existing.HardwareID == s.HardwareID {
			return uuid.Nil, reflector.Conflict("sensor with hardware id %q already exists", s.HardwareID)
		}
	}
	s.ID = uuid.New()
	g.sensors[s.ID] = s
	return s.ID, nil
}

func (g *Graph) DeleteSensor(ctx context.Context, id uuid.UUID) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sensors[id]; !ok {
		return reflector.NotFound("sensor %v", id)
	}
	delete(g.sensors, id)
	return nil
}

func (g *Graph) RetrieveTypes(ctx context.Context, q reflector.TypeQuery) ([]reflector.TypeDescriptor, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var found []reflector.TypeDescriptor
	for _, t := range g.types {
		if q.Space != uuid.Nil && t.Space != q.Space {
			continue
		}
		if len(q.Names) > 0 && !slices.Contains(q.Names, t.Name) {
			continue
		}
		if len(q.Categories) > 0 && !slices.Contains(q.Categories, t.Category) {
			continue
		}
		found = append(found, t)
	}
	return found, nil
}

// CreateType assigns type ids sequentially, starting at 1.
func (g *Graph) CreateType(ctx context.Context, t reflector.TypeDescriptor) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.types {
		if existing.Name == t.Name && existing.Category == t.Category && existing.Space == t.Space {
			return 0, reflector.Conflict("type %v/%v already exists in space %v", t.Category, t.Name, t.Space)
		}
	}
	t.ID = len(g.types) + 1
	g.types = append(g.types, t)
	return t.ID, nil
}

func (g *Graph) RetrieveResources(ctx context.Context, q reflector.ResourceQuery) ([]reflector.ProvisionedResource, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var found []reflector.ProvisionedResource
	for _, r := range g.resources {
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		if q.Space.Valid && r.Space != q.Space.UUID {
			continue
		}
		found = append(found, r.clone())
	}
	sortByID(found, func(r reflector.ProvisionedResource) uuid.UUID { return r.ID })
	return found, nil
}

// RetrieveResource returns the resource with the given id. Every call counts as
// a status read towards Graph.ReadyAfter.
func (g *Graph) RetrieveResource(ctx context.Context, id uuid.UUID) (reflector.ProvisionedResource, error) {
	if err := checkContext(ctx); err != nil {
		return reflector.ProvisionedResource{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.resources[id]
	if !ok {
		return reflector.ProvisionedResource{}, reflector.NotFound("resource %v", id)
	}
	if r.Status == reflector.ResourceProvisioning && r.pendingReads >= 0 {
		if r.pendingReads == 0 {
			r.Status = r.Kind.ReadyStatus()
		} else {
			r.pendingReads--
		}
	}
	return r.clone(), nil
}

func (g *Graph) CreateResource(ctx context.Context, r reflector.ProvisionedResource) (uuid.UUID, error) {
	if err := checkContext(ctx); err != nil {
		return uuid.Nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r.ID = uuid.New()
	if r.Status == "" {
		r.Status = reflector.ResourceProvisioning
	}
	r.EventTypes = slices.Clone(r.EventTypes)
	g.resources[r.ID] = &resource{ProvisionedResource: r, pendingReads: g.ReadyAfter}
	return r.ID, nil
}

// SetResourceStatus overrides the status of a resource, as the external
// provisioning system would. A resource whose status is set stops becoming
// ready on its own.
func (g *Graph) SetResourceStatus(id uuid.UUID, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.resources[id]
	if !ok {
		return reflector.NotFound("resource %v", id)
	}
	r.Status = status
	r.pendingReads = -1
	return nil
}

func (r *resource) clone() reflector.ProvisionedResource {
	c := r.ProvisionedResource
	c.EventTypes = slices.Clone(c.EventTypes)
	return c
}

// sortByID orders retrieval results deterministically, since map iteration is
// random.
func sortByID[T any](s []T, id func(T) uuid.UUID) {
	slices.SortFunc(s, func(a, b T) int {
		x, y := id(a), id(b)
		return slices.Compare(x[:], y[:])
	})
}

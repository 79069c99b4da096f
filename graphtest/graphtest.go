/*
Package graphtest provides a suite of tests designed to assess implementations
of the reflector's Graph API (e.g. in-memory, neo4j).

The tests operate on the graph via the [reflector.Graph] interface to check
functional correctness and compliance with the contract documented there:
filtered retrieval, uniqueness constraints, error categories and cascades.

Call graphtest.Run in its own test to invoke the test-suite on an empty graph:

	func TestGraph(t *testing.T) {
		graphtest.Run(t, memgraph.New())
	}

The suite does not cover status transitions of provisioned resources, because
those are driven by a system external to the graph. Specific implementations
are encouraged to test those, and anything else specific to their backing
store, separately.
*/
package graphtest

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/google/uuid"

	"github.com/go-digitaltwin/reflector"
)

// fixture holds the identities minted by earlier test-cases, so that later
// test-cases can refer to them.
type fixture struct {
	tenant   uuid.UUID
	site     uuid.UUID
	typeID   int
	device   uuid.UUID
	sensor   uuid.UUID
	resource uuid.UUID
}

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// step performs a single operation on the tested graph and checks its
	// outcome. It returns a description of any problem it found.
	step func(ctx context.Context, g reflector.Graph, f *fixture) error
}

var cases = []testCase{
	{
		name:     "create-tenant",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			f.tenant, err = g.CreateSpace(ctx, reflector.Space{Name: "tenant", TypeName: "Tenant"})
			if err != nil {
				return err
			}
			return spaces(ctx, g, reflector.SpaceQuery{IDs: []uuid.UUID{f.tenant}},
				reflector.Space{ID: f.tenant, Name: "tenant", TypeName: "Tenant"})
		},
	},
	{
		name:     "create-child-space",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			f.site, err = g.CreateSpace(ctx, reflector.Space{
				Name:   "site",
				Parent: uuid.NullUUID{UUID: f.tenant, Valid: true},
			})
			if err != nil {
				return err
			}
			want := reflector.Space{ID: f.site, Name: "site", Parent: uuid.NullUUID{UUID: f.tenant, Valid: true}}
			if err := spaces(ctx, g, reflector.SpaceQuery{Parent: want.Parent}, want); err != nil {
				return fmt.Errorf("by parent: %w", err)
			}
			if err := spaces(ctx, g, reflector.SpaceQuery{Name: "site"}, want); err != nil {
				return fmt.Errorf("by name: %w", err)
			}
			return nil
		},
	},
	{
		name:     "create-space-under-missing-parent",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.CreateSpace(ctx, reflector.Space{
				Name:   "orphan",
				Parent: uuid.NullUUID{UUID: uuid.New(), Valid: true},
			})
			return isNotFound(err)
		},
	},
	{
		name:     "create-type",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			f.typeID, err = g.CreateType(ctx, reflector.TypeDescriptor{
				Name:     "Thermostat",
				Category: reflector.CategoryDeviceType,
				Space:    f.tenant,
			})
			if err != nil {
				return err
			}
			return types(ctx, g, reflector.TypeQuery{
				Space:      f.tenant,
				Names:      []string{"Thermostat"},
				Categories: []reflector.Category{reflector.CategoryDeviceType},
			}, reflector.TypeDescriptor{ID: f.typeID, Name: "Thermostat", Category: reflector.CategoryDeviceType, Space: f.tenant})
		},
	},
	{
		name:     "create-duplicate-type",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.CreateType(ctx, reflector.TypeDescriptor{
				Name:     "Thermostat",
				Category: reflector.CategoryDeviceType,
				Space:    f.tenant,
			})
			return isConflict(err)
		},
	},
	{
		name:     "create-type-of-same-name-in-other-category",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			id, err := g.CreateType(ctx, reflector.TypeDescriptor{
				Name:     "Thermostat",
				Category: reflector.CategorySensorType,
				Space:    f.tenant,
			})
			if err != nil {
				return err
			}
			if id == f.typeID {
				return fmt.Errorf("CreateType returned id %v of the DeviceType", id)
			}
			return nil
		},
	},
	{
		name:     "create-device",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			d := reflector.Device{
				HardwareID: "dev-1",
				Name:       "dev-1",
				TypeID:     f.typeID,
				Space:      f.site,
				Properties: map[string]string{"firmware": "1.0"},
			}
			f.device, err = g.CreateDevice(ctx, d)
			if err != nil {
				return err
			}
			d.ID = f.device
			return devices(ctx, g, reflector.DeviceQuery{HardwareIDs: []string{"dev-1"}}, d)
		},
	},
	{
		name:     "create-device-with-duplicate-hardware-id",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.CreateDevice(ctx, reflector.Device{HardwareID: "dev-1", Space: f.site})
			return isConflict(err)
		},
	},
	{
		name:     "update-device",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			d := reflector.Device{
				ID:           f.device,
				HardwareID:   "dev-1",
				Name:         "renamed",
				FriendlyName: "Lobby thermostat",
				TypeID:       f.typeID,
				Space:        f.site,
				Properties:   map[string]string{"firmware": "1.1", "room": "lobby"},
			}
			if err := g.UpdateDevice(ctx, d); err != nil {
				return err
			}
			return devices(ctx, g, reflector.DeviceQuery{
				Space:   uuid.NullUUID{UUID: f.site, Valid: true},
				TypeIDs: []int{f.typeID},
			}, d)
		},
	},
	{
		name:     "update-missing-device",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			return isNotFound(g.UpdateDevice(ctx, reflector.Device{ID: uuid.New(), HardwareID: "ghost"}))
		},
	},
	{
		name:     "create-sensor",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			s := reflector.Sensor{HardwareID: "sensor-1", TypeID: f.typeID, Device: f.device, Space: f.site}
			f.sensor, err = g.CreateSensor(ctx, s)
			if err != nil {
				return err
			}
			s.ID = f.sensor
			return sensors(ctx, g, reflector.SensorQuery{Device: uuid.NullUUID{UUID: f.device, Valid: true}}, s)
		},
	},
	{
		name:     "create-sensor-with-duplicate-hardware-id",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.CreateSensor(ctx, reflector.Sensor{HardwareID: "sensor-1", Device: f.device, Space: f.site})
			return isConflict(err)
		},
	},
	{
		name:     "create-sensor-of-missing-device",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.CreateSensor(ctx, reflector.Sensor{HardwareID: "sensor-2", Device: uuid.New(), Space: f.site})
			return isNotFound(err)
		},
	},
	{
		name:     "delete-device-cascades-to-sensors",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			if err := g.DeleteDevice(ctx, f.device); err != nil {
				return err
			}
			if err := devices(ctx, g, reflector.DeviceQuery{IDs: []uuid.UUID{f.device}}); err != nil {
				return err
			}
			return sensors(ctx, g, reflector.SensorQuery{HardwareIDs: []string{"sensor-1"}})
		},
	},
	{
		name:     "delete-missing-device",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			return isNotFound(g.DeleteDevice(ctx, f.device))
		},
	},
	{
		name:     "delete-missing-sensor",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			return isNotFound(g.DeleteSensor(ctx, f.sensor))
		},
	},
	{
		name:     "create-resource",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) (err error) {
			r := reflector.ProvisionedResource{
				Kind:             reflector.KindEventHub,
				Space:            f.tenant,
				Path:             "hub.example.com",
				ConnectionString: "Endpoint=sb://hub.example.com;EntityPath=events",
				EventTypes:       []string{reflector.EventDeviceMessage},
			}
			f.resource, err = g.CreateResource(ctx, r)
			if err != nil {
				return err
			}
			r.ID = f.resource
			r.Status = reflector.ResourceProvisioning
			return resources(ctx, g, reflector.ResourceQuery{
				Kind:  reflector.KindEventHub,
				Space: uuid.NullUUID{UUID: f.tenant, Valid: true},
			}, r)
		},
	},
	{
		name:     "retrieve-resource",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			r, err := g.RetrieveResource(ctx, f.resource)
			if err != nil {
				return err
			}
			if r.ID != f.resource || r.Kind != reflector.KindEventHub || r.Space != f.tenant {
				return fmt.Errorf("RetrieveResource(%v) = %+v", f.resource, r)
			}
			return nil
		},
	},
	{
		name:     "retrieve-resources-of-other-kind",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			return resources(ctx, g, reflector.ResourceQuery{
				Kind:  reflector.KindIoTHub,
				Space: uuid.NullUUID{UUID: f.tenant, Valid: true},
			})
		},
	},
	{
		name:     "retrieve-missing-resource",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			_, err := g.RetrieveResource(ctx, uuid.New())
			return isNotFound(err)
		},
	},
	{
		name:     "delete-space",
		location: locateSource(),
		step: func(ctx context.Context, g reflector.Graph, f *fixture) error {
			if err := g.DeleteSpace(ctx, f.site); err != nil {
				return err
			}
			if err := spaces(ctx, g, reflector.SpaceQuery{IDs: []uuid.UUID{f.site}}); err != nil {
				return err
			}
			return isNotFound(g.DeleteSpace(ctx, f.site))
		},
	},
}

// Run executes a sequence of test cases on an empty graph. It verifies that the
// graph correctly stores and retrieves entities and enforces the constraints of
// the reflector.Graph contract.
//
// All test-cases run in-order, on the same graph, because later cases refer to
// entities created by earlier ones. That is, a test case cannot run if the
// previous case had failed.
func Run(t *testing.T, g reflector.Graph) {
	t.Helper()

	// Graph implementations should not depend on specific context values.
	ctx := context.Background()

	var f fixture
	for _, c := range cases {
		// We encourage developers to read the source code directly, especially when
		// failures are not clear enough.
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)
		if err := c.step(ctx, g, &f); err != nil {
			t.Fatalf("Check %v: %v", c.name, err)
		}
	}
}

// Call this function to set the location of every test-case in the source file.
// The returned string is used to guide developers of graph implementations to
// the appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}

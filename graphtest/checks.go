package graphtest

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-digitaltwin/reflector"
)

// Graph implementations may return nil or empty collections interchangeably.
var equateEmpty = cmpopts.EquateEmpty()

// Checks that retrieving spaces by q returns exactly the wanted spaces, in any
// order.
func spaces(ctx context.Context, g reflector.Graph, q reflector.SpaceQuery, want ...reflector.Space) error {
	got, err := g.RetrieveSpaces(ctx, q)
	if err != nil {
		return fmt.Errorf("RetrieveSpaces(%+v): %w", q, err)
	}
	sortSpaces := cmpopts.SortSlices(func(a, b reflector.Space) bool { return a.ID.String() < b.ID.String() })
	if diff := cmp.Diff(want, got, sortSpaces, equateEmpty); diff != "" {
		return fmt.Errorf("RetrieveSpaces(%+v) mismatch (-want +got):\n%v", q, diff)
	}
	return nil
}

// Checks that retrieving devices by q returns exactly the wanted devices, in
// any order.
func devices(ctx context.Context, g reflector.Graph, q reflector.DeviceQuery, want ...reflector.Device) error {
	got, err := g.RetrieveDevices(ctx, q)
	if err != nil {
		return fmt.Errorf("RetrieveDevices(%+v): %w", q, err)
	}
	sortDevices := cmpopts.SortSlices(func(a, b reflector.Device) bool { return a.ID.String() < b.ID.String() })
	if diff := cmp.Diff(want, got, sortDevices, equateEmpty); diff != "" {
		return fmt.Errorf("RetrieveDevices(%+v) mismatch (-want +got):\n%v", q, diff)
	}
	return nil
}

// Checks that retrieving sensors by q returns exactly the wanted sensors, in
// any order.
func sensors(ctx context.Context, g reflector.Graph, q reflector.SensorQuery, want ...reflector.Sensor) error {
	got, err := g.RetrieveSensors(ctx, q)
	if err != nil {
		return fmt.Errorf("RetrieveSensors(%+v): %w", q, err)
	}
	sortSensors := cmpopts.SortSlices(func(a, b reflector.Sensor) bool { return a.ID.String() < b.ID.String() })
	if diff := cmp.Diff(want, got, sortSensors, equateEmpty); diff != "" {
		return fmt.Errorf("RetrieveSensors(%+v) mismatch (-want +got):\n%v", q, diff)
	}
	return nil
}

// Checks that retrieving types by q returns exactly the wanted types, in any
// order.
func types(ctx context.Context, g reflector.Graph, q reflector.TypeQuery, want ...reflector.TypeDescriptor) error {
	got, err := g.RetrieveTypes(ctx, q)
	if err != nil {
		return fmt.Errorf("RetrieveTypes(%+v): %w", q, err)
	}
	sortTypes := cmpopts.SortSlices(func(a, b reflector.TypeDescriptor) bool { return a.ID < b.ID })
	if diff := cmp.Diff(want, got, sortTypes, equateEmpty); diff != "" {
		return fmt.Errorf("RetrieveTypes(%+v) mismatch (-want +got):\n%v", q, diff)
	}
	return nil
}

// Checks that retrieving resources by q returns exactly the wanted resources,
// in any order.
func resources(ctx context.Context, g reflector.Graph, q reflector.ResourceQuery, want ...reflector.ProvisionedResource) error {
	got, err := g.RetrieveResources(ctx, q)
	if err != nil {
		return fmt.Errorf("RetrieveResources(%+v): %w", q, err)
	}
	sortResources := cmpopts.SortSlices(func(a, b reflector.ProvisionedResource) bool { return a.ID.String() < b.ID.String() })
	if diff := cmp.Diff(want, got, sortResources, equateEmpty); diff != "" {
		return fmt.Errorf("RetrieveResources(%+v) mismatch (-want +got):\n%v", q, diff)
	}
	return nil
}

// Checks that err reports a violated uniqueness constraint.
func isConflict(err error) error {
	if !reflector.IsConflict(err) {
		return fmt.Errorf("got error %v, want a conflict", err)
	}
	return nil
}

// Checks that err reports a missing entity.
func isNotFound(err error) error {
	if !reflector.IsNotFound(err) {
		return fmt.Errorf("got error %v, want not found", err)
	}
	return nil
}

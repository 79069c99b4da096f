package reflector

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

const (
	kindDevice = "device"
	kindSensor = "sensor"
)

func (p *Pipeline) createDevice(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	typeName, ok := m.Attribute(AttrType)
	if !ok {
		return missingAttribute(AttrType)
	}

	if _, found, err := p.findDevice(ctx, m.ID); err != nil {
		return err
	} else if found {
		return duplicateHardwareID(kindDevice, m.ID, nil)
	}

	space := tc.Tenant
	if tc.Gateway.Valid {
		gateways, err := p.Graph.RetrieveDevices(ctx, DeviceQuery{IDs: []uuid.UUID{tc.Gateway.UUID}})
		if err != nil {
			return fmt.Errorf("retrieve gateway: %w", err)
		}
		if len(gateways) == 0 {
			return tenantNotFound("gateway %v is no longer registered", tc.Gateway.UUID)
		}
		space = gateways[0].Space
	}

	d := Device{
		HardwareID: m.ID,
		Space:      space,
		Gateway:    tc.Gateway,
		Properties: m.Properties,
	}
	applyDescription(&d, m)
	if d.Name == "" {
		d.Name = m.ID
	}
	var err error
	if d.TypeID, err = p.types.GetOrCreate(ctx, typeName, CategoryDeviceType, tc.Tenant); err != nil {
		return err
	}
	if subtype, ok := m.Attribute(AttrSubtype); ok {
		if d.SubtypeID, err = p.types.GetOrCreate(ctx, subtype, CategoryDeviceSubtype, tc.Tenant); err != nil {
			return err
		}
	}

	if _, err := p.Graph.CreateDevice(ctx, d); err != nil {
		if IsConflict(err) {
			return duplicateHardwareID(kindDevice, m.ID, err)
		}
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (p *Pipeline) updateDevice(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	d, err := p.mustFindDevice(ctx, tc, m.ID)
	if err != nil {
		return err
	}

	applyDescription(&d, m)
	if typeName, ok := m.Attribute(AttrType); ok {
		if d.TypeID, err = p.types.GetOrCreate(ctx, typeName, CategoryDeviceType, tc.Tenant); err != nil {
			return err
		}
	}
	if subtype, ok := m.Attribute(AttrSubtype); ok {
		if d.SubtypeID, err = p.types.GetOrCreate(ctx, subtype, CategoryDeviceSubtype, tc.Tenant); err != nil {
			return err
		}
	}
	if err := p.Graph.UpdateDevice(ctx, d); err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}

func (p *Pipeline) deleteDevice(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	d, err := p.mustFindDevice(ctx, tc, m.ID)
	if err != nil {
		return err
	}
	if err := p.Graph.DeleteDevice(ctx, d.ID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

func (p *Pipeline) createSensor(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	if m.Device == "" {
		return missingAttribute("device")
	}
	typeName, ok := m.Attribute(AttrType)
	if !ok {
		return missingAttribute(AttrType)
	}

	sensors, err := p.Graph.RetrieveSensors(ctx, SensorQuery{HardwareIDs: []string{m.ID}})
	if err != nil {
		return fmt.Errorf("retrieve sensor: %w", err)
	}
	if len(sensors) > 0 {
		return duplicateHardwareID(kindSensor, m.ID, nil)
	}
	device, err := p.mustFindDevice(ctx, tc, m.Device)
	if err != nil {
		return err
	}

	s := Sensor{
		HardwareID: m.ID,
		Device:     device.ID,
		Space:      device.Space,
	}
	if s.TypeID, err = p.types.GetOrCreate(ctx, typeName, CategorySensorType, tc.Tenant); err != nil {
		return err
	}
	if dataType, ok := m.Attribute(AttrDataType); ok {
		if s.DataTypeID, err = p.types.GetOrCreate(ctx, dataType, CategorySensorDataType, tc.Tenant); err != nil {
			return err
		}
	}

	if _, err := p.Graph.CreateSensor(ctx, s); err != nil {
		if IsConflict(err) {
			return duplicateHardwareID(kindSensor, m.ID, err)
		}
		if IsNotFound(err) {
			// The device was deleted after we looked it up.
			return entityNotFound(kindDevice, m.Device)
		}
		return fmt.Errorf("create sensor: %w", err)
	}
	return nil
}

func (p *Pipeline) deleteSensor(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	sensors, err := p.Graph.RetrieveSensors(ctx, SensorQuery{HardwareIDs: []string{m.ID}})
	if err != nil {
		return fmt.Errorf("retrieve sensor: %w", err)
	}
	if len(sensors) == 0 {
		return entityNotFound(kindSensor, m.ID)
	}
	if owned, err := p.owns(ctx, tc, sensors[0].Space); err != nil {
		return err
	} else if !owned {
		return entityNotFound(kindSensor, m.ID)
	}
	if err := p.Graph.DeleteSensor(ctx, sensors[0].ID); err != nil {
		return fmt.Errorf("delete sensor: %w", err)
	}
	return nil
}

func (p *Pipeline) updateProperties(ctx context.Context, tc TenantContext, m IngressMessage) error {
	if m.ID == "" {
		return missingAttribute("id")
	}
	if len(m.Properties) == 0 {
		return missingAttribute("properties")
	}
	d, err := p.mustFindDevice(ctx, tc, m.ID)
	if err != nil {
		return err
	}
	if d.Properties == nil {
		d.Properties = make(map[string]string, len(m.Properties))
	}
	maps.Copy(d.Properties, m.Properties)
	if err := p.Graph.UpdateDevice(ctx, d); err != nil {
		return fmt.Errorf("update device properties: %w", err)
	}
	return nil
}

// findDevice looks up a device by its hardware id.
func (p *Pipeline) findDevice(ctx context.Context, hardwareID string) (Device, bool, error) {
	devices, err := p.Graph.RetrieveDevices(ctx, DeviceQuery{HardwareIDs: []string{hardwareID}})
	if err != nil {
		return Device{}, false, fmt.Errorf("retrieve device: %w", err)
	}
	if len(devices) == 0 {
		return Device{}, false, nil
	}
	return devices[0], true, nil
}

// mustFindDevice looks up a device of the tenant of tc by its hardware id. A
// device of another tenant is reported as not found.
func (p *Pipeline) mustFindDevice(ctx context.Context, tc TenantContext, hardwareID string) (Device, error) {
	d, found, err := p.findDevice(ctx, hardwareID)
	if err != nil {
		return Device{}, err
	}
	if !found {
		return Device{}, entityNotFound(kindDevice, hardwareID)
	}
	if owned, err := p.owns(ctx, tc, d.Space); err != nil {
		return Device{}, err
	} else if !owned {
		return Device{}, entityNotFound(kindDevice, hardwareID)
	}
	return d, nil
}

// owns reports whether the given space lies in the space hierarchy of the
// tenant of tc.
func (p *Pipeline) owns(ctx context.Context, tc TenantContext, space uuid.UUID) (bool, error) {
	if space == tc.Tenant {
		return true, nil
	}
	root, ok, err := rootSpace(ctx, p.Graph, space, DefaultMaxSpaceDepth)
	if err != nil {
		return false, err
	}
	return ok && root == tc.Tenant, nil
}

// applyDescription overwrites the descriptive fields of d with those set in m.
func applyDescription(d *Device, m IngressMessage) {
	if v, ok := m.Attribute(AttrName); ok {
		d.Name = v
	}
	if v, ok := m.Attribute(AttrFriendlyName); ok {
		d.FriendlyName = v
	}
	if v, ok := m.Attribute(AttrDescription); ok {
		d.Description = v
	}
}

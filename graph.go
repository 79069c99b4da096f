package reflector

import (
	"context"

	"github.com/google/uuid"
)

// Category classifies a TypeDescriptor.
type Category string

const (
	CategorySensorType     Category = "SensorType"
	CategorySensorDataType Category = "SensorDataType"
	CategoryDeviceType     Category = "DeviceType"
	CategoryDeviceSubtype  Category = "DeviceSubtype"
	CategorySpaceType      Category = "SpaceType"
	CategorySpaceSubtype   Category = "SpaceSubtype"
	CategorySpaceStatus    Category = "SpaceStatus"
)

// TypeDescriptor is a named classification scoped to a tenant. The composite
// (Name, Category, Space) is unique within a graph.
type TypeDescriptor struct {
	ID       int
	Name     string
	Category Category
	// Space is the tenant space that scopes the type.
	Space uuid.UUID
}

// Space is a node of the space hierarchy. A space without a parent is the root
// of a tenant.
type Space struct {
	ID           uuid.UUID
	Name         string
	FriendlyName string
	Description  string
	// TypeName is set on tenant spaces instead of TypeID, because types are
	// scoped to a tenant and cannot exist before it.
	TypeName  string
	TypeID    int
	SubtypeID int
	StatusID  int
	Parent    uuid.NullUUID
}

// Device is a physical device located in a space, possibly connected through a
// gateway device. HardwareID is unique within a graph.
type Device struct {
	ID           uuid.UUID
	HardwareID   string
	Name         string
	FriendlyName string
	Description  string
	TypeID       int
	SubtypeID    int
	Space        uuid.UUID
	Gateway      uuid.NullUUID
	Properties   map[string]string
}

// Sensor is attached to a device. HardwareID is unique within a graph.
type Sensor struct {
	ID         uuid.UUID
	HardwareID string
	TypeID     int
	DataTypeID int
	Device     uuid.UUID
	Space      uuid.UUID
}

// ResourceKind identifies a kind of provisioned infrastructure.
type ResourceKind string

const (
	KindIoTHub   ResourceKind = "IoTHub"
	KindEventHub ResourceKind = "EventHub"
)

// Status values reported by the external provisioning system. A resource is
// ready once it reports the ReadyStatus of its kind.
const (
	ResourceProvisioning = "Provisioning"
	ResourceRunning      = "Running"
	ResourceReady        = "Ready"
	ResourceFailed       = "Failed"
)

// ReadyStatus returns the status a resource of kind k reports once usable.
// Hub resources report Running; endpoints report Ready.
func (k ResourceKind) ReadyStatus() string {
	if k == KindIoTHub {
		return ResourceRunning
	}
	return ResourceReady
}

// EventDeviceMessage is the event type routed to device event endpoints.
const EventDeviceMessage = "DeviceMessage"

// ProvisionedResource is infrastructure whose status transitions are driven by
// an external provisioning system. It is observed by polling only.
type ProvisionedResource struct {
	ID                        uuid.UUID
	Kind                      ResourceKind
	Space                     uuid.UUID
	Path                      string
	ConnectionString          string
	SecondaryConnectionString string
	EventTypes                []string
	Status                    string
}

// Ready reports whether r has reached the ready status of its kind.
func (r ProvisionedResource) Ready() bool {
	return r.Status == r.Kind.ReadyStatus()
}

// Queries filter retrieval from the graph. Zero-valued fields do not filter.
type (
	SpaceQuery struct {
		IDs    []uuid.UUID
		Name   string
		Parent uuid.NullUUID
	}
	DeviceQuery struct {
		IDs         []uuid.UUID
		HardwareIDs []string
		TypeIDs     []int
		Space       uuid.NullUUID
	}
	SensorQuery struct {
		IDs         []uuid.UUID
		HardwareIDs []string
		TypeIDs     []int
		Device      uuid.NullUUID
	}
	TypeQuery struct {
		Space      uuid.UUID
		Names      []string
		Categories []Category
	}
	ResourceQuery struct {
		Kind  ResourceKind
		Space uuid.NullUUID
	}
)

// Graph is the API of the external digital-twin graph.
//
// Implementations report failures with go-errors envelopes so that callers can
// classify them (see NotFound, Conflict and Unavailable): a missing entity is
// CategoryNotFound, a violated uniqueness constraint is CategoryConflict, and a
// temporary failure of the backing store is CategoryExternal.
//
// Implementations must enforce uniqueness of device and sensor hardware ids and
// of (Name, Category, Space) for types. Callers perform read-then-act sequences
// without locking and rely on those constraints under races.
type Graph interface {
	SpaceStore
	DeviceStore
	SensorStore
	TypeStore
	ResourceStore
}

type SpaceStore interface {
	RetrieveSpaces(ctx context.Context, q SpaceQuery) ([]Space, error)
	CreateSpace(ctx context.Context, s Space) (uuid.UUID, error)
	DeleteSpace(ctx context.Context, id uuid.UUID) error
}

type DeviceStore interface {
	RetrieveDevices(ctx context.Context, q DeviceQuery) ([]Device, error)
	CreateDevice(ctx context.Context, d Device) (uuid.UUID, error)
	// UpdateDevice replaces the stored device that has the same ID.
	UpdateDevice(ctx context.Context, d Device) error
	// DeleteDevice deletes the device and the sensors attached to it.
	DeleteDevice(ctx context.Context, id uuid.UUID) error
}

type SensorStore interface {
	RetrieveSensors(ctx context.Context, q SensorQuery) ([]Sensor, error)
	CreateSensor(ctx context.Context, s Sensor) (uuid.UUID, error)
	DeleteSensor(ctx context.Context, id uuid.UUID) error
}

type TypeStore interface {
	RetrieveTypes(ctx context.Context, q TypeQuery) ([]TypeDescriptor, error)
	CreateType(ctx context.Context, t TypeDescriptor) (int, error)
}

type ResourceStore interface {
	RetrieveResources(ctx context.Context, q ResourceQuery) ([]ProvisionedResource, error)
	RetrieveResource(ctx context.Context, id uuid.UUID) (ProvisionedResource, error)
	CreateResource(ctx context.Context, r ProvisionedResource) (uuid.UUID, error)
}

package reflector

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Headers carried as metadata on inbound and feedback messages. The payload of a
// message never contains its correlation id.
const (
	HeaderMessageType   = "message-type"
	HeaderCorrelationID = "correlation-id"
	HeaderStatus        = "status"
	HeaderErrorCode     = "error-code"
)

// MessageType tags an inbound message with the graph mutation it requests.
//
// The set of message types is closed; every type has exactly one handler in
// the Pipeline.
type MessageType string

const (
	DeviceCreate   MessageType = "DEVICE_CREATE"
	DeviceUpdate   MessageType = "DEVICE_UPDATE"
	DeviceDelete   MessageType = "DEVICE_DELETE"
	SensorCreate   MessageType = "SENSOR_CREATE"
	SensorDelete   MessageType = "SENSOR_DELETE"
	PropertyUpdate MessageType = "PROPERTY_UPDATE"
)

// MessageTypes returns every known MessageType.
func MessageTypes() []MessageType {
	return []MessageType{
		DeviceCreate,
		DeviceUpdate,
		DeviceDelete,
		SensorCreate,
		SensorDelete,
		PropertyUpdate,
	}
}

// ParseMessageType returns the MessageType named by s, or an error if s does not
// name a known type.
func ParseMessageType(s string) (MessageType, error) {
	for _, t := range MessageTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Well-known keys of IngressMessage.Attributes.
const (
	AttrName         = "name"
	AttrFriendlyName = "friendlyName"
	AttrDescription  = "description"
	AttrType         = "type"
	AttrSubtype      = "subtype"
	AttrDataType     = "dataType"
)

// IngressMessage is the payload of an inbound message. It is immutable once
// received.
type IngressMessage struct {
	// ID is the hardware id of the device or sensor the message is about.
	ID string `json:"id"`
	// Attributes describe the entity, keyed by the Attr* constants.
	Attributes map[string]string `json:"attributes,omitempty"`
	// Properties are free-form values merged into the entity on PROPERTY_UPDATE.
	Properties map[string]string `json:"properties,omitempty"`
	// Device is the hardware id of the device a sensor is attached to.
	Device string `json:"device,omitempty"`
	// Gateway is the hardware id of the gateway that sent the message.
	Gateway string `json:"gateway,omitempty"`
}

// Attribute returns the named attribute and whether it is set to a non-empty
// value.
func (m IngressMessage) Attribute(name string) (string, bool) {
	v, ok := m.Attributes[name]
	return v, ok && v != ""
}

// A Delivery is a single inbound message together with its out-of-band headers.
type Delivery struct {
	Type          MessageType
	CorrelationID uuid.UUID
	Message       IngressMessage
	// Metadata holds all headers of the message as received from the bus.
	Metadata map[string]string
}

// Status is the terminal outcome reported by a FeedbackMessage.
type Status string

const (
	StatusProcessed Status = "PROCESSED"
	StatusError     Status = "ERROR"
)

// ErrorCode classifies the reason a message was not processed.
type ErrorCode string

const (
	ErrorTenantNotFound      ErrorCode = "TENANT_NOT_FOUND"
	ErrorMalformedMessage    ErrorCode = "MALFORMED_MESSAGE"
	ErrorMissingAttribute    ErrorCode = "MISSING_ATTRIBUTE"
	ErrorEntityNotFound      ErrorCode = "ENTITY_NOT_FOUND"
	ErrorDuplicateHardwareID ErrorCode = "DUPLICATE_HARDWARE_ID"
	ErrorConflict            ErrorCode = "CONFLICT"
	ErrorGraphUnavailable    ErrorCode = "GRAPH_UNAVAILABLE"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

// ErrorCodes returns every known ErrorCode.
func ErrorCodes() []ErrorCode {
	return []ErrorCode{
		ErrorTenantNotFound,
		ErrorMalformedMessage,
		ErrorMissingAttribute,
		ErrorEntityNotFound,
		ErrorDuplicateHardwareID,
		ErrorConflict,
		ErrorGraphUnavailable,
		ErrorInternal,
	}
}

// Transient reports whether a sender may expect a redelivery of the same
// message to succeed.
func (c ErrorCode) Transient() bool {
	return c == ErrorGraphUnavailable
}

// FeedbackMessage acknowledges the outcome of a single inbound message.
//
// Its CorrelationID always equals the correlation id of the triggering message.
type FeedbackMessage struct {
	CorrelationID uuid.UUID   `json:"correlationId"`
	Status        Status      `json:"status"`
	ErrorCode     ErrorCode   `json:"errorCode,omitempty"`
	Detail        string      `json:"detail,omitempty"`
	MessageType   MessageType `json:"messageType,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Processed returns the feedback of a successfully applied message.
func Processed(d Delivery) FeedbackMessage {
	return FeedbackMessage{
		CorrelationID: d.CorrelationID,
		Status:        StatusProcessed,
		MessageType:   d.Type,
	}
}

// Failed returns the feedback of a message that was not applied.
func Failed(d Delivery, code ErrorCode, detail string) FeedbackMessage {
	return FeedbackMessage{
		CorrelationID: d.CorrelationID,
		Status:        StatusError,
		ErrorCode:     code,
		Detail:        detail,
		MessageType:   d.Type,
	}
}

// Package reflector provides a proxy that reflects device lifecycle messages
// from a message bus onto a digital-twin graph (spaces, devices, sensors,
// types, resources and endpoints), and acknowledges every accepted message with
// a feedback message correlated to it.
//
// Inbound messages are delivered at-least-once and in no particular order. Each
// message carries two out-of-band headers: its MessageType and a correlation
// id. The Pipeline resolves the message's TenantContext, dispatches it to the
// handler of its type, and publishes exactly one FeedbackMessage carrying the
// same correlation id - PROCESSED on success, or ERROR with an ErrorCode that
// classifies the failure. There is no internal retry; redelivery by the bus is
// the recovery path. The graph enforces uniqueness of natural keys (hardware
// ids, type names) so that a redelivered create fails instead of duplicating.
//
// The graph itself is an external collaborator described by the Graph
// interface. See the neo4jgraph and memgraph packages for implementations, and
// the graphtest package for the behaviour every implementation must exhibit.
//
// Provisioning of infrastructure that must exist before messages can flow (the
// tenant space, its IoT hub resource and the device event endpoint) is done by
// a Provisioner, which creates what is missing and blocks until the external
// system reports it as ready.
//
// The Tracker is the consumer-side half of the feedback protocol: it records
// every observed FeedbackMessage and lets callers await the one that matches
// their correlation id. Package httpapi serves it over HTTP.
//
// The reflector command in cmd/reflector wires all of the above to a bus opened
// by URL, with tenant resolution optionally cached in Redis (see rediscache).
package reflector

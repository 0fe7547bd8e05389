// Package bus provides the in-process event bus bridge: a logical
// publish/subscribe fabric routing envelopes between workers by event-type
// pattern. Delivery is at-least-once; subscribers must be idempotent with
// respect to idempotency key or event id (see Deduper). Physical transport
// is out of scope; a networked bus is an alternative implementation of the
// same core.Bus contract.
package bus

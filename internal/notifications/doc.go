// Package notifications delivers run lifecycle events over ntfy. When no
// topic is configured every method is a no-op, so callers never need to
// guard their calls. Delivery failures are returned for logging but should
// never abort a run.
package notifications

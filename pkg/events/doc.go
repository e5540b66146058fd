// Package events is a small in-memory pub/sub broker standing in for
// the notify channel on the shared object store (spec.md §4.1, §6):
// the Store Gateway publishes acquire/release/instance events here, and
// anything subscribed — a fake worker in tests, a real transport
// adapter in production — receives them over a buffered channel in
// publish order. Publish blocks only while the broker's 100-event queue
// is full (and returns at once after Stop); a full subscriber buffer
// drops the event rather than stalling the broker.
package events

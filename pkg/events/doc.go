/*
Package events provides the in-process lifecycle event broker.

The engine publishes nexus and child transitions (created, destroyed,
published, degraded, faulted, ...); subscribers receive them on buffered
channels. Delivery is best effort: a slow subscriber loses events rather
than stalling the engine.
*/
package events

/*
Package metrics exposes prometheus instrumentation for the nexus engine.

I/O counters and latency histograms are updated inline by the dispatcher;
the state gauges (nexuses, children, exports by state) are refreshed by the
Collector from a StateSource snapshot. Handler serves the standard
/metrics endpoint.
*/
package metrics

/*
Package export publishes a nexus as an externally consumable block device.

The engine talks to a Sink: Publish hands a Device (the nexus data path)
over and gets an addressable path back, Unpublish tears it down. The
LoopbackSink keeps published devices reachable in-process; frontends that
speak an actual block protocol implement Sink the same way.
*/
package export

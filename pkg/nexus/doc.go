/*
Package nexus implements the replicated block device engine: a nexus is a
logical device that mirrors writes across an ordered set of replica
children and serves reads from the healthiest one.

# Architecture

	┌───────────────────────── NEXUS ENGINE ─────────────────────────┐
	│                                                                 │
	│  Registry (name/uuid ──► *Nexus)                                │
	│    Create / Destroy / Get / Descriptors                         │
	│    Publish / Unpublish          ──► export.Sink                 │
	│    AddChild / RemoveChild                                       │
	│    ChildOperation / MarkChildSynced                             │
	│    Restore                      ◄── storage.Store               │
	│                                                                 │
	│  Nexus                                                          │
	│    children []*Child (ordered)                                  │
	│    WriteAt/Flush  ──► fan out to all usable children, join      │
	│    ReadAt         ──► first online child, retry in order        │
	│                                                                 │
	│  Child                                                          │
	│    state: online │ degraded │ faulted │ offline                 │
	│    replica.Channel + in-flight count                            │
	│                                                                 │
	│  health monitor ──► zerolog + events.Broker + prometheus        │
	└─────────────────────────────────────────────────────────────────┘

# States

A child is online when it holds the full data set, degraded when usable but
not confirmed in sync (freshly added, re-onlined, or demoted by a transient
I/O failure), faulted when unrecoverable, offline when administratively out
of service. Online and degraded children receive writes; reads prefer
online children and fall back to degraded ones only when no online child
exists.

The nexus state derives from the children: all online means online, at
least one usable child means degraded, none means faulted. A faulted nexus
rejects I/O and refuses to publish, but stays addressable for inspection
and destroy.

Promotion from degraded to online never happens on the engine's own
initiative: it is the rebuild-completion signal delivered through
MarkChildSynced.

# Concurrency

Administrative operations take the nexus write lock. The dispatcher takes
the read lock only long enough to snapshot the eligible children, raising
each child's in-flight count before releasing it. Closing a channel waits
for that count to drain, so admin operations settle in-flight I/O instead
of racing it.

# Failure handling

A transient sub-operation failure demotes the child; a gone channel faults
it. A write that fails on every child faults the failed set, which drives
the nexus to faulted, and the write returns errdefs.ErrIoFailed.
*/
package nexus

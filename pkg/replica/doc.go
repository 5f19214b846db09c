/*
Package replica abstracts block-level access to one data replica behind the
Channel interface and a scheme-keyed driver registry.

A replica is addressed by a URI whose scheme selects the transport:

	file:///var/lib/nexd/r1.img?blk=4096   local file or block device
	mem:///scratch?size=1048576            in-process arena (tests, scratch)

# Architecture

	┌──────────────────── REPLICA LAYER ─────────────────────┐
	│                                                         │
	│  Identity (parsed, canonical URI)                       │
	│       │                                                 │
	│       ▼                                                 │
	│  Open(id) ──► driver registry ──► Opener per scheme     │
	│                                                         │
	│  Channel interface                                      │
	│    ReadAt / WriteAt / Flush  (context-aware)            │
	│    Size / BlockSize / Close                             │
	│                                                         │
	│  Drivers                                                │
	│    file: os.File, Flush = fsync                         │
	│    mem:  named arenas with fault injection              │
	│    (remote transports register via Register)            │
	└─────────────────────────────────────────────────────────┘

A Channel is exclusively owned by the child that opened it; the engine never
shares channels between children or hands them out.

# Errors

Open failures wrap errdefs.ErrChildUnavailable. I/O against a closed or
removed backing store returns ErrChannelGone, which the health monitor
treats as non-transient (child becomes faulted, not merely degraded). Any
other I/O error is considered transient.

# Usage

	id, err := replica.Parse("file:///dev/sdb?blk=4096")
	if err != nil { ... }
	ch, err := replica.Open(id)
	if err != nil { ... }
	defer ch.Close()

	n, err := ch.WriteAt(ctx, buf, 0)
	err = ch.Flush(ctx)
*/
package replica

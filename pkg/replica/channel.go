package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

// ErrChannelGone indicates the backing store disappeared (device removed,
// arena destroyed). The health monitor treats it as non-transient and
// faults the child instead of merely demoting it.
var ErrChannelGone = errors.New("replica channel gone")

// Channel gives block-level access to one replica. A channel is exclusively
// owned by the child that opened it and is never shared.
type Channel interface {
	// ReadAt reads len(p) bytes at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes at offset off.
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)

	// Flush makes previously written data durable per the replica's own
	// durability contract.
	Flush(ctx context.Context) error

	// Size returns the replica capacity in bytes.
	Size() uint64

	// BlockSize returns the replica block size in bytes.
	BlockSize() uint32

	// Close releases the channel. Further I/O fails with ErrChannelGone.
	Close() error
}

// Opener opens a channel to the replica named by an identity.
type Opener func(id Identity) (Channel, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// Register installs an opener for a URI scheme. Transports outside this
// package (remote replicas) register themselves the same way the in-tree
// file and mem drivers do.
func Register(scheme string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[scheme] = open
}

// Open opens a channel to the replica, dispatching on the URI scheme.
func Open(id Identity) (Channel, error) {
	driversMu.RLock()
	open, ok := drivers[id.Scheme]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no driver for scheme %q: %w", id.Scheme, errdefs.ErrChildUnavailable)
	}
	return open(id)
}

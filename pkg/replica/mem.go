package replica

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

func init() {
	Register("mem", openMem)
}

const defaultMemSize = 64 << 20 // 64 MiB

var (
	arenasMu sync.Mutex
	arenas   = make(map[string]*MemArena)
)

// MemArena is the shared backing store of a mem:// replica. Arenas are
// created on first open and keyed by path, so tests and scratch devices can
// reattach to the same data. The fault switches let tests kill a replica
// mid-flight.
type MemArena struct {
	mu   sync.RWMutex
	data []byte

	failReads  bool
	failWrites bool
	gone       bool
}

// LookupMem returns the arena behind mem:///<name>, or nil if it was never
// opened. Intended for tests and the mem driver itself.
func LookupMem(name string) *MemArena {
	arenasMu.Lock()
	defer arenasMu.Unlock()
	return arenas[name]
}

// DropMem destroys a named arena; open channels to it start returning
// ErrChannelGone.
func DropMem(name string) {
	arenasMu.Lock()
	a := arenas[name]
	delete(arenas, name)
	arenasMu.Unlock()

	if a != nil {
		a.mu.Lock()
		a.gone = true
		a.mu.Unlock()
	}
}

// FailReads makes subsequent reads fail with a transient error.
func (a *MemArena) FailReads(fail bool) {
	a.mu.Lock()
	a.failReads = fail
	a.mu.Unlock()
}

// FailWrites makes subsequent writes fail with a transient error.
func (a *MemArena) FailWrites(fail bool) {
	a.mu.Lock()
	a.failWrites = fail
	a.mu.Unlock()
}

// Fail makes all subsequent I/O fail with a transient error.
func (a *MemArena) Fail(fail bool) {
	a.mu.Lock()
	a.failReads = fail
	a.failWrites = fail
	a.mu.Unlock()
}

// Gone simulates device removal: all subsequent I/O fails with
// ErrChannelGone, which faults the child rather than demoting it.
func (a *MemArena) Gone() {
	a.mu.Lock()
	a.gone = true
	a.mu.Unlock()
}

// Bytes returns a copy of the arena contents, for test verification.
func (a *MemArena) Bytes() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// memChannel is one open handle onto an arena.
type memChannel struct {
	arena     *MemArena
	blockSize uint32
	closed    bool
	mu        sync.Mutex
}

func openMem(id Identity) (Channel, error) {
	size, err := id.uintQuery("size", defaultMemSize)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("mem replica %s has zero size: %w", id, errdefs.ErrIncompatibleGeometry)
	}
	blk, err := id.BlockSize()
	if err != nil {
		return nil, err
	}

	arenasMu.Lock()
	a, ok := arenas[id.Path]
	if !ok {
		a = &MemArena{data: make([]byte, size)}
		arenas[id.Path] = a
	}
	arenasMu.Unlock()

	a.mu.RLock()
	gone := a.gone
	a.mu.RUnlock()
	if gone {
		return nil, fmt.Errorf("mem replica %s: %w", id, errdefs.ErrChildUnavailable)
	}

	return &memChannel{arena: a, blockSize: blk}, nil
}

func (c *memChannel) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrChannelGone
	}

	c.arena.mu.RLock()
	defer c.arena.mu.RUnlock()
	if c.arena.gone {
		return 0, ErrChannelGone
	}
	if c.arena.failReads {
		return 0, fmt.Errorf("injected read fault")
	}
	if off < 0 || off >= int64(len(c.arena.data)) {
		return 0, io.EOF
	}
	n := copy(p, c.arena.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (c *memChannel) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrChannelGone
	}

	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	if c.arena.gone {
		return 0, ErrChannelGone
	}
	if c.arena.failWrites {
		return 0, fmt.Errorf("injected write fault")
	}
	if off < 0 || off+int64(len(p)) > int64(len(c.arena.data)) {
		return 0, io.ErrShortWrite
	}
	copy(c.arena.data[off:], p)
	return len(p), nil
}

func (c *memChannel) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.arena.mu.RLock()
	defer c.arena.mu.RUnlock()
	if c.arena.gone {
		return ErrChannelGone
	}
	if c.arena.failWrites {
		return fmt.Errorf("injected flush fault")
	}
	return nil
}

func (c *memChannel) Size() uint64 {
	c.arena.mu.RLock()
	defer c.arena.mu.RUnlock()
	return uint64(len(c.arena.data))
}

func (c *memChannel) BlockSize() uint32 {
	return c.blockSize
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

package nexus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/events"
	"github.com/nexd-io/nexd/pkg/export"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/types"
)

// Nexus is the aggregate logical block device composed of replica children.
// Administrative operations take the write lock; the dispatcher takes the
// read lock only to snapshot eligible children, so in-flight I/O holds a
// stable view while the authoritative child list changes.
type Nexus struct {
	name      string
	uuid      string
	size      uint64
	blockSize uint32

	mu         sync.RWMutex
	children   []*Child
	devicePath string

	childTimeout time.Duration
	health       *healthMonitor
	logger       zerolog.Logger
}

// Options configures a nexus at open time.
type Options struct {
	Name      string
	UUID      string
	Size      uint64
	BlockSize uint32

	// ChildTimeout bounds one sub-operation against one child. Zero means
	// no bound beyond the caller's context.
	ChildTimeout time.Duration

	// Broker receives lifecycle events; may be nil.
	Broker *events.Broker
}

// open creates a nexus from an ordered list of replica URIs. All channels
// are opened in input order; any failure closes the ones already opened and
// no nexus exists afterwards.
func open(opts Options, uris []string) (*Nexus, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("nexus %s: no children given: %w", opts.Name, errdefs.ErrChildUnavailable)
	}
	if opts.Size == 0 || opts.BlockSize == 0 {
		return nil, fmt.Errorf("nexus %s: zero size or block size: %w", opts.Name, errdefs.ErrIncompatibleGeometry)
	}

	n := &Nexus{
		name:         opts.Name,
		uuid:         opts.UUID,
		size:         opts.Size,
		blockSize:    opts.BlockSize,
		childTimeout: opts.ChildTimeout,
		health:       newHealthMonitor(opts.Name, opts.Broker),
		logger:       log.WithNexus(opts.Name),
	}

	seen := make(map[string]bool)
	for _, raw := range uris {
		id, err := replica.Parse(raw)
		if err != nil {
			n.closeAll()
			return nil, err
		}
		if seen[id.String()] {
			n.closeAll()
			return nil, fmt.Errorf("duplicate child %s: %w", id, errdefs.ErrAlreadyExists)
		}
		seen[id.String()] = true

		ch, err := replica.Open(id)
		if err != nil {
			n.closeAll()
			return nil, err
		}
		if err := n.checkGeometry(id, ch); err != nil {
			ch.Close()
			n.closeAll()
			return nil, err
		}
		n.children = append(n.children, newChild(id, ch, types.ChildStateOnline))
	}

	n.logger.Info().
		Int("children", len(n.children)).
		Uint64("size", n.size).
		Uint32("block_size", n.blockSize).
		Msg("nexus opened")
	return n, nil
}

// checkGeometry validates that a replica can back this nexus.
func (n *Nexus) checkGeometry(id replica.Identity, ch replica.Channel) error {
	if ch.Size() < n.size {
		return fmt.Errorf("replica %s size %d < nexus size %d: %w",
			id, ch.Size(), n.size, errdefs.ErrIncompatibleGeometry)
	}
	if ch.BlockSize() != n.blockSize {
		return fmt.Errorf("replica %s block size %d != nexus block size %d: %w",
			id, ch.BlockSize(), n.blockSize, errdefs.ErrIncompatibleGeometry)
	}
	return nil
}

// closeAll closes every open channel. Used on open failure, shutdown and
// destroy.
func (n *Nexus) closeAll() {
	n.mu.Lock()
	children := make([]*Child, len(n.children))
	detached := make([]replica.Channel, len(n.children))
	for i, c := range n.children {
		children[i] = c
		detached[i] = c.detachLocked()
	}
	n.mu.Unlock()

	for i, c := range children {
		c.drain(detached[i])
	}
}

// Name returns the nexus name.
func (n *Nexus) Name() string { return n.name }

// UUID returns the nexus uuid.
func (n *Nexus) UUID() string { return n.uuid }

// Size returns the logical device size in bytes.
func (n *Nexus) Size() uint64 { return n.size }

// BlockSize returns the logical device block size in bytes.
func (n *Nexus) BlockSize() uint32 { return n.blockSize }

// State returns the aggregate state derived from the children.
func (n *Nexus) State() types.NexusState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stateLocked()
}

// stateLocked computes the aggregate state. Caller holds the lock.
func (n *Nexus) stateLocked() types.NexusState {
	usable, online := 0, 0
	for _, c := range n.children {
		if c.state.Usable() {
			usable++
		}
		if c.state == types.ChildStateOnline {
			online++
		}
	}
	switch {
	case usable == 0:
		return types.NexusStateFaulted
	case online == len(n.children):
		return types.NexusStateOnline
	default:
		return types.NexusStateDegraded
	}
}

// Descriptor snapshots the nexus for external consumption.
func (n *Nexus) Descriptor() types.NexusDescriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()

	d := types.NexusDescriptor{
		Name:       n.name,
		UUID:       n.uuid,
		Size:       n.size,
		BlockSize:  n.blockSize,
		State:      n.stateLocked(),
		DevicePath: n.devicePath,
		Children:   make([]types.ChildDescriptor, 0, len(n.children)),
	}
	for _, c := range n.children {
		d.Children = append(d.Children, c.descriptor())
	}
	return d
}

// findLocked returns the child with the given canonical URI. Caller holds
// the lock.
func (n *Nexus) findLocked(uri string) (*Child, error) {
	id, err := replica.Parse(uri)
	if err != nil {
		return nil, err
	}
	for _, c := range n.children {
		if c.identity.String() == id.String() {
			return c, nil
		}
	}
	return nil, fmt.Errorf("child %s: %w", uri, errdefs.ErrNotFound)
}

// AddChild opens a channel to a new replica and appends it. The child
// enters degraded: it must be rebuilt and explicitly promoted before it
// serves reads.
func (n *Nexus) AddChild(uri string) error {
	id, err := replica.Parse(uri)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.children {
		if c.identity.String() == id.String() {
			return fmt.Errorf("child %s: %w", id, errdefs.ErrAlreadyExists)
		}
	}

	ch, err := replica.Open(id)
	if err != nil {
		return err
	}
	if err := n.checkGeometry(id, ch); err != nil {
		ch.Close()
		return err
	}

	n.children = append(n.children, newChild(id, ch, types.ChildStateDegraded))
	n.health.childAdded(id.String(), n.stateLocked())
	return nil
}

// RemoveChild closes a child's channel and drops it from the nexus. It
// refuses to strand the nexus with zero usable children.
func (n *Nexus) RemoveChild(uri string) error {
	n.mu.Lock()
	c, err := n.findLocked(uri)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	if c.state.Usable() && n.usableCountLocked() == 1 {
		n.mu.Unlock()
		return fmt.Errorf("child %s is the last usable child: %w", uri, errdefs.ErrLastChild)
	}

	for i, existing := range n.children {
		if existing == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	ch := c.detachLocked()
	state := n.stateLocked()
	n.mu.Unlock()

	// Settle in-flight sub-operations before closing the channel.
	c.drain(ch)
	n.health.childRemoved(c.URI(), state)
	return nil
}

func (n *Nexus) usableCountLocked() int {
	count := 0
	for _, c := range n.children {
		if c.state.Usable() {
			count++
		}
	}
	return count
}

// OfflineChild administratively takes a child out of service. Like
// RemoveChild it refuses to strand the nexus with zero usable children.
func (n *Nexus) OfflineChild(uri string) error {
	n.mu.Lock()
	c, err := n.findLocked(uri)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if c.state == types.ChildStateOffline {
		n.mu.Unlock()
		return nil
	}
	if c.state.Usable() && n.usableCountLocked() == 1 {
		n.mu.Unlock()
		return fmt.Errorf("child %s is the last usable child: %w", uri, errdefs.ErrLastChild)
	}

	c.state = types.ChildStateOffline
	ch := c.detachLocked()
	state := n.stateLocked()
	n.mu.Unlock()

	c.drain(ch)
	n.health.childOffline(uri, state)
	return nil
}

// OnlineChild re-opens an offline or faulted child's channel. The child
// comes back degraded; promotion to online is the rebuild-completion
// signal (MarkChildSynced), never automatic.
func (n *Nexus) OnlineChild(uri string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, err := n.findLocked(uri)
	if err != nil {
		return err
	}
	if c.state.Usable() {
		return nil
	}

	ch, err := replica.Open(c.identity)
	if err != nil {
		return err
	}
	if err := n.checkGeometry(c.identity, ch); err != nil {
		ch.Close()
		return err
	}

	c.channel = ch
	c.state = types.ChildStateDegraded
	n.health.childOnline(uri, n.stateLocked())
	return nil
}

// FaultChild marks a child unrecoverable and closes its channel. This is
// the resync-failure signal; I/O errors route here through the health
// monitor when they are non-transient.
func (n *Nexus) FaultChild(uri string) error {
	n.mu.Lock()
	c, err := n.findLocked(uri)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if c.state == types.ChildStateFaulted {
		n.mu.Unlock()
		return nil
	}

	c.state = types.ChildStateFaulted
	ch := c.detachLocked()
	state := n.stateLocked()
	n.mu.Unlock()

	c.drain(ch)
	n.health.childFaulted(uri, nil, state)
	return nil
}

// MarkChildSynced promotes a degraded child to online. This is the external
// rebuild-completion contract: nothing in the engine promotes a child on
// its own.
func (n *Nexus) MarkChildSynced(uri string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, err := n.findLocked(uri)
	if err != nil {
		return err
	}
	switch c.state {
	case types.ChildStateOnline:
		return nil
	case types.ChildStateDegraded:
		c.state = types.ChildStateOnline
		n.health.childSynced(uri, n.stateLocked())
		return nil
	default:
		return fmt.Errorf("child %s is %s, cannot promote: %w", uri, c.state, errdefs.ErrChildUnavailable)
	}
}

// Publish registers the nexus with the export sink and returns the device
// path. Idempotent while published. A faulted nexus refuses to publish.
func (n *Nexus) Publish(ctx context.Context, sink export.Sink) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.devicePath != "" {
		return n.devicePath, nil
	}
	if n.stateLocked() == types.NexusStateFaulted {
		return "", fmt.Errorf("nexus %s: %w", n.name, errdefs.ErrFaulted)
	}

	path, err := sink.Publish(ctx, n)
	if err != nil {
		return "", err
	}
	n.devicePath = path
	n.health.published(path)
	return path, nil
}

// Unpublish deregisters the nexus from the export sink. A faulted nexus may
// still be unpublished.
func (n *Nexus) Unpublish(ctx context.Context, sink export.Sink) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.devicePath == "" {
		return fmt.Errorf("nexus %s: %w", n.name, errdefs.ErrNotPublished)
	}
	if err := sink.Unpublish(ctx, n.name); err != nil {
		return err
	}
	n.devicePath = ""
	n.health.unpublished()
	return nil
}

// Published reports whether the nexus currently has an export.
func (n *Nexus) Published() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.devicePath != ""
}

// DevicePath returns the export path, empty when unpublished.
func (n *Nexus) DevicePath() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.devicePath
}

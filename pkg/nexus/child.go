package nexus

import (
	"sync"

	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/types"
)

// Child is the nexus's handle to one replica. All fields are guarded by the
// owning nexus's lock; a child is never shared outside its nexus.
type Child struct {
	identity replica.Identity
	state    types.ChildState

	// channel is open iff state is online or degraded.
	channel replica.Channel

	// inflight counts dispatcher sub-operations currently using the
	// channel. Closing the channel waits for it to settle.
	inflight sync.WaitGroup
}

func newChild(id replica.Identity, ch replica.Channel, state types.ChildState) *Child {
	return &Child{
		identity: id,
		state:    state,
		channel:  ch,
	}
}

// URI returns the canonical replica URI.
func (c *Child) URI() string {
	return c.identity.String()
}

// descriptor snapshots the child for external consumption. Caller holds the
// nexus lock.
func (c *Child) descriptor() types.ChildDescriptor {
	return types.ChildDescriptor{
		URI:   c.identity.String(),
		State: c.state,
	}
}

// detachLocked takes the channel out of the child. Caller holds the nexus
// write lock and must retire the returned channel with drain outside it.
func (c *Child) detachLocked() replica.Channel {
	ch := c.channel
	c.channel = nil
	return ch
}

// drain waits for in-flight sub-operations to settle, then closes a
// detached channel. Runs outside the nexus lock.
func (c *Child) drain(ch replica.Channel) {
	c.inflight.Wait()
	if ch != nil {
		ch.Close()
	}
}

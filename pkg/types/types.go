package types

import "time"

// ChildState represents the health of a single replica child.
type ChildState string

const (
	// ChildStateOnline means the child is in sync and serves reads.
	ChildStateOnline ChildState = "online"

	// ChildStateDegraded means the child is usable for writes but known (or
	// suspected) out of sync; it is excluded from read selection while any
	// online child exists.
	ChildStateDegraded ChildState = "degraded"

	// ChildStateFaulted means the child is permanently unreachable; its
	// channel is closed and it receives no I/O.
	ChildStateFaulted ChildState = "faulted"

	// ChildStateOffline means the child was taken out administratively.
	ChildStateOffline ChildState = "offline"
)

// Usable reports whether a child in this state participates in writes.
func (s ChildState) Usable() bool {
	return s == ChildStateOnline || s == ChildStateDegraded
}

// NexusState is the aggregate health of a nexus, derived from its children.
type NexusState string

const (
	NexusStateOnline   NexusState = "online"
	NexusStateDegraded NexusState = "degraded"
	NexusStateFaulted  NexusState = "faulted"
)

// ChildDescriptor is the externally visible view of a child.
type ChildDescriptor struct {
	URI   string     `json:"uri"`
	State ChildState `json:"state"`
}

// NexusDescriptor is the externally visible view of a nexus.
type NexusDescriptor struct {
	Name       string            `json:"name"`
	UUID       string            `json:"uuid"`
	Size       uint64            `json:"size"`
	BlockSize  uint32            `json:"block_size"`
	State      NexusState        `json:"state"`
	DevicePath string            `json:"device_path,omitempty"`
	Children   []ChildDescriptor `json:"children"`
}

// NexusRecord is the persisted configuration of a nexus, enough to rebuild
// it after a daemon restart. Runtime state (child health, publication) is
// not persisted.
type NexusRecord struct {
	Name      string    `json:"name"`
	UUID      string    `json:"uuid"`
	Size      uint64    `json:"size"`
	BlockSize uint32    `json:"block_size"`
	Children  []string  `json:"children"`
	CreatedAt time.Time `json:"created_at"`
}

// ChildAction is an administrative operation on a child.
type ChildAction string

const (
	ChildActionOnline  ChildAction = "online"
	ChildActionOffline ChildAction = "offline"
	ChildActionFault   ChildAction = "fault"
)

package storage

import (
	"github.com/nexd-io/nexd/pkg/types"
)

// Store persists nexus configuration records so the registry can be rebuilt
// after a daemon restart. Implemented by the BoltDB-backed store.
type Store interface {
	CreateNexus(record *types.NexusRecord) error
	GetNexus(name string) (*types.NexusRecord, error)
	ListNexus() ([]*types.NexusRecord, error)
	UpdateNexus(record *types.NexusRecord) error
	DeleteNexus(name string) error

	Close() error
}

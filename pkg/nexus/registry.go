package nexus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/events"
	"github.com/nexd-io/nexd/pkg/export"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/storage"
	"github.com/nexd-io/nexd/pkg/types"
)

// Registry is the explicitly owned table of live nexuses, keyed by both
// name and uuid. All control-surface operations go through it; nothing else
// may touch a nexus's children.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Nexus
	byUUID map[string]*Nexus

	store  storage.Store
	sink   export.Sink
	broker *events.Broker

	childTimeout time.Duration
	logger       zerolog.Logger
}

// RegistryConfig wires the registry's collaborators.
type RegistryConfig struct {
	// Store persists nexus records; nil disables persistence.
	Store storage.Store

	// Sink exports published nexuses.
	Sink export.Sink

	// Broker receives lifecycle events; nil disables events.
	Broker *events.Broker

	// ChildTimeout bounds one sub-operation against one child.
	ChildTimeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		byName:       make(map[string]*Nexus),
		byUUID:       make(map[string]*Nexus),
		store:        cfg.Store,
		sink:         cfg.Sink,
		broker:       cfg.Broker,
		childTimeout: cfg.ChildTimeout,
		logger:       log.WithComponent("registry"),
	}
}

// Create opens a new nexus from the request and registers it. Creation is
// all-or-nothing: any failure leaves no nexus and no open channels behind.
func (r *Registry) Create(ctx context.Context, req types.CreateNexusRequest) (types.NexusDescriptor, error) {
	var desc types.NexusDescriptor

	if req.Name == "" {
		return desc, fmt.Errorf("nexus name required")
	}
	id := req.UUID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		return desc, fmt.Errorf("invalid uuid %q: %w", req.UUID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[req.Name]; ok {
		return desc, fmt.Errorf("nexus %s: %w", req.Name, errdefs.ErrAlreadyExists)
	}
	if _, ok := r.byUUID[id]; ok {
		return desc, fmt.Errorf("nexus uuid %s: %w", id, errdefs.ErrAlreadyExists)
	}

	n, err := open(Options{
		Name:         req.Name,
		UUID:         id,
		Size:         req.Size,
		BlockSize:    req.BlockSize,
		ChildTimeout: r.childTimeout,
		Broker:       r.broker,
	}, req.Children)
	if err != nil {
		return desc, err
	}

	if r.store != nil {
		record := &types.NexusRecord{
			Name:      req.Name,
			UUID:      id,
			Size:      req.Size,
			BlockSize: req.BlockSize,
			Children:  req.Children,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.CreateNexus(record); err != nil {
			n.closeAll()
			return desc, fmt.Errorf("failed to persist nexus %s: %w", req.Name, err)
		}
	}

	r.byName[req.Name] = n
	r.byUUID[id] = n

	r.publishEvent(events.EventNexusCreated, req.Name, "nexus created")
	return n.Descriptor(), nil
}

// Destroy removes a nexus. A published nexus must be unpublished first. On
// success all channels are closed and the persisted record is gone.
func (r *Registry) Destroy(ctx context.Context, name string) error {
	r.mu.Lock()
	n, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("nexus %s: %w", name, errdefs.ErrNotFound)
	}
	if n.Published() {
		r.mu.Unlock()
		return fmt.Errorf("nexus %s: %w", name, errdefs.ErrStillPublished)
	}

	delete(r.byName, name)
	delete(r.byUUID, n.UUID())
	r.mu.Unlock()

	n.closeAll()

	if r.store != nil {
		if err := r.store.DeleteNexus(name); err != nil {
			r.logger.Error().Err(err).Str("nexus", name).Msg("failed to delete nexus record")
		}
	}

	r.publishEvent(events.EventNexusDestroyed, name, "nexus destroyed")
	return nil
}

// Get returns a live nexus by name, falling back to uuid.
func (r *Registry) Get(name string) (*Nexus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n, ok := r.byName[name]; ok {
		return n, nil
	}
	if n, ok := r.byUUID[name]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("nexus %s: %w", name, errdefs.ErrNotFound)
}

// Descriptors snapshots every live nexus, in no particular order.
func (r *Registry) Descriptors() []types.NexusDescriptor {
	r.mu.RLock()
	nexuses := make([]*Nexus, 0, len(r.byName))
	for _, n := range r.byName {
		nexuses = append(nexuses, n)
	}
	r.mu.RUnlock()

	descriptors := make([]types.NexusDescriptor, 0, len(nexuses))
	for _, n := range nexuses {
		descriptors = append(descriptors, n.Descriptor())
	}
	return descriptors
}

// Publish exports a nexus and returns its device path.
func (r *Registry) Publish(ctx context.Context, name string) (string, error) {
	n, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return n.Publish(ctx, r.sink)
}

// Unpublish tears down a nexus's export.
func (r *Registry) Unpublish(ctx context.Context, name string) error {
	n, err := r.Get(name)
	if err != nil {
		return err
	}
	return n.Unpublish(ctx, r.sink)
}

// AddChild adds a replica to a live nexus and persists the new child list.
func (r *Registry) AddChild(ctx context.Context, name, uri string) error {
	n, err := r.Get(name)
	if err != nil {
		return err
	}
	if err := n.AddChild(uri); err != nil {
		return err
	}
	r.persistChildren(n)
	return nil
}

// RemoveChild removes a replica from a live nexus and persists the new
// child list.
func (r *Registry) RemoveChild(ctx context.Context, name, uri string) error {
	n, err := r.Get(name)
	if err != nil {
		return err
	}
	if err := n.RemoveChild(uri); err != nil {
		return err
	}
	r.persistChildren(n)
	return nil
}

// ChildOperation applies an administrative action to one child.
func (r *Registry) ChildOperation(ctx context.Context, name, uri string, action types.ChildAction) (types.ChildOperationReply, error) {
	var reply types.ChildOperationReply

	n, err := r.Get(name)
	if err != nil {
		return reply, err
	}

	switch action {
	case types.ChildActionOnline:
		err = n.OnlineChild(uri)
	case types.ChildActionOffline:
		err = n.OfflineChild(uri)
	case types.ChildActionFault:
		err = n.FaultChild(uri)
	default:
		return reply, fmt.Errorf("unknown child action %q", action)
	}
	if err != nil {
		return reply, err
	}

	desc := n.Descriptor()
	reply.Success = true
	reply.NexusState = desc.State
	for _, c := range desc.Children {
		if c.URI == uri {
			reply.ChildState = c.State
			break
		}
	}
	return reply, nil
}

// MarkChildSynced promotes a rebuilt child to online. This is the external
// rebuild-completion signal.
func (r *Registry) MarkChildSynced(name, uri string) error {
	n, err := r.Get(name)
	if err != nil {
		return err
	}
	return n.MarkChildSynced(uri)
}

// Restore reopens persisted nexuses at daemon start. A nexus whose replicas
// cannot be reopened comes back with those children faulted rather than
// failing the whole restore; it stays addressable for inspection and
// destroy.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.ListNexus()
	if err != nil {
		return fmt.Errorf("failed to list nexus records: %w", err)
	}

	for _, record := range records {
		n := r.restoreOne(record)

		r.mu.Lock()
		r.byName[n.name] = n
		r.byUUID[n.uuid] = n
		r.mu.Unlock()

		r.logger.Info().
			Str("nexus", n.name).
			Str("state", string(n.State())).
			Msg("nexus restored")
	}
	return nil
}

// restoreOne rebuilds one nexus from its record, tolerating unopenable
// children.
func (r *Registry) restoreOne(record *types.NexusRecord) *Nexus {
	n := &Nexus{
		name:         record.Name,
		uuid:         record.UUID,
		size:         record.Size,
		blockSize:    record.BlockSize,
		childTimeout: r.childTimeout,
		health:       newHealthMonitor(record.Name, r.broker),
		logger:       log.WithNexus(record.Name),
	}

	for _, raw := range record.Children {
		id, err := replica.Parse(raw)
		if err != nil {
			n.logger.Error().Err(err).Str("child", raw).Msg("unparseable child in record")
			continue
		}

		ch, err := replica.Open(id)
		if err != nil {
			n.logger.Warn().Err(err).Str("child", raw).Msg("child unavailable at restore, faulted")
			n.children = append(n.children, newChild(id, nil, types.ChildStateFaulted))
			continue
		}
		if err := n.checkGeometry(id, ch); err != nil {
			ch.Close()
			n.logger.Warn().Err(err).Str("child", raw).Msg("child geometry changed, faulted")
			n.children = append(n.children, newChild(id, nil, types.ChildStateFaulted))
			continue
		}
		// Reopened children come back degraded until the rebuild signal
		// confirms them in sync.
		n.children = append(n.children, newChild(id, ch, types.ChildStateDegraded))
	}
	return n
}

// Close shuts the registry down: unpublishes and closes every nexus. The
// persisted records stay for the next start.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	nexuses := make([]*Nexus, 0, len(r.byName))
	for _, n := range r.byName {
		nexuses = append(nexuses, n)
	}
	r.byName = make(map[string]*Nexus)
	r.byUUID = make(map[string]*Nexus)
	r.mu.Unlock()

	for _, n := range nexuses {
		if n.Published() {
			if err := n.Unpublish(ctx, r.sink); err != nil {
				r.logger.Warn().Err(err).Str("nexus", n.name).Msg("failed to unpublish on shutdown")
			}
		}
		n.closeAll()
	}
}

func (r *Registry) persistChildren(n *Nexus) {
	if r.store == nil {
		return
	}

	desc := n.Descriptor()
	record, err := r.store.GetNexus(n.name)
	if err != nil {
		r.logger.Error().Err(err).Str("nexus", n.name).Msg("failed to load nexus record")
		return
	}
	record.Children = record.Children[:0]
	for _, c := range desc.Children {
		record.Children = append(record.Children, c.URI)
	}
	if err := r.store.UpdateNexus(record); err != nil {
		r.logger.Error().Err(err).Str("nexus", n.name).Msg("failed to persist child list")
	}
}

func (r *Registry) publishEvent(eventType events.EventType, name, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:    eventType,
		Nexus:   name,
		Message: msg,
	})
}

package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

// Device is the data path a sink drives once a nexus is published. A nexus
// implements it; sinks never see the engine's internals.
type Device interface {
	Name() string
	UUID() string
	Size() uint64
	BlockSize() uint32

	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Flush(ctx context.Context) error
}

// Sink turns nexus-level I/O into an externally consumable block device.
// The engine only registers and deregisters; I/O flows from the sink into
// the Device.
type Sink interface {
	// Publish registers the device and returns an externally addressable
	// path. Publishing the same device again returns the existing path.
	Publish(ctx context.Context, dev Device) (string, error)

	// Unpublish deregisters a device by nexus name.
	Unpublish(ctx context.Context, name string) error
}

// DefaultDevDir is where the loopback sink places device paths.
const DefaultDevDir = "/dev/nexd"

// LoopbackSink is an in-process sink: it hands out device paths and keeps
// the registered devices addressable for consumers in the same process
// (tests, the data-path frontends wired in above this package).
type LoopbackSink struct {
	devDir string

	mu      sync.RWMutex
	devices map[string]Device
}

// NewLoopbackSink creates a sink rooted at devDir (DefaultDevDir if empty).
func NewLoopbackSink(devDir string) *LoopbackSink {
	if devDir == "" {
		devDir = DefaultDevDir
	}
	return &LoopbackSink{
		devDir:  devDir,
		devices: make(map[string]Device),
	}
}

// Publish registers the device. Idempotent for the same device.
func (s *LoopbackSink) Publish(ctx context.Context, dev Device) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.devDir, dev.Name())
	if existing, ok := s.devices[dev.Name()]; ok {
		if existing.UUID() != dev.UUID() {
			return "", fmt.Errorf("device %s already registered with different identity: %w", dev.Name(), errdefs.ErrAlreadyExists)
		}
		return path, nil
	}

	s.devices[dev.Name()] = dev
	return path, nil
}

// Unpublish deregisters a device.
func (s *LoopbackSink) Unpublish(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[name]; !ok {
		return fmt.Errorf("device %s: %w", name, errdefs.ErrNotPublished)
	}
	delete(s.devices, name)
	return nil
}

// Get returns a registered device for data-path consumers.
func (s *LoopbackSink) Get(name string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[name]
	return dev, ok
}

// Count returns the number of registered devices.
func (s *LoopbackSink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

package metrics

import (
	"time"

	"github.com/nexd-io/nexd/pkg/types"
)

// StateSource supplies the current engine state for gauge collection. The
// nexus registry implements it; the indirection keeps this package free of
// an engine dependency.
type StateSource interface {
	Descriptors() []types.NexusDescriptor
}

// Collector periodically refreshes the state gauges from a StateSource
type Collector struct {
	source   StateSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	descriptors := c.source.Descriptors()

	nexusCounts := map[types.NexusState]int{
		types.NexusStateOnline:   0,
		types.NexusStateDegraded: 0,
		types.NexusStateFaulted:  0,
	}
	childCounts := map[types.ChildState]int{
		types.ChildStateOnline:   0,
		types.ChildStateDegraded: 0,
		types.ChildStateFaulted:  0,
		types.ChildStateOffline:  0,
	}
	published := 0

	for _, d := range descriptors {
		nexusCounts[d.State]++
		if d.DevicePath != "" {
			published++
		}
		for _, ch := range d.Children {
			childCounts[ch.State]++
		}
	}

	for state, count := range nexusCounts {
		NexusTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	for state, count := range childCounts {
		ChildrenTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	PublishedTotal.Set(float64(published))
}

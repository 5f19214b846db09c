package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nexd-io/nexd/pkg/types"
)

type staticSource struct {
	descriptors []types.NexusDescriptor
}

func (s *staticSource) Descriptors() []types.NexusDescriptor {
	return s.descriptors
}

func TestCollector_Collect(t *testing.T) {
	source := &staticSource{
		descriptors: []types.NexusDescriptor{
			{
				Name:       "vol-1",
				State:      types.NexusStateOnline,
				DevicePath: "/dev/nexd/vol-1",
				Children: []types.ChildDescriptor{
					{URI: "mem:///a", State: types.ChildStateOnline},
					{URI: "mem:///b", State: types.ChildStateOnline},
				},
			},
			{
				Name:  "vol-2",
				State: types.NexusStateDegraded,
				Children: []types.ChildDescriptor{
					{URI: "mem:///c", State: types.ChildStateOnline},
					{URI: "mem:///d", State: types.ChildStateDegraded},
					{URI: "mem:///e", State: types.ChildStateFaulted},
				},
			},
		},
	}

	c := NewCollector(source)
	c.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(NexusTotal.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(NexusTotal.WithLabelValues("degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(NexusTotal.WithLabelValues("faulted")))

	assert.Equal(t, 3.0, testutil.ToFloat64(ChildrenTotal.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ChildrenTotal.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ChildrenTotal.WithLabelValues("faulted")))

	assert.Equal(t, 1.0, testutil.ToFloat64(PublishedTotal))

	// gauges track the source, they do not accumulate
	source.descriptors = nil
	c.collect()
	assert.Equal(t, 0.0, testutil.ToFloat64(NexusTotal.WithLabelValues("online")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PublishedTotal))
}

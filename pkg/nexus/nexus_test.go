package nexus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/events"
	"github.com/nexd-io/nexd/pkg/export"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

const (
	testSize      = 4096
	testArenaSize = 8192
	testBlockSize = 512
)

// memName returns a per-test unique arena name, cleaned up afterwards.
func memName(t *testing.T, i int) string {
	t.Helper()
	name := "/" + strings.ReplaceAll(t.Name(), "/", "-") + fmt.Sprintf("-r%d", i)
	t.Cleanup(func() { replica.DropMem(name) })
	return name
}

func memURI(t *testing.T, i int) string {
	return fmt.Sprintf("mem://%s?size=%d", memName(t, i), testArenaSize)
}

// waitForEvent drains the subscription until the wanted event type shows up.
func waitForEvent(t *testing.T, sub events.Subscriber, want events.EventType) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("expected a %s event", want)
		}
	}
}

func testRegistry(t *testing.T) (*Registry, *export.LoopbackSink) {
	t.Helper()
	sink := export.NewLoopbackSink("/dev/nexd")
	r := NewRegistry(RegistryConfig{
		Sink:         sink,
		ChildTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	return r, sink
}

func createNexus(t *testing.T, r *Registry, name string, children ...string) *Nexus {
	t.Helper()
	_, err := r.Create(context.Background(), types.CreateNexusRequest{
		Name:      name,
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  children,
	})
	require.NoError(t, err)
	n, err := r.Get(name)
	require.NoError(t, err)
	return n
}

func TestCreate(t *testing.T) {
	r, _ := testRegistry(t)

	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2))

	assert.Equal(t, types.NexusStateOnline, n.State())
	assert.NotEmpty(t, n.UUID())

	desc := n.Descriptor()
	require.Len(t, desc.Children, 2)
	for _, c := range desc.Children {
		assert.Equal(t, types.ChildStateOnline, c.State)
	}
}

func TestCreate_UnreachableChildLeavesNothing(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Create(context.Background(), types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{memURI(t, 1), "file:///definitely/not/here.img"},
	})
	assert.ErrorIs(t, err, errdefs.ErrChildUnavailable)

	// no partial nexus registered
	assert.Empty(t, r.Descriptors())
	_, err = r.Get("vol-1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestCreate_IncompatibleGeometry(t *testing.T) {
	r, _ := testRegistry(t)

	// replica smaller than the requested logical size
	small := fmt.Sprintf("mem://%s?size=%d", memName(t, 1), testSize/2)
	_, err := r.Create(context.Background(), types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{small},
	})
	assert.ErrorIs(t, err, errdefs.ErrIncompatibleGeometry)

	// replica with a different block size
	odd := fmt.Sprintf("mem://%s?size=%d&blk=4096", memName(t, 2), testArenaSize)
	_, err = r.Create(context.Background(), types.CreateNexusRequest{
		Name:      "vol-2",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{memURI(t, 3), odd},
	})
	assert.ErrorIs(t, err, errdefs.ErrIncompatibleGeometry)

	assert.Empty(t, r.Descriptors())
}

func TestCreate_DuplicateName(t *testing.T) {
	r, _ := testRegistry(t)
	createNexus(t, r, "vol-1", memURI(t, 1))

	_, err := r.Create(context.Background(), types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{memURI(t, 2)},
	})
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestCreate_DuplicateChild(t *testing.T) {
	r, _ := testRegistry(t)
	uri := memURI(t, 1)

	_, err := r.Create(context.Background(), types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{uri, uri},
	})
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestWrite_MirroredToAllChildren(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2), memURI(t, 3))

	data := []byte("mirrored payload")
	nw, err := n.WriteAt(context.Background(), data, 512)
	require.NoError(t, err)
	assert.Equal(t, len(data), nw)
	require.NoError(t, n.Flush(context.Background()))

	for i := 1; i <= 3; i++ {
		arena := replica.LookupMem(memName(t, i))
		require.NotNil(t, arena)
		assert.Equal(t, data, arena.Bytes()[512:512+len(data)], "child %d must hold the write", i)
	}

	got := make([]byte, len(data))
	_, err = n.ReadAt(context.Background(), got, 512)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRead_FirstOnlineThenRetryInOrder(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2), memURI(t, 3))

	data := []byte("deterministic")
	_, err := n.WriteAt(context.Background(), data, 0)
	require.NoError(t, err)

	// first child fails its reads: the dispatcher must demote it and serve
	// the same read from the second child
	replica.LookupMem(memName(t, 1)).FailReads(true)

	got := make([]byte, len(data))
	_, err = n.ReadAt(context.Background(), got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	desc := n.Descriptor()
	assert.Equal(t, types.ChildStateDegraded, desc.Children[0].State)
	assert.Equal(t, types.ChildStateOnline, desc.Children[1].State)
	assert.Equal(t, types.NexusStateDegraded, desc.State)

	// the demoted child is no longer selected
	replica.LookupMem(memName(t, 1)).FailReads(false)
	_, err = n.ReadAt(context.Background(), got, 0)
	require.NoError(t, err)
	assert.Equal(t, types.ChildStateDegraded, n.Descriptor().Children[0].State,
		"a degraded child is not promoted by a successful read elsewhere")
}

func TestRead_DegradedOnlyWhenNoOnline(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2))

	data := []byte("fallback")
	_, err := n.WriteAt(context.Background(), data, 0)
	require.NoError(t, err)

	// demote both children via read failures; reads must then fall back to
	// the degraded set
	replica.LookupMem(memName(t, 1)).FailReads(true)
	replica.LookupMem(memName(t, 2)).FailReads(true)

	got := make([]byte, len(data))
	_, err = n.ReadAt(context.Background(), got, 0)
	assert.ErrorIs(t, err, errdefs.ErrIoFailed)
	assert.Equal(t, types.NexusStateDegraded, n.State())

	replica.LookupMem(memName(t, 1)).FailReads(false)
	replica.LookupMem(memName(t, 2)).FailReads(false)

	_, err = n.ReadAt(context.Background(), got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWrite_PartialFailureDegrades(t *testing.T) {
	r, _ := testRegistry(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	r.broker = broker

	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2), memURI(t, 3))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	x := []byte("XXXXXXXX")
	_, err := n.WriteAt(context.Background(), x, 0)
	require.NoError(t, err)

	// kill child #2
	replica.LookupMem(memName(t, 2)).FailWrites(true)

	y := []byte("YYYYYYYY")
	_, err = n.WriteAt(context.Background(), y, 512)
	require.NoError(t, err, "write must succeed while one child remains")

	desc := n.Descriptor()
	assert.Equal(t, types.NexusStateDegraded, desc.State)
	assert.Equal(t, types.ChildStateDegraded, desc.Children[1].State)

	waitForEvent(t, sub, events.EventChildDegraded)

	// child #2 is excluded from reads; X must come back from #1 or #3
	got := make([]byte, len(x))
	_, err = n.ReadAt(context.Background(), got, 0)
	require.NoError(t, err)
	assert.Equal(t, x, got)
}

func TestWrite_AllChildrenFailFaultsNexus(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1))

	replica.LookupMem(memName(t, 1)).FailWrites(true)

	_, err := n.WriteAt(context.Background(), []byte("doomed"), 0)
	assert.ErrorIs(t, err, errdefs.ErrIoFailed)
	assert.Equal(t, types.NexusStateFaulted, n.State())

	// a faulted nexus rejects new I/O and refuses to publish
	_, err = n.ReadAt(context.Background(), make([]byte, 8), 0)
	assert.ErrorIs(t, err, errdefs.ErrFaulted)

	_, err = r.Publish(context.Background(), "vol-1")
	assert.ErrorIs(t, err, errdefs.ErrFaulted)
}

func TestWrite_ChannelGoneFaultsChild(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2))

	replica.LookupMem(memName(t, 2)).Gone()

	_, err := n.WriteAt(context.Background(), []byte("still fine"), 0)
	require.NoError(t, err)

	desc := n.Descriptor()
	assert.Equal(t, types.ChildStateFaulted, desc.Children[1].State,
		"a gone channel faults the child instead of demoting it")
	assert.Equal(t, types.NexusStateDegraded, desc.State)
}

func TestIO_OutOfRange(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1))

	_, err := n.WriteAt(context.Background(), make([]byte, 512), testSize)
	assert.ErrorIs(t, err, errdefs.ErrOutOfRange)

	_, err = n.ReadAt(context.Background(), make([]byte, 512), testSize-256)
	assert.ErrorIs(t, err, errdefs.ErrOutOfRange)

	_, err = n.WriteAt(context.Background(), make([]byte, 512), -1)
	assert.ErrorIs(t, err, errdefs.ErrOutOfRange)

	// no child was touched
	assert.Equal(t, types.NexusStateOnline, n.State())
}

func TestFlush_FansOut(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2))

	require.NoError(t, n.Flush(context.Background()))

	replica.LookupMem(memName(t, 1)).FailWrites(true)
	require.NoError(t, n.Flush(context.Background()), "flush succeeds while one child remains")
	assert.Equal(t, types.ChildStateDegraded, n.Descriptor().Children[0].State)
}

func TestRemoveChild_LastUsableRefused(t *testing.T) {
	r, _ := testRegistry(t)
	uri1, uri2 := memURI(t, 1), memURI(t, 2)
	n := createNexus(t, r, "vol-1", uri1, uri2)

	require.NoError(t, r.RemoveChild(context.Background(), "vol-1", uri2))

	err := r.RemoveChild(context.Background(), "vol-1", uri1)
	assert.ErrorIs(t, err, errdefs.ErrLastChild)

	// nexus unchanged
	desc := n.Descriptor()
	require.Len(t, desc.Children, 1)
	assert.Equal(t, types.ChildStateOnline, desc.Children[0].State)
}

func TestRemoveChild_NotFound(t *testing.T) {
	r, _ := testRegistry(t)
	createNexus(t, r, "vol-1", memURI(t, 1))

	err := r.RemoveChild(context.Background(), "vol-1", "mem:///ghost?size=8192")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestAddChild(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1))

	added := memURI(t, 2)
	require.NoError(t, r.AddChild(context.Background(), "vol-1", added))

	desc := n.Descriptor()
	require.Len(t, desc.Children, 2)
	assert.Equal(t, types.ChildStateDegraded, desc.Children[1].State,
		"a new child must resync before serving reads")
	assert.Equal(t, types.NexusStateDegraded, desc.State)

	// duplicate identity refused, query order notwithstanding
	err := r.AddChild(context.Background(), "vol-1", added)
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)

	// writes reach the degraded child
	data := []byte("to both")
	_, err = n.WriteAt(context.Background(), data, 0)
	require.NoError(t, err)
	assert.Equal(t, data, replica.LookupMem(memName(t, 2)).Bytes()[:len(data)])

	// rebuild completion promotes it
	require.NoError(t, r.MarkChildSynced("vol-1", added))
	assert.Equal(t, types.NexusStateOnline, n.State())
}

func TestChildOperation_OfflineOnline(t *testing.T) {
	r, _ := testRegistry(t)
	uri1, uri2 := memURI(t, 1), memURI(t, 2)
	n := createNexus(t, r, "vol-1", uri1, uri2)

	reply, err := r.ChildOperation(context.Background(), "vol-1", uri2, types.ChildActionOffline)
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, types.ChildStateOffline, reply.ChildState)
	assert.Equal(t, types.NexusStateDegraded, reply.NexusState)

	// offline is idempotent
	_, err = r.ChildOperation(context.Background(), "vol-1", uri2, types.ChildActionOffline)
	require.NoError(t, err)

	// a write while one child is offline must not reach it
	data := []byte("selective")
	_, err = n.WriteAt(context.Background(), data, 0)
	require.NoError(t, err)
	assert.NotEqual(t, data, replica.LookupMem(memName(t, 2)).Bytes()[:len(data)])

	// back online: degraded until the rebuild signal
	reply, err = r.ChildOperation(context.Background(), "vol-1", uri2, types.ChildActionOnline)
	require.NoError(t, err)
	assert.Equal(t, types.ChildStateDegraded, reply.ChildState)

	require.NoError(t, r.MarkChildSynced("vol-1", uri2))
	assert.Equal(t, types.NexusStateOnline, n.State())
}

func TestChildOperation_OfflineLastUsableRefused(t *testing.T) {
	r, _ := testRegistry(t)
	uri := memURI(t, 1)
	n := createNexus(t, r, "vol-1", uri)

	_, err := r.ChildOperation(context.Background(), "vol-1", uri, types.ChildActionOffline)
	assert.ErrorIs(t, err, errdefs.ErrLastChild)
	assert.Equal(t, types.NexusStateOnline, n.State())
}

func TestChildOperation_Fault(t *testing.T) {
	r, _ := testRegistry(t)
	uri1, uri2 := memURI(t, 1), memURI(t, 2)
	createNexus(t, r, "vol-1", uri1, uri2)

	reply, err := r.ChildOperation(context.Background(), "vol-1", uri2, types.ChildActionFault)
	require.NoError(t, err)
	assert.Equal(t, types.ChildStateFaulted, reply.ChildState)
	assert.Equal(t, types.NexusStateDegraded, reply.NexusState)
}

func TestMarkChildSynced_RequiresDegraded(t *testing.T) {
	r, _ := testRegistry(t)
	uri1, uri2 := memURI(t, 1), memURI(t, 2)
	createNexus(t, r, "vol-1", uri1, uri2)

	// online child: idempotent success
	require.NoError(t, r.MarkChildSynced("vol-1", uri1))

	// offline child cannot be promoted
	_, err := r.ChildOperation(context.Background(), "vol-1", uri2, types.ChildActionOffline)
	require.NoError(t, err)
	err = r.MarkChildSynced("vol-1", uri2)
	assert.Error(t, err)
}

func TestPublish_Idempotent(t *testing.T) {
	r, sink := testRegistry(t)
	createNexus(t, r, "vol-1", memURI(t, 1))

	path1, err := r.Publish(context.Background(), "vol-1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/nexd/vol-1", path1)

	path2, err := r.Publish(context.Background(), "vol-1")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, sink.Count(), "republish must not register twice")

	require.NoError(t, r.Unpublish(context.Background(), "vol-1"))
	assert.Equal(t, 0, sink.Count())

	err = r.Unpublish(context.Background(), "vol-1")
	assert.ErrorIs(t, err, errdefs.ErrNotPublished)
}

func TestDestroy(t *testing.T) {
	r, _ := testRegistry(t)
	createNexus(t, r, "vol-1", memURI(t, 1))

	// published nexus refuses destroy
	_, err := r.Publish(context.Background(), "vol-1")
	require.NoError(t, err)
	err = r.Destroy(context.Background(), "vol-1")
	assert.ErrorIs(t, err, errdefs.ErrStillPublished)

	require.NoError(t, r.Unpublish(context.Background(), "vol-1"))
	require.NoError(t, r.Destroy(context.Background(), "vol-1"))

	_, err = r.Get("vol-1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	err = r.Destroy(context.Background(), "vol-1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestGet_ByUUID(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1))

	got, err := r.Get(n.UUID())
	require.NoError(t, err)
	assert.Same(t, n, got)
}

func TestConcurrentWrites(t *testing.T) {
	r, _ := testRegistry(t)
	n := createNexus(t, r, "vol-1", memURI(t, 1), memURI(t, 2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte{byte('a' + i)}
			for j := 0; j < 50; j++ {
				if _, err := n.WriteAt(context.Background(), data, int64(i*512)); err != nil {
					t.Errorf("write %d: %v", i, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, types.NexusStateOnline, n.State())
	for i := 0; i < 8; i++ {
		got := make([]byte, 1)
		_, err := n.ReadAt(context.Background(), got, int64(i*512))
		require.NoError(t, err)
		assert.Equal(t, byte('a'+i), got[0])
	}
}

func TestConcurrentAdminDuringIO(t *testing.T) {
	r, _ := testRegistry(t)
	uris := []string{memURI(t, 1), memURI(t, 2), memURI(t, 3)}
	n := createNexus(t, r, "vol-1", uris...)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		data := []byte("churn")
		for {
			select {
			case <-stop:
				return
			default:
			}
			// writes keep flowing while child #3 is toggled; they may land
			// on 2 or 3 children depending on timing, never fail
			if _, err := n.WriteAt(context.Background(), data, 1024); err != nil {
				t.Errorf("write during admin churn: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := r.ChildOperation(context.Background(), "vol-1", uris[2], types.ChildActionOffline)
		require.NoError(t, err)
		_, err = r.ChildOperation(context.Background(), "vol-1", uris[2], types.ChildActionOnline)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

package api_test

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexd-io/nexd/pkg/api"
	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/export"
	"github.com/nexd-io/nexd/pkg/jsonrpc"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/nexus"
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

func memURI(t *testing.T, i int) string {
	t.Helper()
	name := "/" + strings.ReplaceAll(t.Name(), "/", "-") + fmt.Sprintf("-r%d", i)
	t.Cleanup(func() { replica.DropMem(name) })
	return fmt.Sprintf("mem://%s?size=%d", name, testArenaSize)
}

// startService brings up a registry and the control surface on a temp
// socket, torn down with the test.
func startService(t *testing.T) string {
	t.Helper()

	r := nexus.NewRegistry(nexus.RegistryConfig{
		Sink:         export.NewLoopbackSink(""),
		ChildTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { r.Close(context.Background()) })

	sockPath := filepath.Join(t.TempDir(), "nexd.sock")
	srv := jsonrpc.NewServer(sockPath)
	api.NewService(r).Register(srv)

	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("server: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return sockPath
}

func TestService_NexusLifecycle(t *testing.T) {
	sock := startService(t)
	ctx := context.Background()

	var desc types.NexusDescriptor
	err := jsonrpc.Call(ctx, sock, api.MethodCreateNexus, types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{memURI(t, 1), memURI(t, 2)},
	}, &desc)
	require.NoError(t, err)
	assert.Equal(t, "vol-1", desc.Name)
	assert.NotEmpty(t, desc.UUID)
	assert.Equal(t, types.NexusStateOnline, desc.State)
	assert.Len(t, desc.Children, 2)

	var list types.ListNexusReply
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodListNexus, nil, &list))
	require.Len(t, list.Nexuses, 1)
	assert.Equal(t, desc.UUID, list.Nexuses[0].UUID)

	var pub types.PublishNexusReply
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodPublishNexus,
		types.PublishNexusRequest{Name: "vol-1"}, &pub))
	assert.Equal(t, "/dev/nexd/vol-1", pub.DevicePath)

	// republish returns the same path
	var pub2 types.PublishNexusReply
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodPublishNexus,
		types.PublishNexusRequest{Name: "vol-1"}, &pub2))
	assert.Equal(t, pub.DevicePath, pub2.DevicePath)

	// destroy refused while published
	err = jsonrpc.Call(ctx, sock, api.MethodDestroyNexus,
		types.DestroyNexusRequest{Name: "vol-1"}, nil)
	assert.ErrorIs(t, err, errdefs.ErrStillPublished)

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodUnpublishNexus,
		types.UnpublishNexusRequest{Name: "vol-1"}, nil))
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodDestroyNexus,
		types.DestroyNexusRequest{Name: "vol-1"}, nil))

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodListNexus, nil, &list))
	assert.Empty(t, list.Nexuses)
}

func TestService_ChildFlow(t *testing.T) {
	sock := startService(t)
	ctx := context.Background()

	uri1, uri2, uri3 := memURI(t, 1), memURI(t, 2), memURI(t, 3)

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodCreateNexus, types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{uri1, uri2},
	}, nil))

	var op types.ChildOperationReply
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodChildOperation,
		types.ChildOperationRequest{Nexus: "vol-1", URI: uri2, Action: types.ChildActionOffline}, &op))
	assert.True(t, op.Success)
	assert.Equal(t, types.ChildStateOffline, op.ChildState)
	assert.Equal(t, types.NexusStateDegraded, op.NexusState)

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodChildOperation,
		types.ChildOperationRequest{Nexus: "vol-1", URI: uri2, Action: types.ChildActionOnline}, &op))
	assert.Equal(t, types.ChildStateDegraded, op.ChildState)

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodMarkChildSynced,
		types.MarkChildSyncedRequest{Nexus: "vol-1", URI: uri2}, nil))

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodAddChild,
		types.AddChildRequest{Nexus: "vol-1", URI: uri3}, nil))

	var list types.ListNexusReply
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodListNexus, nil, &list))
	require.Len(t, list.Nexuses, 1)
	require.Len(t, list.Nexuses[0].Children, 3)
	assert.Equal(t, types.ChildStateDegraded, list.Nexuses[0].Children[2].State)

	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodRemoveChild,
		types.RemoveChildRequest{Nexus: "vol-1", URI: uri3}, nil))

	// last-child protection crosses the wire with its kind intact
	require.NoError(t, jsonrpc.Call(ctx, sock, api.MethodRemoveChild,
		types.RemoveChildRequest{Nexus: "vol-1", URI: uri2}, nil))
	err := jsonrpc.Call(ctx, sock, api.MethodRemoveChild,
		types.RemoveChildRequest{Nexus: "vol-1", URI: uri1}, nil)
	assert.ErrorIs(t, err, errdefs.ErrLastChild)
}

func TestService_ErrorKinds(t *testing.T) {
	sock := startService(t)
	ctx := context.Background()

	err := jsonrpc.Call(ctx, sock, api.MethodDestroyNexus,
		types.DestroyNexusRequest{Name: "no-such"}, nil)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	err = jsonrpc.Call(ctx, sock, api.MethodCreateNexus, types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testArenaSize * 2, // larger than any child
		BlockSize: testBlockSize,
		Children:  []string{memURI(t, 1)},
	}, nil)
	assert.ErrorIs(t, err, errdefs.ErrIncompatibleGeometry)

	err = jsonrpc.Call(ctx, sock, api.MethodCreateNexus, types.CreateNexusRequest{
		Name:      "vol-1",
		Size:      testSize,
		BlockSize: testBlockSize,
		Children:  []string{"file:///not/there.img"},
	}, nil)
	assert.ErrorIs(t, err, errdefs.ErrChildUnavailable)

	err = jsonrpc.Call(ctx, sock, api.MethodChildOperation,
		types.ChildOperationRequest{Nexus: "vol-1", URI: "mem:///x", Action: "explode"}, nil)
	assert.ErrorIs(t, err, jsonrpc.ErrInvalidParams)

	err = jsonrpc.Call(ctx, sock, api.MethodCreateNexus, []string{"wrong", "shape"}, nil)
	assert.ErrorIs(t, err, jsonrpc.ErrInvalidParams)
}

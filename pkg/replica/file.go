package replica

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

func init() {
	Register("file", openFile)
}

// fileChannel backs a replica with a local file or block device.
type fileChannel struct {
	f         *os.File
	size      uint64
	blockSize uint32
	closed    atomic.Bool
}

func openFile(id Identity) (Channel, error) {
	f, err := os.OpenFile(id.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica %s: %w", id, errdefs.ErrChildUnavailable)
	}

	size, err := probeSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to probe size of %s: %w", id, err)
	}

	blk, err := id.BlockSize()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &fileChannel{f: f, size: size, blockSize: blk}, nil
}

// probeSize works for regular files and block devices alike: stat size for
// files, seek-to-end for devices where stat reports zero.
func probeSize(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Size() > 0 {
		return uint64(fi.Size()), nil
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint64(end), nil
}

func (c *fileChannel) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrChannelGone
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.f.ReadAt(p, off)
}

func (c *fileChannel) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrChannelGone
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.f.WriteAt(p, off)
}

func (c *fileChannel) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return ErrChannelGone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.f.Sync()
}

func (c *fileChannel) Size() uint64 {
	return c.size
}

func (c *fileChannel) BlockSize() uint32 {
	return c.blockSize
}

func (c *fileChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.f.Close()
}

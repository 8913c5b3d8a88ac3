package device

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/geom"
)

func newTestDevice(t *testing.T) *FileDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	d, err := OpenFileDevice(path, 16*geom.BlockSize, true)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestWriteThenReadBlockRoundTrip(t *testing.T) {
	d := newTestDevice(t)

	out := NewPageBuf()
	for i := range out.Data {
		out.Data[i] = 0xAB
	}
	require.NoError(t, d.WriteBlock(out, 3, true, DefaultBarrier(false)))

	in := NewPageBuf()
	require.NoError(t, d.ReadBlock(in, 3))
	assert.Equal(t, out.Data, in.Data)
}

func TestWriteBatchWritesSequentialBlocks(t *testing.T) {
	d := newTestDevice(t)

	pages := make([]*PageBuf, 3)
	for i := range pages {
		pages[i] = NewPageBuf()
		pages[i].Data[0] = byte(i + 1)
	}
	require.NoError(t, d.WriteBatch(pages, 5, true, DefaultBarrier(false)))

	for i := 0; i < 3; i++ {
		in := NewPageBuf()
		require.NoError(t, d.ReadBlock(in, uint32(5+i)))
		assert.Equal(t, byte(i+1), in.Data[0])
	}
}

func TestAsyncWriteReleasesPageBuf(t *testing.T) {
	d := newTestDevice(t)
	out := NewPageBuf()
	require.NoError(t, d.WriteBlock(out, 1, false, DefaultBarrier(false)))
	out.Wait()
}

func TestDiscardDisabledIsNoopSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.img")
	d, err := OpenFileDevice(path, 4*geom.BlockSize, false)
	require.NoError(t, err)
	defer d.Close()

	issued, err := d.Discard(0, 1)
	assert.NoError(t, err)
	assert.False(t, issued)
}

func TestDiscardEnabledReportsIssued(t *testing.T) {
	d := newTestDevice(t)
	issued, err := d.Discard(0, 1)
	assert.NoError(t, err)
	assert.True(t, issued)
}

func TestDefaultBarrierHonorsNoBarrier(t *testing.T) {
	b := DefaultBarrier(false)
	assert.True(t, b.FUA)
	b = DefaultBarrier(true)
	assert.False(t, b.FUA)
	assert.True(t, b.Preflush)
}

func TestReadBlockOutOfRangeIsIoError(t *testing.T) {
	d := newTestDevice(t)
	in := NewPageBuf()
	err := d.ReadBlock(in, 999)
	assert.True(t, alfserr.IsIoError(err))
}

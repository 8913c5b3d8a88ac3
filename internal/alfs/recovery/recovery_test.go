package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/alfstest"
	"github.com/flashmeta/alfs/internal/alfs/device"
	"github.com/flashmeta/alfs/internal/alfs/geom"
	"github.com/flashmeta/alfs/internal/alfs/mapping"
)

func testGeometry() geom.Geometry {
	return geom.Geometry{
		SegsPerSec:        1,
		BlocksPerSeg:      2,
		MappingBase:       0,
		NrMappingSecs:     2, // 4 mapping blocks, 2 sections of 2
		MetalogBase:       4,
		NrMetalogPhysBlks: 4,
		NrMetalogLogiBlks: 2,
		CheckpointBlk:     4,
	}
}

func TestRecoverOnBlankDeviceFindsDeadSectionsAtOrigin(t *testing.T) {
	g := testGeometry()
	dev := alfstest.NewMemDevice(g.MetalogBase + g.NrMetalogPhysBlks)

	res, err := Recover(dev, g, Options{UseReverseIndex: true})
	require.NoError(t, err)

	// A fully blank device has every section dead; recovery locates the
	// first one (section 0) and positions the allocator one section ahead.
	assert.Equal(t, uint32(0), res.MappingRegion.End())
	assert.Equal(t, g.BlocksPerSec(), res.MappingRegion.Start())
	assert.Equal(t, uint32(0), res.MetalogRegion.End())
	assert.Equal(t, g.BlocksPerSec(), res.MetalogRegion.Start())

	_, ok := res.Table.Lookup(0)
	assert.False(t, ok)
}

func TestRecoverInstallsNewestVersionPerWindowAndRebuildsSummary(t *testing.T) {
	g := testGeometry()
	dev := alfstest.NewMemDevice(g.MetalogBase + g.NrMetalogPhysBlks)

	// Window 0's mapping block, written twice: version 1 then version 2,
	// in mapping-region blocks 0 and 1 (section 0). Recovery must install
	// version 2 and treat section 0 as alive (so section 1 becomes the
	// dead one it positions the allocator against).
	v1 := mapping.NewBlock(0)
	v1.Ver = 1
	v1.Set(0, g.MetalogBase+3)
	writeMappingBlock(t, dev, 0, v1)

	v2 := mapping.NewBlock(0)
	v2.Ver = 2
	v2.Set(0, g.MetalogBase+2)
	writeMappingBlock(t, dev, 1, v2)

	res, err := Recover(dev, g, Options{UseReverseIndex: true})
	require.NoError(t, err)

	p, ok := res.Table.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, g.MetalogBase+2, p, "the newer version must win")

	assert.Equal(t, 1, res.Summary.CountValid())
	assert.Equal(t, "VALID", res.Summary.Get(g.MetalogBase+2).String())

	// Section 1 of the mapping region (blocks 2-3) is entirely dead.
	assert.Equal(t, uint32(2), res.MappingRegion.End())
}

func writeMappingBlock(t *testing.T, dev *alfstest.MemDevice, pblk uint32, blk *mapping.Block) {
	t.Helper()
	buf := device.NewPageBufFrom(blk.Encode())
	require.NoError(t, dev.WriteBlock(buf, pblk, true, device.DefaultBarrier(false)))
}

func TestRecoverFailsWhenMappingRegionHasNoDeadSection(t *testing.T) {
	g := testGeometry()
	dev := alfstest.NewMemDevice(g.MetalogBase + g.NrMetalogPhysBlks)

	for i := uint32(0); i < g.NrMappingPhysBlks(); i++ {
		blk := mapping.NewBlock(0)
		blk.Ver = i + 1
		writeMappingBlock(t, dev, i, blk)
	}

	_, err := Recover(dev, g, Options{})
	assert.True(t, alfserr.IsNoFreeMapSpace(err))
}

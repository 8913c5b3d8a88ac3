// Package geom holds the host-filesystem geometry ALFS mounts against:
// block/sector/section sizes and the addresses of the two physical regions
// it manages.
package geom

// BlockSize is the fixed unit of addressing, in bytes.
const BlockSize = 4096

// SectorSize is the fixed unit the host's bio-like requests are addressed
// in; there are 8 sectors per block.
const SectorSize = 512

// SectorsPerBlock is BlockSize / SectorSize.
const SectorsPerBlock = BlockSize / SectorSize

// Geometry describes the on-device layout ALFS was mounted against. All
// fields are supplied by the host filesystem at mount time (spec.md §6).
type Geometry struct {
	// SegsPerSec and BlocksPerSeg determine the section size, the unit of
	// erase/reclaim for both regions.
	SegsPerSec   uint32
	BlocksPerSeg uint32

	// MappingBase is the first physical block of the mapping region.
	MappingBase uint32
	// NrMappingSecs is the length of the mapping region in sections.
	NrMappingSecs uint32

	// MetalogBase is the first physical block of the metadata-log region;
	// it is also the base of the host's logical metadata range.
	MetalogBase uint32
	// NrMetalogPhysBlks is the physical length of the metadata-log region.
	NrMetalogPhysBlks uint32
	// NrMetalogLogiBlks is the logical length the host filesystem exposes
	// at MetalogBase. Must satisfy NrMetalogPhysBlks >= NrMetalogLogiBlks +
	// BlocksPerSec (spec.md §3).
	NrMetalogLogiBlks uint32

	// CheckpointBlk is the logical address whose write triggers a flush of
	// dirty mapping entries (spec.md §4.7 step 1). The host's checkpoint
	// pack has a second copy at CheckpointBlk+BlocksPerSeg.
	CheckpointBlk uint32
}

// BlocksPerSec is the section size in blocks: the erase/reclaim unit for
// both the mapping region and the metadata-log region.
func (g Geometry) BlocksPerSec() uint32 {
	return g.SegsPerSec * g.BlocksPerSeg
}

// NrMappingPhysBlks is the mapping region's length in blocks.
func (g Geometry) NrMappingPhysBlks() uint32 {
	return g.NrMappingSecs * g.BlocksPerSec()
}

// Validate checks the invariants spec.md §3 requires of a geometry before
// it can be mounted.
func (g Geometry) Validate() error {
	bps := g.BlocksPerSec()
	switch {
	case bps == 0:
		return errInvalidGeometry("segs_per_sec and blocks_per_seg must be positive")
	case g.NrMappingSecs == 0:
		return errInvalidGeometry("nr_mapping_secs must be positive")
	case g.NrMetalogPhysBlks < g.NrMetalogLogiBlks+bps:
		return errInvalidGeometry("nr_metalog_phys_blks must be >= nr_metalog_logi_blks + blocks_per_sec")
	case g.NrMetalogPhysBlks%bps != 0:
		return errInvalidGeometry("nr_metalog_phys_blks must be a whole number of sections")
	case g.NrMappingPhysBlks()%bps != 0:
		return errInvalidGeometry("mapping region length must be a whole number of sections")
	}
	return nil
}

type geometryError string

func (e geometryError) Error() string { return string(e) }

func errInvalidGeometry(msg string) error { return geometryError("alfs: invalid geometry: " + msg) }

// LogicalToSector converts a sector offset (as carried on a bio-like
// request) to the logical block address it addresses (spec.md §4.7 step 1).
func LogicalToSector(sector uint64) uint64 {
	return sector * SectorSize / BlockSize
}

// InMetalogRange reports whether logical address l falls within the host's
// metadata logical range [MetalogBase, MetalogBase+NrMetalogLogiBlks).
func (g Geometry) InMetalogRange(l uint32) bool {
	return l >= g.MetalogBase && l < g.MetalogBase+g.NrMetalogLogiBlks
}

// InMetalogPhysRange reports whether physical address p falls within the
// metadata-log region.
func (g Geometry) InMetalogPhysRange(p uint32) bool {
	return p >= g.MetalogBase && p < g.MetalogBase+g.NrMetalogPhysBlks
}

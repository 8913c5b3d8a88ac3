// Package config loads the host-supplied mount parameters of spec.md §6
// (geometry plus the NO_BARRIER/DISCARD options) from a TOML file. Grounded
// on the teacher's conf package convention of a flat struct decoded in one
// shot, adapted to use the pack's go-toml dependency directly rather than
// the teacher's ad-hoc key lookups.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/flashmeta/alfs/internal/alfs/geom"
)

// Options are the host-configurable switches of spec.md §6.
type Options struct {
	// NoBarrier omits FUA on metadata writes when set (PREFLUSH is retained).
	NoBarrier bool `toml:"no_barrier"`
	// Discard enables TRIM emission on block reclamation.
	Discard bool `toml:"discard"`
}

// File is the on-disk shape of an ALFS mount configuration file.
type File struct {
	Geometry geom.Geometry `toml:"geometry"`
	Options  Options       `toml:"options"`
}

// geometryDoc mirrors geom.Geometry's fields under their TOML keys. The
// domain type itself carries no struct tags (it is also the wire-adjacent
// type other packages construct programmatically), so loading goes through
// this shadow struct and back.
type geometryDoc struct {
	SegsPerSec        uint32 `toml:"segs_per_sec"`
	BlocksPerSeg      uint32 `toml:"blocks_per_seg"`
	MappingBase       uint32 `toml:"mapping_base"`
	NrMappingSecs     uint32 `toml:"nr_mapping_secs"`
	MetalogBase       uint32 `toml:"metalog_base"`
	NrMetalogPhysBlks uint32 `toml:"nr_metalog_phys_blks"`
	NrMetalogLogiBlks uint32 `toml:"nr_metalog_logi_blks"`
	CheckpointBlk     uint32 `toml:"checkpoint_blk"`
}

type fileDoc struct {
	Geometry geometryDoc `toml:"geometry"`
	Options  Options     `toml:"options"`
}

// Load reads and decodes an ALFS mount configuration file, validating the
// embedded geometry before returning it (spec.md §3's invariants must hold
// before mount proceeds).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc fileDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	f := &File{
		Geometry: geom.Geometry{
			SegsPerSec:        doc.Geometry.SegsPerSec,
			BlocksPerSeg:      doc.Geometry.BlocksPerSeg,
			MappingBase:       doc.Geometry.MappingBase,
			NrMappingSecs:     doc.Geometry.NrMappingSecs,
			MetalogBase:       doc.Geometry.MetalogBase,
			NrMetalogPhysBlks: doc.Geometry.NrMetalogPhysBlks,
			NrMetalogLogiBlks: doc.Geometry.NrMetalogLogiBlks,
			CheckpointBlk:     doc.Geometry.CheckpointBlk,
		},
		Options: doc.Options,
	}
	if err := f.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Save serializes f back to path in the same TOML layout Load reads.
func Save(path string, f *File) error {
	doc := fileDoc{
		Geometry: geometryDoc{
			SegsPerSec:        f.Geometry.SegsPerSec,
			BlocksPerSeg:      f.Geometry.BlocksPerSeg,
			MappingBase:       f.Geometry.MappingBase,
			NrMappingSecs:     f.Geometry.NrMappingSecs,
			MetalogBase:       f.Geometry.MetalogBase,
			NrMetalogPhysBlks: f.Geometry.NrMetalogPhysBlks,
			NrMetalogLogiBlks: f.Geometry.NrMetalogLogiBlks,
			CheckpointBlk:     f.Geometry.CheckpointBlk,
		},
		Options: f.Options,
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

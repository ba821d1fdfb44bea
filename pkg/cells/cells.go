// Package cells splits oversized connected components into individual
// cells. Microglia sitting close together often merge into one labeled
// blob; this stage erodes each large blob down to its nuclei, counts
// them, and partitions the blob's voxels into that many cells.
package cells

import (
	"errors"

	"github.com/CGK-Laboratory/pycroglia/pkg/cluster"
	"github.com/CGK-Laboratory/pycroglia/pkg/erosion"
	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/segment"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Default ratio between a cell's cut-off size and the smallest fragment
// still counted as a nucleus after erosion.
const DefaultMinNucleusFraction = 50

// Config holds the cell-splitting parameters.
type Config struct {
	// CutOffSize is the voxel count above which a labeled object is
	// considered a candidate for splitting.
	CutOffSize int

	// Noise is the minimum fragment size kept when cleaning up each
	// split cluster.
	Noise int

	// Connectivity is the labeling rule used for nuclei detection and
	// cluster relabeling.
	Connectivity segment.Connectivity

	// MinNucleusFraction divides CutOffSize to obtain the smallest
	// object kept after erosion. Zero means DefaultMinNucleusFraction.
	MinNucleusFraction int

	// Footprint is the erosion structuring element. Nil means an
	// octahedron of radius 1.
	Footprint erosion.Footprint
}

func (c Config) minNucleusSize() int {
	fraction := c.MinNucleusFraction
	if fraction == 0 {
		fraction = DefaultMinNucleusFraction
	}
	size := c.CutOffSize / fraction
	if size < 1 {
		size = 1
	}
	return size
}

func (c Config) footprint() erosion.Footprint {
	if c.Footprint != nil {
		return c.Footprint
	}
	return erosion.Octahedron{R: 1}
}

// NucleiCount labels an eroded cell mask and returns the number of
// nuclei to split the cell into.
//
// A single nucleus after erosion still means the blob passed the size
// cut-off, so one detected nucleus is reported as two. No nuclei at all
// means erosion destroyed the cell entirely, reported as NoNucleiError
// so the caller can keep the cell whole and record a warning.
func NucleiCount(mask []uint8, z, y, x int, conn segment.Connectivity) (int, error) {
	lv, err := segment.Label(mask, z, y, x, conn)
	if err != nil {
		return 0, err
	}
	switch n := lv.Len(); n {
	case 0:
		return 0, &errs.NoNucleiError{}
	case 1:
		return 2, nil
	default:
		return n, nil
	}
}

// Split walks every labeled object and splits those above the cut-off
// size into individual cells, producing a new label volume. Objects at
// or below the cut-off keep their mask unchanged. It returns the new
// label volume together with the labels of cells that could not be
// split because erosion removed all their voxels (kept whole).
func Split(lv *volume.LabelVolume, cfg Config) (*volume.LabelVolume, []int, error) {
	var masks [][]uint8
	var unsplit []int

	for i := 1; i <= lv.Len(); i++ {
		size, err := lv.VoxelCount(i)
		if err != nil {
			return nil, nil, err
		}
		mask, err := lv.Mask(i)
		if err != nil {
			return nil, nil, err
		}

		if size <= cfg.CutOffSize {
			masks = append(masks, mask)
			continue
		}

		split, err := splitCell(mask, lv.Z, lv.Y, lv.X, cfg)
		if err != nil {
			var nne *errs.NoNucleiError
			if errors.As(err, &nne) {
				// Erosion ate the whole cell; keep it and report it.
				masks = append(masks, mask)
				unsplit = append(unsplit, i)
				continue
			}
			return nil, nil, err
		}
		masks = append(masks, split...)
	}

	out, err := segment.FromMasks(masks, lv.Z, lv.Y, lv.X)
	if err != nil {
		return nil, nil, err
	}
	return out, unsplit, nil
}

// splitCell erodes one oversized cell mask, counts nuclei and k-means
// partitions the original mask into that many cleaned-up cells.
func splitCell(mask []uint8, z, y, x int, cfg Config) ([][]uint8, error) {
	eroded := erosion.Erode(mask, z, y, x, cfg.footprint())
	eroded, err := segment.RemoveSmallObjects(eroded, z, y, x, cfg.minNucleusSize(), cfg.Connectivity)
	if err != nil {
		return nil, err
	}

	nuclei, err := NucleiCount(eroded, z, y, x, cfg.Connectivity)
	if err != nil {
		return nil, err
	}

	var out [][]uint8
	for _, clusterMask := range cluster.SplitMask(mask, z, y, x, nuclei) {
		cleaned, err := segment.RemoveSmallObjects(clusterMask, z, y, x, cfg.Noise, cfg.Connectivity)
		if err != nil {
			return nil, err
		}

		// A cleaned cluster can itself contain several disconnected
		// fragments; relabel and emit each as its own cell.
		labeled, err := segment.Label(cleaned, z, y, x, cfg.Connectivity)
		if err != nil {
			return nil, err
		}
		for j := 1; j <= labeled.Len(); j++ {
			cellMask, err := labeled.Mask(j)
			if err != nil {
				return nil, err
			}
			out = append(out, cellMask)
		}
	}
	return out, nil
}

package segment

import (
	"fmt"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Connectivity selects which neighboring voxels count as adjacent when
// grouping foreground voxels into one object.
type Connectivity int

const (
	// ConnectivityFaces is 6-connectivity in 3D (face neighbors only).
	ConnectivityFaces Connectivity = 1

	// ConnectivityEdges is 18-connectivity in 3D (faces and edges).
	ConnectivityEdges Connectivity = 2

	// ConnectivityCorners is 26-connectivity in 3D (faces, edges and
	// corners).
	ConnectivityCorners Connectivity = 3
)

// Validate checks the connectivity value.
func (c Connectivity) Validate() error {
	switch c {
	case ConnectivityFaces, ConnectivityEdges, ConnectivityCorners:
		return nil
	}
	return &errs.ConfigError{
		Code:  errs.CodeInvalidConfig,
		Field: "connectivity",
		Msg:   fmt.Sprintf("unknown connectivity %d", int(c)),
	}
}

type offset struct {
	dz, dy, dx int
}

// backwardOffsets returns the neighbor offsets that precede a voxel in
// raster (z, y, x) order. Scanning with backward offsets only is enough
// for union-find labeling and keeps the merge order canonical.
func backwardOffsets(conn Connectivity) []offset {
	var offsets []offset
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				// Keep only strictly-preceding neighbors.
				if dz > 0 || (dz == 0 && dy > 0) || (dz == 0 && dy == 0 && dx >= 0) {
					continue
				}
				nonZero := 0
				if dz != 0 {
					nonZero++
				}
				if dy != 0 {
					nonZero++
				}
				if dx != 0 {
					nonZero++
				}
				if nonZero > int(conn) {
					continue
				}
				offsets = append(offsets, offset{dz, dy, dx})
			}
		}
	}
	return offsets
}

// unionFind is a dense arena of provisional labels. Roots are resolved
// toward the lower id, so the canonical root of a merged component is
// always the first provisional label encountered in raster order.
type unionFind struct {
	parent []int32
}

func newUnionFind() *unionFind {
	// Index 0 is reserved for background.
	return &unionFind{parent: make([]int32, 1, 64)}
}

func (uf *unionFind) add() int32 {
	id := int32(len(uf.parent))
	uf.parent = append(uf.parent, id)
	return id
}

func (uf *unionFind) find(id int32) int32 {
	root := id
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// Path compression keeps later finds cheap.
	for uf.parent[id] != root {
		uf.parent[id], id = root, uf.parent[id]
	}
	return root
}

// union merges two components; the lower numeric root wins.
func (uf *unionFind) union(a, b int32) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		uf.parent[rb] = ra
	} else {
		uf.parent[ra] = rb
	}
}

// Label runs connected-component labeling over a binary mask. Final
// labels are issued in raster-scan order of each component's first
// voxel, starting at 1, so identical masks always produce identical
// label volumes.
func Label(mask []uint8, z, y, x int, conn Connectivity) (*volume.LabelVolume, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if len(mask) != z*y*x {
		return nil, &errs.ShapeMismatchError{
			Want: fmt.Sprintf("%d mask voxels for (%d, %d, %d)", z*y*x, z, y, x),
			Got:  fmt.Sprintf("%d mask voxels", len(mask)),
		}
	}

	offsets := backwardOffsets(conn)
	uf := newUnionFind()
	provisional := make([]int32, len(mask))

	// First pass: assign provisional labels and merge across backward
	// neighbors.
	for zi := 0; zi < z; zi++ {
		for yi := 0; yi < y; yi++ {
			for xi := 0; xi < x; xi++ {
				idx := (zi*y+yi)*x + xi
				if mask[idx] == 0 {
					continue
				}

				var label int32
				for _, off := range offsets {
					nz, ny, nx := zi+off.dz, yi+off.dy, xi+off.dx
					if nz < 0 || ny < 0 || ny >= y || nx < 0 || nx >= x {
						continue
					}
					nidx := (nz*y+ny)*x + nx
					if mask[nidx] == 0 {
						continue
					}
					neighbor := provisional[nidx]
					if label == 0 {
						label = neighbor
					} else {
						uf.union(label, neighbor)
					}
				}
				if label == 0 {
					label = uf.add()
				}
				provisional[idx] = label
			}
		}
	}

	// Second pass: map resolved roots to dense labels in raster order of
	// first occurrence.
	labels := make([]int32, len(mask))
	dense := make(map[int32]int32)
	var next int32
	for i, p := range provisional {
		if p == 0 {
			continue
		}
		root := uf.find(p)
		d, ok := dense[root]
		if !ok {
			next++
			d = next
			dense[root] = d
		}
		labels[i] = d
	}

	return volume.NewLabelVolume(labels, z, y, x, int(next))
}

// Segment labels the foreground of a working volume directly from
// threshold options, combining Mask and Label.
func Segment(vol *volume.Volume, topts ThresholdOptions, conn Connectivity) (*volume.LabelVolume, error) {
	mask, err := Mask(vol, topts)
	if err != nil {
		return nil, err
	}
	return Label(mask, vol.Z, vol.Y, vol.X, conn)
}

// FromMasks builds a label volume from an ordered list of binary masks,
// assigning label i+1 to mask i. Later masks overwrite earlier ones
// where they overlap.
func FromMasks(masks [][]uint8, z, y, x int) (*volume.LabelVolume, error) {
	labels := make([]int32, z*y*x)
	for i, mask := range masks {
		if len(mask) != len(labels) {
			return nil, &errs.ShapeMismatchError{
				Want: fmt.Sprintf("%d voxels per mask", len(labels)),
				Got:  fmt.Sprintf("%d voxels in mask %d", len(mask), i),
			}
		}
		for j, v := range mask {
			if v > 0 {
				labels[j] = int32(i + 1)
			}
		}
	}
	return volume.NewLabelVolume(labels, z, y, x, len(masks))
}

// RemoveSmallObjects zeroes connected components of the mask smaller
// than minSize and returns a new mask.
func RemoveSmallObjects(mask []uint8, z, y, x, minSize int, conn Connectivity) ([]uint8, error) {
	lv, err := Label(mask, z, y, x, conn)
	if err != nil {
		return nil, err
	}

	out := make([]uint8, len(mask))
	for i, l := range lv.Labels {
		if l == 0 {
			continue
		}
		count, err := lv.VoxelCount(int(l))
		if err != nil {
			return nil, err
		}
		if count >= minSize {
			out[i] = 1
		}
	}
	return out, nil
}

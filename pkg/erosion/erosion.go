// Package erosion implements binary erosion of 3D masks with pluggable
// structuring elements. Erosion peels an object down to the voxels whose
// whole neighborhood (as defined by the footprint) lies inside the mask;
// the segmentation stage uses it to expose cell nuclei before deciding
// how many cells a large connected blob actually contains.
package erosion

// Footprint describes a structuring element as a sequence of offsets
// relative to the anchor voxel.
type Footprint interface {
	// Offsets returns the (dz, dy, dx) offsets of the element, anchor
	// included.
	Offsets() [][3]int
}

// Diamond is a 2D diamond (L1 ball) of the given radius in the XY plane.
type Diamond struct {
	R int
}

func (f Diamond) Offsets() [][3]int {
	var offsets [][3]int
	for dy := -f.R; dy <= f.R; dy++ {
		for dx := -f.R; dx <= f.R; dx++ {
			if abs(dy)+abs(dx) <= f.R {
				offsets = append(offsets, [3]int{0, dy, dx})
			}
		}
	}
	return offsets
}

// Disk is a 2D Euclidean disk of the given radius in the XY plane.
type Disk struct {
	R int
}

func (f Disk) Offsets() [][3]int {
	var offsets [][3]int
	for dy := -f.R; dy <= f.R; dy++ {
		for dx := -f.R; dx <= f.R; dx++ {
			if dy*dy+dx*dx <= f.R*f.R {
				offsets = append(offsets, [3]int{0, dy, dx})
			}
		}
	}
	return offsets
}

// Rect is a 2D rectangle of the given width and height in the XY plane,
// anchored at its center.
type Rect struct {
	W, H int
}

func (f Rect) Offsets() [][3]int {
	var offsets [][3]int
	for dy := -(f.H - 1) / 2; dy <= f.H/2; dy++ {
		for dx := -(f.W - 1) / 2; dx <= f.W/2; dx++ {
			offsets = append(offsets, [3]int{0, dy, dx})
		}
	}
	return offsets
}

// Octahedron is a 3D octahedron (L1 ball) of the given radius, the
// element used to erode whole cell volumes.
type Octahedron struct {
	R int
}

func (f Octahedron) Offsets() [][3]int {
	var offsets [][3]int
	for dz := -f.R; dz <= f.R; dz++ {
		for dy := -f.R; dy <= f.R; dy++ {
			for dx := -f.R; dx <= f.R; dx++ {
				if abs(dz)+abs(dy)+abs(dx) <= f.R {
					offsets = append(offsets, [3]int{dz, dy, dx})
				}
			}
		}
	}
	return offsets
}

// Erode applies binary erosion to a mask of shape (z, y, x). Voxels
// outside the volume count as background, so objects touching the
// border erode from that side too.
func Erode(mask []uint8, z, y, x int, footprint Footprint) []uint8 {
	offsets := footprint.Offsets()
	out := make([]uint8, len(mask))

	for zi := 0; zi < z; zi++ {
		for yi := 0; yi < y; yi++ {
		voxel:
			for xi := 0; xi < x; xi++ {
				idx := (zi*y+yi)*x + xi
				if mask[idx] == 0 {
					continue
				}
				for _, off := range offsets {
					nz, ny, nx := zi+off[0], yi+off[1], xi+off[2]
					if nz < 0 || nz >= z || ny < 0 || ny >= y || nx < 0 || nx >= x {
						continue voxel
					}
					if mask[(nz*y+ny)*x+nx] == 0 {
						continue voxel
					}
				}
				out[idx] = 1
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

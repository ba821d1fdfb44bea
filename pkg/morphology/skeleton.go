package morphology

import (
	"math"

	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Topological skeletonization by iterative thinning. Border voxels are
// removed in raster order when they are simple points (removal keeps the
// local foreground 26-connected and the local background 6-connected)
// and not curve endpoints. Sequential removal in a fixed order makes the
// result deterministic for identical masks, which matters more here than
// a perfectly medial skeleton: descriptor counts must be reproducible
// across runs.

// skeletonMetrics thins one object's mask inside its bounding box and
// counts endpoints, branch points and total calibrated length.
func skeletonMetrics(lv *volume.LabelVolume, label int, b BoundingBox, calib volume.Calibration) (*SkeletonMetrics, error) {
	// Work on a crop padded by one background voxel on every side, so
	// neighborhood checks never need bounds tests.
	dz := b.MaxZ - b.MinZ + 3
	dy := b.MaxY - b.MinY + 3
	dx := b.MaxX - b.MinX + 3

	grid := make([]bool, dz*dy*dx)
	idx := func(z, y, x int) int { return (z*dy+y)*dx + x }
	for z := b.MinZ; z <= b.MaxZ; z++ {
		for y := b.MinY; y <= b.MaxY; y++ {
			for x := b.MinX; x <= b.MaxX; x++ {
				if int(lv.At(z, y, x)) == label {
					grid[idx(z-b.MinZ+1, y-b.MinY+1, x-b.MinX+1)] = true
				}
			}
		}
	}

	thin(grid, dz, dy, dx)
	return measureSkeleton(grid, dz, dy, dx, calib), nil
}

// thin repeatedly removes simple border points until the mask is stable.
func thin(grid []bool, dz, dy, dx int) {
	idx := func(z, y, x int) int { return (z*dy+y)*dx + x }

	for {
		changed := false
		for z := 1; z < dz-1; z++ {
			for y := 1; y < dy-1; y++ {
				for x := 1; x < dx-1; x++ {
					i := idx(z, y, x)
					if !grid[i] || !isBorder(grid, dy, dx, z, y, x) {
						continue
					}
					n := neighborCount(grid, dy, dx, z, y, x)
					if n <= 1 {
						// Curve endpoint; removing it would shorten
						// processes.
						continue
					}
					if isSimplePoint(grid, dy, dx, z, y, x) {
						grid[i] = false
						changed = true
					}
				}
			}
		}
		if !changed {
			return
		}
	}
}

func isBorder(grid []bool, dy, dx int, z, y, x int) bool {
	for _, off := range faceOffsets {
		if !grid[((z+off[0])*dy+y+off[1])*dx+x+off[2]] {
			return true
		}
	}
	return false
}

func neighborCount(grid []bool, dy, dx int, z, y, x int) int {
	n := 0
	for ddz := -1; ddz <= 1; ddz++ {
		for ddy := -1; ddy <= 1; ddy++ {
			for ddx := -1; ddx <= 1; ddx++ {
				if ddz == 0 && ddy == 0 && ddx == 0 {
					continue
				}
				if grid[((z+ddz)*dy+y+ddy)*dx+x+ddx] {
					n++
				}
			}
		}
	}
	return n
}

var faceOffsets = [6][3]int{
	{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1},
}

// isSimplePoint applies the two Bertrand characterization conditions on
// the 3x3x3 neighborhood: exactly one 26-connected foreground component
// among the 26 neighbors, and exactly one 6-connected background
// component in the 18-neighborhood touching a face neighbor.
func isSimplePoint(grid []bool, dy, dx int, z, y, x int) bool {
	// Local copy of the neighborhood, center excluded.
	var local [27]bool
	for ddz := -1; ddz <= 1; ddz++ {
		for ddy := -1; ddy <= 1; ddy++ {
			for ddx := -1; ddx <= 1; ddx++ {
				if ddz == 0 && ddy == 0 && ddx == 0 {
					continue
				}
				if grid[((z+ddz)*dy+y+ddy)*dx+x+ddx] {
					local[(ddz+1)*9+(ddy+1)*3+(ddx+1)] = true
				}
			}
		}
	}
	return foregroundComponents26(local) == 1 && backgroundComponents6(local) == 1
}

// foregroundComponents26 counts 26-connected foreground components in
// the 26-neighborhood.
func foregroundComponents26(local [27]bool) int {
	var visited [27]bool
	components := 0
	for start := 0; start < 27; start++ {
		if start == 13 || !local[start] || visited[start] {
			continue
		}
		components++
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cz, cy, cx := cur/9, (cur/3)%3, cur%3
			for nz := max(0, cz-1); nz <= min(2, cz+1); nz++ {
				for ny := max(0, cy-1); ny <= min(2, cy+1); ny++ {
					for nx := max(0, cx-1); nx <= min(2, cx+1); nx++ {
						n := nz*9 + ny*3 + nx
						if n == 13 || visited[n] || !local[n] {
							continue
						}
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
	}
	return components
}

// backgroundComponents6 counts 6-connected background components within
// the 18-neighborhood that touch a face neighbor of the center.
func backgroundComponents6(local [27]bool) int {
	// 18-neighborhood: positions whose offset has at most two non-zero
	// coordinates.
	in18 := func(p int) bool {
		pz, py, px := p/9-1, (p/3)%3-1, p%3-1
		nonZero := 0
		if pz != 0 {
			nonZero++
		}
		if py != 0 {
			nonZero++
		}
		if px != 0 {
			nonZero++
		}
		return nonZero >= 1 && nonZero <= 2
	}
	isFace := func(p int) bool {
		pz, py, px := p/9-1, (p/3)%3-1, p%3-1
		return abs(pz)+abs(py)+abs(px) == 1
	}

	var visited [27]bool
	components := 0
	for start := 0; start < 27; start++ {
		if !in18(start) || local[start] || visited[start] || !isFace(start) {
			continue
		}
		components++
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cz, cy, cx := cur/9, (cur/3)%3, cur%3
			for _, off := range faceOffsets {
				nz, ny, nx := cz+off[0], cy+off[1], cx+off[2]
				if nz < 0 || nz > 2 || ny < 0 || ny > 2 || nx < 0 || nx > 2 {
					continue
				}
				n := nz*9 + ny*3 + nx
				if n == 13 || visited[n] || local[n] || !in18(n) {
					continue
				}
				visited[n] = true
				stack = append(stack, n)
			}
		}
	}
	return components
}

// measureSkeleton counts endpoints and branch points and sums the
// calibrated length of all skeleton adjacencies (each counted once).
func measureSkeleton(grid []bool, dz, dy, dx int, calib volume.Calibration) *SkeletonMetrics {
	sz, sy, sx := calib.Dz, calib.Dy, calib.Dx
	if calib.IsZero() {
		sz, sy, sx = 1, 1, 1
	}

	m := &SkeletonMetrics{}
	for z := 1; z < dz-1; z++ {
		for y := 1; y < dy-1; y++ {
			for x := 1; x < dx-1; x++ {
				if !grid[(z*dy+y)*dx+x] {
					continue
				}
				m.Voxels++
				switch n := neighborCount(grid, dy, dx, z, y, x); {
				case n <= 1:
					m.Endpoints++
				case n >= 3:
					m.BranchPoints++
				}

				// Forward neighbors only, so each adjacency contributes
				// its length once.
				for ddz := -1; ddz <= 1; ddz++ {
					for ddy := -1; ddy <= 1; ddy++ {
						for ddx := -1; ddx <= 1; ddx++ {
							if ddz < 0 || (ddz == 0 && ddy < 0) || (ddz == 0 && ddy == 0 && ddx <= 0) {
								continue
							}
							if grid[((z+ddz)*dy+y+ddy)*dx+x+ddx] {
								ez := float64(ddz) * sz
								ey := float64(ddy) * sy
								ex := float64(ddx) * sx
								m.Length += math.Sqrt(ez*ez + ey*ey + ex*ex)
							}
						}
					}
				}
			}
		}
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

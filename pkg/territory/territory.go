// Package territory quantifies how much of the imaged volume each cell
// patrols. A microglia's territorial volume is the volume of the convex
// hull wrapped around its voxels, scaled to physical units; summed over
// all cells it yields the fraction of tissue under surveillance.
package territory

import (
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Volumes computes the convex-hull (territorial) volume of every object
// in the label volume, in label order, scaled by the voxel calibration.
// Objects too small or too flat for a 3D hull fall back to their plain
// voxel volume.
func Volumes(lv *volume.LabelVolume, calib volume.Calibration) ([]float64, error) {
	voxelVolume := calib.VoxelVolume()

	// Hull input per object: only voxels with at least one non-object
	// face neighbor. The hull of the boundary equals the hull of the
	// full mask at a fraction of the cost.
	boundary := make([][]vec3, lv.Len()+1)
	for z := 0; z < lv.Z; z++ {
		for y := 0; y < lv.Y; y++ {
			for x := 0; x < lv.X; x++ {
				label := lv.At(z, y, x)
				if label == 0 || !onObjectBoundary(lv, z, y, x, label) {
					continue
				}
				boundary[label] = append(boundary[label], voxelCenter(z, y, x, calib))
			}
		}
	}

	out := make([]float64, lv.Len())
	for label := 1; label <= lv.Len(); label++ {
		vol, ok := hullVolume(boundary[label])
		if !ok {
			count, err := lv.VoxelCount(label)
			if err != nil {
				return nil, err
			}
			out[label-1] = float64(count) * voxelVolume
			continue
		}
		out[label-1] = vol
	}
	return out, nil
}

// Metrics summarizes territorial coverage of the whole imaged cube.
type Metrics struct {
	// TotalCovered is the summed territorial volume of all cells.
	TotalCovered float64

	// CubeVolume is the physical volume of the imaged stack.
	CubeVolume float64

	// Empty is the unpatrolled remainder.
	Empty float64

	// CoveredPercent is TotalCovered over CubeVolume, in percent.
	CoveredPercent float64
}

// ComputeMetrics reduces the per-cell territorial volumes over a stack
// of the given voxel extent.
func ComputeMetrics(volumes []float64, z, y, x int, calib volume.Calibration) Metrics {
	total := 0.0
	for _, v := range volumes {
		total += v
	}
	cube := float64(z*y*x) * calib.VoxelVolume()

	m := Metrics{TotalCovered: total, CubeVolume: cube, Empty: cube - total}
	if cube > 0 {
		m.CoveredPercent = total / cube * 100
	}
	return m
}

func onObjectBoundary(lv *volume.LabelVolume, z, y, x int, label int32) bool {
	if z == 0 || z == lv.Z-1 || y == 0 || y == lv.Y-1 || x == 0 || x == lv.X-1 {
		return true
	}
	return lv.At(z-1, y, x) != label || lv.At(z+1, y, x) != label ||
		lv.At(z, y-1, x) != label || lv.At(z, y+1, x) != label ||
		lv.At(z, y, x-1) != label || lv.At(z, y, x+1) != label
}

func voxelCenter(z, y, x int, calib volume.Calibration) vec3 {
	if calib.IsZero() {
		return vec3{x: float64(x), y: float64(y), z: float64(z)}
	}
	return vec3{
		x: float64(x) * calib.Dx,
		y: float64(y) * calib.Dy,
		z: float64(z) * calib.Dz,
	}
}

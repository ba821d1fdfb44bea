// Package morphology computes per-object geometric and intensity
// descriptors from a filtered label volume. Geometry is measured on the
// label masks; intensity statistics are always taken against the
// original, un-preprocessed volume so that denoising applied for
// segmentation never biases measurement.
package morphology

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// BoundingBox is the inclusive voxel extent of one object.
type BoundingBox struct {
	MinZ, MinY, MinX int
	MaxZ, MaxY, MaxX int
}

// ChannelStats holds intensity statistics of one object over one
// channel of the original volume.
type ChannelStats struct {
	Channel int
	Mean    float64
	StdDev  float64
	Sum     float64
	Max     float64
}

// SkeletonMetrics summarizes the topological skeleton of one object.
type SkeletonMetrics struct {
	// Voxels is the number of voxels in the thinned skeleton.
	Voxels int

	// Endpoints is the number of skeleton voxels with exactly one
	// skeleton neighbor; each corresponds to a process tip.
	Endpoints int

	// BranchPoints is the number of skeleton voxels with three or more
	// skeleton neighbors.
	BranchPoints int

	// Length is the total calibrated length of skeleton adjacencies,
	// a proxy for summed process length.
	Length float64
}

// Descriptor is the full morphological record of one surviving object.
type Descriptor struct {
	// Label is the object's id in the filtered label volume.
	Label int

	// VoxelCount is the raw number of voxels.
	VoxelCount int

	// Volume is the calibrated physical volume (voxel count when the
	// volume is uncalibrated).
	Volume float64

	// Bounds is the inclusive bounding box.
	Bounds BoundingBox

	// Centroid is the mean voxel coordinate in (z, y, x) order.
	Centroid [3]float64

	// SurfaceArea is the calibrated area of mask faces adjacent to
	// background or the volume edge.
	SurfaceArea float64

	// Sphericity is the Wadell ratio between the surface area of a
	// sphere of equal volume and the object's surface area; 1 for a
	// perfect sphere, smaller for ramified shapes.
	Sphericity float64

	// Channels holds per-channel intensity statistics.
	Channels []ChannelStats

	// Skeleton is populated when skeleton metrics are enabled.
	Skeleton *SkeletonMetrics
}

// Options controls the analyzer.
type Options struct {
	// ComputeSkeleton enables skeletonization and branch metrics.
	ComputeSkeleton bool
}

// Analyze computes a descriptor for every label of lv, in label order.
// Intensities come from original, which must share lv's spatial shape.
// A label with zero voxels indicates an upstream bug and fails with
// DegenerateObjectError.
func Analyze(lv *volume.LabelVolume, original *volume.Volume, opts Options) ([]Descriptor, error) {
	if !original.SameSpatialShape(lv.Z, lv.Y, lv.X) {
		return nil, &errs.ShapeMismatchError{
			Want: fmt.Sprintf("(%d, %d, %d)", lv.Z, lv.Y, lv.X),
			Got:  fmt.Sprintf("(%d, %d, %d)", original.Z, original.Y, original.X),
		}
	}
	if lv.Len() == 0 {
		return nil, nil
	}

	calib := original.Calib
	voxelVolume := calib.VoxelVolume()

	accs := make([]accumulator, lv.Len()+1)
	for i := range accs {
		accs[i].bounds = BoundingBox{
			MinZ: lv.Z, MinY: lv.Y, MinX: lv.X,
			MaxZ: -1, MaxY: -1, MaxX: -1,
		}
	}

	// Single pass for counts, bounds, centroids and surface area.
	for z := 0; z < lv.Z; z++ {
		for y := 0; y < lv.Y; y++ {
			for x := 0; x < lv.X; x++ {
				label := lv.At(z, y, x)
				if label == 0 {
					continue
				}
				acc := &accs[label]
				acc.voxels++
				acc.sumZ += float64(z)
				acc.sumY += float64(y)
				acc.sumX += float64(x)
				acc.bounds.extend(z, y, x)
				acc.surface += exposedFaceArea(lv, z, y, x, label, calib)
			}
		}
	}

	descriptors := make([]Descriptor, 0, lv.Len())
	for label := 1; label <= lv.Len(); label++ {
		acc := accs[label]
		if acc.voxels == 0 {
			return nil, &errs.DegenerateObjectError{Label: label}
		}

		n := float64(acc.voxels)
		d := Descriptor{
			Label:       label,
			VoxelCount:  acc.voxels,
			Volume:      n * voxelVolume,
			Bounds:      acc.bounds,
			Centroid:    [3]float64{acc.sumZ / n, acc.sumY / n, acc.sumX / n},
			SurfaceArea: acc.surface,
		}
		d.Sphericity = sphericity(d.Volume, d.SurfaceArea)
		d.Channels = channelStats(lv, original, label, acc.bounds, acc.voxels)

		if opts.ComputeSkeleton {
			sk, err := skeletonMetrics(lv, label, acc.bounds, calib)
			if err != nil {
				return nil, err
			}
			d.Skeleton = sk
		}

		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

type accumulator struct {
	voxels           int
	sumZ, sumY, sumX float64
	bounds           BoundingBox
	surface          float64
}

func (b *BoundingBox) extend(z, y, x int) {
	if z < b.MinZ {
		b.MinZ = z
	}
	if y < b.MinY {
		b.MinY = y
	}
	if x < b.MinX {
		b.MinX = x
	}
	if z > b.MaxZ {
		b.MaxZ = z
	}
	if y > b.MaxY {
		b.MaxY = y
	}
	if x > b.MaxX {
		b.MaxX = x
	}
}

// exposedFaceArea sums the calibrated area of the voxel's six faces
// that border background or the edge of the volume.
func exposedFaceArea(lv *volume.LabelVolume, z, y, x int, label int32, calib volume.Calibration) float64 {
	dz, dy, dx := calib.Dz, calib.Dy, calib.Dx
	if calib.IsZero() {
		dz, dy, dx = 1, 1, 1
	}

	area := 0.0
	// Faces perpendicular to z span dy*dx, and so on.
	if z == 0 || lv.At(z-1, y, x) != label {
		area += dy * dx
	}
	if z == lv.Z-1 || lv.At(z+1, y, x) != label {
		area += dy * dx
	}
	if y == 0 || lv.At(z, y-1, x) != label {
		area += dz * dx
	}
	if y == lv.Y-1 || lv.At(z, y+1, x) != label {
		area += dz * dx
	}
	if x == 0 || lv.At(z, y, x-1) != label {
		area += dz * dy
	}
	if x == lv.X-1 || lv.At(z, y, x+1) != label {
		area += dz * dy
	}
	return area
}

// sphericity is Wadell's ratio pi^(1/3) * (6V)^(2/3) / A.
func sphericity(vol, area float64) float64 {
	if area == 0 {
		return 0
	}
	return math.Pow(math.Pi, 1.0/3.0) * math.Pow(6*vol, 2.0/3.0) / area
}

// channelStats gathers each channel's intensities over the object mask
// and reduces them with gonum. Iteration is restricted to the bounding
// box so small objects stay cheap inside large volumes.
func channelStats(lv *volume.LabelVolume, original *volume.Volume, label int, b BoundingBox, voxels int) []ChannelStats {
	out := make([]ChannelStats, original.C)
	values := make([][]float64, original.C)
	for c := range values {
		values[c] = make([]float64, 0, voxels)
	}

	for z := b.MinZ; z <= b.MaxZ; z++ {
		for y := b.MinY; y <= b.MaxY; y++ {
			for x := b.MinX; x <= b.MaxX; x++ {
				if int(lv.At(z, y, x)) != label {
					continue
				}
				for c := 0; c < original.C; c++ {
					values[c] = append(values[c], original.At(z, y, x, c))
				}
			}
		}
	}

	for c := 0; c < original.C; c++ {
		vs := values[c]
		s := ChannelStats{Channel: c}
		s.Mean = stat.Mean(vs, nil)
		if len(vs) > 1 {
			s.StdDev = stat.StdDev(vs, nil)
		}
		for _, v := range vs {
			s.Sum += v
			if v > s.Max {
				s.Max = v
			}
		}
		out[c] = s
	}
	return out
}

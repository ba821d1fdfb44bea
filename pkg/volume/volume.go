// Package volume defines the core array types of the pycroglia pipeline:
// an intensity Volume with explicit (Z, Y, X, C) axis semantics and a
// LabelVolume mapping every voxel to an object id. Both types validate
// their shape once at construction so downstream stages can index without
// re-checking dimensions.
package volume

import (
	"fmt"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
)

// Calibration holds the physical size of one voxel along each spatial
// axis, in micrometers. The zero value means "uncalibrated" and metric
// computations fall back to raw voxel units.
type Calibration struct {
	Dz float64
	Dy float64
	Dx float64
}

// IsZero reports whether no calibration was provided.
func (c Calibration) IsZero() bool {
	return c.Dz == 0 && c.Dy == 0 && c.Dx == 0
}

// VoxelVolume returns the physical volume of a single voxel, or 1 when
// uncalibrated.
func (c Calibration) VoxelVolume() float64 {
	if c.IsZero() {
		return 1
	}
	return c.Dz * c.Dy * c.Dx
}

// Volume is an immutable multi-channel intensity stack. Data is stored
// row-major as [z][y][x][c] flattened into a single slice.
type Volume struct {
	// Data holds intensity values indexed by ((z*Y+y)*X+x)*C + c.
	Data []float64

	// Z, Y, X are the spatial extents; C is the channel count (>= 1).
	Z, Y, X, C int

	// Calib is the optional physical voxel size.
	Calib Calibration
}

// New constructs a Volume and validates that the buffer length matches
// the declared dimensions.
func New(data []float64, z, y, x, c int) (*Volume, error) {
	if z <= 0 || y <= 0 || x <= 0 || c <= 0 {
		return nil, &errs.ShapeMismatchError{
			Want: "positive dimensions",
			Got:  fmt.Sprintf("(%d, %d, %d, %d)", z, y, x, c),
		}
	}
	if len(data) != z*y*x*c {
		return nil, &errs.ShapeMismatchError{
			Want: fmt.Sprintf("%d values for (%d, %d, %d, %d)", z*y*x*c, z, y, x, c),
			Got:  fmt.Sprintf("%d values", len(data)),
		}
	}
	return &Volume{Data: data, Z: z, Y: y, X: x, C: c}, nil
}

// NewSingleChannel constructs a single-channel Volume.
func NewSingleChannel(data []float64, z, y, x int) (*Volume, error) {
	return New(data, z, y, x, 1)
}

// Index returns the flat buffer index of voxel (z, y, x) channel c.
func (v *Volume) Index(z, y, x, c int) int {
	return ((z*v.Y+y)*v.X+x)*v.C + c
}

// At returns the intensity at voxel (z, y, x) channel c.
func (v *Volume) At(z, y, x, c int) float64 {
	return v.Data[v.Index(z, y, x, c)]
}

// SpatialLen returns the number of voxels in one channel.
func (v *Volume) SpatialLen() int {
	return v.Z * v.Y * v.X
}

// MaxValue returns the maximum intensity across all channels, or 0 for an
// all-zero volume.
func (v *Volume) MaxValue() float64 {
	max := 0.0
	for _, val := range v.Data {
		if val > max {
			max = val
		}
	}
	return max
}

// SameSpatialShape reports whether o covers the same (Z, Y, X) extent.
func (v *Volume) SameSpatialShape(z, y, x int) bool {
	return v.Z == z && v.Y == y && v.X == x
}

// Channel extracts a single channel as a new single-channel Volume.
// The channel index is zero-based.
func (v *Volume) Channel(c int) (*Volume, error) {
	if c < 0 || c >= v.C {
		return nil, &errs.ConfigError{
			Code:  errs.CodeChannelOutOfRange,
			Field: "channel",
			Msg:   fmt.Sprintf("index %d outside [0, %d)", c, v.C),
		}
	}
	data := make([]float64, v.SpatialLen())
	for i := 0; i < v.SpatialLen(); i++ {
		data[i] = v.Data[i*v.C+c]
	}
	out, err := NewSingleChannel(data, v.Z, v.Y, v.X)
	if err != nil {
		return nil, err
	}
	out.Calib = v.Calib
	return out, nil
}

// LabelVolume assigns every voxel an object id; zero is background. The
// label set is dense after filtering: ids run from 1 to NumObjects with
// no gaps.
type LabelVolume struct {
	// Labels is indexed by (z*Y+y)*X + x.
	Labels []int32

	// Z, Y, X are the spatial extents.
	Z, Y, X int

	// NumObjects is the highest label id present.
	NumObjects int

	// counts[i] is the voxel count of label i; counts[0] is background.
	counts []int
}

// NewLabelVolume wraps a label buffer, computing per-label voxel counts.
// numObjects must equal the highest label id in the buffer.
func NewLabelVolume(labels []int32, z, y, x, numObjects int) (*LabelVolume, error) {
	if len(labels) != z*y*x {
		return nil, &errs.ShapeMismatchError{
			Want: fmt.Sprintf("%d labels for (%d, %d, %d)", z*y*x, z, y, x),
			Got:  fmt.Sprintf("%d labels", len(labels)),
		}
	}
	lv := &LabelVolume{Labels: labels, Z: z, Y: y, X: x, NumObjects: numObjects}
	lv.counts = make([]int, numObjects+1)
	for _, l := range labels {
		if int(l) > numObjects {
			return nil, &errs.InvalidLabelError{Label: int(l), Max: numObjects}
		}
		lv.counts[l]++
	}
	return lv, nil
}

// Index returns the flat buffer index of voxel (z, y, x).
func (lv *LabelVolume) Index(z, y, x int) int {
	return (z*lv.Y+y)*lv.X + x
}

// At returns the label at voxel (z, y, x).
func (lv *LabelVolume) At(z, y, x int) int32 {
	return lv.Labels[lv.Index(z, y, x)]
}

// Len returns the number of labeled objects, excluding background.
func (lv *LabelVolume) Len() int {
	return lv.NumObjects
}

func (lv *LabelVolume) validIndex(label int) bool {
	return label > 0 && label <= lv.NumObjects
}

// VoxelCount returns the number of voxels carrying the given label.
func (lv *LabelVolume) VoxelCount(label int) (int, error) {
	if !lv.validIndex(label) {
		return 0, &errs.InvalidLabelError{Label: label, Max: lv.NumObjects}
	}
	return lv.counts[label], nil
}

// Mask returns a binary mask (1 inside the object, 0 elsewhere) for the
// given label.
func (lv *LabelVolume) Mask(label int) ([]uint8, error) {
	if !lv.validIndex(label) {
		return nil, &errs.InvalidLabelError{Label: label, Max: lv.NumObjects}
	}
	mask := make([]uint8, len(lv.Labels))
	for i, l := range lv.Labels {
		if int(l) == label {
			mask[i] = 1
		}
	}
	return mask, nil
}

// ProjectZ flattens one object onto the XY plane by summing its mask
// along the z axis, producing a 2D occupancy image of size Y*X.
func (lv *LabelVolume) ProjectZ(label int) ([]int, error) {
	if !lv.validIndex(label) {
		return nil, &errs.InvalidLabelError{Label: label, Max: lv.NumObjects}
	}
	proj := make([]int, lv.Y*lv.X)
	for z := 0; z < lv.Z; z++ {
		for y := 0; y < lv.Y; y++ {
			for x := 0; x < lv.X; x++ {
				if int(lv.At(z, y, x)) == label {
					proj[y*lv.X+x]++
				}
			}
		}
	}
	return proj, nil
}

// ProjectMax flattens every object onto the XY plane, keeping the
// maximum label along z at each position. Used by viewers to render a
// single overview image of all objects.
func (lv *LabelVolume) ProjectMax() []int32 {
	proj := make([]int32, lv.Y*lv.X)
	for z := 0; z < lv.Z; z++ {
		for y := 0; y < lv.Y; y++ {
			for x := 0; x < lv.X; x++ {
				if l := lv.At(z, y, x); l > proj[y*lv.X+x] {
					proj[y*lv.X+x] = l
				}
			}
		}
	}
	return proj
}

// Clone returns a deep copy of the label volume.
func (lv *LabelVolume) Clone() *LabelVolume {
	labels := make([]int32, len(lv.Labels))
	copy(labels, lv.Labels)
	counts := make([]int, len(lv.counts))
	copy(counts, lv.counts)
	return &LabelVolume{
		Labels:     labels,
		Z:          lv.Z,
		Y:          lv.Y,
		X:          lv.X,
		NumObjects: lv.NumObjects,
		counts:     counts,
	}
}

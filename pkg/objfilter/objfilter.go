// Package objfilter rejects candidate objects that cannot be cells:
// too small, too large, clipped by the volume border, or too dim.
// Survivors are relabeled into a dense contiguous range preserving their
// discovery order, and the input label volume is never mutated.
package objfilter

import (
	"fmt"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Reason identifies why an object was rejected.
type Reason string

const (
	// ReasonTooSmall marks objects below the minimum voxel count.
	ReasonTooSmall Reason = "below-min-size"

	// ReasonTooLarge marks objects above the maximum voxel count.
	ReasonTooLarge Reason = "above-max-size"

	// ReasonBorder marks objects touching a volume boundary face.
	ReasonBorder Reason = "touches-border"

	// ReasonDim marks objects whose mean intensity is below the floor.
	ReasonDim Reason = "below-intensity-floor"
)

// Reasons lists every rejection reason in rule order, for callers that
// need deterministic iteration over a Tally.
var Reasons = []Reason{ReasonTooSmall, ReasonTooLarge, ReasonBorder, ReasonDim}

// Options holds the filter rules. Rules apply in a fixed order per
// object, short-circuiting on the first failure: minimum size, maximum
// size, border exclusion, intensity floor.
type Options struct {
	// MinSize rejects objects with fewer voxels. Zero disables the rule.
	MinSize int

	// MaxSize rejects objects with more voxels. Zero disables the rule.
	MaxSize int

	// ExcludeBorder rejects objects touching any boundary face.
	ExcludeBorder bool

	// IntensityFloor rejects objects whose mean intensity over the
	// original volume is strictly below this value. Zero disables the
	// rule.
	IntensityFloor float64
}

// Validate checks rule consistency.
func (o Options) Validate() error {
	if o.MinSize < 0 || o.MaxSize < 0 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "minSize/maxSize",
			Msg:   "sizes must not be negative",
		}
	}
	if o.MaxSize > 0 && o.MinSize > o.MaxSize {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "minSize",
			Msg:   fmt.Sprintf("minSize %d exceeds maxSize %d", o.MinSize, o.MaxSize),
		}
	}
	if o.IntensityFloor < 0 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "intensityFloor",
			Msg:   "floor must not be negative",
		}
	}
	return nil
}

// Tally counts rejected objects by reason.
type Tally map[Reason]int

// Total returns the number of rejected objects across all reasons.
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// Filter applies the rules to every object of lv and returns a new,
// densely relabeled volume plus the rejection tally. The intensity rule
// measures each object's mean over the first channel of vol, which
// callers supply as the unsmoothed selected channel of the source; vol
// may be nil when the rule is disabled.
func Filter(lv *volume.LabelVolume, vol *volume.Volume, opts Options) (*volume.LabelVolume, Tally, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if opts.IntensityFloor > 0 {
		if vol == nil {
			return nil, nil, &errs.ConfigError{
				Code:  errs.CodeInvalidConfig,
				Field: "intensityFloor",
				Msg:   "intensity rule requires the source volume",
			}
		}
		if !vol.SameSpatialShape(lv.Z, lv.Y, lv.X) {
			return nil, nil, &errs.ShapeMismatchError{
				Want: fmt.Sprintf("(%d, %d, %d)", lv.Z, lv.Y, lv.X),
				Got:  fmt.Sprintf("(%d, %d, %d)", vol.Z, vol.Y, vol.X),
			}
		}
	}

	stats := collect(lv, vol)
	tally := Tally{}

	// keep[label] is the dense replacement id, or 0 for rejected.
	keep := make([]int32, lv.Len()+1)
	var next int32
	for label := 1; label <= lv.Len(); label++ {
		s := stats[label]
		switch {
		case opts.MinSize > 0 && s.voxels < opts.MinSize:
			tally[ReasonTooSmall]++
		case opts.MaxSize > 0 && s.voxels > opts.MaxSize:
			tally[ReasonTooLarge]++
		case opts.ExcludeBorder && s.border:
			tally[ReasonBorder]++
		case opts.IntensityFloor > 0 && s.sum/float64(s.voxels) < opts.IntensityFloor:
			tally[ReasonDim]++
		default:
			next++
			keep[label] = next
		}
	}

	labels := make([]int32, len(lv.Labels))
	for i, l := range lv.Labels {
		if l != 0 {
			labels[i] = keep[l]
		}
	}

	out, err := volume.NewLabelVolume(labels, lv.Z, lv.Y, lv.X, int(next))
	if err != nil {
		return nil, nil, err
	}
	return out, tally, nil
}

type objectStats struct {
	voxels int
	border bool
	sum    float64
}

// collect gathers per-object voxel counts, border contact and intensity
// sums in one pass over the label volume.
func collect(lv *volume.LabelVolume, vol *volume.Volume) []objectStats {
	stats := make([]objectStats, lv.Len()+1)
	for z := 0; z < lv.Z; z++ {
		for y := 0; y < lv.Y; y++ {
			for x := 0; x < lv.X; x++ {
				label := lv.At(z, y, x)
				if label == 0 {
					continue
				}
				s := &stats[label]
				s.voxels++
				// Z faces only count for true stacks; a single-slice
				// volume would otherwise reject every object.
				if y == 0 || y == lv.Y-1 || x == 0 || x == lv.X-1 ||
					(lv.Z > 1 && (z == 0 || z == lv.Z-1)) {
					s.border = true
				}
				if vol != nil {
					s.sum += vol.At(z, y, x, 0)
				}
			}
		}
	}
	return stats
}

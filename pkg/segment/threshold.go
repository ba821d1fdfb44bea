// Package segment produces a label volume from a working intensity
// volume: a binary foreground mask via the configured threshold method,
// then connected-component labeling under the configured connectivity.
// Label assignment is deterministic, so repeated runs over the same
// input yield the same label ids.
package segment

import (
	"fmt"
	"math"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// ThresholdMethod selects how the binary foreground mask is computed.
type ThresholdMethod string

const (
	// ThresholdFixed uses an absolute intensity value.
	ThresholdFixed ThresholdMethod = "fixed"

	// ThresholdOtsu computes one global Otsu threshold over the whole
	// volume.
	ThresholdOtsu ThresholdMethod = "otsu"

	// ThresholdOtsuSlice computes an Otsu threshold independently for
	// every Z slice, which compensates for depth-dependent attenuation
	// in confocal stacks.
	ThresholdOtsuSlice ThresholdMethod = "otsu-slice"
)

const histogramBins = 256

// ThresholdOptions parameterizes mask computation.
type ThresholdOptions struct {
	// Method selects fixed, global Otsu or per-slice Otsu thresholding.
	Method ThresholdMethod

	// Value is the absolute threshold for ThresholdFixed.
	Value float64

	// Adjust multiplies a computed Otsu threshold; 1.0 keeps it as-is.
	// Ignored by ThresholdFixed. Zero means 1.0.
	Adjust float64
}

// Validate checks the threshold options.
func (o ThresholdOptions) Validate() error {
	switch o.Method {
	case ThresholdFixed, ThresholdOtsu, ThresholdOtsuSlice:
	default:
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "thresholdMethod",
			Msg:   fmt.Sprintf("unknown method %q", o.Method),
		}
	}
	if o.Adjust < 0 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "thresholdAdjust",
			Msg:   fmt.Sprintf("adjust factor %g must not be negative", o.Adjust),
		}
	}
	return nil
}

// Mask computes the binary foreground mask of a single-channel volume.
// Voxels strictly above the threshold are foreground. An all-background
// result is valid output, not an error.
func Mask(vol *volume.Volume, opts ThresholdOptions) ([]uint8, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if vol.C != 1 {
		return nil, &errs.ShapeMismatchError{
			Want: "single-channel working volume",
			Got:  fmt.Sprintf("%d channels", vol.C),
		}
	}

	adjust := opts.Adjust
	if adjust == 0 {
		adjust = 1.0
	}

	mask := make([]uint8, vol.SpatialLen())
	switch opts.Method {
	case ThresholdFixed:
		applyThreshold(vol.Data, mask, opts.Value)

	case ThresholdOtsu:
		max := vol.MaxValue()
		level := otsuLevel(vol.Data, max) * adjust
		applyThreshold(vol.Data, mask, math.Min(level, max))

	case ThresholdOtsuSlice:
		max := vol.MaxValue()
		sliceLen := vol.Y * vol.X
		for z := 0; z < vol.Z; z++ {
			slice := vol.Data[z*sliceLen : (z+1)*sliceLen]
			level := otsuLevel(slice, max) * adjust
			applyThreshold(slice, mask[z*sliceLen:(z+1)*sliceLen], math.Min(level, max))
		}
	}
	return mask, nil
}

func applyThreshold(data []float64, mask []uint8, level float64) {
	for i, v := range data {
		if v > level {
			mask[i] = 1
		}
	}
}

// otsuLevel computes Otsu's threshold over a 256-bin histogram of the
// data scaled to [0, max]. The returned level is in intensity units.
func otsuLevel(data []float64, max float64) float64 {
	if max == 0 {
		return 0
	}

	var hist [histogramBins]int
	for _, v := range data {
		bin := int(v / max * (histogramBins - 1))
		if bin < 0 {
			bin = 0
		} else if bin >= histogramBins {
			bin = histogramBins - 1
		}
		hist[bin]++
	}

	total := len(data)
	sumAll := 0.0
	for i, c := range hist {
		sumAll += float64(i) * float64(c)
	}

	// Maximize between-class variance over all candidate bins.
	bestBin, bestVariance := 0, -1.0
	sumBelow, countBelow := 0.0, 0
	for i := 0; i < histogramBins; i++ {
		countBelow += hist[i]
		if countBelow == 0 {
			continue
		}
		countAbove := total - countBelow
		if countAbove == 0 {
			break
		}
		sumBelow += float64(i) * float64(hist[i])

		meanBelow := sumBelow / float64(countBelow)
		meanAbove := (sumAll - sumBelow) / float64(countAbove)
		diff := meanBelow - meanAbove
		variance := float64(countBelow) * float64(countAbove) * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestBin = i
		}
	}

	// Return the center of the winning bin so values falling inside it
	// stay below the strict foreground comparison.
	return (float64(bestBin) + 0.5) / (histogramBins - 1) * max
}

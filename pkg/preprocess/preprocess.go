// Package preprocess turns a loaded multi-channel volume into the
// single-channel working volume that segmentation operates on. It never
// mutates its input: every operation allocates a fresh volume, so the
// original intensities stay available for measurement after filtering.
package preprocess

import (
	"fmt"
	"math"
	"sort"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// SmoothingMethod selects the noise-suppression filter applied before
// thresholding.
type SmoothingMethod string

const (
	// SmoothingNone disables smoothing.
	SmoothingNone SmoothingMethod = "none"

	// SmoothingGaussian applies a separable 3D Gaussian kernel.
	SmoothingGaussian SmoothingMethod = "gaussian"

	// SmoothingMedian applies a cubic median filter.
	SmoothingMedian SmoothingMethod = "median"
)

// Options controls the preprocessing stage.
type Options struct {
	// Channel is the zero-based channel to select when ChannelWeights is
	// empty.
	Channel int

	// ChannelWeights combines all channels into one working channel as a
	// weighted sum. When non-empty its length must equal the volume's
	// channel count.
	ChannelWeights []float64

	// Smoothing selects the noise filter.
	Smoothing SmoothingMethod

	// SmoothingRadius is the kernel radius in voxels; zero disables
	// smoothing regardless of method.
	SmoothingRadius int
}

// Validate checks the options against a volume's channel count.
func (o Options) Validate(channels int) error {
	if len(o.ChannelWeights) > 0 && len(o.ChannelWeights) != channels {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "channelWeights",
			Msg:   fmt.Sprintf("%d weights for %d channels", len(o.ChannelWeights), channels),
		}
	}
	if len(o.ChannelWeights) == 0 && (o.Channel < 0 || o.Channel >= channels) {
		return &errs.ConfigError{
			Code:  errs.CodeChannelOutOfRange,
			Field: "channel",
			Msg:   fmt.Sprintf("index %d outside [0, %d)", o.Channel, channels),
		}
	}
	if o.SmoothingRadius < 0 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "smoothingRadius",
			Msg:   fmt.Sprintf("radius %d must not be negative", o.SmoothingRadius),
		}
	}
	switch o.Smoothing {
	case SmoothingNone, SmoothingGaussian, SmoothingMedian, "":
	default:
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "smoothing",
			Msg:   fmt.Sprintf("unknown method %q", o.Smoothing),
		}
	}
	return nil
}

// Apply runs channel combination followed by optional smoothing and
// returns a new single-channel working volume. The same input and
// options always produce bit-identical output.
func Apply(vol *volume.Volume, opts Options) (*volume.Volume, error) {
	if err := opts.Validate(vol.C); err != nil {
		return nil, err
	}

	working, err := combineChannels(vol, opts)
	if err != nil {
		return nil, err
	}

	if opts.SmoothingRadius == 0 {
		return working, nil
	}
	switch opts.Smoothing {
	case SmoothingGaussian:
		return gaussianSmooth(working, opts.SmoothingRadius), nil
	case SmoothingMedian:
		return medianSmooth(working, opts.SmoothingRadius), nil
	default:
		return working, nil
	}
}

func combineChannels(vol *volume.Volume, opts Options) (*volume.Volume, error) {
	if len(opts.ChannelWeights) == 0 {
		return vol.Channel(opts.Channel)
	}

	data := make([]float64, vol.SpatialLen())
	for i := 0; i < vol.SpatialLen(); i++ {
		sum := 0.0
		for c, w := range opts.ChannelWeights {
			sum += w * vol.Data[i*vol.C+c]
		}
		data[i] = sum
	}
	out, err := volume.NewSingleChannel(data, vol.Z, vol.Y, vol.X)
	if err != nil {
		return nil, err
	}
	out.Calib = vol.Calib
	return out, nil
}

// gaussianKernel builds a normalized 1D kernel of half-width radius with
// sigma chosen so the tails fall near the kernel edge.
func gaussianKernel(radius int) []float64 {
	sigma := float64(radius) / 2.0
	if sigma == 0 {
		return []float64{1}
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// gaussianSmooth applies the kernel separably along x, y and z. Borders
// are handled by renormalizing over the in-bounds taps.
func gaussianSmooth(vol *volume.Volume, radius int) *volume.Volume {
	kernel := gaussianKernel(radius)

	cur := make([]float64, len(vol.Data))
	copy(cur, vol.Data)
	dst := make([]float64, len(cur))

	// X axis: one line per (z, y).
	for z := 0; z < vol.Z; z++ {
		for y := 0; y < vol.Y; y++ {
			convolveLine(cur, dst, (z*vol.Y+y)*vol.X, 1, vol.X, kernel, radius)
		}
	}
	cur, dst = dst, cur

	// Y axis: one line per (z, x).
	for z := 0; z < vol.Z; z++ {
		for x := 0; x < vol.X; x++ {
			convolveLine(cur, dst, z*vol.Y*vol.X+x, vol.X, vol.Y, kernel, radius)
		}
	}
	cur, dst = dst, cur

	// Z axis: one line per (y, x).
	for y := 0; y < vol.Y; y++ {
		for x := 0; x < vol.X; x++ {
			convolveLine(cur, dst, y*vol.X+x, vol.Y*vol.X, vol.Z, kernel, radius)
		}
	}

	return &volume.Volume{Data: dst, Z: vol.Z, Y: vol.Y, X: vol.X, C: 1, Calib: vol.Calib}
}

func convolveLine(src, dst []float64, base, step, limit int, kernel []float64, radius int) {
	for i := 0; i < limit; i++ {
		sum, weight := 0.0, 0.0
		for k := -radius; k <= radius; k++ {
			j := i + k
			if j < 0 || j >= limit {
				continue
			}
			w := kernel[k+radius]
			sum += w * src[base+j*step]
			weight += w
		}
		dst[base+i*step] = sum / weight
	}
}

// medianSmooth replaces each voxel with the median of its cubic window.
func medianSmooth(vol *volume.Volume, radius int) *volume.Volume {
	data := make([]float64, len(vol.Data))
	window := make([]float64, 0, (2*radius+1)*(2*radius+1)*(2*radius+1))

	for z := 0; z < vol.Z; z++ {
		for y := 0; y < vol.Y; y++ {
			for x := 0; x < vol.X; x++ {
				window = window[:0]
				for dz := -radius; dz <= radius; dz++ {
					for dy := -radius; dy <= radius; dy++ {
						for dx := -radius; dx <= radius; dx++ {
							zz, yy, xx := z+dz, y+dy, x+dx
							if zz < 0 || zz >= vol.Z || yy < 0 || yy >= vol.Y || xx < 0 || xx >= vol.X {
								continue
							}
							window = append(window, vol.At(zz, yy, xx, 0))
						}
					}
				}
				sort.Float64s(window)
				data[vol.Index(z, y, x, 0)] = median(window)
			}
		}
	}

	out := &volume.Volume{Data: data, Z: vol.Z, Y: vol.Y, X: vol.X, C: 1, Calib: vol.Calib}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

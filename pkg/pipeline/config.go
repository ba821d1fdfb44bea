// Package pipeline sequences the pycroglia stages (load, preprocess,
// segment, split, filter, analyze) into one deterministic run over a
// single volume. The orchestrator owns no global state: every run gets
// its own config value and produces a self-contained result, so
// independent runs are safe to execute concurrently.
package pipeline

import (
	"fmt"

	"github.com/CGK-Laboratory/pycroglia/pkg/cells"
	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/erosion"
	"github.com/CGK-Laboratory/pycroglia/pkg/objfilter"
	"github.com/CGK-Laboratory/pycroglia/pkg/preprocess"
	"github.com/CGK-Laboratory/pycroglia/pkg/segment"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Config is the immutable parameter set of one pipeline run. It is
// owned by the caller; the pipeline never reads configuration from the
// environment or from files.
type Config struct {
	// Channels is the number of interleaved channels in the source file.
	Channels int

	// Channel selects the working channel for segmentation (zero-based)
	// when ChannelWeights is empty.
	Channel int

	// ChannelWeights combines all channels into the working channel as
	// a weighted sum. Empty means plain channel selection.
	ChannelWeights []float64

	// Smoothing and SmoothingRadius configure pre-threshold denoising.
	Smoothing       preprocess.SmoothingMethod
	SmoothingRadius int

	// ThresholdMethod, ThresholdValue and ThresholdAdjust configure the
	// foreground mask (see segment.ThresholdOptions).
	ThresholdMethod segment.ThresholdMethod
	ThresholdValue  float64
	ThresholdAdjust float64

	// Connectivity is the voxel adjacency rule for labeling.
	Connectivity segment.Connectivity

	// SplitLargeCells enables erosion/cluster splitting of objects
	// above CutOffSize into individual cells.
	SplitLargeCells bool
	CutOffSize      int
	Noise           int

	// MinSize, MaxSize, ExcludeBorderObjects and IntensityFloor
	// configure object filtering (see objfilter.Options).
	MinSize              int
	MaxSize              int
	ExcludeBorderObjects bool
	IntensityFloor       float64

	// Calibration is the physical voxel size; zero means raw voxel
	// units.
	Calibration volume.Calibration

	// ComputeSkeletonMetrics enables per-object skeleton descriptors.
	ComputeSkeletonMetrics bool

	// ComputeTerritory enables convex-hull territorial volumes and
	// coverage metrics.
	ComputeTerritory bool
}

// DefaultConfig returns the parameter set used when the caller does not
// override anything: per-slice Otsu thresholding, 26-connectivity, no
// smoothing, no splitting.
func DefaultConfig() Config {
	return Config{
		Channels:        1,
		ThresholdMethod: segment.ThresholdOtsuSlice,
		ThresholdAdjust: 1.0,
		Connectivity:    segment.ConnectivityCorners,
	}
}

// Validate checks the whole configuration up front so a run fails
// before any I/O when a value is out of range.
func (c Config) Validate() error {
	if err := c.thresholdOptions().Validate(); err != nil {
		return err
	}
	if err := c.Connectivity.Validate(); err != nil {
		return err
	}
	if err := c.filterOptions().Validate(); err != nil {
		return err
	}
	if c.Channels < 1 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidChannel,
			Field: "channels",
			Msg:   fmt.Sprintf("channel count %d must be at least 1", c.Channels),
		}
	}
	if c.SplitLargeCells && c.CutOffSize <= 0 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidConfig,
			Field: "cutOffSize",
			Msg:   "splitting requires a positive cut-off size",
		}
	}
	// Channel selection is validated against the loaded volume's actual
	// channel count during the run; the declared count covers the rest.
	return c.preprocessOptions().Validate(c.Channels)
}

func (c Config) preprocessOptions() preprocess.Options {
	return preprocess.Options{
		Channel:         c.Channel,
		ChannelWeights:  c.ChannelWeights,
		Smoothing:       c.Smoothing,
		SmoothingRadius: c.SmoothingRadius,
	}
}

func (c Config) thresholdOptions() segment.ThresholdOptions {
	return segment.ThresholdOptions{
		Method: c.ThresholdMethod,
		Value:  c.ThresholdValue,
		Adjust: c.ThresholdAdjust,
	}
}

func (c Config) filterOptions() objfilter.Options {
	return objfilter.Options{
		MinSize:        c.MinSize,
		MaxSize:        c.MaxSize,
		ExcludeBorder:  c.ExcludeBorderObjects,
		IntensityFloor: c.IntensityFloor,
	}
}

func (c Config) splitConfig() cells.Config {
	return cells.Config{
		CutOffSize:   c.CutOffSize,
		Noise:        c.Noise,
		Connectivity: c.Connectivity,
		Footprint:    erosion.Octahedron{R: 1},
	}
}

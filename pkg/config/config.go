// Package config provides configuration loading for the pycroglia CLI.
// It handles loading configuration from YAML files, provides default
// values, and converts the file representation into the in-memory
// pipeline.Config the core consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
	"github.com/CGK-Laboratory/pycroglia/pkg/preprocess"
	"github.com/CGK-Laboratory/pycroglia/pkg/segment"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Input parameters
	Input struct {
		// Channels is the number of interleaved channels in the stack.
		Channels int `yaml:"channels"`

		// Channel is the zero-based working channel for segmentation.
		Channel int `yaml:"channel"`

		// ChannelWeights combines channels instead of selecting one.
		ChannelWeights []float64 `yaml:"channelWeights"`
	} `yaml:"input"`

	// Preprocessing parameters
	Preprocess struct {
		// Smoothing is none, gaussian or median.
		Smoothing string `yaml:"smoothing"`

		// SmoothingRadius is the kernel radius in voxels.
		SmoothingRadius int `yaml:"smoothingRadius"`
	} `yaml:"preprocess"`

	// Segmentation parameters
	Segmentation struct {
		// ThresholdMethod is fixed, otsu or otsu-slice.
		ThresholdMethod string `yaml:"thresholdMethod"`

		// ThresholdValue is the absolute level for the fixed method.
		ThresholdValue float64 `yaml:"thresholdValue"`

		// ThresholdAdjust scales a computed Otsu level.
		ThresholdAdjust float64 `yaml:"thresholdAdjust"`

		// Connectivity is 1 (faces), 2 (edges) or 3 (corners).
		Connectivity int `yaml:"connectivity"`

		// SplitLargeCells enables erosion/cluster cell splitting.
		SplitLargeCells bool `yaml:"splitLargeCells"`

		// CutOffSize is the voxel count above which cells are split.
		CutOffSize int `yaml:"cutOffSize"`

		// Noise is the smallest fragment kept after splitting.
		Noise int `yaml:"noise"`
	} `yaml:"segmentation"`

	// Filtering parameters
	Filter struct {
		// MinSize and MaxSize bound object voxel counts; zero disables.
		MinSize int `yaml:"minSize"`
		MaxSize int `yaml:"maxSize"`

		// ExcludeBorderObjects rejects objects clipped by the volume
		// boundary.
		ExcludeBorderObjects bool `yaml:"excludeBorderObjects"`

		// IntensityFloor rejects objects dimmer than this mean value.
		IntensityFloor float64 `yaml:"intensityFloor"`
	} `yaml:"filter"`

	// Analysis parameters
	Analysis struct {
		// VoxelSize is the physical voxel extent (dz, dy, dx) in
		// micrometers; zeros mean raw voxel units.
		VoxelSize struct {
			Dz float64 `yaml:"dz"`
			Dy float64 `yaml:"dy"`
			Dx float64 `yaml:"dx"`
		} `yaml:"voxelSize"`

		// SkeletonMetrics enables branch/endpoint descriptors.
		SkeletonMetrics bool `yaml:"skeletonMetrics"`

		// Territory enables convex-hull coverage metrics.
		Territory bool `yaml:"territory"`
	} `yaml:"analysis"`
}

// DefaultConfig returns a configuration with default values: one
// channel, per-slice Otsu thresholding, 26-connectivity, no smoothing.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Channels = 1

	cfg.Preprocess.Smoothing = string(preprocess.SmoothingNone)

	cfg.Segmentation.ThresholdMethod = string(segment.ThresholdOtsuSlice)
	cfg.Segmentation.ThresholdAdjust = 1.0
	cfg.Segmentation.Connectivity = int(segment.ConnectivityCorners)

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Pipeline converts the file representation into the pipeline.Config
// consumed by the core. The result is validated by the pipeline itself
// at the start of a run.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Channels:       c.Input.Channels,
		Channel:        c.Input.Channel,
		ChannelWeights: c.Input.ChannelWeights,

		Smoothing:       preprocess.SmoothingMethod(c.Preprocess.Smoothing),
		SmoothingRadius: c.Preprocess.SmoothingRadius,

		ThresholdMethod: segment.ThresholdMethod(c.Segmentation.ThresholdMethod),
		ThresholdValue:  c.Segmentation.ThresholdValue,
		ThresholdAdjust: c.Segmentation.ThresholdAdjust,
		Connectivity:    segment.Connectivity(c.Segmentation.Connectivity),

		SplitLargeCells: c.Segmentation.SplitLargeCells,
		CutOffSize:      c.Segmentation.CutOffSize,
		Noise:           c.Segmentation.Noise,

		MinSize:              c.Filter.MinSize,
		MaxSize:              c.Filter.MaxSize,
		ExcludeBorderObjects: c.Filter.ExcludeBorderObjects,
		IntensityFloor:       c.Filter.IntensityFloor,

		Calibration: volume.Calibration{
			Dz: c.Analysis.VoxelSize.Dz,
			Dy: c.Analysis.VoxelSize.Dy,
			Dx: c.Analysis.VoxelSize.Dx,
		},
		ComputeSkeletonMetrics: c.Analysis.SkeletonMetrics,
		ComputeTerritory:       c.Analysis.Territory,
	}
}

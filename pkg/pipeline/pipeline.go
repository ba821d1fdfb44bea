package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CGK-Laboratory/pycroglia/pkg/cells"
	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/morphology"
	"github.com/CGK-Laboratory/pycroglia/pkg/objfilter"
	"github.com/CGK-Laboratory/pycroglia/pkg/preprocess"
	"github.com/CGK-Laboratory/pycroglia/pkg/segment"
	"github.com/CGK-Laboratory/pycroglia/pkg/stack"
	"github.com/CGK-Laboratory/pycroglia/pkg/territory"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// Stage names used in timings and PipelineError values.
const (
	StageLoad       = "load"
	StagePreprocess = "preprocess"
	StageSegment    = "segment"
	StageSplit      = "split"
	StageFilter     = "filter"
	StageAnalyze    = "analyze"
	StageTerritory  = "territory"
)

// Source supplies the volume a run operates on. FileSource covers the
// normal path through the stack readers; VolumeSource lets controllers
// and tests feed an already-loaded volume.
type Source interface {
	// Load produces the multi-channel volume for the run.
	Load(cfg Config) (*volume.Volume, error)

	// Name identifies the source in results and diagnostics.
	Name() string
}

// FileSource loads a multi-page TIFF or LSM stack from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(cfg Config) (*volume.Volume, error) {
	reader, err := stack.NewReader(s.Path)
	if err != nil {
		return nil, err
	}
	vol, err := reader.ReadAll(cfg.Channels)
	if err != nil {
		return nil, err
	}
	vol.Calib = cfg.Calibration
	return vol, nil
}

func (s FileSource) Name() string { return s.Path }

// DirSource loads a single-channel stack from a directory of 2D slices.
type DirSource struct {
	Path string
}

func (s DirSource) Load(cfg Config) (*volume.Volume, error) {
	reader, err := stack.NewDirReader(s.Path)
	if err != nil {
		return nil, err
	}
	vol, err := reader.Read()
	if err != nil {
		return nil, err
	}
	vol.Calib = cfg.Calibration
	return vol, nil
}

func (s DirSource) Name() string { return s.Path }

// VolumeSource wraps an in-memory volume.
type VolumeSource struct {
	Vol   *volume.Volume
	Label string
}

func (s VolumeSource) Load(cfg Config) (*volume.Volume, error) {
	if s.Vol == nil {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: s.Label,
			Err: fmt.Errorf("nil volume")}
	}
	vol := *s.Vol
	if !cfg.Calibration.IsZero() {
		vol.Calib = cfg.Calibration
	}
	return &vol, nil
}

func (s VolumeSource) Name() string { return s.Label }

// StageTiming records the wall-clock duration of one stage.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Result is the complete outcome of one pipeline run; the only value
// returned to callers.
type Result struct {
	// RunID uniquely identifies this run in logs and exports.
	RunID uuid.UUID

	// Source names the input the run consumed.
	Source string

	// Descriptors holds the per-object morphology records in label
	// order.
	Descriptors []morphology.Descriptor

	// ObjectsBeforeFilter and ObjectsAfterFilter count candidates
	// around the filtering stage.
	ObjectsBeforeFilter int
	ObjectsAfterFilter  int

	// Rejected tallies filtered objects by reason.
	Rejected objfilter.Tally

	// TerritorialVolumes and Territory are populated when territorial
	// analysis is enabled.
	TerritorialVolumes []float64
	Territory          *territory.Metrics

	// Timings lists per-stage wall-clock durations in execution order.
	Timings []StageTiming

	// Warnings collects non-fatal conditions observed during the run.
	Warnings []string
}

// Run executes the full pipeline over one source.
//
// Stages execute strictly in order; the first failure propagates
// wrapped in a PipelineError carrying the stage name. The context is
// checked between stages (never inside one): when it is done the run
// aborts with ErrCancelled and no partial result.
//
// Identical source data and config produce an identical result apart
// from RunID and timings: same label ids, same object count, same
// metrics.
func Run(ctx context.Context, src Source, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &errs.PipelineError{Stage: StageLoad, Err: err}
	}

	res := &Result{
		RunID:  uuid.New(),
		Source: src.Name(),
	}

	// load
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	original, err := src.Load(cfg)
	if err != nil {
		return nil, &errs.PipelineError{Stage: StageLoad, Err: err}
	}
	res.record(StageLoad, start)

	// preprocess
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	start = time.Now()
	working, err := preprocess.Apply(original, cfg.preprocessOptions())
	if err != nil {
		return nil, &errs.PipelineError{Stage: StagePreprocess, Err: err}
	}
	res.record(StagePreprocess, start)

	// segment
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	start = time.Now()
	labeled, err := segment.Segment(working, cfg.thresholdOptions(), cfg.Connectivity)
	if err != nil {
		return nil, &errs.PipelineError{Stage: StageSegment, Err: err}
	}
	res.record(StageSegment, start)

	// split
	if cfg.SplitLargeCells {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		start = time.Now()
		split, unsplit, err := cells.Split(labeled, cfg.splitConfig())
		if err != nil {
			return nil, &errs.PipelineError{Stage: StageSplit, Err: err}
		}
		for _, label := range unsplit {
			res.warnf("cell %d exceeded the cut-off size but eroded to nothing; kept whole", label)
		}
		labeled = split
		res.record(StageSplit, start)
	}
	res.ObjectsBeforeFilter = labeled.Len()

	// filter
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	start = time.Now()
	// The intensity rule measures the original signal, so it gets the
	// selected channel before smoothing rather than the working copy.
	var intensity *volume.Volume
	if cfg.IntensityFloor > 0 {
		opts := cfg.preprocessOptions()
		opts.Smoothing = preprocess.SmoothingNone
		intensity, err = preprocess.Apply(original, opts)
		if err != nil {
			return nil, &errs.PipelineError{Stage: StageFilter, Err: err}
		}
	}
	filtered, tally, err := objfilter.Filter(labeled, intensity, cfg.filterOptions())
	if err != nil {
		return nil, &errs.PipelineError{Stage: StageFilter, Err: err}
	}
	res.ObjectsAfterFilter = filtered.Len()
	res.Rejected = tally
	for _, reason := range objfilter.Reasons {
		if count := tally[reason]; count > 0 {
			res.warnf("%d objects rejected: %s", count, reason)
		}
	}
	res.record(StageFilter, start)

	// analyze
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	start = time.Now()
	descriptors, err := morphology.Analyze(filtered, original, morphology.Options{
		ComputeSkeleton: cfg.ComputeSkeletonMetrics,
	})
	if err != nil {
		return nil, &errs.PipelineError{Stage: StageAnalyze, Err: err}
	}
	res.Descriptors = descriptors
	res.record(StageAnalyze, start)

	// territory
	if cfg.ComputeTerritory {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		start = time.Now()
		volumes, err := territory.Volumes(filtered, original.Calib)
		if err != nil {
			return nil, &errs.PipelineError{Stage: StageTerritory, Err: err}
		}
		metrics := territory.ComputeMetrics(volumes, filtered.Z, filtered.Y, filtered.X, original.Calib)
		res.TerritorialVolumes = volumes
		res.Territory = &metrics
		res.record(StageTerritory, start)
	}

	return res, nil
}

func (r *Result) record(stage string, start time.Time) {
	r.Timings = append(r.Timings, StageTiming{Stage: stage, Duration: time.Since(start)})
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errs.ErrCancelled, ctx.Err())
	default:
		return nil
	}
}

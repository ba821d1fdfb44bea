// Package errs defines the coded error taxonomy shared by the pycroglia
// core pipeline. Every error that can cross a package boundary carries a
// numeric code so that callers (typically the UI controllers) can map
// failures to user-facing messages without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Error codes grouped by subsystem. Codes in the 1000 range originate in
// file loading and configuration, codes in the 2000 range indicate label
// bookkeeping violations.
const (
	// CodePathNotFound indicates the input path does not exist.
	CodePathNotFound = 1000

	// CodeBadTiffExtension indicates a file passed to the TIFF reader
	// without a .tif or .tiff suffix.
	CodeBadTiffExtension = 1001

	// CodeBadLsmExtension indicates a file passed to the LSM reader
	// without a .lsm suffix.
	CodeBadLsmExtension = 1002

	// CodeInvalidChannel indicates a channel count below 1.
	CodeInvalidChannel = 1003

	// CodeChannelOutOfRange indicates a channel of interest beyond the
	// declared number of channels.
	CodeChannelOutOfRange = 1004

	// CodeUnsupportedFile indicates a file whose extension matches no
	// known reader.
	CodeUnsupportedFile = 1005

	// CodeUnsupportedEncoding indicates TIFF data this reader cannot
	// decode (compression scheme, bit depth or photometric mode).
	CodeUnsupportedEncoding = 1006

	// CodeShapeMismatch indicates spatial dimensions that disagree
	// between channels, slices or paired volumes.
	CodeShapeMismatch = 1007

	// CodeInvalidConfig indicates an out-of-range or inconsistent
	// pipeline configuration value.
	CodeInvalidConfig = 1008

	// CodeInvalidLabel indicates an object index outside the labeled
	// range.
	CodeInvalidLabel = 2000

	// CodeNoNuclei indicates that erosion removed every voxel of a cell
	// that was about to be split.
	CodeNoNuclei = 2001

	// CodeDegenerateObject indicates a surviving label with zero voxels,
	// which is always an upstream bug.
	CodeDegenerateObject = 2002
)

// LoadError reports an unreadable, missing or unsupported input file.
type LoadError struct {
	Code int
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load error %d: %s: %v", e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("load error %d: %s", e.Code, e.Path)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ShapeMismatchError reports spatial dimensions that do not agree.
type ShapeMismatchError struct {
	Want string
	Got  string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch %d: want %s, got %s", CodeShapeMismatch, e.Want, e.Got)
}

// ConfigError reports an invalid configuration value. Code distinguishes
// channel validation failures (1003/1004) from general validation (1008).
type ConfigError struct {
	Code  int
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error %d: %s: %s", e.Code, e.Field, e.Msg)
}

// InvalidLabelError reports an object index outside the labeled range.
type InvalidLabelError struct {
	Label int
	Max   int
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("label error %d: index %d outside [1, %d]", CodeInvalidLabel, e.Label, e.Max)
}

// NoNucleiError reports that no nuclei survived erosion of a cell mask.
type NoNucleiError struct {
	Label int
}

func (e *NoNucleiError) Error() string {
	return fmt.Sprintf("segmentation error %d: no nuclei detected in cell %d", CodeNoNuclei, e.Label)
}

// DegenerateObjectError reports a surviving label with zero voxels. This
// is an invariant violation in the segmenter or filter, never a condition
// the caller should recover from.
type DegenerateObjectError struct {
	Label int
}

func (e *DegenerateObjectError) Error() string {
	return fmt.Sprintf("invariant violation %d: label %d has zero voxels", CodeDegenerateObject, e.Label)
}

// PipelineError wraps a stage failure with the name of the stage that
// produced it, so diagnostics can report where a run stopped.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ErrCancelled is returned when a caller-supplied context is done and the
// orchestrator aborts between stages.
var ErrCancelled = errors.New("pipeline run cancelled")

// Code extracts the numeric error code from any error in the taxonomy,
// walking wrapped errors. It returns 0 for errors without a code.
func Code(err error) int {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	var sme *ShapeMismatchError
	if errors.As(err, &sme) {
		return CodeShapeMismatch
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var ile *InvalidLabelError
	if errors.As(err, &ile) {
		return CodeInvalidLabel
	}
	var nne *NoNucleiError
	if errors.As(err, &nne) {
		return CodeNoNuclei
	}
	var doe *DegenerateObjectError
	if errors.As(err, &doe) {
		return CodeDegenerateObject
	}
	return 0
}

// Package stack loads volumetric microscopy images into volume.Volume
// values. Multi-channel acquisitions interleave their channels page by
// page inside a single TIFF or LSM container: a C-channel stack with Z
// slices is stored as Z*C pages, where page i belongs to channel i mod C.
// Readers in this package de-interleave that layout and validate channel
// arguments before touching the file.
package stack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// MultiChannelReader reads one channel of interest out of an interleaved
// multi-channel image stack.
type MultiChannelReader interface {
	// Read extracts a single channel from the stack.
	//
	// Parameters:
	//   - ch: the number of channels in the acquisition
	//   - chInterest: the 1-based channel of interest to extract
	//
	// Returns:
	//   - a single-channel Volume with one Z slice per extracted page
	Read(ch, chInterest int) (*volume.Volume, error)

	// ReadAll extracts every channel into one multi-channel Volume.
	ReadAll(ch int) (*volume.Volume, error)
}

// TiffReader reads multi-page TIFF stacks (.tif, .tiff).
type TiffReader struct {
	path string
}

// LsmReader reads Zeiss LSM stacks (.lsm). LSM files are TIFF containers
// with vendor metadata, so decoding is shared with TiffReader.
type LsmReader struct {
	path string
}

var (
	tiffExtensions = []string{".tif", ".tiff"}
	lsmExtensions  = []string{".lsm"}
)

// NewTiffReader validates the path and suffix and returns a TIFF reader.
func NewTiffReader(path string) (*TiffReader, error) {
	if err := validatePath(path, tiffExtensions, errs.CodeBadTiffExtension); err != nil {
		return nil, err
	}
	return &TiffReader{path: path}, nil
}

// NewLsmReader validates the path and suffix and returns an LSM reader.
func NewLsmReader(path string) (*LsmReader, error) {
	if err := validatePath(path, lsmExtensions, errs.CodeBadLsmExtension); err != nil {
		return nil, err
	}
	return &LsmReader{path: path}, nil
}

// NewReader creates the reader matching the file extension.
//
// Returns:
//   - a TiffReader for .tif/.tiff, an LsmReader for .lsm
//   - a LoadError with CodeUnsupportedFile for anything else
func NewReader(path string) (MultiChannelReader, error) {
	suffix := strings.ToLower(filepath.Ext(path))
	if contains(tiffExtensions, suffix) {
		return NewTiffReader(path)
	}
	if contains(lsmExtensions, suffix) {
		return NewLsmReader(path)
	}
	return nil, &errs.LoadError{Code: errs.CodeUnsupportedFile, Path: path}
}

func (r *TiffReader) Read(ch, chInterest int) (*volume.Volume, error) {
	return readChannel(r.path, ch, chInterest)
}

func (r *TiffReader) ReadAll(ch int) (*volume.Volume, error) {
	return readAllChannels(r.path, ch)
}

func (r *LsmReader) Read(ch, chInterest int) (*volume.Volume, error) {
	return readChannel(r.path, ch, chInterest)
}

func (r *LsmReader) ReadAll(ch int) (*volume.Volume, error) {
	return readAllChannels(r.path, ch)
}

// validateChannels checks the channel arguments shared by every reader.
func validateChannels(ch, chInterest int) error {
	if ch < 1 {
		return &errs.ConfigError{
			Code:  errs.CodeInvalidChannel,
			Field: "channels",
			Msg:   fmt.Sprintf("channel count %d must be at least 1", ch),
		}
	}
	if chInterest < 1 || chInterest > ch {
		return &errs.ConfigError{
			Code:  errs.CodeChannelOutOfRange,
			Field: "channelOfInterest",
			Msg:   fmt.Sprintf("channel of interest %d outside [1, %d]", chInterest, ch),
		}
	}
	return nil
}

func validatePath(path string, extensions []string, extensionCode int) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &errs.LoadError{Code: errs.CodePathNotFound, Path: path}
	}
	if !contains(extensions, strings.ToLower(filepath.Ext(path))) {
		return &errs.LoadError{Code: extensionCode, Path: path}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// loadPages decodes every page of the container and checks that all pages
// share one spatial shape.
func loadPages(path string) ([]page, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: path, Err: err}
	}

	pages, err := decodePages(buf)
	if err != nil {
		var ue *unsupportedEncodingError
		if errors.As(err, &ue) {
			return nil, &errs.LoadError{Code: errs.CodeUnsupportedEncoding, Path: path, Err: err}
		}
		return nil, &errs.LoadError{Code: errs.CodeUnsupportedFile, Path: path, Err: err}
	}

	for i, p := range pages[1:] {
		if p.width != pages[0].width || p.height != pages[0].height {
			return nil, &errs.ShapeMismatchError{
				Want: fmt.Sprintf("%dx%d (page 0)", pages[0].width, pages[0].height),
				Got:  fmt.Sprintf("%dx%d (page %d)", p.width, p.height, i+1),
			}
		}
	}
	return pages, nil
}

// readChannel extracts the channel of interest from the interleaved page
// sequence: pages chInterest-1, chInterest-1+ch, chInterest-1+2*ch, ...
func readChannel(path string, ch, chInterest int) (*volume.Volume, error) {
	if err := validateChannels(ch, chInterest); err != nil {
		return nil, err
	}

	pages, err := loadPages(path)
	if err != nil {
		return nil, err
	}

	var selected []page
	for i := chInterest - 1; i < len(pages); i += ch {
		selected = append(selected, pages[i])
	}
	if len(selected) == 0 {
		return nil, &errs.LoadError{
			Code: errs.CodeChannelOutOfRange,
			Path: path,
			Err:  fmt.Errorf("no pages for channel %d of %d", chInterest, ch),
		}
	}

	height, width := selected[0].height, selected[0].width
	data := make([]float64, len(selected)*height*width)
	for z, p := range selected {
		copy(data[z*height*width:(z+1)*height*width], p.data)
	}
	return volume.NewSingleChannel(data, len(selected), height, width)
}

// readAllChannels assembles the full multi-channel volume. Every channel
// must contribute the same number of pages; a ragged stack (total pages
// not divisible by ch) fails with ShapeMismatchError.
func readAllChannels(path string, ch int) (*volume.Volume, error) {
	if err := validateChannels(ch, 1); err != nil {
		return nil, err
	}

	pages, err := loadPages(path)
	if err != nil {
		return nil, err
	}
	if len(pages)%ch != 0 {
		return nil, &errs.ShapeMismatchError{
			Want: fmt.Sprintf("page count divisible by %d channels", ch),
			Got:  fmt.Sprintf("%d pages", len(pages)),
		}
	}

	zs := len(pages) / ch
	height, width := pages[0].height, pages[0].width
	data := make([]float64, zs*height*width*ch)
	for z := 0; z < zs; z++ {
		for c := 0; c < ch; c++ {
			p := pages[z*ch+c]
			for i, v := range p.data {
				data[(z*height*width+i)*ch+c] = v
			}
		}
	}
	return volume.New(data, zs, height, width, ch)
}

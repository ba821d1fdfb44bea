package stack

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	// Register decoders for the slice formats exported by acquisition
	// software. Single-page TIFF slices decode through x/image.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
	"github.com/CGK-Laboratory/pycroglia/pkg/volume"
)

// DirReader loads a Z stack from a directory of single-slice 2D images,
// sorted by the numeric part of their filenames so the anatomical order
// of the acquisition is preserved.
type DirReader struct {
	dir string
}

var sliceExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// NewDirReader validates the directory path and returns a reader.
func NewDirReader(dir string) (*DirReader, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: dir}
	}
	if err != nil {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &errs.LoadError{Code: errs.CodeUnsupportedFile, Path: dir,
			Err: fmt.Errorf("not a directory")}
	}
	return &DirReader{dir: dir}, nil
}

// Read loads every slice image in the directory into a single-channel
// volume. All slices must share one spatial shape; a mismatch fails with
// ShapeMismatchError before any segmentation is attempted.
func (r *DirReader) Read() (*volume.Volume, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: r.dir, Err: err}
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if contains(sliceExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, &errs.LoadError{Code: errs.CodeUnsupportedFile, Path: r.dir,
			Err: fmt.Errorf("no slice images found")}
	}

	// Sort by the numeric part of the filename so slice_2 comes before
	// slice_10.
	sort.Slice(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	var data []float64
	var height, width int
	for z, name := range files {
		path := filepath.Join(r.dir, name)
		img, err := loadSliceImage(path)
		if err != nil {
			return nil, err
		}

		bounds := img.Bounds()
		if z == 0 {
			width = bounds.Dx()
			height = bounds.Dy()
			data = make([]float64, 0, len(files)*height*width)
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return nil, &errs.ShapeMismatchError{
				Want: fmt.Sprintf("%dx%d (%s)", width, height, files[0]),
				Got:  fmt.Sprintf("%dx%d (%s)", bounds.Dx(), bounds.Dy(), name),
			}
		}

		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				gray := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				data = append(data, float64(gray.Y))
			}
		}
	}

	return volume.NewSingleChannel(data, len(files), height, width)
}

func loadSliceImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.LoadError{Code: errs.CodePathNotFound, Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &errs.LoadError{Code: errs.CodeUnsupportedEncoding, Path: path, Err: err}
	}
	return img, nil
}

// extractNumber extracts the concatenated digits from a filename, used
// to order slice files numerically.
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr == "" {
		return 0
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0
	}
	return n
}

package stack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CGK-Laboratory/pycroglia/pkg/errs"
)

// tiffPage is one synthetic grayscale page for the test encoder.
type tiffPage struct {
	width, height int
	bits          int
	pixels        []uint16
	deflate       bool
}

// encodeTestTiff builds a little-endian multi-page TIFF with one strip
// per page, exercising the same layout microscopy acquisitions use.
func encodeTestTiff(t *testing.T, pages []tiffPage) []byte {
	t.Helper()

	var buf bytes.Buffer
	le := binary.LittleEndian
	u16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	u32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	// Header with a placeholder first-IFD offset, patched below.
	buf.WriteString("II")
	u16(42)
	u32(0)

	// Strip data for every page, recording offsets.
	strips := make([][2]uint32, len(pages)) // offset, byte count
	for i, p := range pages {
		raw := make([]byte, 0, len(p.pixels)*p.bits/8)
		for _, px := range p.pixels {
			if p.bits == 8 {
				raw = append(raw, byte(px))
			} else {
				var b [2]byte
				le.PutUint16(b[:], px)
				raw = append(raw, b[:]...)
			}
		}
		if p.deflate {
			var zbuf bytes.Buffer
			zw := zlib.NewWriter(&zbuf)
			if _, err := zw.Write(raw); err != nil {
				t.Fatalf("Failed to compress strip: %v", err)
			}
			if err := zw.Close(); err != nil {
				t.Fatalf("Failed to close compressor: %v", err)
			}
			raw = zbuf.Bytes()
		}
		strips[i] = [2]uint32{uint32(buf.Len()), uint32(len(raw))}
		buf.Write(raw)
	}

	// IFDs, each linking to the next.
	entry := func(tag, typ uint16, value uint32) {
		u16(tag)
		u16(typ)
		u32(1)
		u32(value)
	}
	for i, p := range pages {
		ifdOffset := uint32(buf.Len())
		if i == 0 {
			le.PutUint32(buf.Bytes()[4:8], ifdOffset)
		}

		compression := uint32(1)
		if p.deflate {
			compression = 8
		}
		u16(9) // entry count
		entry(256, 4, uint32(p.width))
		entry(257, 4, uint32(p.height))
		entry(258, 3, uint32(p.bits))
		entry(259, 3, compression)
		entry(262, 3, 1)
		entry(273, 4, strips[i][0])
		entry(277, 3, 1)
		entry(278, 4, uint32(p.height))
		entry(279, 4, strips[i][1])
		if i == len(pages)-1 {
			u32(0)
		} else {
			// The next IFD begins right after this one's pointer.
			u32(ifdOffset + 2 + 9*12 + 4)
		}
	}
	return buf.Bytes()
}

// writeTestTiff writes an encoded stack to a temp file with the given
// extension and returns its path.
func writeTestTiff(t *testing.T, ext string, pages []tiffPage) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stack"+ext)
	if err := os.WriteFile(path, encodeTestTiff(t, pages), 0o644); err != nil {
		t.Fatalf("Failed to write test stack: %v", err)
	}
	return path
}

// gradientPages builds n interleaved pages of 2x2 pixels where page i
// holds the constant value base+i, so channel membership is visible in
// the decoded intensities.
func gradientPages(n int, bits int) []tiffPage {
	pages := make([]tiffPage, n)
	for i := range pages {
		v := uint16(10 * (i + 1))
		pages[i] = tiffPage{
			width: 2, height: 2, bits: bits,
			pixels: []uint16{v, v, v, v},
		}
	}
	return pages
}

func TestNewReaderFactory(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".tif", ".tiff", ".lsm"} {
		path := filepath.Join(dir, "f"+ext)
		if err := os.WriteFile(path, encodeTestTiff(t, gradientPages(1, 8)), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if _, err := NewReader(path); err != nil {
			t.Errorf("NewReader(%q) failed: %v", ext, err)
		}
	}

	_, err := NewReader(filepath.Join(dir, "f.png"))
	if errs.Code(err) != errs.CodeUnsupportedFile {
		t.Errorf("unknown extension: code = %d, want %d", errs.Code(err), errs.CodeUnsupportedFile)
	}
}

func TestNewTiffReaderValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := NewTiffReader(filepath.Join(dir, "missing.tif"))
	if errs.Code(err) != errs.CodePathNotFound {
		t.Errorf("missing file: code = %d, want %d", errs.Code(err), errs.CodePathNotFound)
	}

	wrong := filepath.Join(dir, "stack.lsm")
	if err := os.WriteFile(wrong, encodeTestTiff(t, gradientPages(1, 8)), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	_, err = NewTiffReader(wrong)
	if errs.Code(err) != errs.CodeBadTiffExtension {
		t.Errorf("wrong suffix: code = %d, want %d", errs.Code(err), errs.CodeBadTiffExtension)
	}
	if _, err := NewLsmReader(wrong); err != nil {
		t.Errorf("NewLsmReader should accept .lsm: %v", err)
	}
}

func TestReadDeinterleavesChannels(t *testing.T) {
	// 6 pages, 2 channels: channel 1 pages carry 10, 30, 50 and
	// channel 2 pages carry 20, 40, 60.
	path := writeTestTiff(t, ".tif", gradientPages(6, 8))
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	vol, err := reader.Read(2, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if vol.Z != 3 || vol.Y != 2 || vol.X != 2 || vol.C != 1 {
		t.Fatalf("shape = (%d, %d, %d, %d), want (3, 2, 2, 1)", vol.Z, vol.Y, vol.X, vol.C)
	}
	for z, want := range []float64{10, 30, 50} {
		if got := vol.At(z, 0, 0, 0); got != want {
			t.Errorf("channel 1 slice %d = %v, want %v", z, got, want)
		}
	}

	vol, err = reader.Read(2, 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for z, want := range []float64{20, 40, 60} {
		if got := vol.At(z, 0, 0, 0); got != want {
			t.Errorf("channel 2 slice %d = %v, want %v", z, got, want)
		}
	}
}

func TestReadAllAssemblesChannels(t *testing.T) {
	path := writeTestTiff(t, ".tif", gradientPages(6, 8))
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	vol, err := reader.ReadAll(2)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if vol.Z != 3 || vol.C != 2 {
		t.Fatalf("shape = (%d, %d, %d, %d), want Z=3 C=2", vol.Z, vol.Y, vol.X, vol.C)
	}
	for z := 0; z < 3; z++ {
		want0 := float64(10 * (2*z + 1))
		want1 := float64(10 * (2*z + 2))
		if got := vol.At(z, 1, 1, 0); got != want0 {
			t.Errorf("slice %d channel 0 = %v, want %v", z, got, want0)
		}
		if got := vol.At(z, 1, 1, 1); got != want1 {
			t.Errorf("slice %d channel 1 = %v, want %v", z, got, want1)
		}
	}
}

func TestReadAllRejectsRaggedStack(t *testing.T) {
	path := writeTestTiff(t, ".tif", gradientPages(5, 8))
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	_, err = reader.ReadAll(2)
	var sme *errs.ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("expected ShapeMismatchError for 5 pages / 2 channels, got %v", err)
	}
}

func TestReadChannelValidation(t *testing.T) {
	path := writeTestTiff(t, ".tif", gradientPages(2, 8))
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	if _, err := reader.Read(0, 1); errs.Code(err) != errs.CodeInvalidChannel {
		t.Errorf("zero channels: code = %d, want %d", errs.Code(err), errs.CodeInvalidChannel)
	}
	if _, err := reader.Read(2, 3); errs.Code(err) != errs.CodeChannelOutOfRange {
		t.Errorf("channel beyond count: code = %d, want %d", errs.Code(err), errs.CodeChannelOutOfRange)
	}
	if _, err := reader.Read(2, 0); errs.Code(err) != errs.CodeChannelOutOfRange {
		t.Errorf("channel zero: code = %d, want %d", errs.Code(err), errs.CodeChannelOutOfRange)
	}
}

func TestRead16BitPages(t *testing.T) {
	pages := []tiffPage{{
		width: 2, height: 2, bits: 16,
		pixels: []uint16{0, 1000, 40000, 65535},
	}}
	path := writeTestTiff(t, ".tif", pages)
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	vol, err := reader.Read(1, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []float64{0, 1000, 40000, 65535}
	for i := range want {
		if vol.Data[i] != want[i] {
			t.Errorf("voxel %d = %v, want %v", i, vol.Data[i], want[i])
		}
	}
}

func TestReadDeflatePages(t *testing.T) {
	pages := gradientPages(2, 8)
	for i := range pages {
		pages[i].deflate = true
	}
	path := writeTestTiff(t, ".tif", pages)
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	vol, err := reader.Read(1, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if vol.Z != 2 {
		t.Errorf("slice count = %d, want 2", vol.Z)
	}
	if vol.At(0, 0, 0, 0) != 10 || vol.At(1, 0, 0, 0) != 20 {
		t.Errorf("decoded values = %v, %v, want 10, 20", vol.At(0, 0, 0, 0), vol.At(1, 0, 0, 0))
	}
}

func TestPageShapeMismatch(t *testing.T) {
	pages := gradientPages(2, 8)
	pages[1] = tiffPage{width: 3, height: 2, bits: 8, pixels: make([]uint16, 6)}
	path := writeTestTiff(t, ".tif", pages)
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	_, err = reader.Read(1, 1)
	var sme *errs.ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("expected ShapeMismatchError for unequal pages, got %v", err)
	}
}

func TestUnsupportedBitDepth(t *testing.T) {
	// A 32-bit page is outside the decoder's scope and must map to the
	// encoding error code.
	pages := []tiffPage{{width: 1, height: 1, bits: 32, pixels: []uint16{1, 0}}}
	path := writeTestTiff(t, ".tif", pages)
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	_, err = reader.Read(1, 1)
	if errs.Code(err) != errs.CodeUnsupportedEncoding {
		t.Errorf("code = %d, want %d", errs.Code(err), errs.CodeUnsupportedEncoding)
	}
}

func TestGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.tif")
	if err := os.WriteFile(path, []byte("not a tiff at all"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}

	if _, err := reader.Read(1, 1); err == nil {
		t.Fatal("Read should fail on a non-TIFF file")
	}
}

func TestCyclicIFDChain(t *testing.T) {
	buf := encodeTestTiff(t, []tiffPage{
		{width: 1, height: 1, bits: 8, pixels: []uint16{42}},
	})
	// Point the last page's next-IFD offset back at the first IFD so the
	// chain never terminates.
	firstIFD := binary.LittleEndian.Uint32(buf[4:8])
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], firstIFD)

	if _, err := decodePages(buf); err == nil {
		t.Fatal("decodePages should fail on a cyclic IFD chain")
	}

	path := filepath.Join(t.TempDir(), "cyclic.tif")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("Failed to write test stack: %v", err)
	}
	reader, err := NewTiffReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	_, err = reader.Read(1, 1)
	if code := errs.Code(err); code != errs.CodeUnsupportedFile {
		t.Errorf("error code = %d, want %d", code, errs.CodeUnsupportedFile)
	}
}

func TestDecodeBigEndian(t *testing.T) {
	// Hand-built big-endian single-page file: 1x1, 8-bit, value 77.
	var buf bytes.Buffer
	be := binary.BigEndian
	u16 := func(v uint16) {
		var b [2]byte
		be.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	u32 := func(v uint32) {
		var b [4]byte
		be.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	entry := func(tag, typ uint16, value uint32) {
		u16(tag)
		u16(typ)
		u32(1)
		u32(value)
	}

	buf.WriteString("MM")
	u16(42)
	u32(9) // IFD directly after header and the single pixel
	buf.WriteByte(77)
	u16(6) // entries
	entry(256, 4, 1)
	entry(257, 4, 1)
	entry(258, 3, 8<<16) // SHORT value sits in the upper bytes big-endian
	entry(273, 4, 8)
	entry(278, 4, 1)
	entry(279, 4, 1)
	u32(0)

	pages, err := decodePages(buf.Bytes())
	if err != nil {
		t.Fatalf("decodePages failed: %v", err)
	}
	if len(pages) != 1 || pages[0].data[0] != 77 {
		t.Fatalf("pages = %+v, want one page with value 77", pages)
	}
}

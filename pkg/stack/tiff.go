package stack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Minimal multi-page TIFF decoder. Microscopy stacks (including Zeiss LSM
// files, which are TIFF containers) store one image per IFD; the standard
// library and golang.org/x/image/tiff only expose the first page, so the
// page walk is done here. Supported pages are single-sample grayscale,
// 8 or 16 bits, stored in strips, either uncompressed or Deflate
// compressed. Anything else fails with CodeUnsupportedEncoding.

// TIFF tag ids used by the page walk.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
)

// Compression schemes this decoder accepts.
const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// page holds one decoded grayscale TIFF page.
type page struct {
	width  int
	height int
	bits   int
	data   []float64
}

type ifdEntry struct {
	tag      uint16
	typ      uint16
	count    uint32
	rawValue [4]byte
}

type tiffDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

// decodePages parses the TIFF header and walks every IFD, decoding each
// page into a float64 buffer with raw sample values (0-255 or 0-65535).
func decodePages(buf []byte) ([]page, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("truncated TIFF header")
	}

	d := &tiffDecoder{buf: buf}
	switch string(buf[0:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF byte order mark %q", buf[0:2])
	}
	if d.order.Uint16(buf[2:4]) != 42 {
		return nil, fmt.Errorf("invalid TIFF magic number")
	}

	var pages []page
	seen := make(map[int64]bool)
	offset := int64(d.order.Uint32(buf[4:8]))
	for offset != 0 {
		// A corrupt file can chain an IFD back onto itself; an offset
		// never repeats in a well-formed TIFF.
		if seen[offset] {
			return nil, fmt.Errorf("cyclic IFD chain at offset %d", offset)
		}
		seen[offset] = true

		p, next, err := d.decodeIFD(offset)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", len(pages), err)
		}
		pages = append(pages, p)
		offset = next
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("TIFF file contains no pages")
	}
	return pages, nil
}

// decodeIFD decodes the page described by the IFD at the given offset and
// returns the offset of the next IFD (zero for the last page).
func (d *tiffDecoder) decodeIFD(offset int64) (page, int64, error) {
	if offset < 0 || offset+2 > int64(len(d.buf)) {
		return page{}, 0, fmt.Errorf("IFD offset %d out of bounds", offset)
	}
	numEntries := int(d.order.Uint16(d.buf[offset : offset+2]))
	entriesEnd := offset + 2 + int64(numEntries)*12
	if entriesEnd+4 > int64(len(d.buf)) {
		return page{}, 0, fmt.Errorf("truncated IFD at offset %d", offset)
	}

	entries := make(map[uint16]ifdEntry, numEntries)
	for i := 0; i < numEntries; i++ {
		base := offset + 2 + int64(i)*12
		e := ifdEntry{
			tag:   d.order.Uint16(d.buf[base : base+2]),
			typ:   d.order.Uint16(d.buf[base+2 : base+4]),
			count: d.order.Uint32(d.buf[base+4 : base+8]),
		}
		copy(e.rawValue[:], d.buf[base+8:base+12])
		entries[e.tag] = e
	}
	next := int64(d.order.Uint32(d.buf[entriesEnd : entriesEnd+4]))

	width, err := d.scalar(entries, tagImageWidth, 0)
	if err != nil {
		return page{}, 0, err
	}
	height, err := d.scalar(entries, tagImageLength, 0)
	if err != nil {
		return page{}, 0, err
	}
	bits, err := d.scalar(entries, tagBitsPerSample, 8)
	if err != nil {
		return page{}, 0, err
	}
	compression, err := d.scalar(entries, tagCompression, compressionNone)
	if err != nil {
		return page{}, 0, err
	}
	samples, err := d.scalar(entries, tagSamplesPerPixel, 1)
	if err != nil {
		return page{}, 0, err
	}

	if width <= 0 || height <= 0 {
		return page{}, 0, fmt.Errorf("invalid page dimensions %dx%d", width, height)
	}
	if samples != 1 {
		return page{}, 0, &unsupportedEncodingError{reason: fmt.Sprintf("%d samples per pixel", samples)}
	}
	if bits != 8 && bits != 16 {
		return page{}, 0, &unsupportedEncodingError{reason: fmt.Sprintf("%d bits per sample", bits)}
	}
	if compression != compressionNone && compression != compressionDeflate && compression != compressionOldDeflate {
		return page{}, 0, &unsupportedEncodingError{reason: fmt.Sprintf("compression scheme %d", compression)}
	}

	stripOffsets, err := d.values(entries, tagStripOffsets)
	if err != nil {
		return page{}, 0, err
	}
	stripCounts, err := d.values(entries, tagStripByteCounts)
	if err != nil {
		return page{}, 0, err
	}
	if len(stripOffsets) != len(stripCounts) || len(stripOffsets) == 0 {
		return page{}, 0, fmt.Errorf("inconsistent strip layout (%d offsets, %d byte counts)",
			len(stripOffsets), len(stripCounts))
	}

	raw := make([]byte, 0, width*height*bits/8)
	for i := range stripOffsets {
		so, sc := int64(stripOffsets[i]), int64(stripCounts[i])
		if so < 0 || so+sc > int64(len(d.buf)) {
			return page{}, 0, fmt.Errorf("strip %d out of bounds", i)
		}
		strip := d.buf[so : so+sc]
		if compression != compressionNone {
			strip, err = inflate(strip)
			if err != nil {
				return page{}, 0, fmt.Errorf("strip %d: %w", i, err)
			}
		}
		raw = append(raw, strip...)
	}

	expected := width * height * bits / 8
	if len(raw) < expected {
		return page{}, 0, fmt.Errorf("short page data: want %d bytes, got %d", expected, len(raw))
	}

	data := make([]float64, width*height)
	if bits == 8 {
		for i := range data {
			data[i] = float64(raw[i])
		}
	} else {
		for i := range data {
			data[i] = float64(d.order.Uint16(raw[2*i : 2*i+2]))
		}
	}

	return page{width: width, height: height, bits: bits, data: data}, next, nil
}

// scalar reads a single integer tag value, falling back to def when the
// tag is absent.
func (d *tiffDecoder) scalar(entries map[uint16]ifdEntry, tag uint16, def int) (int, error) {
	e, ok := entries[tag]
	if !ok {
		return def, nil
	}
	vals, err := d.entryValues(e)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return int(vals[0]), nil
}

// values reads an integer array tag.
func (d *tiffDecoder) values(entries map[uint16]ifdEntry, tag uint16) ([]uint32, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing required tag %d", tag)
	}
	return d.entryValues(e)
}

func (d *tiffDecoder) entryValues(e ifdEntry) ([]uint32, error) {
	var size int
	switch e.typ {
	case 3: // SHORT
		size = 2
	case 4: // LONG
		size = 4
	case 1: // BYTE
		size = 1
	default:
		return nil, fmt.Errorf("unsupported tag %d value type %d", e.tag, e.typ)
	}

	total := int(e.count) * size
	var raw []byte
	if total <= 4 {
		raw = e.rawValue[:total]
	} else {
		off := int64(d.order.Uint32(e.rawValue[:]))
		if off < 0 || off+int64(total) > int64(len(d.buf)) {
			return nil, fmt.Errorf("tag %d value offset out of bounds", e.tag)
		}
		raw = d.buf[off : off+int64(total)]
	}

	vals := make([]uint32, e.count)
	for i := range vals {
		switch size {
		case 1:
			vals[i] = uint32(raw[i])
		case 2:
			vals[i] = uint32(d.order.Uint16(raw[2*i : 2*i+2]))
		case 4:
			vals[i] = d.order.Uint32(raw[4*i : 4*i+4])
		}
	}
	return vals, nil
}

func inflate(strip []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(strip))
	if err != nil {
		return nil, fmt.Errorf("deflate strip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("deflate strip: %w", err)
	}
	return out, nil
}

// unsupportedEncodingError marks TIFF features outside the decoder's
// grayscale scope; the readers translate it to a coded LoadError.
type unsupportedEncodingError struct {
	reason string
}

func (e *unsupportedEncodingError) Error() string {
	return "unsupported TIFF encoding: " + e.reason
}

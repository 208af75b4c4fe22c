package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Raster is an in-memory image written as one TIFF IFD.
type Raster struct {
	Width    int
	Height   int
	Bands    int
	DataType DataType
	// Data is band-interleaved by pixel, top row first:
	// index = (row*Width + col)*Bands + band.
	Data []float64
	// Photometric defaults to BlackIsZero for one band and RGB otherwise.
	// A ColorMap implies Palette.
	Photometric int
	ColorMap    []color.RGBA
	NoData      *float64
	Geo         *GeoReference
	// Overview marks the IFD as a reduced-resolution image.
	Overview bool
}

// GeoReference places a raster with PixelIsArea semantics: Left/Top is the
// outer corner of the top-left cell.
type GeoReference struct {
	Left float64
	Top  float64
	DX   float64
	DY   float64
	EPSG int
}

// WriteOptions configures TIFF output.
type WriteOptions struct {
	// Compression is CompressionNone, CompressionDeflate or CompressionZSTD.
	Compression int
}

// WriteGeoTIFF writes rasters to path. The file is written to a temporary
// name first and renamed into place.
func WriteGeoTIFF(path string, opts WriteOptions, rasters ...Raster) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteTIFF(tmp, opts, rasters...); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// WriteTIFF writes rasters as a little-endian, stripped TIFF, one IFD per
// raster in order.
func WriteTIFF(w io.Writer, opts WriteOptions, rasters ...Raster) error {
	if len(rasters) == 0 {
		return fmt.Errorf("no rasters to write")
	}
	compression := opts.Compression
	if compression == 0 {
		compression = CompressionNone
	}
	switch compression {
	case CompressionNone, CompressionDeflate, CompressionZSTD:
	default:
		return fmt.Errorf("unsupported compression for writing: %d", compression)
	}

	tw := &tiffWriter{compression: compression}
	tw.buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	nextPtr := 4 // position of the pointer to the next IFD

	for i, r := range rasters {
		ifdOffset, ptr, err := tw.writeRaster(r)
		if err != nil {
			return fmt.Errorf("raster %d: %w", i, err)
		}
		binary.LittleEndian.PutUint32(tw.buf.Bytes()[nextPtr:], ifdOffset)
		nextPtr = ptr
	}

	_, err := w.Write(tw.buf.Bytes())
	return err
}

type tiffWriter struct {
	buf         bytes.Buffer
	compression int
}

type ifdEntry struct {
	tag   uint16
	typ   FieldType
	count uint32
	data  []byte // little-endian encoded value
}

func shortEntry(tag uint16, values ...uint16) ifdEntry {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: FieldShort, count: uint32(len(values)), data: data}
}

func longEntry(tag uint16, values ...uint32) ifdEntry {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: FieldLong, count: uint32(len(values)), data: data}
}

func doubleEntry(tag uint16, values ...float64) ifdEntry {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: FieldDouble, count: uint32(len(values)), data: data}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: FieldASCII, count: uint32(len(data)), data: data}
}

func (tw *tiffWriter) align() {
	if tw.buf.Len()%2 != 0 {
		tw.buf.WriteByte(0)
	}
}

// writeRaster appends the strips and IFD of r. It returns the IFD offset and
// the position of the IFD's next-IFD pointer.
func (tw *tiffWriter) writeRaster(r Raster) (uint32, int, error) {
	if r.Width <= 0 || r.Height <= 0 || r.Bands <= 0 {
		return 0, 0, fmt.Errorf("invalid raster size %dx%dx%d", r.Width, r.Height, r.Bands)
	}
	if len(r.Data) != r.Width*r.Height*r.Bands {
		return 0, 0, fmt.Errorf("raster holds %d samples, want %d", len(r.Data), r.Width*r.Height*r.Bands)
	}
	size := r.DataType.Size()
	if size == 0 {
		return 0, 0, fmt.Errorf("unsupported data type: %s", r.DataType)
	}

	rowBytes := r.Width * r.Bands * size
	rowsPerStrip := max(1, min(r.Height, 8192/rowBytes))
	strips := (r.Height + rowsPerStrip - 1) / rowsPerStrip

	offsets := make([]uint32, strips)
	counts := make([]uint32, strips)
	for s := 0; s < strips; s++ {
		y0 := s * rowsPerStrip
		y1 := min(r.Height, y0+rowsPerStrip)
		raw := make([]byte, (y1-y0)*rowBytes)
		for i, v := range r.Data[y0*r.Width*r.Bands : y1*r.Width*r.Bands] {
			encodeSample(raw[i*size:], v, r.DataType)
		}
		block, err := tw.compress(raw)
		if err != nil {
			return 0, 0, err
		}
		tw.align()
		offsets[s] = uint32(tw.buf.Len())
		counts[s] = uint32(len(block))
		tw.buf.Write(block)
	}

	photometric := r.Photometric
	if photometric == 0 {
		switch {
		case len(r.ColorMap) > 0:
			photometric = PhotometricPalette
		case r.Bands >= 3:
			photometric = PhotometricRGB
		default:
			photometric = PhotometricBlackIsZero
		}
	}

	bits := make([]uint16, r.Bands)
	formats := make([]uint16, r.Bands)
	for i := range bits {
		bits[i] = uint16(r.DataType.Bits())
		formats[i] = sampleFormat(r.DataType)
	}

	var subfile uint32
	if r.Overview {
		subfile = 1
	}
	entries := []ifdEntry{
		longEntry(TagNewSubfileType, subfile),
		longEntry(TagImageWidth, uint32(r.Width)),
		longEntry(TagImageLength, uint32(r.Height)),
		shortEntry(TagBitsPerSample, bits...),
		shortEntry(TagCompression, uint16(tw.compression)),
		shortEntry(TagPhotometric, uint16(photometric)),
		longEntry(TagStripOffsets, offsets...),
		shortEntry(TagSamplesPerPixel, uint16(r.Bands)),
		longEntry(TagRowsPerStrip, uint32(rowsPerStrip)),
		longEntry(TagStripByteCounts, counts...),
		shortEntry(TagPlanarConfig, 1),
		shortEntry(TagSampleFormat, formats...),
	}
	if r.Bands == 4 && photometric == PhotometricRGB {
		entries = append(entries, shortEntry(TagExtraSamples, 2)) // unassociated alpha
	}
	if len(r.ColorMap) > 0 {
		if r.DataType.Bits() > 16 {
			return 0, 0, fmt.Errorf("color map needs 8 or 16 bit samples, got %s", r.DataType)
		}
		entries = append(entries, colorMapEntry(r.ColorMap, r.DataType.Bits()))
	}
	if r.NoData != nil {
		entries = append(entries, asciiEntry(TagGDALNoData, fmt.Sprint(*r.NoData)))
	}
	if r.Geo != nil {
		entries = append(entries, geoEntries(r.Geo)...)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out-of-line values go before the IFD.
	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			tw.align()
			valueOffsets[i] = uint32(tw.buf.Len())
			tw.buf.Write(e.data)
		}
	}

	tw.align()
	ifdOffset := uint32(tw.buf.Len())
	var scratch [12]byte
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(entries)))
	tw.buf.Write(scratch[:2])
	for i, e := range entries {
		for k := range scratch {
			scratch[k] = 0
		}
		binary.LittleEndian.PutUint16(scratch[0:], e.tag)
		binary.LittleEndian.PutUint16(scratch[2:], uint16(e.typ))
		binary.LittleEndian.PutUint32(scratch[4:], e.count)
		if len(e.data) > 4 {
			binary.LittleEndian.PutUint32(scratch[8:], valueOffsets[i])
		} else {
			copy(scratch[8:], e.data)
		}
		tw.buf.Write(scratch[:])
	}
	nextPtr := tw.buf.Len()
	tw.buf.Write([]byte{0, 0, 0, 0})

	return ifdOffset, nextPtr, nil
}

func (tw *tiffWriter) compress(raw []byte) ([]byte, error) {
	switch tw.compression {
	case CompressionDeflate:
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out.Bytes(), nil
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	}
	return raw, nil
}

func sampleFormat(dt DataType) uint16 {
	switch {
	case dt.IsFloat():
		return 3
	case dt.IsSigned():
		return 2
	}
	return 1
}

// encodeSample stores v into dst as a little-endian sample of type dt.
// Integer types are rounded and clamped to their range.
func encodeSample(dst []byte, v float64, dt DataType) {
	clamp := func(lo, hi float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return math.Max(lo, math.Min(hi, math.Round(v)))
	}
	switch dt {
	case Byte:
		dst[0] = uint8(clamp(0, math.MaxUint8))
	case Int8:
		dst[0] = uint8(int8(clamp(math.MinInt8, math.MaxInt8)))
	case UInt16:
		binary.LittleEndian.PutUint16(dst, uint16(clamp(0, math.MaxUint16)))
	case Int16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(clamp(math.MinInt16, math.MaxInt16))))
	case UInt32:
		binary.LittleEndian.PutUint32(dst, uint32(clamp(0, math.MaxUint32)))
	case Int32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(clamp(math.MinInt32, math.MaxInt32))))
	case Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	}
}

// colorMapEntry encodes a palette as the TIFF ColorMap: 2^bits reds, then
// greens, then blues, each scaled to 16 bits.
func colorMapEntry(table []color.RGBA, bits int) ifdEntry {
	n := 1 << bits
	values := make([]uint16, 3*n)
	for i := 0; i < n && i < len(table); i++ {
		c := table[i]
		values[i] = uint16(c.R) * 257
		values[n+i] = uint16(c.G) * 257
		values[2*n+i] = uint16(c.B) * 257
	}
	return shortEntry(TagColorMap, values...)
}

// geoEntries encodes PixelIsArea georeferencing and an EPSG code. Codes in
// the 4000 range are treated as geographic.
func geoEntries(g *GeoReference) []ifdEntry {
	modelType := uint16(GTModelTypeProjected)
	crsKey := uint16(ProjectedCSTypeGeoKey)
	if g.EPSG >= 4000 && g.EPSG < 5000 {
		modelType = GTModelTypeGeographic
		crsKey = GeographicTypeGeoKey
	}

	keys := [][4]uint16{
		{GTModelTypeGeoKey, 0, 1, modelType},
		{GTRasterTypeGeoKey, 0, 1, GTRasterTypePixelIsArea},
	}
	if g.EPSG > 0 && g.EPSG <= math.MaxUint16 {
		keys = append(keys, [4]uint16{crsKey, 0, 1, uint16(g.EPSG)})
	}
	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}

	return []ifdEntry{
		doubleEntry(TagModelPixelScale, g.DX, g.DY, 0),
		doubleEntry(TagModelTiepoint, 0, 0, 0, g.Left, g.Top, 0),
		shortEntry(TagGeoKeyDirectory, dir...),
	}
}

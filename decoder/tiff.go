package decoder

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF constants
const (
	tiffMagicLE    = 0x4949 // "II" little-endian
	tiffMagicBE    = 0x4D4D // "MM" big-endian
	tiffVersion    = 42
	bigTIFFVersion = 43
)

// Compression types
const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionJPEG    = 7
	CompressionOldJPEG = 6
	CompressionDeflate = 8
	CompressionAdobe   = 32946 // Deflate, legacy code
	CompressionZSTD    = 50000
)

// Baseline and extension tag IDs used by the reader and writer.
const (
	TagNewSubfileType  = 254
	TagImageWidth      = 256
	TagImageLength     = 257
	TagBitsPerSample   = 258
	TagCompression     = 259
	TagPhotometric     = 262
	TagStripOffsets    = 273
	TagSamplesPerPixel = 277
	TagRowsPerStrip    = 278
	TagStripByteCounts = 279
	TagPlanarConfig    = 284
	TagPredictor       = 317
	TagColorMap        = 320
	TagTileWidth       = 322
	TagTileLength      = 323
	TagTileOffsets     = 324
	TagTileByteCounts  = 325
	TagExtraSamples    = 338
	TagSampleFormat    = 339
	TagGDALNoData      = 42113
)

// Photometric interpretations
const (
	PhotometricWhiteIsZero = 0
	PhotometricBlackIsZero = 1
	PhotometricRGB         = 2
	PhotometricPalette     = 3
	PhotometricSeparated   = 5
	PhotometricYCbCr       = 6
)

// FieldType is the TIFF type of a tag value.
type FieldType uint16

const (
	FieldByte      FieldType = 1  // 8-bit unsigned integer
	FieldASCII     FieldType = 2  // 8-bit, NUL terminated
	FieldShort     FieldType = 3  // 16-bit unsigned integer
	FieldLong      FieldType = 4  // 32-bit unsigned integer
	FieldRational  FieldType = 5  // two LONGs: numerator, denominator
	FieldSByte     FieldType = 6  // 8-bit signed integer
	FieldUndefined FieldType = 7  // 8-bit opaque
	FieldSShort    FieldType = 8  // 16-bit signed integer
	FieldSLong     FieldType = 9  // 32-bit signed integer
	FieldSRational FieldType = 10 // two SLONGs
	FieldFloat     FieldType = 11 // 32-bit IEEE floating point
	FieldDouble    FieldType = 12 // 64-bit IEEE floating point
)

// Size returns the size in bytes of one value of the type.
func (t FieldType) Size() uint32 {
	switch t {
	case FieldByte, FieldASCII, FieldSByte, FieldUndefined:
		return 1
	case FieldShort, FieldSShort:
		return 2
	case FieldLong, FieldSLong, FieldFloat:
		return 4
	case FieldRational, FieldSRational, FieldDouble:
		return 8
	default:
		return 1
	}
}

// Tag represents a TIFF tag
type Tag struct {
	ID       uint16
	Type     FieldType
	Count    uint32
	Offset   uint32
	Value    interface{}
	IsOffset bool
}

// IFD represents an Image File Directory
type IFD struct {
	Tags      map[uint16]*Tag
	NextIFD   uint32
	ByteOrder binary.ByteOrder
}

// TIFFReader reads TIFF directories. Large offset arrays are loaded lazily.
type TIFFReader struct {
	r         io.ReadSeeker
	byteOrder binary.ByteOrder
	ifds      []*IFD
}

// NewTIFFReader parses the header and every IFD of r. Values that do not fit
// in the first 16K after each IFD are loaded on demand.
func NewTIFFReader(r io.ReadSeeker) (*TIFFReader, error) {
	tr := &TIFFReader{r: r}

	header := make([]byte, 8)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to TIFF header: %w", err)
	}
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	switch binary.LittleEndian.Uint16(header[0:2]) {
	case tiffMagicLE:
		tr.byteOrder = binary.LittleEndian
	case tiffMagicBE:
		tr.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic: 0x%04x", binary.LittleEndian.Uint16(header[0:2]))
	}

	switch version := tr.byteOrder.Uint16(header[2:4]); version {
	case tiffVersion:
	case bigTIFFVersion:
		return nil, fmt.Errorf("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("invalid TIFF version: %d", version)
	}

	seen := make(map[uint32]bool)
	for offset := tr.byteOrder.Uint32(header[4:8]); offset != 0; {
		if seen[offset] {
			return nil, fmt.Errorf("IFD loop at offset %d", offset)
		}
		seen[offset] = true

		ifd, err := tr.readIFD(offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD %d: %w", len(tr.ifds), err)
		}
		tr.ifds = append(tr.ifds, ifd)
		offset = ifd.NextIFD
	}
	if len(tr.ifds) == 0 {
		return nil, fmt.Errorf("TIFF has no image directories")
	}

	return tr, nil
}

// readIFD reads a single IFD and the tag values stored near it.
func (tr *TIFFReader) readIFD(offset uint32) (*IFD, error) {
	if _, err := tr.r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to IFD: %w", err)
	}

	var tagCount uint16
	if err := binary.Read(tr.r, tr.byteOrder, &tagCount); err != nil {
		return nil, fmt.Errorf("failed to read tag count: %w", err)
	}

	// Tag entries (12 bytes each) + next IFD offset (4 bytes), in one read
	// to keep the number of HTTP range requests down.
	entries := make([]byte, int(tagCount)*12+4)
	if _, err := io.ReadFull(tr.r, entries); err != nil {
		return nil, fmt.Errorf("failed to read IFD structure: %w", err)
	}

	ifd := &IFD{
		Tags:      make(map[uint16]*Tag, tagCount),
		ByteOrder: tr.byteOrder,
	}
	for i := 0; i < int(tagCount); i++ {
		e := entries[i*12 : i*12+12]
		tag := &Tag{
			ID:     tr.byteOrder.Uint16(e[0:2]),
			Type:   FieldType(tr.byteOrder.Uint16(e[2:4])),
			Count:  tr.byteOrder.Uint32(e[4:8]),
			Offset: tr.byteOrder.Uint32(e[8:12]),
		}
		ifd.Tags[tag.ID] = tag
	}
	ifd.NextIFD = tr.byteOrder.Uint32(entries[len(entries)-4:])

	if err := tr.readNearbyValues(ifd, offset); err != nil {
		return nil, err
	}
	return ifd, nil
}

// readNearbyValues resolves inline values and values stored within 16K of the
// IFD using a single read. Offset and byte count arrays are always left for
// ReadTagValue since they can be very large for big COGs.
func (tr *TIFFReader) readNearbyValues(ifd *IFD, ifdOffset uint32) error {
	const bufferSize = 16 * 1024

	buffer := make([]byte, bufferSize)
	if _, err := tr.r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to IFD offset: %w", err)
	}
	n, err := io.ReadFull(tr.r, buffer)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("failed to read buffer: %w", err)
	}
	buffer = buffer[:n]

	for _, tag := range ifd.Tags {
		switch tag.ID {
		case TagStripOffsets, TagStripByteCounts, TagTileOffsets, TagTileByteCounts:
			tag.IsOffset = true
			continue
		}

		size := tag.Type.Size() * tag.Count
		if size <= 4 {
			tag.Value = tr.inlineValue(tag)
			continue
		}

		start := int64(tag.Offset) - int64(ifdOffset)
		if start >= 0 && start+int64(size) <= int64(len(buffer)) {
			tag.Value = tr.decodeValue(tag, buffer[start:start+int64(size)])
		} else {
			tag.IsOffset = true
		}
	}
	return nil
}

// ReadTagValue loads a tag value on demand.
func (tr *TIFFReader) ReadTagValue(ifd *IFD, tagID uint16) error {
	tag, ok := ifd.Tags[tagID]
	if !ok {
		return fmt.Errorf("tag %d not found", tagID)
	}
	if tag.Value != nil {
		return nil
	}

	size := tag.Type.Size() * tag.Count
	if size <= 4 {
		tag.Value = tr.inlineValue(tag)
		tag.IsOffset = false
		return nil
	}

	data := make([]byte, size)
	if _, err := tr.r.Seek(int64(tag.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to tag value: %w", err)
	}
	if _, err := io.ReadFull(tr.r, data); err != nil {
		return fmt.Errorf("failed to read tag %d value: %w", tagID, err)
	}
	tag.Value = tr.decodeValue(tag, data)
	tag.IsOffset = false
	return nil
}

// inlineValue decodes a value packed into the offset field. The field was
// read with the file byte order, so writing it back restores the raw bytes.
func (tr *TIFFReader) inlineValue(tag *Tag) interface{} {
	raw := make([]byte, 4)
	tr.byteOrder.PutUint32(raw, tag.Offset)
	return tr.decodeValue(tag, raw[:tag.Type.Size()*tag.Count])
}

// decodeValue decodes count values of the tag's type from data. Single values
// are returned as scalars, several as slices.
func (tr *TIFFReader) decodeValue(tag *Tag, data []byte) interface{} {
	bo := tr.byteOrder
	n := int(tag.Count)

	switch tag.Type {
	case FieldByte, FieldUndefined:
		if n == 1 {
			return data[0]
		}
		values := make([]uint8, n)
		copy(values, data)
		return values
	case FieldSByte:
		if n == 1 {
			return int8(data[0])
		}
		values := make([]int8, n)
		for i := range values {
			values[i] = int8(data[i])
		}
		return values
	case FieldASCII:
		s := data[:n]
		if len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return string(s)
	case FieldShort:
		if n == 1 {
			return bo.Uint16(data)
		}
		values := make([]uint16, n)
		for i := range values {
			values[i] = bo.Uint16(data[i*2:])
		}
		return values
	case FieldSShort:
		if n == 1 {
			return int16(bo.Uint16(data))
		}
		values := make([]int16, n)
		for i := range values {
			values[i] = int16(bo.Uint16(data[i*2:]))
		}
		return values
	case FieldLong:
		if n == 1 {
			return bo.Uint32(data)
		}
		values := make([]uint32, n)
		for i := range values {
			values[i] = bo.Uint32(data[i*4:])
		}
		return values
	case FieldSLong:
		if n == 1 {
			return int32(bo.Uint32(data))
		}
		values := make([]int32, n)
		for i := range values {
			values[i] = int32(bo.Uint32(data[i*4:]))
		}
		return values
	case FieldFloat:
		if n == 1 {
			return math.Float32frombits(bo.Uint32(data))
		}
		values := make([]float32, n)
		for i := range values {
			values[i] = math.Float32frombits(bo.Uint32(data[i*4:]))
		}
		return values
	case FieldDouble:
		if n == 1 {
			return math.Float64frombits(bo.Uint64(data))
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(bo.Uint64(data[i*8:]))
		}
		return values
	case FieldRational:
		values := make([][2]uint32, n)
		for i := range values {
			values[i] = [2]uint32{bo.Uint32(data[i*8:]), bo.Uint32(data[i*8+4:])}
		}
		if n == 1 {
			return values[0]
		}
		return values
	case FieldSRational:
		values := make([][2]int32, n)
		for i := range values {
			values[i] = [2]int32{int32(bo.Uint32(data[i*8:])), int32(bo.Uint32(data[i*8+4:]))}
		}
		if n == 1 {
			return values[0]
		}
		return values
	default:
		return nil
	}
}

// Uints returns the tag's values as unsigned integers, loading them if needed.
func (tr *TIFFReader) Uints(ifd *IFD, tagID uint16) ([]uint64, error) {
	tag, ok := ifd.Tags[tagID]
	if !ok {
		return nil, nil
	}
	if tag.Value == nil {
		if err := tr.ReadTagValue(ifd, tagID); err != nil {
			return nil, err
		}
	}

	switch v := tag.Value.(type) {
	case uint8:
		return []uint64{uint64(v)}, nil
	case []uint8:
		out := make([]uint64, len(v))
		for i, x := range v {
			out[i] = uint64(x)
		}
		return out, nil
	case uint16:
		return []uint64{uint64(v)}, nil
	case []uint16:
		out := make([]uint64, len(v))
		for i, x := range v {
			out[i] = uint64(x)
		}
		return out, nil
	case uint32:
		return []uint64{uint64(v)}, nil
	case []uint32:
		out := make([]uint64, len(v))
		for i, x := range v {
			out[i] = uint64(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("tag %d has non-integer type %d", tagID, tag.Type)
}

// Uint returns the first value of an integer tag, or def when absent.
func (tr *TIFFReader) Uint(ifd *IFD, tagID uint16, def int) int {
	values, err := tr.Uints(ifd, tagID)
	if err != nil || len(values) == 0 {
		return def
	}
	return int(values[0])
}

// Floats returns the tag's values as float64, loading them if needed.
func (tr *TIFFReader) Floats(ifd *IFD, tagID uint16) []float64 {
	tag, ok := ifd.Tags[tagID]
	if !ok {
		return nil
	}
	if tag.Value == nil {
		if err := tr.ReadTagValue(ifd, tagID); err != nil {
			return nil
		}
	}

	switch v := tag.Value.(type) {
	case float64:
		return []float64{v}
	case []float64:
		return v
	case float32:
		return []float64{float64(v)}
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out
	}
	return nil
}

// String returns the value of an ASCII tag, loading it if needed.
func (tr *TIFFReader) String(ifd *IFD, tagID uint16) string {
	tag, ok := ifd.Tags[tagID]
	if !ok {
		return ""
	}
	if tag.Value == nil {
		if err := tr.ReadTagValue(ifd, tagID); err != nil {
			return ""
		}
	}
	s, _ := tag.Value.(string)
	return s
}

// GetIFD returns the IFD at the specified index (0 = main image)
func (tr *TIFFReader) GetIFD(index int) *IFD {
	if index < 0 || index >= len(tr.ifds) {
		return nil
	}
	return tr.ifds[index]
}

// IFDCount returns the number of IFDs (main image + overviews)
func (tr *TIFFReader) IFDCount() int {
	return len(tr.ifds)
}

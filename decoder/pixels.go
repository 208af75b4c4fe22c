package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"
)

// tiffImage is one IFD's pixel layout: either the full image or an overview.
type tiffImage struct {
	tr          *TIFFReader
	ifd         *IFD
	width       int
	height      int
	bands       int
	dtype       DataType
	compression int
	predictor   int
	planar      int
	photometric int
	blockW      int
	blockH      int
	tiled       bool
	offsets     []uint64
	counts      []uint64
	jpegTables  []byte
	workers     int
}

// newTIFFImage reads the layout tags of ifd. Offsets and byte counts are
// loaded on first read.
func newTIFFImage(tr *TIFFReader, ifd *IFD, workers int) (*tiffImage, error) {
	im := &tiffImage{
		tr:          tr,
		ifd:         ifd,
		width:       tr.Uint(ifd, TagImageWidth, 0),
		height:      tr.Uint(ifd, TagImageLength, 0),
		bands:       tr.Uint(ifd, TagSamplesPerPixel, 1),
		compression: tr.Uint(ifd, TagCompression, CompressionNone),
		predictor:   tr.Uint(ifd, TagPredictor, 1),
		planar:      tr.Uint(ifd, TagPlanarConfig, 1),
		photometric: tr.Uint(ifd, TagPhotometric, PhotometricBlackIsZero),
		workers:     workers,
	}
	if im.width <= 0 || im.height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", im.width, im.height)
	}
	if im.bands <= 0 {
		return nil, fmt.Errorf("invalid samples per pixel: %d", im.bands)
	}

	im.dtype = determineDataType(tr.Uint(ifd, TagBitsPerSample, 8), tr.Uint(ifd, TagSampleFormat, 1))
	if im.dtype == Unknown {
		return nil, fmt.Errorf("unsupported sample layout: %d bits, format %d",
			tr.Uint(ifd, TagBitsPerSample, 8), tr.Uint(ifd, TagSampleFormat, 1))
	}

	if _, ok := ifd.Tags[TagTileWidth]; ok {
		im.tiled = true
		im.blockW = tr.Uint(ifd, TagTileWidth, 256)
		im.blockH = tr.Uint(ifd, TagTileLength, 256)
	} else {
		im.blockW = im.width
		im.blockH = tr.Uint(ifd, TagRowsPerStrip, im.height)
		if im.blockH <= 0 || im.blockH > im.height {
			im.blockH = im.height
		}
	}
	if im.blockW <= 0 || im.blockH <= 0 {
		return nil, fmt.Errorf("invalid block size %dx%d", im.blockW, im.blockH)
	}

	if tag, ok := ifd.Tags[347]; ok { // JPEGTables
		if err := tr.ReadTagValue(ifd, 347); err == nil {
			if b, ok := tag.Value.([]uint8); ok {
				im.jpegTables = b
			}
		}
	}

	return im, nil
}

// determineDataType maps BitsPerSample and SampleFormat
// (1 = unsigned, 2 = signed, 3 = IEEE float) to a DataType.
func determineDataType(bitsPerSample, sampleFormat int) DataType {
	switch {
	case bitsPerSample == 8 && sampleFormat == 1:
		return Byte
	case bitsPerSample == 8 && sampleFormat == 2:
		return Int8
	case bitsPerSample == 16 && sampleFormat == 1:
		return UInt16
	case bitsPerSample == 16 && sampleFormat == 2:
		return Int16
	case bitsPerSample == 32 && sampleFormat == 1:
		return UInt32
	case bitsPerSample == 32 && sampleFormat == 2:
		return Int32
	case bitsPerSample == 32 && sampleFormat == 3:
		return Float32
	case bitsPerSample == 64 && sampleFormat == 3:
		return Float64
	default:
		return Unknown
	}
}

// loadOffsets resolves the block offset and byte count arrays.
func (im *tiffImage) loadOffsets() error {
	if im.offsets != nil {
		return nil
	}

	offsetTag, countTag := uint16(TagStripOffsets), uint16(TagStripByteCounts)
	if im.tiled {
		offsetTag, countTag = TagTileOffsets, TagTileByteCounts
	}

	offsets, err := im.tr.Uints(im.ifd, offsetTag)
	if err != nil {
		return fmt.Errorf("failed to read block offsets: %w", err)
	}
	counts, err := im.tr.Uints(im.ifd, countTag)
	if err != nil {
		return fmt.Errorf("failed to read block byte counts: %w", err)
	}
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("image is neither tiled nor stripped")
	}

	im.offsets = offsets
	im.counts = counts
	return nil
}

// samplesPerBlockPixel is the number of interleaved samples in one block pixel.
func (im *tiffImage) samplesPerBlockPixel() int {
	if im.planar == 2 {
		return 1
	}
	return im.bands
}

// blockWork is one compressed block scheduled for decompression.
type blockWork struct {
	bx, by, plane int
	index         int
	compressed    []byte
	decompressed  []byte
	err           error
}

// readWindow reads win from the image into a band-interleaved-by-pixel slice:
// index = (row*win.Width + col)*bands + band.
func (im *tiffImage) readWindow(win Window) ([]float64, error) {
	if win.Empty() || win.X < 0 || win.Y < 0 || win.X+win.Width > im.width || win.Y+win.Height > im.height {
		return nil, fmt.Errorf("window %+v outside %dx%d image", win, im.width, im.height)
	}
	if err := im.loadOffsets(); err != nil {
		return nil, err
	}

	across := (im.width + im.blockW - 1) / im.blockW
	down := (im.height + im.blockH - 1) / im.blockH
	planes := 1
	if im.planar == 2 {
		planes = im.bands
	}

	var blocks []*blockWork
	for plane := 0; plane < planes; plane++ {
		for by := win.Y / im.blockH; by <= (win.Y+win.Height-1)/im.blockH; by++ {
			for bx := win.X / im.blockW; bx <= (win.X+win.Width-1)/im.blockW; bx++ {
				index := plane*across*down + by*across + bx
				if index >= len(im.offsets) {
					continue
				}
				blocks = append(blocks, &blockWork{bx: bx, by: by, plane: plane, index: index})
			}
		}
	}

	// Phase 1: read compressed blocks sequentially (I/O bound)
	for _, b := range blocks {
		size := int(im.counts[b.index])
		if size == 0 {
			continue // sparse block
		}
		b.compressed = GetBuffer(size)
		if _, err := im.tr.r.Seek(int64(im.offsets[b.index]), io.SeekStart); err != nil {
			releaseBlocks(blocks)
			return nil, fmt.Errorf("failed to seek to block: %w", err)
		}
		if _, err := io.ReadFull(im.tr.r, b.compressed); err != nil {
			releaseBlocks(blocks)
			return nil, fmt.Errorf("failed to read block: %w", err)
		}
	}

	// Phase 2: decompress in parallel (CPU bound)
	workers := im.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(blocks) {
		workers = len(blocks)
	}

	var wg sync.WaitGroup
	work := make(chan *blockWork, len(blocks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range work {
				if b.compressed == nil {
					continue
				}
				b.decompressed, b.err = im.decompress(b.compressed, im.blockRows(b.by))
				if b.err == nil {
					b.err = im.undoPredictor(b.decompressed)
				}
			}
		}()
	}
	for _, b := range blocks {
		work <- b
	}
	close(work)
	wg.Wait()

	out := make([]float64, win.Width*win.Height*im.bands)
	for _, b := range blocks {
		if b.err != nil {
			releaseBlocks(blocks)
			return nil, fmt.Errorf("failed to decompress block %d: %w", b.index, b.err)
		}
		if b.decompressed != nil {
			im.copyBlock(b, win, out)
		}
	}
	releaseBlocks(blocks)

	if im.photometric == PhotometricWhiteIsZero && im.bands == 1 && !im.dtype.IsFloat() {
		maxValue := math.Pow(2, float64(im.dtype.Bits())) - 1
		if im.dtype.IsSigned() {
			maxValue = math.Pow(2, float64(im.dtype.Bits()-1)) - 1
		}
		for i := range out {
			out[i] = maxValue - out[i]
		}
	}

	return out, nil
}

func releaseBlocks(blocks []*blockWork) {
	for _, b := range blocks {
		if b.compressed != nil {
			PutBuffer(b.compressed)
			b.compressed = nil
		}
	}
}

// blockRows is the number of rows stored in block row by. Tiles are always
// padded to full size; the last strip may be short.
func (im *tiffImage) blockRows(by int) int {
	if im.tiled {
		return im.blockH
	}
	if rest := im.height - by*im.blockH; rest < im.blockH {
		return rest
	}
	return im.blockH
}

// copyBlock decodes the samples of one block that fall inside win into out.
func (im *tiffImage) copyBlock(b *blockWork, win Window, out []float64) {
	bo := im.ifd.ByteOrder
	size := im.dtype.Size()
	spp := im.samplesPerBlockPixel()
	rows := im.blockRows(b.by)

	x0 := max(win.X, b.bx*im.blockW)
	x1 := min(win.X+win.Width, (b.bx+1)*im.blockW)
	y0 := max(win.Y, b.by*im.blockH)
	y1 := min(win.Y+win.Height, b.by*im.blockH+rows)

	for y := y0; y < y1; y++ {
		rowInBlock := y - b.by*im.blockH
		for x := x0; x < x1; x++ {
			pixel := (rowInBlock*im.blockW + (x - b.bx*im.blockW)) * spp * size
			dst := ((y-win.Y)*win.Width + (x - win.X)) * im.bands
			for s := 0; s < spp; s++ {
				off := pixel + s*size
				if off+size > len(b.decompressed) {
					break
				}
				band := s
				if im.planar == 2 {
					band = b.plane
				}
				out[dst+band] = decodeSample(b.decompressed[off:off+size], im.dtype, bo)
			}
		}
	}
}

// decodeSample converts one raw sample to float64.
func decodeSample(raw []byte, dt DataType, bo binary.ByteOrder) float64 {
	switch dt {
	case Byte:
		return float64(raw[0])
	case Int8:
		return float64(int8(raw[0]))
	case UInt16:
		return float64(bo.Uint16(raw))
	case Int16:
		return float64(int16(bo.Uint16(raw)))
	case UInt32:
		return float64(bo.Uint32(raw))
	case Int32:
		return float64(int32(bo.Uint32(raw)))
	case Float32:
		return float64(math.Float32frombits(bo.Uint32(raw)))
	case Float64:
		return math.Float64frombits(bo.Uint64(raw))
	}
	return 0
}

// decompress inflates one block holding rows rows.
func (im *tiffImage) decompress(data []byte, rows int) ([]byte, error) {
	expected := im.blockW * rows * im.samplesPerBlockPixel() * im.dtype.Size()

	switch im.compression {
	case CompressionNone:
		return data, nil

	case CompressionLZW:
		reader := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer reader.Close()
		return readExpected(reader, expected, "LZW")

	case CompressionDeflate, CompressionAdobe:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			// Some writers emit raw deflate streams without the zlib header.
			raw := flate.NewReader(bytes.NewReader(data))
			defer raw.Close()
			return readExpected(raw, expected, "Deflate")
		}
		defer reader.Close()
		return readExpected(reader, expected, "Deflate")

	case CompressionZSTD:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(data, make([]byte, 0, expected))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress ZSTD block: %w", err)
		}
		if len(out) < expected {
			return nil, fmt.Errorf("ZSTD decompression produced insufficient data: got %d bytes, expected %d", len(out), expected)
		}
		return out[:expected], nil

	case CompressionJPEG, CompressionOldJPEG:
		return im.decodeJPEG(data, expected)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", im.compression)
	}
}

func readExpected(r io.Reader, expected int, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil && len(out) < expected {
		return nil, fmt.Errorf("failed to decompress %s block: %w", name, err)
	}
	if len(out) < expected {
		return nil, fmt.Errorf("%s decompression produced insufficient data: got %d bytes, expected %d", name, len(out), expected)
	}
	return out[:expected], nil
}

var (
	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdDecoder returns a shared decoder; DecodeAll is safe for concurrent use.
func zstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdDec, zstdErr
}

// decodeJPEG decodes a JPEG block, merging the shared JPEGTables stream
// (SOI ... EOI) in front of the block's own stream when present.
func (im *tiffImage) decodeJPEG(data []byte, expected int) ([]byte, error) {
	stream := data
	if len(im.jpegTables) > 4 && len(data) > 2 {
		stream = make([]byte, 0, len(im.jpegTables)+len(data))
		stream = append(stream, im.jpegTables[:len(im.jpegTables)-2]...)
		stream = append(stream, data[2:]...)
	}

	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG block: %w", err)
	}
	if im.dtype != Byte {
		return nil, fmt.Errorf("JPEG blocks must hold 8-bit samples, got %s", im.dtype)
	}

	spp := im.samplesPerBlockPixel()
	out := make([]byte, expected)
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			off := (y*im.blockW + x) * spp
			if x >= im.blockW || off+spp > len(out) {
				continue
			}
			if gray, ok := img.(*image.Gray); ok {
				out[off] = gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
				continue
			}
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out[off] = uint8(r >> 8)
			if spp >= 3 {
				out[off+1] = uint8(g >> 8)
				out[off+2] = uint8(b >> 8)
			}
			if spp == 4 {
				out[off+3] = 255
			}
		}
	}
	return out, nil
}

// undoPredictor reverses horizontal differencing (Predictor = 2) in place.
func (im *tiffImage) undoPredictor(data []byte) error {
	switch im.predictor {
	case 1:
		return nil
	case 2:
	default:
		return fmt.Errorf("unsupported predictor: %d", im.predictor)
	}
	if im.dtype.IsFloat() {
		return fmt.Errorf("horizontal predictor on %s samples", im.dtype)
	}

	bo := im.ifd.ByteOrder
	spp := im.samplesPerBlockPixel()
	size := im.dtype.Size()
	rowBytes := im.blockW * spp * size

	for row := 0; row+rowBytes <= len(data); row += rowBytes {
		line := data[row : row+rowBytes]
		for i := spp; i < im.blockW*spp; i++ {
			cur, prev := i*size, (i-spp)*size
			switch size {
			case 1:
				line[cur] += line[prev]
			case 2:
				bo.PutUint16(line[cur:], bo.Uint16(line[cur:])+bo.Uint16(line[prev:]))
			case 4:
				bo.PutUint32(line[cur:], bo.Uint32(line[cur:])+bo.Uint32(line[prev:]))
			}
		}
	}
	return nil
}

package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

// Options configures a Driver.
type Options struct {
	// HTTPClient is used for http(s) paths. A client with 30s timeouts is
	// used when nil.
	HTTPClient *fasthttp.Client
	// Workers bounds parallel block decompression. Defaults to GOMAXPROCS.
	Workers int
	// Logger receives problems that do not stop a dataset from opening.
	// The standard logger is used when nil.
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Driver is the default Engine. It recognizes GeoTIFF, ESRI ASCII grids and
// the plain image formats registered with the image package.
type Driver struct {
	opts Options
}

// NewDriver creates a Driver.
func NewDriver(opts Options) *Driver {
	return &Driver{opts: opts}
}

type formatKind int

const (
	kindUnknown formatKind = iota
	kindTIFF
	kindASCIIGrid
	kindImage
)

// attachOverviews adds the levels of the dataset's sidecar. Overviews are
// optional, so a sidecar that cannot be read is logged and skipped.
func (dr *Driver) attachOverviews(ds *dataset) {
	if err := ds.attachExternalOverviews(); err != nil {
		dr.opts.logger().Printf("ignoring overviews of %s: %v", ds.path, err)
	}
}

// Open implements Engine.
func (dr *Driver) Open(path string) (Decoded, error) {
	if isRemote(path) {
		return dr.openRemote(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	kind, err := sniff(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	switch kind {
	case kindTIFF:
		ds, err := openTIFF(f, f, path, dr.opts)
		if err != nil {
			f.Close()
			return nil, err
		}
		dr.attachOverviews(ds)
		return UniformDecode{H: ds}, nil

	case kindASCIIGrid:
		ds, err := openASCIIGrid(f, path, dr.opts)
		f.Close()
		if err != nil {
			return nil, err
		}
		dr.attachOverviews(ds)
		return UniformDecode{H: ds}, nil

	case kindImage:
		ds, err := openImage(f, path, dr.opts)
		f.Close()
		if err != nil {
			return nil, err
		}
		dr.attachOverviews(ds)
		return OtherDecode{H: ds, Format: ds.format}, nil
	}

	f.Close()
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// openRemote opens a (Cloud Optimized) GeoTIFF over HTTP range requests.
func (dr *Driver) openRemote(url string) (Decoded, error) {
	rr, err := newRangeReader(url, dr.opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create range reader: %w", err)
	}
	kind, err := sniff(rr)
	if err != nil {
		rr.Close()
		return nil, err
	}
	if kind != kindTIFF {
		rr.Close()
		return nil, fmt.Errorf("%w: only GeoTIFF can be read over HTTP: %s", ErrUnknownFormat, url)
	}
	ds, err := openTIFF(rr, rr, url, dr.opts)
	if err != nil {
		rr.Close()
		return nil, err
	}
	ds.readOnly = true
	return UniformDecode{H: ds}, nil
}

// sniff inspects the first bytes of r and rewinds it.
func sniff(r io.ReadSeeker) (formatKind, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindUnknown, fmt.Errorf("failed to read header: %w", err)
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return kindUnknown, fmt.Errorf("failed to rewind: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, []byte("II")) || bytes.HasPrefix(head, []byte("MM")):
		return kindTIFF, nil
	case looksLikeASCIIGrid(head):
		return kindASCIIGrid, nil
	case looksLikeImage(head):
		return kindImage, nil
	}
	return kindUnknown, nil
}

// openTIFF builds a dataset from the first IFD of a TIFF stream. Further
// reduced-resolution IFDs with the same band count become internal overviews.
func openTIFF(r io.ReadSeeker, closer io.Closer, path string, opts Options) (*dataset, error) {
	tr, err := NewTIFFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read TIFF: %w", err)
	}

	ifd := tr.GetIFD(0)
	img, err := newTIFFImage(tr, ifd, opts.workers())
	if err != nil {
		return nil, err
	}
	md, err := readGeoMetadata(tr, ifd)
	if err != nil {
		return nil, fmt.Errorf("failed to read geo metadata: %w", err)
	}
	if md.flipped() {
		return nil, fmt.Errorf("%w: bottom-up or right-to-left georeferencing: %s", ErrUnsupportedLayout, path)
	}

	ds := newDataset(path, "GTiff", md.geometry(img.width, img.height), img.bands, img.dtype, opts)
	ds.closer = closer
	ds.crs = md.CRS
	ds.noData = parseNoData(tr.String(ifd, TagGDALNoData))
	ds.model, ds.interps = tiffColorModel(tr, ifd, img)
	if ds.model == ModelPalette {
		ds.colorTable = readColorMap(tr, ifd, img.dtype)
	}

	ds.levels = append(ds.levels, &level{width: img.width, height: img.height, src: img})
	for i := 1; i < tr.IFDCount(); i++ {
		sub := tr.GetIFD(i)
		if tr.Uint(sub, TagNewSubfileType, 0)&0x5 != 0x1 {
			continue // not an overview, or a mask
		}
		ov, err := newTIFFImage(tr, sub, opts.workers())
		if err != nil || ov.bands != img.bands || ov.width >= img.width {
			continue
		}
		ds.levels = append(ds.levels, &level{width: ov.width, height: ov.height, src: ov})
	}
	ds.sortLevels()

	return ds, nil
}

func parseNoData(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// tiffColorModel maps the photometric interpretation to a color model and
// per-band interpretations.
func tiffColorModel(tr *TIFFReader, ifd *IFD, img *tiffImage) (ColorModel, []ColorInterp) {
	interps := make([]ColorInterp, img.bands)
	model := ModelGray

	switch img.photometric {
	case PhotometricWhiteIsZero, PhotometricBlackIsZero:
		interps[0] = CIGray
	case PhotometricPalette:
		model = ModelPalette
		interps[0] = CIPalette
	case PhotometricRGB:
		model = ModelRGB
	case PhotometricYCbCr:
		// JPEG blocks are converted to RGB on decode.
		model = ModelYCbCr
		if img.compression == CompressionJPEG {
			model = ModelRGB
		}
	case PhotometricSeparated:
		model = ModelCMYK
	}

	if (model == ModelRGB || model == ModelYCbCr) && img.bands >= 3 {
		interps[0], interps[1], interps[2] = CIRed, CIGreen, CIBlue
		if img.bands > 3 {
			if extra, err := tr.Uints(ifd, TagExtraSamples); err == nil && len(extra) > 0 && extra[0] != 0 {
				interps[3] = CIAlpha
			}
		}
	}
	return model, interps
}

// readColorMap converts the 16-bit TIFF ColorMap (all reds, all greens,
// all blues) to RGBA entries.
func readColorMap(tr *TIFFReader, ifd *IFD, dt DataType) []color.RGBA {
	values, err := tr.Uints(ifd, TagColorMap)
	if err != nil || len(values) == 0 || len(values)%3 != 0 {
		return nil
	}
	n := len(values) / 3
	if limit := 1 << dt.Bits(); dt.Bits() <= 16 && n > limit {
		n = limit
	}
	table := make([]color.RGBA, n)
	for i := range table {
		table[i] = color.RGBA{
			R: uint8(values[i] >> 8),
			G: uint8(values[i+len(values)/3] >> 8),
			B: uint8(values[i+2*len(values)/3] >> 8),
			A: 255,
		}
	}
	return table
}

// overviewPath is the sidecar that holds external overviews of path.
func overviewPath(path string) string {
	return path + ".ovr"
}

// attachExternalOverviews replaces the external levels with those of the
// .ovr sidecar. On error the current levels stay attached. The caller holds
// d.mu or owns d exclusively.
func (d *dataset) attachExternalOverviews() error {
	levels := make([]*level, 0, len(d.levels))
	for _, lv := range d.levels {
		if !lv.external {
			levels = append(levels, lv)
		}
	}

	f, err := os.Open(overviewPath(d.path))
	if errors.Is(err, os.ErrNotExist) {
		d.swapLevels(levels, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open overviews: %w", err)
	}
	tr, err := NewTIFFReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read overviews: %w", err)
	}

	for i := 0; i < tr.IFDCount(); i++ {
		ov, err := newTIFFImage(tr, tr.GetIFD(i), d.opts.workers())
		if err != nil {
			f.Close()
			return fmt.Errorf("overview %d: %w", i, err)
		}
		if ov.bands != d.bands {
			f.Close()
			return fmt.Errorf("overview %d has %d bands, dataset has %d", i, ov.bands, d.bands)
		}
		levels = append(levels, &level{width: ov.width, height: ov.height, external: true, src: ov})
	}
	d.swapLevels(levels, f)
	return nil
}

// swapLevels installs levels and the sidecar backing their external entries,
// closing the previous sidecar.
func (d *dataset) swapLevels(levels []*level, ovr io.Closer) {
	if d.ovrCloser != nil {
		d.ovrCloser.Close()
	}
	d.levels = levels
	d.ovrCloser = ovr
	d.sortLevels()
}

package decoder

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// pixelSource reads a window of one resolution level as band-interleaved
// float64 samples.
type pixelSource interface {
	readWindow(win Window) ([]float64, error)
}

type level struct {
	width    int
	height   int
	external bool
	src      pixelSource
}

type levelSize struct {
	width, height int
}

type bufferState struct {
	level int
	win   Window
	data  []float64 // nil until LoadBuffer
}

type statsKey struct {
	band   int
	approx bool
}

// dataset implements Handle for every format the driver reads.
type dataset struct {
	mu sync.Mutex

	path       string
	format     string
	crs        string
	closer     io.Closer
	ovrCloser  io.Closer
	orig       Geometry
	bands      int
	dtype      DataType
	noData     *float64
	model      ColorModel
	interps    []ColorInterp
	colorTable []color.RGBA
	grid       bool
	readOnly   bool
	opts       Options

	levels []*level
	buf    bufferState
	stats  map[statsKey]Statistics
	closed bool
}

func newDataset(path, format string, orig Geometry, bands int, dtype DataType, opts Options) *dataset {
	d := &dataset{
		path:   path,
		format: format,
		orig:   orig,
		bands:  bands,
		dtype:  dtype,
		opts:   opts,
		stats:  make(map[statsKey]Statistics),
	}
	d.buf = bufferState{win: Window{Width: orig.Width, Height: orig.Height}}
	return d
}

func (d *dataset) Path() string   { return d.path }
func (d *dataset) Format() string { return d.format }
func (d *dataset) CRS() string    { return d.crs }
func (d *dataset) IsGrid() bool   { return d.grid }

func (d *dataset) Original() Geometry { return d.orig }

// levelGeometry scales the original geometry to level i, keeping the outer
// edges of the image fixed.
func (d *dataset) levelGeometry(i int) Geometry {
	if i == 0 {
		return d.orig
	}
	lv := d.levels[i]
	dx := d.orig.DX * float64(d.orig.Width) / float64(lv.width)
	dy := d.orig.DY * float64(d.orig.Height) / float64(lv.height)
	left := d.orig.XllCenter - d.orig.DX/2
	bottom := d.orig.YllCenter - d.orig.DY/2
	return Geometry{
		Width:     lv.width,
		Height:    lv.height,
		DX:        dx,
		DY:        dy,
		XllCenter: left + dx/2,
		YllCenter: bottom + dy/2,
	}
}

// Buffer returns the geometry of the buffered window. Row 0 of the window is
// its top row, so the lower-left cell is row win.Y+win.Height-1 of the level.
func (d *dataset) Buffer() Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()

	lg := d.levelGeometry(d.buf.level)
	win := d.buf.win
	return Geometry{
		Width:     win.Width,
		Height:    win.Height,
		DX:        lg.DX,
		DY:        lg.DY,
		XllCenter: lg.XllCenter + float64(win.X)*lg.DX,
		YllCenter: lg.YllCenter + float64(lg.Height-win.Y-win.Height)*lg.DY,
	}
}

func (d *dataset) NoBands() int { return d.bands }

func (d *dataset) BandDataType(band int) DataType {
	if band < 1 || band > d.bands {
		return Unknown
	}
	return d.dtype
}

func (d *dataset) BandNoData(band int) (float64, bool) {
	if band < 1 || band > d.bands || d.noData == nil {
		return 0, false
	}
	return *d.noData, true
}

func (d *dataset) BandColorInterp(band int) ColorInterp {
	if band < 1 || band > len(d.interps) {
		return CIUndefined
	}
	return d.interps[band-1]
}

func (d *dataset) ColorModel() ColorModel { return d.model }

func (d *dataset) ColorTable() []color.RGBA {
	if d.colorTable == nil {
		return nil
	}
	return append([]color.RGBA(nil), d.colorTable...)
}

func (d *dataset) NumOverviews() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.levels) - 1
}

func (d *dataset) Overviews() []OverviewInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]OverviewInfo, 0, len(d.levels)-1)
	for _, lv := range d.levels[1:] {
		out = append(out, OverviewInfo{
			Width:    lv.width,
			Height:   lv.height,
			Factor:   d.factorOf(lv.width, lv.height),
			External: lv.external,
		})
	}
	return out
}

// sizeFor is the size of the level decimated by factor.
func (d *dataset) sizeFor(factor int) levelSize {
	return levelSize{
		width:  (d.orig.Width + factor - 1) / factor,
		height: (d.orig.Height + factor - 1) / factor,
	}
}

// factorOf returns the smallest factor whose level has the given size.
// Levels written by other tools may not match any factor exactly; those
// report the rounded width ratio.
func (d *dataset) factorOf(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	want := levelSize{width, height}
	for f := (d.orig.Width + width - 1) / width; f <= max(d.orig.Width, d.orig.Height); f++ {
		sz := d.sizeFor(f)
		if sz.width < width {
			break
		}
		if sz == want {
			return f
		}
	}
	return int(math.Round(float64(d.orig.Width) / float64(width)))
}

// sortLevels orders overviews from finest to coarsest.
func (d *dataset) sortLevels() {
	overviews := d.levels[1:]
	sort.SliceStable(overviews, func(i, j int) bool {
		return overviews[i].width > overviews[j].width
	})
}

func (d *dataset) LoadBuffer(lvl int, win Window) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if lvl < 0 || lvl >= len(d.levels) {
		return fmt.Errorf("invalid overview level: %d", lvl)
	}
	lv := d.levels[lvl]
	if win.Empty() || win.X < 0 || win.Y < 0 || win.X+win.Width > lv.width || win.Y+win.Height > lv.height {
		return fmt.Errorf("window %+v outside level %d (%dx%d)", win, lvl, lv.width, lv.height)
	}

	data, err := lv.src.readWindow(win)
	if err != nil {
		return fmt.Errorf("failed to read level %d: %w", lvl, err)
	}
	d.buf = bufferState{level: lvl, win: win, data: data}
	return nil
}

func (d *dataset) BufferValue(band, col, row int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if band < 1 || band > d.bands {
		return 0, fmt.Errorf("%w: %d", ErrBandIndex, band)
	}
	win := d.buf.win
	if col < 0 || row < 0 || col >= win.Width || row >= win.Height {
		return 0, fmt.Errorf("cell (%d, %d) outside %dx%d buffer", col, row, win.Width, win.Height)
	}

	if d.buf.data != nil {
		return d.buf.data[(row*win.Width+col)*d.bands+band-1], nil
	}

	cell, err := d.levels[d.buf.level].src.readWindow(Window{X: win.X + col, Y: win.Y + row, Width: 1, Height: 1})
	if err != nil {
		return 0, err
	}
	return cell[band-1], nil
}

// validValues collects the samples of band in data, skipping NaN and nodata.
func (d *dataset) validValues(data []float64, band int) []float64 {
	values := make([]float64, 0, len(data)/d.bands)
	for i := band - 1; i < len(data); i += d.bands {
		v := data[i]
		if math.IsNaN(v) || (d.noData != nil && v == *d.noData) {
			continue
		}
		values = append(values, v)
	}
	return values
}

// readLevel reads a whole level. Approximate reads use the coarsest overview.
func (d *dataset) readLevel(approx bool) ([]float64, error) {
	lv := d.levels[0]
	if approx && len(d.levels) > 1 {
		lv = d.levels[len(d.levels)-1]
	}
	return lv.src.readWindow(Window{Width: lv.width, Height: lv.height})
}

func (d *dataset) Statistics(band int, approx bool) (Statistics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statistics(band, approx)
}

func (d *dataset) statistics(band int, approx bool) (Statistics, error) {
	if d.closed {
		return Statistics{}, ErrClosed
	}
	if band < 1 || band > d.bands {
		return Statistics{}, fmt.Errorf("%w: %d", ErrBandIndex, band)
	}
	key := statsKey{band: band, approx: approx}
	if s, ok := d.stats[key]; ok {
		return s, nil
	}

	data, err := d.readLevel(approx)
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to read band %d: %w", band, err)
	}
	values := d.validValues(data, band)
	if len(values) == 0 {
		return Statistics{}, fmt.Errorf("band %d has no valid cells", band)
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	s := Statistics{
		Min:        floats.Min(values),
		Max:        floats.Max(values),
		Mean:       mean,
		StdDev:     std,
		ValidCount: len(values),
	}
	d.stats[key] = s
	return s, nil
}

func (d *dataset) Histogram(band int, buckets int) (Histogram, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if buckets <= 0 {
		return Histogram{}, fmt.Errorf("invalid bucket count: %d", buckets)
	}
	s, err := d.statistics(band, false)
	if err != nil {
		return Histogram{}, err
	}
	data, err := d.readLevel(false)
	if err != nil {
		return Histogram{}, fmt.Errorf("failed to read band %d: %w", band, err)
	}
	values := d.validValues(data, band)

	h := Histogram{Min: s.Min, Max: s.Max, Counts: make([]uint64, buckets)}
	if s.Max == s.Min {
		h.Counts[0] = uint64(len(values))
		return h, nil
	}

	// stat.Histogram needs sorted data and an exclusive upper divider.
	sort.Float64s(values)
	dividers := floats.Span(make([]float64, buckets+1), s.Min, s.Max)
	dividers[buckets] = math.Nextafter(s.Max, math.Inf(1))
	counts := stat.Histogram(nil, dividers, values, nil)
	for i, c := range counts {
		h.Counts[i] = uint64(c)
	}
	return h, nil
}

func (d *dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.buf.data = nil

	var firstErr error
	for _, c := range []io.Closer{d.ovrCloser, d.closer} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// memLevel serves a level held entirely in memory.
type memLevel struct {
	width  int
	height int
	bands  int
	data   []float64
}

func (m *memLevel) readWindow(win Window) ([]float64, error) {
	if win.Empty() || win.X < 0 || win.Y < 0 || win.X+win.Width > m.width || win.Y+win.Height > m.height {
		return nil, fmt.Errorf("window %+v outside %dx%d image", win, m.width, m.height)
	}
	out := make([]float64, win.Width*win.Height*m.bands)
	rowLen := win.Width * m.bands
	for y := 0; y < win.Height; y++ {
		src := ((win.Y+y)*m.width + win.X) * m.bands
		copy(out[y*rowLen:(y+1)*rowLen], m.data[src:src+rowLen])
	}
	return out, nil
}

package rastersource

import (
	"context"
	"errors"
	"image/color"

	"github.com/tingold/rastersource/decoder"
)

// fakeHandle is an in-memory decoder.Handle. Values are v(band, col, row)
// = band*1000 + row*100 + col on the original grid.
type fakeHandle struct {
	orig     decoder.Geometry
	buf      decoder.Geometry
	bands    int
	dtype    decoder.DataType
	model    decoder.ColorModel
	table    []color.RGBA
	grid     bool
	crs      string
	ovs      []decoder.OverviewInfo
	stats    decoder.Statistics
	statsErr error
	buildErr error
	// Arguments of the last BuildOverviews call.
	builtCount  int
	builtScales []int
	closed   int
	lastWin  decoder.Window
	lastLvl  int
}

func newFakeHandle(w, h, bands int) *fakeHandle {
	g := decoder.Geometry{Width: w, Height: h, DX: 1, DY: 1}
	return &fakeHandle{orig: g, buf: g, bands: bands, dtype: decoder.Byte, model: decoder.ModelRGB}
}

func (f *fakeHandle) Path() string               { return "fake.tif" }
func (f *fakeHandle) Format() string             { return "Fake" }
func (f *fakeHandle) CRS() string                { return f.crs }
func (f *fakeHandle) Original() decoder.Geometry { return f.orig }
func (f *fakeHandle) Buffer() decoder.Geometry   { return f.buf }
func (f *fakeHandle) NoBands() int               { return f.bands }

func (f *fakeHandle) BandDataType(band int) decoder.DataType {
	if band < 1 || band > f.bands {
		return decoder.Unknown
	}
	return f.dtype
}

func (f *fakeHandle) BandNoData(int) (float64, bool) { return 0, false }

func (f *fakeHandle) BandColorInterp(band int) decoder.ColorInterp {
	if f.bands == 1 {
		return decoder.CIGray
	}
	return decoder.CIRed + decoder.ColorInterp(band-1)
}

func (f *fakeHandle) ColorModel() decoder.ColorModel { return f.model }
func (f *fakeHandle) ColorTable() []color.RGBA       { return f.table }
func (f *fakeHandle) IsGrid() bool                   { return f.grid }

func (f *fakeHandle) Statistics(band int, _ bool) (decoder.Statistics, error) {
	if band < 1 || band > f.bands {
		return decoder.Statistics{}, decoder.ErrBandIndex
	}
	return f.stats, f.statsErr
}

func (f *fakeHandle) Histogram(band, buckets int) (decoder.Histogram, error) {
	return decoder.Histogram{Min: f.stats.Min, Max: f.stats.Max, Counts: make([]uint64, buckets)}, nil
}

func (f *fakeHandle) NumOverviews() int                 { return len(f.ovs) }
func (f *fakeHandle) Overviews() []decoder.OverviewInfo { return f.ovs }

func (f *fakeHandle) BuildOverviews(ctx context.Context, _ decoder.Resampling, count int, scales []int) error {
	f.builtCount, f.builtScales = count, append([]int(nil), scales...)
	if f.buildErr != nil {
		return f.buildErr
	}
	if count != len(scales) {
		return errors.New("count mismatch")
	}
	for _, s := range scales {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.ovs = append(f.ovs, decoder.OverviewInfo{
			Width:  (f.orig.Width + s - 1) / s,
			Height: (f.orig.Height + s - 1) / s,
			Factor: s,
		})
	}
	return nil
}

func (f *fakeHandle) LoadBuffer(level int, win decoder.Window) error {
	f.lastLvl, f.lastWin = level, win
	f.buf.Width, f.buf.Height = win.Width, win.Height
	return nil
}

func (f *fakeHandle) BufferValue(band, col, row int) (float64, error) {
	return float64(band*1000 + row*100 + col), nil
}

func (f *fakeHandle) Close() error {
	f.closed++
	return nil
}

// fakeEngine returns a fixed result from Open.
type fakeEngine struct {
	dec decoder.Decoded
	err error
}

func (e fakeEngine) Open(string) (decoder.Decoded, error) { return e.dec, e.err }

func openFake(h *fakeHandle) (*Source, error) {
	return OpenWith(fakeEngine{dec: decoder.UniformDecode{H: h}}, "fake.tif")
}

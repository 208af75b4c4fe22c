package rastersource

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/rastersource/decoder"
)

// writeRGB writes a 3-band 8-bit 100x50 GeoTIFF with unit cells whose
// lower-left cell is centered on the origin.
func writeRGB(t *testing.T) string {
	t.Helper()
	const w, h = 100, 50
	data := make([]float64, w*h*3)
	for i := range data {
		data[i] = float64(i % 256)
	}
	path := filepath.Join(t.TempDir(), "rgb.tif")
	require.NoError(t, decoder.WriteGeoTIFF(path, decoder.WriteOptions{Compression: decoder.CompressionDeflate}, decoder.Raster{
		Width: w, Height: h, Bands: 3, DataType: decoder.Byte,
		Data: data,
		Geo:  &decoder.GeoReference{Left: -0.5, Top: 49.5, DX: 1, DY: 1, EPSG: 3857},
	}))
	return path
}

func openRGB(t *testing.T) *Source {
	t.Helper()
	src, err := Open(writeRGB(t))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func quietLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Logger
	Logger = log.New(&buf, "", 0)
	t.Cleanup(func() { Logger = old })
	return &buf
}

func TestOpenRGBScenario(t *testing.T) {
	src := openRGB(t)

	g, err := src.OriginalGeometry()
	require.NoError(t, err)
	assert.Equal(t, Geometry{Width: 100, Height: 50, Dx: 1, Dy: 1}, g)

	x, y, err := src.BufferToProjection(0, 49)
	require.NoError(t, err)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 0.0, y)

	x, y, err = src.BufferToProjection(99, 0)
	require.NoError(t, err)
	assert.Equal(t, 99.0, x)
	assert.Equal(t, 49.0, y)

	n, err := src.NumBands()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	crs, err := src.CRS()
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", crs)
}

func TestProjectionRoundTrip(t *testing.T) {
	src := openRGB(t)
	for _, cell := range [][2]int{{0, 0}, {0, 49}, {99, 0}, {99, 49}, {42, 17}} {
		x, y, err := src.BufferToProjection(cell[0], cell[1])
		require.NoError(t, err)
		col, row, err := src.ProjectionToBuffer(x, y)
		require.NoError(t, err)
		assert.Equal(t, cell, [2]int{col, row})
	}

	// Off-raster positions are not clamped.
	col, row, err := src.ProjectionToBuffer(-3, 60)
	require.NoError(t, err)
	assert.Equal(t, -3, col)
	assert.Equal(t, -11, row)

	col, row, err = src.ProjectionToOriginal(10.4, 10.6)
	require.NoError(t, err)
	assert.Equal(t, 10, col)
	assert.Equal(t, 38, row)
}

func TestExtentAndPolygon(t *testing.T) {
	src := openRGB(t)
	ext, err := src.Extent()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-0.5, -0.5}, Max: orb.Point{99.5, 49.5}}, ext)

	poly, err := src.Polygon()
	require.NoError(t, err)
	require.Len(t, poly, 1)
	assert.Len(t, poly[0], 5)
	assert.Equal(t, poly[0][0], poly[0][4])
}

func TestGeometryIsReadOnly(t *testing.T) {
	src := openRGB(t)
	before, err := src.OriginalGeometry()
	require.NoError(t, err)

	assert.ErrorIs(t, src.SetDx(2), ErrUnsupportedOperation)
	assert.ErrorIs(t, src.SetDy(2), ErrUnsupportedOperation)
	assert.ErrorIs(t, src.SetXllCenter(2), ErrUnsupportedOperation)
	assert.ErrorIs(t, src.SetYllCenter(2), ErrUnsupportedOperation)

	after, err := src.OriginalGeometry()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBands(t *testing.T) {
	src := openRGB(t)
	bands, err := src.Bands()
	require.NoError(t, err)
	assert.Equal(t, 3, bands.Len())

	_, err = bands.At(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = bands.At(4)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	b1, err := bands.At(1)
	require.NoError(t, err)
	dt, err := src.DataType()
	require.NoError(t, err)
	assert.Equal(t, dt, b1.DataType())
	assert.Equal(t, decoder.Byte, dt)
	assert.Equal(t, decoder.CIRed, b1.ColorInterpretation())

	b3, err := bands.At(3)
	require.NoError(t, err)
	v, err := b3.Value(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	st, err := b1.Statistics(false)
	require.NoError(t, err)
	assert.Equal(t, 100*50, st.ValidCount)
}

func TestActiveBand(t *testing.T) {
	src := openRGB(t)
	i, err := src.ActiveBandIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	require.NoError(t, src.SetActiveBandIndex(3))
	assert.ErrorIs(t, src.SetActiveBandIndex(0), ErrIndexOutOfRange)
	assert.ErrorIs(t, src.SetActiveBandIndex(4), ErrIndexOutOfRange)

	b, err := src.ActiveBand()
	require.NoError(t, err)
	assert.Equal(t, 3, b.Index())
}

func TestOpenFailures(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.tif"))
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.NotEmpty(t, oe.Message)

	engineErr := errors.New("corrupt header")
	_, err = OpenWith(fakeEngine{err: engineErr}, "x.tif")
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.ErrorIs(t, err, engineErr)
	assert.Contains(t, err.Error(), "corrupt header")
}

func TestOpenRejectsOtherDecode(t *testing.T) {
	h := newFakeHandle(4, 4, 3)
	src, err := OpenWith(fakeEngine{dec: decoder.OtherDecode{H: h, Format: "PNG"}}, "x.png")
	assert.Nil(t, src)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, 1, h.closed)

	// The real engine routes plain images down the other path.
	path := filepath.Join(t.TempDir(), "plain.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))))
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestClose(t *testing.T) {
	h := newFakeHandle(4, 4, 1)
	src, err := openFake(h)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Close(), ErrSourceClosed)
	assert.Equal(t, 1, h.closed)
	assert.Equal(t, "fake.tif", src.Path())

	_, err = src.NumBands()
	assert.ErrorIs(t, err, ErrSourceClosed)
	_, err = src.Width()
	assert.ErrorIs(t, err, ErrSourceClosed)
	_, _, err = src.BufferToProjection(0, 0)
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.ErrorIs(t, src.SetDx(1), ErrSourceClosed)
	assert.ErrorIs(t, src.SetActiveBandIndex(1), ErrSourceClosed)
	assert.ErrorIs(t, src.SetCustomColorScheme(DefaultScheme{}), ErrSourceClosed)
	_, err = src.RenderingType()
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestBandAfterClose(t *testing.T) {
	src, err := openFake(newFakeHandle(4, 4, 2))
	require.NoError(t, err)
	bands, err := src.Bands()
	require.NoError(t, err)
	b, err := bands.At(2)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	_, err = b.Value(0, 0)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

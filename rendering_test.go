package rastersource

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/rastersource/decoder"
	"golang.org/x/image/colornames"
)

func TestRgbBandMapping(t *testing.T) {
	src := openRGB(t)
	cs, err := src.RgbBandMapping()
	require.NoError(t, err)
	require.Equal(t, 3, cs.Len())

	captions := []string{}
	for _, iv := range cs.Intervals() {
		captions = append(captions, iv.Caption)
	}
	assert.Equal(t, []string{"Red: Band 1", "Green: Band 2", "Blue: Band 3"}, captions)

	iv, err := cs.At(1)
	require.NoError(t, err)
	assert.Equal(t, colornames.Green, iv.LowColor)

	active, err := src.ActiveColorScheme()
	require.NoError(t, err)
	assert.Equal(t, cs.Intervals(), active.Intervals())
}

func TestRenderingType(t *testing.T) {
	tests := []struct {
		name  string
		bands int
		grid  bool
		force bool
		want  RenderingType
	}{
		{"single band", 1, false, false, RenderingGrayscale},
		{"single band forced", 1, false, true, RenderingGrid},
		{"rgb", 3, false, false, RenderingRgb},
		{"rgb forced", 3, false, true, RenderingGrid},
		{"native grid", 1, true, false, RenderingGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(2, 2, tt.bands)
			h.grid = tt.grid
			src, err := openFake(h)
			require.NoError(t, err)
			require.NoError(t, src.SetForceGridRendering(tt.force))

			got, err := src.RenderingType()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaletteInterpretation(t *testing.T) {
	tests := []struct {
		model decoder.ColorModel
		want  PaletteInterpretation
	}{
		{decoder.ModelGray, PaletteGray},
		{decoder.ModelRGB, PaletteRGB},
		{decoder.ModelYCbCr, PaletteRGB},
		{decoder.ModelCMYK, PaletteCMYK},
		{decoder.ModelPalette, PaletteIndexed},
	}
	for _, tt := range tests {
		h := newFakeHandle(2, 2, 3)
		h.model = tt.model
		src, err := openFake(h)
		require.NoError(t, err)
		got, err := src.PaletteInterpretation()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.model.String())
	}
	assert.Equal(t, "Palette", PaletteIndexed.String())
}

func TestSourceFlags(t *testing.T) {
	src := openRGB(t)

	isRgb, err := src.IsRgb()
	require.NoError(t, err)
	assert.True(t, isRgb)

	warped, err := src.Warped()
	require.NoError(t, err)
	assert.False(t, warped)

	hasTable, err := src.HasBuiltInColorTable()
	require.NoError(t, err)
	assert.False(t, hasTable)

	tip, err := src.ToolTipText()
	require.NoError(t, err)
	assert.Contains(t, tip, "rgb.tif")
	assert.Contains(t, tip, "Bands: 3")
	assert.Contains(t, tip, "100 x 50")
}

// The grayscale range follows band statistics when UseHistogram is on,
// rather than the fixed 0-255 range.
func TestGrayScaleFromStatistics(t *testing.T) {
	h := newFakeHandle(4, 4, 1)
	h.stats = decoder.Statistics{Min: 10, Max: 90, ValidCount: 16}
	src, err := openFake(h)
	require.NoError(t, err)

	cs, err := src.GrayScaleColorScheme()
	require.NoError(t, err)
	require.Equal(t, 1, cs.Len())
	iv, _ := cs.At(0)
	assert.Equal(t, 0.0, iv.LowValue)
	assert.Equal(t, 255.0, iv.HighValue)
	assert.Equal(t, "0 - 255", iv.Caption)
	assert.Equal(t, colornames.White, iv.LowColor)
	require.NotNil(t, iv.HighColor)
	assert.Equal(t, colornames.Black, *iv.HighColor)

	require.NoError(t, src.SetUseHistogram(true))
	cs, err = src.GrayScaleColorScheme()
	require.NoError(t, err)
	iv, _ = cs.At(0)
	assert.Equal(t, 10.0, iv.LowValue)
	assert.Equal(t, 90.0, iv.HighValue)
	assert.Equal(t, "10 - 90", iv.Caption)

	// Failing statistics fall back to the nominal range.
	buf := quietLogger(t)
	h.statsErr = errors.New("read failed")
	cs, err = src.GrayScaleColorScheme()
	require.NoError(t, err)
	iv, _ = cs.At(0)
	assert.Equal(t, 255.0, iv.HighValue)
	assert.Contains(t, buf.String(), "read failed")
}

func TestCustomColorScheme(t *testing.T) {
	src, err := openFake(newFakeHandle(4, 4, 1))
	require.NoError(t, err)

	sel, err := src.CustomColorScheme()
	require.NoError(t, err)
	assert.Equal(t, DefaultScheme{}, sel)

	custom := NewColorScheme(
		Interval{LowValue: 0, HighValue: 10, LowColor: colornames.Navy, Caption: "low"},
		Interval{LowValue: 10, HighValue: 20, LowColor: colornames.Orange, Caption: "high"},
	)
	require.NoError(t, src.SetCustomColorScheme(CustomScheme{Scheme: custom}))

	sel, err = src.CustomColorScheme()
	require.NoError(t, err)
	got, ok := sel.(CustomScheme)
	require.True(t, ok)
	assert.Equal(t, custom.Intervals(), got.Scheme.Intervals())

	active, err := src.ActiveColorScheme()
	require.NoError(t, err)
	assert.NotSame(t, custom, active)
	assert.Equal(t, custom.Intervals(), active.Intervals())

	// The source keeps its own copy.
	custom.AddInterval(20, 30, colornames.Red, "extra")
	got.Scheme.AddInterval(20, 30, colornames.Red, "extra")
	active.AddInterval(20, 30, colornames.Red, "extra")
	sel, err = src.CustomColorScheme()
	require.NoError(t, err)
	assert.Equal(t, 2, sel.(CustomScheme).Scheme.Len())
	active, err = src.ActiveColorScheme()
	require.NoError(t, err)
	assert.Equal(t, 2, active.Len())

	require.NoError(t, src.SetCustomColorScheme(CustomScheme{}))
	sel, err = src.CustomColorScheme()
	require.NoError(t, err)
	assert.Equal(t, DefaultScheme{}, sel)
}

func TestActiveSchemeFromColorTable(t *testing.T) {
	h := newFakeHandle(4, 4, 1)
	h.model = decoder.ModelPalette
	h.table = []color.RGBA{colornames.Red, colornames.Lime}
	src, err := openFake(h)
	require.NoError(t, err)

	hasTable, err := src.HasBuiltInColorTable()
	require.NoError(t, err)
	assert.True(t, hasTable)

	cs, err := src.ActiveColorScheme()
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())
	c, ok := cs.ColorAt(1)
	require.True(t, ok)
	assert.Equal(t, colornames.Lime, c)
}

package rastersource

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/rastersource/decoder"
	"golang.org/x/image/colornames"
)

const sampleConfig = `
active_band: 2
use_histogram: true
force_grid_rendering: true
color_scheme:
  - low: 0
    high: 100
    low_color: "#ffffff"
    high_color: "#000080"
    caption: depth
  - low: 100
    high: 200
    low_color: "#ff0000"
overviews:
  resampling: average
  scales: [2, 4]
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ActiveBand)
	assert.True(t, cfg.UseHistogram)
	assert.Equal(t, []int{2, 4}, cfg.Overviews.Scales)

	m, err := cfg.OverviewResampling()
	require.NoError(t, err)
	assert.Equal(t, decoder.Average, m)

	sel, err := cfg.Scheme()
	require.NoError(t, err)
	cs := sel.(CustomScheme).Scheme
	require.Equal(t, 2, cs.Len())
	iv, _ := cs.At(0)
	assert.Equal(t, colornames.White, iv.LowColor)
	require.NotNil(t, iv.HighColor)
	assert.Equal(t, colornames.Navy, *iv.HighColor)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("color_scheme:\n  - low_color: red\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("overviews:\n  resampling: sinc\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("unknown_key: 1\n"))
	assert.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	src, err := openFake(newFakeHandle(4, 4, 3))
	require.NoError(t, err)

	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, src.ApplyConfig(cfg))

	i, err := src.ActiveBandIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	rt, err := src.RenderingType()
	require.NoError(t, err)
	assert.Equal(t, RenderingGrid, rt)

	got, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, cfg.ColorScheme, got.ColorScheme)
	assert.True(t, got.UseHistogram)

	cfg.ActiveBand = 9
	assert.ErrorIs(t, src.ApplyConfig(cfg), ErrIndexOutOfRange)
	i, err = src.ActiveBandIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, i)
}

func TestConfigSaveLoad(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigKeepsAlpha(t *testing.T) {
	src, err := openFake(newFakeHandle(4, 4, 1))
	require.NoError(t, err)

	high := color.RGBA{R: 0, G: 0, B: 128, A: 0x40}
	require.NoError(t, src.SetCustomColorScheme(CustomScheme{Scheme: NewColorScheme(
		Interval{LowValue: 0, HighValue: 1, LowColor: color.RGBA{R: 255, A: 0x80}, HighColor: &high},
	)}))

	cfg, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "#ff000080", cfg.ColorScheme[0].LowColor)
	assert.Equal(t, "#00008040", cfg.ColorScheme[0].HighColor)

	path := filepath.Join(t.TempDir(), "alpha.yaml")
	require.NoError(t, cfg.Save(path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	sel, err := loaded.Scheme()
	require.NoError(t, err)
	iv, err := sel.(CustomScheme).Scheme.At(0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 0x80}, iv.LowColor)
	assert.Equal(t, high, *iv.HighColor)

	_, err = ParseConfig([]byte("color_scheme:\n  - low_color: \"#ff0000zz\"\n"))
	assert.Error(t, err)
}

package rastersource

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/rastersource/decoder"
)

func TestBuildOverviews(t *testing.T) {
	src := openRGB(t)

	n, err := src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.True(t, src.BuildOverviews(decoder.Average, []int{2, 4, 8}))
	n, err = src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ovs, err := src.Overviews()
	require.NoError(t, err)
	assert.Equal(t, 50, ovs[0].Width)
	assert.Equal(t, 8, ovs[2].Factor)

	// Existing factors are rebuilt, not added again.
	require.True(t, src.BuildOverviews(decoder.Nearest, []int{4, 10}))
	n, err = src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBuildOverviewsSharedLevelSizes(t *testing.T) {
	src := openRGB(t)

	for i := 0; i < 3; i++ {
		require.True(t, src.BuildOverviews(decoder.Nearest, []int{9}))
		ovs, err := src.Overviews()
		require.NoError(t, err)
		assert.Equal(t, []decoder.OverviewInfo{{Width: 12, Height: 6, Factor: 9, External: true}}, ovs)
	}

	require.True(t, src.BuildOverviews(decoder.Nearest, []int{10, 11}))
	n, err := src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.True(t, src.BuildOverviews(decoder.Nearest, []int{2}))
	ovs, err := src.Overviews()
	require.NoError(t, err)
	require.Len(t, ovs, 3)
	assert.Equal(t, []int{2, 9, 10}, []int{ovs[0].Factor, ovs[1].Factor, ovs[2].Factor})
}

func TestBuildOverviewsPassesScalesThrough(t *testing.T) {
	h := newFakeHandle(64, 64, 1)
	src, err := openFake(h)
	require.NoError(t, err)

	require.True(t, src.BuildOverviews(decoder.Average, []int{8, 2, 2}))
	assert.Equal(t, 3, h.builtCount)
	assert.Equal(t, []int{8, 2, 2}, h.builtScales)
}

func TestBuildOverviewsFailure(t *testing.T) {
	buf := quietLogger(t)
	h := newFakeHandle(64, 64, 1)
	h.buildErr = errors.New("disk full")
	src, err := openFake(h)
	require.NoError(t, err)

	assert.False(t, src.BuildOverviews(decoder.Nearest, []int{2, 4, 8}))
	n, err := src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, buf.String(), "disk full")

	err = src.BuildOverviewsContext(context.Background(), decoder.Nearest, []int{2})
	assert.ErrorIs(t, err, ErrOverviewBuildFailed)
	assert.ErrorContains(t, err, "disk full")
}

func TestBuildOverviewsInvalidScale(t *testing.T) {
	quietLogger(t)
	src := openRGB(t)
	assert.False(t, src.BuildOverviews(decoder.Nearest, []int{2, 0}))

	err := src.BuildOverviewsContext(context.Background(), decoder.Nearest, []int{-2})
	assert.ErrorIs(t, err, decoder.ErrInvalidScale)

	n, err := src.NumOverviews()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuildOverviewsCanceled(t *testing.T) {
	src, err := openFake(newFakeHandle(64, 64, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = src.BuildOverviewsContext(ctx, decoder.Nearest, []int{2, 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBufferGeometry(t *testing.T) {
	src := openRGB(t)
	require.True(t, src.BuildOverviews(decoder.Nearest, []int{2}))

	require.NoError(t, src.LoadBuffer(1, decoder.Window{X: 5, Y: 5, Width: 10, Height: 4}))
	g, err := src.BufferGeometry()
	require.NoError(t, err)
	assert.Equal(t, 10, g.Width)
	assert.Equal(t, 4, g.Height)
	assert.Equal(t, 2.0, g.Dx)
	assert.Equal(t, 2.0, g.Dy)
	// Outer edges stay put: level cell 5 starts at x = -0.5 + 5*2.
	assert.Equal(t, 10.5, g.XllCenter)
	assert.Equal(t, 32.5, g.YllCenter)

	orig, err := src.OriginalGeometry()
	require.NoError(t, err)
	assert.Equal(t, 100, orig.Width)
}

func TestSelectOverview(t *testing.T) {
	levels := []Geometry{
		{Width: 100, Height: 100, Dx: 1, Dy: 1},
		{Width: 50, Height: 50, Dx: 2, Dy: 2},
		{Width: 25, Height: 25, Dx: 4, Dy: 4},
	}
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}

	assert.Equal(t, 0, selectLevel(levels, bound, 100, 100))
	assert.Equal(t, 1, selectLevel(levels, bound, 50, 50))
	assert.Equal(t, 1, selectLevel(levels, bound, 40, 40))
	assert.Equal(t, 2, selectLevel(levels, bound, 10, 10))
	assert.Equal(t, 0, selectLevel(levels, bound, 0, 10))
}

func TestLoadExtent(t *testing.T) {
	h := newFakeHandle(100, 100, 1)
	h.ovs = []decoder.OverviewInfo{{Width: 50, Height: 50, Factor: 2}}
	src, err := openFake(h)
	require.NoError(t, err)

	// Lower-left quarter of the dataset at half resolution.
	bound := orb.Bound{Min: orb.Point{-0.5, -0.5}, Max: orb.Point{49.5, 49.5}}
	lvl, err := src.SelectOverview(bound, 25, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, lvl)

	require.NoError(t, src.LoadExtent(bound, 25, 25))
	assert.Equal(t, 1, h.lastLvl)
	assert.Equal(t, decoder.Window{X: 0, Y: 25, Width: 25, Height: 25}, h.lastWin)

	far := orb.Bound{Min: orb.Point{500, 500}, Max: orb.Point{600, 600}}
	assert.Error(t, src.LoadExtent(far, 10, 10))
}

func TestTileExtent(t *testing.T) {
	h := newFakeHandle(10, 10, 1)
	h.crs = "EPSG:4326"
	src, err := openFake(h)
	require.NoError(t, err)

	b, err := src.TileExtent(maptile.New(0, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, -180, b.Min[0], 1e-9)
	assert.InDelta(t, 180, b.Max[0], 1e-9)

	h.crs = "EPSG:3857"
	b, err = src.TileExtent(maptile.New(0, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, -20037508.34, b.Min[0], 1)
	assert.InDelta(t, 20037508.34, b.Max[1], 1)

	h.crs = "EPSG:32633"
	_, err = src.TileExtent(maptile.New(0, 0, 0))
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryPixelIsArea(t *testing.T) {
	md := &GeoTIFFMetadata{
		PixelScale: [3]float64{10, 10, 0},
		TiePoints:  []TiePoint{{GeoX: 100, GeoY: 200}},
		GeoKeys:    map[uint16]interface{}{},
	}

	g := md.geometry(3, 2)
	assert.Equal(t, Geometry{Width: 3, Height: 2, DX: 10, DY: 10, XllCenter: 105, YllCenter: 185}, g)
}

func TestGeometryPixelIsPoint(t *testing.T) {
	md := &GeoTIFFMetadata{
		PixelScale: [3]float64{10, 10, 0},
		TiePoints:  []TiePoint{{GeoX: 100, GeoY: 200}},
		GeoKeys:    map[uint16]interface{}{GTRasterTypeGeoKey: uint16(GTRasterTypePixelIsPoint)},
	}

	g := md.geometry(3, 2)
	assert.Equal(t, 100.0, g.XllCenter)
	assert.Equal(t, 190.0, g.YllCenter)
}

func TestGeometryUngeoreferenced(t *testing.T) {
	md := &GeoTIFFMetadata{GeoKeys: map[uint16]interface{}{}}

	g := md.geometry(4, 4)
	assert.Equal(t, Geometry{Width: 4, Height: 4, DX: 1, DY: 1, XllCenter: 0.5, YllCenter: 0.5}, g)
}

func TestGeometryTransformationIgnoresRotation(t *testing.T) {
	md := &GeoTIFFMetadata{GeoKeys: map[uint16]interface{}{}}
	md.Transformation = [16]float64{
		2, 0.1, 0, 10,
		0.2, -3, 0, 50,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}

	g := md.geometry(5, 4)
	assert.Equal(t, 2.0, g.DX)
	assert.Equal(t, 3.0, g.DY)
	assert.InDelta(t, 11.0, g.XllCenter, 1e-9)
	assert.InDelta(t, 39.5, g.YllCenter, 1e-9)
}

func TestGeometryFlipped(t *testing.T) {
	md := &GeoTIFFMetadata{GeoKeys: map[uint16]interface{}{}}
	md.Transformation = [16]float64{
		2, 0, 0, 10,
		0, -3, 0, 50,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}
	assert.False(t, md.flipped())

	md.Transformation[5] = 3
	assert.True(t, md.flipped())

	md.Transformation[5] = -3
	md.Transformation[0] = -2
	assert.True(t, md.flipped())

	scaled := &GeoTIFFMetadata{
		PixelScale: [3]float64{10, -10, 0},
		TiePoints:  []TiePoint{{GeoX: 100, GeoY: 200}},
		GeoKeys:    map[uint16]interface{}{},
	}
	assert.True(t, scaled.flipped())

	assert.False(t, (&GeoTIFFMetadata{GeoKeys: map[uint16]interface{}{}}).flipped())
}

func TestDetermineCRS(t *testing.T) {
	tests := []struct {
		name string
		keys map[uint16]interface{}
		want string
	}{
		{"projected", map[uint16]interface{}{ProjectedCSTypeGeoKey: uint16(32633)}, "EPSG:32633"},
		{"geographic", map[uint16]interface{}{GeographicTypeGeoKey: uint16(4326)}, "EPSG:4326"},
		{"user defined", map[uint16]interface{}{ProjectedCSTypeGeoKey: uint16(32767)}, ""},
		{"none", map[uint16]interface{}{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := &GeoTIFFMetadata{GeoKeys: tt.keys}
			assert.Equal(t, tt.want, md.determineCRS())
		})
	}
}

func TestParseEPSGCode(t *testing.T) {
	code, err := ParseEPSGCode("EPSG:3857")
	assert.NoError(t, err)
	assert.Equal(t, 3857, code)

	_, err = ParseEPSGCode("WGS84")
	assert.Error(t, err)
}

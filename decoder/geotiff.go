package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GeoTIFF tag IDs
const (
	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
	TagGeoDoubleParams     = 34736
	TagGeoAsciiParams      = 34737
)

// GeoKeys
const (
	GTModelTypeGeoKey     = 1024
	GTModelTypeProjected  = 1
	GTModelTypeGeographic = 2

	GTRasterTypeGeoKey       = 1025
	GTRasterTypePixelIsArea  = 1
	GTRasterTypePixelIsPoint = 2

	GeographicTypeGeoKey  = 2048
	GeogCitationGeoKey    = 2049
	ProjectedCSTypeGeoKey = 3072
	PCSCitationGeoKey     = 3073
)

// TiePoint represents a georeferencing tie point
type TiePoint struct {
	PixelX, PixelY, PixelZ float64
	GeoX, GeoY, GeoZ       float64
}

// GeoTIFFMetadata holds the georeferencing of the full-resolution image.
type GeoTIFFMetadata struct {
	PixelScale     [3]float64
	TiePoints      []TiePoint
	Transformation [16]float64
	GeoKeys        map[uint16]interface{}
	GeoAsciiParams string
	CRS            string
}

// readGeoMetadata reads the GeoTIFF tags of ifd. Missing tags leave the
// image ungeoreferenced rather than failing.
func readGeoMetadata(tr *TIFFReader, ifd *IFD) (*GeoTIFFMetadata, error) {
	md := &GeoTIFFMetadata{GeoKeys: make(map[uint16]interface{})}

	if values := tr.Floats(ifd, TagModelPixelScale); len(values) >= 2 {
		copy(md.PixelScale[:], values)
	}
	md.TiePoints = parseTiePoints(tr.Floats(ifd, TagModelTiepoint))
	if values := tr.Floats(ifd, TagModelTransformation); len(values) >= 16 {
		copy(md.Transformation[:], values[:16])
	}

	if err := md.readGeoKeys(tr, ifd); err != nil {
		return nil, fmt.Errorf("failed to read GeoKeys: %w", err)
	}
	md.CRS = md.determineCRS()

	return md, nil
}

// parseTiePoints parses tie point values
func parseTiePoints(values []float64) []TiePoint {
	if len(values) < 6 {
		return nil
	}

	tiePoints := make([]TiePoint, 0, len(values)/6)
	for i := 0; i+5 < len(values); i += 6 {
		tiePoints = append(tiePoints, TiePoint{
			PixelX: values[i],
			PixelY: values[i+1],
			PixelZ: values[i+2],
			GeoX:   values[i+3],
			GeoY:   values[i+4],
			GeoZ:   values[i+5],
		})
	}
	return tiePoints
}

// readGeoKeys reads the GeoKey directory (4 SHORT header, then 4 SHORTs per key).
func (md *GeoTIFFMetadata) readGeoKeys(tr *TIFFReader, ifd *IFD) error {
	if _, ok := ifd.Tags[TagGeoKeyDirectory]; !ok {
		return nil
	}

	keys, err := tr.Uints(ifd, TagGeoKeyDirectory)
	if err != nil {
		return err
	}
	if len(keys) < 4 {
		return fmt.Errorf("GeoKeyDirectory too short")
	}

	doubles := tr.Floats(ifd, TagGeoDoubleParams)
	md.GeoAsciiParams = tr.String(ifd, TagGeoAsciiParams)

	numKeys := int(keys[3])
	for i := 4; i+3 < len(keys) && (i-4)/4 < numKeys; i += 4 {
		keyID := uint16(keys[i])
		location := keys[i+1]
		count := int(keys[i+2])
		valueOrOffset := int(keys[i+3])

		switch location {
		case 0:
			md.GeoKeys[keyID] = uint16(valueOrOffset)
		case TagGeoDoubleParams:
			if count == 1 && valueOrOffset < len(doubles) {
				md.GeoKeys[keyID] = doubles[valueOrOffset]
			} else if end := valueOrOffset + count; end <= len(doubles) {
				md.GeoKeys[keyID] = doubles[valueOrOffset:end]
			}
		case TagGeoAsciiParams:
			ascii := md.GeoAsciiParams
			if valueOrOffset < len(ascii) {
				end := valueOrOffset + count - 1 // strip the '|' terminator
				if end > len(ascii) {
					end = len(ascii)
				}
				md.GeoKeys[keyID] = strings.TrimRight(ascii[valueOrOffset:end], "|")
			}
		}
	}

	return nil
}

// determineCRS determines the CRS from GeoKeys
func (md *GeoTIFFMetadata) determineCRS() string {
	if code, ok := md.GeoKeys[ProjectedCSTypeGeoKey].(uint16); ok && code != 0 && code != 32767 {
		return fmt.Sprintf("EPSG:%d", code)
	}
	if code, ok := md.GeoKeys[GeographicTypeGeoKey].(uint16); ok && code != 0 && code != 32767 {
		return fmt.Sprintf("EPSG:%d", code)
	}
	return ""
}

// pixelIsPoint reports whether tie points refer to cell centers.
func (md *GeoTIFFMetadata) pixelIsPoint() bool {
	v, ok := md.GeoKeys[GTRasterTypeGeoKey].(uint16)
	return ok && v == GTRasterTypePixelIsPoint
}

// hasTransformation checks if ModelTransformation is available
func (md *GeoTIFFMetadata) hasTransformation() bool {
	for _, v := range md.Transformation {
		if v != 0 {
			return true
		}
	}
	return false
}

// georeferenced reports whether the metadata places the image in space.
func (md *GeoTIFFMetadata) georeferenced() bool {
	return md.hasTransformation() || (len(md.TiePoints) > 0 && md.PixelScale[0] != 0)
}

// pixelToGeo converts raster space to model space. With PixelIsPoint the
// integer raster coordinates are cell centers, otherwise cell corners.
func (md *GeoTIFFMetadata) pixelToGeo(pixelX, pixelY float64) (float64, float64) {
	if md.hasTransformation() {
		t := md.Transformation
		return t[0]*pixelX + t[1]*pixelY + t[3], t[4]*pixelX + t[5]*pixelY + t[7]
	}

	if len(md.TiePoints) > 0 && md.PixelScale[0] != 0 {
		tp := md.TiePoints[0]
		geoX := tp.GeoX + (pixelX-tp.PixelX)*md.PixelScale[0]
		geoY := tp.GeoY - (pixelY-tp.PixelY)*md.PixelScale[1] // raster rows grow downwards
		return geoX, geoY
	}

	return pixelX, pixelY
}

// flipped reports whether raster rows run upwards or columns run leftwards
// in model space.
func (md *GeoTIFFMetadata) flipped() bool {
	if md.hasTransformation() {
		return md.Transformation[0] < 0 || md.Transformation[5] > 0
	}
	if len(md.TiePoints) > 0 && md.PixelScale[0] != 0 {
		return md.PixelScale[0] < 0 || md.PixelScale[1] < 0
	}
	return false
}

// cellSize returns the positive cell size. Rotation terms of a
// ModelTransformation are ignored.
func (md *GeoTIFFMetadata) cellSize() (float64, float64) {
	if md.hasTransformation() {
		return math.Abs(md.Transformation[0]), math.Abs(md.Transformation[5])
	}
	if md.PixelScale[0] != 0 {
		return math.Abs(md.PixelScale[0]), math.Abs(md.PixelScale[1])
	}
	return 1, 1
}

// geometry derives the cell-center anchored geometry of a width x height image.
func (md *GeoTIFFMetadata) geometry(width, height int) Geometry {
	dx, dy := md.cellSize()
	g := Geometry{Width: width, Height: height, DX: dx, DY: dy}

	if !md.georeferenced() {
		// Unreferenced images cover [0, width] x [0, height].
		g.XllCenter = 0.5
		g.YllCenter = 0.5
		return g
	}

	if md.pixelIsPoint() {
		// (0, 0) is the center of the top-left cell.
		x0, y0 := md.pixelToGeo(0, 0)
		g.XllCenter = x0
		g.YllCenter = y0 - float64(height-1)*dy
		return g
	}

	// (0, 0) is the top-left corner of the top-left cell.
	left, top := md.pixelToGeo(0, 0)
	g.XllCenter = left + dx/2
	g.YllCenter = top - float64(height)*dy + dy/2
	return g
}

// ParseEPSGCode extracts EPSG code from CRS string
func ParseEPSGCode(crs string) (int, error) {
	if strings.HasPrefix(crs, "EPSG:") {
		code, err := strconv.Atoi(crs[5:])
		if err != nil {
			return 0, err
		}
		return code, nil
	}
	return 0, fmt.Errorf("invalid CRS format: %s", crs)
}

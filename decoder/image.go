package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageMagic = [][]byte{
	[]byte("\x89PNG\r\n\x1a\n"),
	[]byte("\xff\xd8\xff"),
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("BM"),
}

func looksLikeImage(head []byte) bool {
	for _, m := range imageMagic {
		if bytes.HasPrefix(head, m) {
			return true
		}
	}
	return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
}

// openImage decodes a plain image into memory. Plain images carry no
// georeferencing, so each pixel is a unit cell with the lower-left cell
// centered at (0.5, 0.5).
func openImage(r io.Reader, path string, opts Options) (*dataset, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	geo := Geometry{Width: w, Height: h, DX: 1, DY: 1, XllCenter: 0.5, YllCenter: 0.5}

	var (
		bands   int
		dtype   = Byte
		model   ColorModel
		interps []ColorInterp
		table   []color.RGBA
		data    []float64
	)

	switch src := img.(type) {
	case *image.Gray:
		bands, model, interps = 1, ModelGray, []ColorInterp{CIGray}
		data = make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		bands, model, interps, dtype = 1, ModelGray, []ColorInterp{CIGray}, UInt16
		data = make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Paletted:
		bands, model, interps = 1, ModelPalette, []ColorInterp{CIPalette}
		table = make([]color.RGBA, len(src.Palette))
		for i, c := range src.Palette {
			table[i] = color.RGBAModel.Convert(c).(color.RGBA)
		}
		data = make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	default:
		bands, model = 3, ModelRGB
		interps = []ColorInterp{CIRed, CIGreen, CIBlue}
		if !opaque(img) {
			bands = 4
			interps = append(interps, CIAlpha)
		}
		data = make([]float64, w*h*bands)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				off := (y*w + x) * bands
				data[off], data[off+1], data[off+2] = float64(c.R), float64(c.G), float64(c.B)
				if bands == 4 {
					data[off+3] = float64(c.A)
				}
			}
		}
	}

	ds := newDataset(path, imageFormatName(format), geo, bands, dtype, opts)
	ds.model = model
	ds.interps = interps
	ds.colorTable = table
	ds.levels = []*level{{width: w, height: h, src: &memLevel{width: w, height: h, bands: bands, data: data}}}
	return ds, nil
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// imageFormatName maps image package format names to driver short names.
func imageFormatName(format string) string {
	switch format {
	case "png":
		return "PNG"
	case "jpeg":
		return "JPEG"
	case "gif":
		return "GIF"
	case "bmp":
		return "BMP"
	case "webp":
		return "WEBP"
	}
	return format
}

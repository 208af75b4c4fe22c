package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// asciiGridHeader is the keyword header of an ESRI ASCII grid.
type asciiGridHeader struct {
	cols, rows       int
	xll, yll         float64
	cornerX, cornerY bool
	dx, dy           float64
	noData           *float64
}

var asciiGridKeys = map[string]bool{
	"ncols": true, "nrows": true,
	"xllcorner": true, "yllcorner": true, "xllcenter": true, "yllcenter": true,
	"cellsize": true, "dx": true, "dy": true, "nodata_value": true,
}

// looksLikeASCIIGrid reports whether head starts with an ESRI ASCII grid
// header keyword.
func looksLikeASCIIGrid(head []byte) bool {
	fields := bytes.Fields(head)
	if len(fields) == 0 {
		return false
	}
	return asciiGridKeys[strings.ToLower(string(fields[0]))]
}

// openASCIIGrid reads a whole ESRI ASCII grid into memory. Values are stored
// top row first, matching the file order.
func openASCIIGrid(r io.Reader, path string, opts Options) (*dataset, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	var hdr asciiGridHeader
	hdr.cornerX, hdr.cornerY = true, true
	var pending string

	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if !asciiGridKeys[key] {
			pending = sc.Text()
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("missing value for %s", key)
		}
		raw := sc.Text()
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		switch key {
		case "ncols":
			hdr.cols = int(v)
		case "nrows":
			hdr.rows = int(v)
		case "xllcorner":
			hdr.xll, hdr.cornerX = v, true
		case "xllcenter":
			hdr.xll, hdr.cornerX = v, false
		case "yllcorner":
			hdr.yll, hdr.cornerY = v, true
		case "yllcenter":
			hdr.yll, hdr.cornerY = v, false
		case "cellsize":
			hdr.dx, hdr.dy = v, v
		case "dx":
			hdr.dx = v
		case "dy":
			hdr.dy = v
		case "nodata_value":
			nd := v
			hdr.noData = &nd
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid header: %w", err)
	}
	if hdr.cols <= 0 || hdr.rows <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", hdr.cols, hdr.rows)
	}
	if hdr.dx <= 0 || hdr.dy <= 0 {
		return nil, fmt.Errorf("invalid cell size %gx%g", hdr.dx, hdr.dy)
	}

	data := make([]float64, 0, hdr.cols*hdr.rows)
	isFloat := false
	parse := func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid grid value %q at cell %d: %w", s, len(data), err)
		}
		if strings.ContainsAny(s, ".eE") {
			isFloat = true
		}
		data = append(data, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for len(data) < hdr.cols*hdr.rows && sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid values: %w", err)
	}
	if len(data) != hdr.cols*hdr.rows {
		return nil, fmt.Errorf("grid holds %d values, header declares %dx%d", len(data), hdr.cols, hdr.rows)
	}

	geo := Geometry{Width: hdr.cols, Height: hdr.rows, DX: hdr.dx, DY: hdr.dy, XllCenter: hdr.xll, YllCenter: hdr.yll}
	if hdr.cornerX {
		geo.XllCenter += hdr.dx / 2
	}
	if hdr.cornerY {
		geo.YllCenter += hdr.dy / 2
	}

	dtype := Int32
	if isFloat {
		dtype = Float32
	}
	ds := newDataset(path, "AAIGrid", geo, 1, dtype, opts)
	ds.noData = hdr.noData
	ds.interps = []ColorInterp{CIUndefined}
	ds.grid = true
	ds.levels = []*level{{width: hdr.cols, height: hdr.rows, src: &memLevel{width: hdr.cols, height: hdr.rows, bands: 1, data: data}}}
	return ds, nil
}

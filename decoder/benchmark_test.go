package decoder

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"testing"
)

// generateTestGrid creates synthetic band-interleaved byte data
func generateTestGrid(width, height, bands int) []float64 {
	data := make([]float64, width*height*bands)
	for i := range data {
		data[i] = float64(rand.Intn(256))
	}
	return data
}

// createBenchmarkTIFF writes a random raster to a temporary file
func createBenchmarkTIFF(b *testing.B, width, height, bands int, compression int) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.tif")
	err := WriteGeoTIFF(path, WriteOptions{Compression: compression}, Raster{
		Width: width, Height: height, Bands: bands, DataType: Byte,
		Data: generateTestGrid(width, height, bands),
		Geo:  &GeoReference{Left: 0, Top: float64(height), DX: 1, DY: 1, EPSG: 3857},
	})
	if err != nil {
		b.Fatalf("failed to write benchmark TIFF: %v", err)
	}
	return path
}

func openBenchmarkHandle(b *testing.B, path string) Handle {
	b.Helper()
	dec, err := NewDriver(Options{}).Open(path)
	if err != nil {
		b.Fatalf("failed to open: %v", err)
	}
	h := dec.Handle()
	b.Cleanup(func() { h.Close() })
	return h
}

// =============================================================================
// Benchmarks for window reads
// =============================================================================

func BenchmarkLoadBuffer_Small(b *testing.B) {
	benchmarkLoadBuffer(b, 512, 512, Window{X: 100, Y: 100, Width: 64, Height: 64}, CompressionNone)
}

func BenchmarkLoadBuffer_Full(b *testing.B) {
	benchmarkLoadBuffer(b, 512, 512, Window{Width: 512, Height: 512}, CompressionNone)
}

func BenchmarkLoadBuffer_Deflate(b *testing.B) {
	benchmarkLoadBuffer(b, 512, 512, Window{Width: 512, Height: 512}, CompressionDeflate)
}

func BenchmarkLoadBuffer_ZSTD(b *testing.B) {
	benchmarkLoadBuffer(b, 512, 512, Window{Width: 512, Height: 512}, CompressionZSTD)
}

func benchmarkLoadBuffer(b *testing.B, width, height int, win Window, compression int) {
	h := openBenchmarkHandle(b, createBenchmarkTIFF(b, width, height, 3, compression))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := h.LoadBuffer(0, win); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOpen_LocalFile(b *testing.B) {
	path := createBenchmarkTIFF(b, 256, 256, 3, CompressionDeflate)
	dr := NewDriver(Options{})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		dec, err := dr.Open(path)
		if err != nil {
			b.Fatal(err)
		}
		dec.Handle().Close()
	}
}

func BenchmarkStatistics(b *testing.B) {
	h := openBenchmarkHandle(b, createBenchmarkTIFF(b, 512, 512, 1, CompressionNone))
	ds := h.(*dataset)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Statistics are cached, so drop the cache each round.
		ds.stats = make(map[statsKey]Statistics)
		if _, err := ds.Statistics(1, false); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Benchmarks for byte buffer operations
// =============================================================================

func BenchmarkByteBufferAlloc(b *testing.B) {
	size := 256 * 256 * 3 // Typical tile size

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := make([]byte, size)
		_ = buf
	}
}

func BenchmarkByteBufferPooled(b *testing.B) {
	size := 256 * 256 * 3 // Typical tile size

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		buf := GetBuffer(size)
		_ = buf
		PutBuffer(buf)
	}
}

// =============================================================================
// Benchmarks for overview resampling
// =============================================================================

func BenchmarkResample_Average_512to256(b *testing.B) {
	benchmarkResample(b, 512, 256, Average)
}

func BenchmarkResample_Mode_512to256(b *testing.B) {
	benchmarkResample(b, 512, 256, Mode)
}

func BenchmarkResample_Lanczos_512to256(b *testing.B) {
	benchmarkResample(b, 512, 256, Lanczos)
}

func benchmarkResample(b *testing.B, from, to int, method Resampling) {
	src := grid{width: from, height: from, bands: 3, data: generateTestGrid(from, from, 3)}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := resample(src, to, to, method, Byte, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuildOverviews(b *testing.B) {
	path := createBenchmarkTIFF(b, 512, 512, 1, CompressionNone)
	h := openBenchmarkHandle(b, path)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := h.BuildOverviews(context.Background(), Average, 3, []int{2, 4, 8}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTIFFReader_Parse(b *testing.B) {
	var buf bytes.Buffer
	err := WriteTIFF(&buf, WriteOptions{}, Raster{
		Width: 256, Height: 256, Bands: 3, DataType: Byte,
		Data: generateTestGrid(256, 256, 3),
	})
	if err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := NewTIFFReader(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}

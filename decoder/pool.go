package decoder

import "sync"

// Buffer pools for compressed blocks read in hot paths.

const (
	smallBufferSize  = 64 * 1024       // 64KB
	mediumBufferSize = 256 * 1024      // 256KB
	largeBufferSize  = 1024 * 1024     // 1MB
	xlargeBufferSize = 4 * 1024 * 1024 // 4MB
)

var bufferSizes = [...]int{smallBufferSize, mediumBufferSize, largeBufferSize, xlargeBufferSize}

var bufferPools [len(bufferSizes)]sync.Pool

func init() {
	for i, size := range bufferSizes {
		size := size
		bufferPools[i].New = func() interface{} {
			buf := make([]byte, size)
			return &buf
		}
	}
}

// GetBuffer returns a byte slice of exactly size bytes, backed by a pooled
// array when size fits one of the pool classes.
// Call PutBuffer when done to return it to the pool.
func GetBuffer(size int) []byte {
	for i, class := range bufferSizes {
		if size <= class {
			bufPtr := bufferPools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	// For very large buffers, allocate directly
	return make([]byte, size)
}

// PutBuffer returns a buffer to the pool.
// The buffer should not be used after calling this function.
func PutBuffer(buf []byte) {
	c := cap(buf)
	for i, class := range bufferSizes {
		if c == class {
			buf = buf[:c]
			bufferPools[i].Put(&buf)
			return
		}
	}
	// Don't pool non-standard sizes or very large buffers
}

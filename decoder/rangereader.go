package decoder

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Default read-ahead buffer size (64KB) for sequential access optimization
const defaultReadAheadSize = 64 * 1024

// isRemote reports whether path should be read with HTTP range requests.
func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func defaultHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// rangeReader implements io.ReadSeeker over HTTP range requests, keeping a
// read-ahead window for sequential access.
type rangeReader struct {
	url    string
	client *fasthttp.Client
	size   int64

	mu            sync.Mutex
	pos           int64
	buffer        []byte
	bufferStart   int64 // start position of buffer in file
	readAheadSize int
}

// newRangeReader issues a HEAD request to learn the resource size.
func newRangeReader(url string, client *fasthttp.Client) (*rangeReader, error) {
	if client == nil {
		client = defaultHTTPClient()
	}
	rr := &rangeReader{
		url:           url,
		client:        client,
		readAheadSize: defaultReadAheadSize,
		bufferStart:   -1,
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodHead)
	if err := client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("HEAD %s: %w", url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("HEAD %s: unexpected status code: %d", url, resp.StatusCode())
	}
	rr.size = int64(resp.Header.ContentLength())
	if rr.size <= 0 {
		return nil, fmt.Errorf("HEAD %s: unknown content length", url)
	}

	return rr, nil
}

// Read reads from the current position, serving from the read-ahead window
// when possible.
func (rr *rangeReader) Read(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.pos >= rr.size {
		return 0, io.EOF
	}
	toRead := len(p)
	if rr.pos+int64(toRead) > rr.size {
		toRead = int(rr.size - rr.pos)
	}

	if rr.bufferStart >= 0 && rr.pos >= rr.bufferStart && rr.pos < rr.bufferStart+int64(len(rr.buffer)) {
		n := copy(p[:toRead], rr.buffer[rr.pos-rr.bufferStart:])
		rr.pos += int64(n)
		return n, nil
	}

	readSize := rr.readAheadSize
	if readSize < toRead {
		readSize = toRead
	}
	if rr.pos+int64(readSize) > rr.size {
		readSize = int(rr.size - rr.pos)
	}

	data, err := rr.fetchRange(rr.pos, rr.pos+int64(readSize)-1)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	rr.buffer = data
	rr.bufferStart = rr.pos

	n := copy(p[:toRead], data)
	rr.pos += int64(n)
	return n, nil
}

// fetchRange fetches bytes [start, end] from the server
func (rr *rangeReader) fetchRange(start, end int64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	if err := rr.client.Do(req, resp); err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// Server ignored the range; cut the requested slice out of the body.
		body := resp.Body()
		if start >= int64(len(body)) {
			return nil, nil
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		return append([]byte(nil), body[start:end+1]...), nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	// Copy body since response will be released
	return append([]byte(nil), resp.Body()...), nil
}

// Seek sets the offset for the next Read
func (rr *rangeReader) Seek(offset int64, whence int) (int64, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = rr.pos + offset
	case io.SeekEnd:
		newPos = rr.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative position: %d", newPos)
	}

	rr.pos = newPos
	return rr.pos, nil
}

// Close drops the read-ahead buffer.
func (rr *rangeReader) Close() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.buffer = nil
	rr.bufferStart = -1
	return nil
}

// Size returns the resource size in bytes.
func (rr *rangeReader) Size() int64 {
	return rr.size
}

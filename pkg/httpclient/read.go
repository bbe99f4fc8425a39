package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrBodyTooLarge is returned when a response body exceeds the read limit.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// ReadBody reads resp.Body up to limit bytes, decoding gzip, deflate and
// zstd content encodings that the transport left in place. The limit
// applies to decoded bytes and reading stops as soon as it is crossed, so
// an oversized body is never buffered in full. The body is closed.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	body, closeDecoder, err := decodedBody(resp)
	if err != nil {
		return nil, err
	}
	defer closeDecoder()

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// decodedBody wraps resp.Body in a decoder for its Content-Encoding.
// Unknown encodings are passed through untouched.
func decodedBody(resp *http.Response) (io.Reader, func(), error) {
	noop := func() {}
	if resp.Uncompressed {
		return resp.Body, noop, nil
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, noop, fmt.Errorf("deflate: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, noop, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return resp.Body, noop, nil
	}
}

package bulk

import (
	"bytes"
	"errors"
	"io"
)

const streamChunkSize = 32 * 1024

// StreamReader reads a live response body one delimited chunk at a time
// without buffering the whole body.
type StreamReader struct {
	body io.ReadCloser
	buf  []byte
	eof  bool
}

// NewStreamReader wraps body. Closing the StreamReader closes body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{body: body}
}

// ReadUntil returns the bytes up to and including the next occurrence of
// terminator, reading more of the body as needed. When the body ends the
// remaining bytes are returned once without a terminator; after that every
// call returns nil and io.EOF.
func (r *StreamReader) ReadUntil(terminator []byte) ([]byte, error) {
	if len(terminator) == 0 {
		return nil, errors.New("empty terminator")
	}

	searched := 0
	for {
		if idx := bytes.Index(r.buf[searched:], terminator); idx >= 0 {
			return r.consume(searched + idx + len(terminator)), nil
		}
		if r.eof {
			if len(r.buf) == 0 {
				return nil, io.EOF
			}
			return r.consume(len(r.buf)), nil
		}
		// a terminator may straddle the previous read boundary
		searched = max(0, len(r.buf)-len(terminator)+1)
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// Close releases the underlying body.
func (r *StreamReader) Close() error {
	return r.body.Close()
}

func (r *StreamReader) fill() error {
	chunk := make([]byte, streamChunkSize)
	n, err := r.body.Read(chunk)
	r.buf = append(r.buf, chunk[:n]...)
	if errors.Is(err, io.EOF) {
		r.eof = true
		return nil
	}
	return err
}

func (r *StreamReader) consume(n int) []byte {
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out
}

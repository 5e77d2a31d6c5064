package header

import (
	"bufio"
	"errors"
	"io"
)

// LineReader yields a stream one line at a time. A line is every byte up to
// and including '\n', or whatever remains before end of stream.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &LineReader{r: br}
	}
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next line, or io.EOF once the stream is exhausted. The
// returned slice is only valid until the following call.
func (lr *LineReader) Next() ([]byte, error) {
	line, err := lr.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		// Long line: keep reading into a fresh buffer.
		long := append([]byte(nil), line...)
		for errors.Is(err, bufio.ErrBufferFull) {
			line, err = lr.r.ReadSlice('\n')
			long = append(long, line...)
		}
		line = long
	}

	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, io.EOF):
		if len(line) == 0 {
			return nil, io.EOF
		}
		return line, nil
	default:
		return nil, err
	}
}

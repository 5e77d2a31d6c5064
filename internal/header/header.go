// Package header normalizes the header block of an incoming message.
//
// The output always starts with a freshly generated Received: trace header,
// carries exactly one From: and one Date: header, and ends the header block
// with a single blank line. The body is copied byte for byte.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// AgentName appears in the trace header's "with local" clause.
const AgentName = "attomail"

var (
	// OriginatorPrefix marks an existing From: header. Matching is a literal,
	// case-sensitive byte prefix: no folding, no leading whitespace.
	OriginatorPrefix = []byte("From: ")
	// DatePrefix marks an existing Date: header, matched the same way.
	DatePrefix = []byte("Date: ")
)

var (
	// ErrRead wraps failures reading the input message.
	ErrRead = errors.New("reading message")
	// ErrWrite wraps failures writing the output message.
	ErrWrite = errors.New("writing message")
)

// Status records which headers the input already carried.
type Status struct {
	HasOriginator bool
	HasDate       bool
}

// Envelope is what the transformer needs to know about a delivery.
type Envelope struct {
	Sender    string
	Recipient string
	// Received is used for the trace header and, if needed, the Date: header.
	Received time.Time
}

// FormatDate renders t as an RFC 2822 date.
func FormatDate(t time.Time) string {
	return t.Format(time.RFC1123Z)
}

// TraceHeader returns the Received: header line for env, newline included.
func TraceHeader(env Envelope) string {
	return fmt.Sprintf("Received: for %s with local (%s) (envelope-from %s); %s\n",
		env.Recipient, AgentName, env.Sender, FormatDate(env.Received))
}

// CopyHeaders copies header lines from lr to w until the first blank line
// or end of stream. The terminating blank line is consumed but not written.
// A last header line cut off by end of stream gets a newline appended.
func CopyHeaders(lr *LineReader, w io.Writer) (Status, error) {
	var st Status
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("%w: %v", ErrRead, err)
		}

		if isBlank(line) {
			return st, nil
		}
		if bytes.HasPrefix(line, OriginatorPrefix) {
			st.HasOriginator = true
		} else if bytes.HasPrefix(line, DatePrefix) {
			st.HasDate = true
		}

		if err := write(w, line); err != nil {
			return st, err
		}
		if line[len(line)-1] != '\n' {
			if err := write(w, []byte{'\n'}); err != nil {
				return st, err
			}
		}
	}
}

// WriteHeaders writes the complete normalized header block: trace header,
// the input's headers, any synthesized Date: and From:, and the blank line.
func WriteHeaders(lr *LineReader, w io.Writer, env Envelope) (Status, error) {
	if err := write(w, []byte(TraceHeader(env))); err != nil {
		return Status{}, err
	}

	st, err := CopyHeaders(lr, w)
	if err != nil {
		return st, err
	}

	if !st.HasDate {
		if err := write(w, []byte("Date: "+FormatDate(env.Received)+"\n")); err != nil {
			return st, err
		}
	}
	if !st.HasOriginator {
		if err := write(w, []byte("From: "+env.Sender+"\n")); err != nil {
			return st, err
		}
	}

	return st, write(w, []byte{'\n'})
}

// CopyBody copies the rest of lr to w unchanged.
func CopyBody(lr *LineReader, w io.Writer) error {
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRead, err)
		}
		if err := write(w, line); err != nil {
			return err
		}
	}
}

// Transform reads a raw message from r and writes the delivered form to w.
// It returns the number of bytes written.
func Transform(r io.Reader, w io.Writer, env Envelope) (int64, error) {
	cw := &countingWriter{w: w}
	lr := NewLineReader(r)

	if _, err := WriteHeaders(lr, cw, env); err != nil {
		return cw.n, err
	}
	if err := CopyBody(lr, cw); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func isBlank(line []byte) bool {
	return (len(line) == 1 && line[0] == '\n') ||
		(len(line) == 2 && line[0] == '\r' && line[1] == '\n')
}

func write(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single newline-delimited frame.
const DefaultMaxFrameSize = 4 << 20

const frameReadBufferSize = 64 * 1024

// FrameReader splits a byte stream into newline-delimited JSON frames.
// A frame may span any number of underlying reads and one read may carry
// several frames.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewFrameReader wraps r. A maxSize of zero or less selects DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{
		r:       bufio.NewReaderSize(r, frameReadBufferSize),
		maxSize: maxSize,
	}
}

// ReadFrame returns the next non-empty frame without its line terminator.
// Oversized frames are skipped up to the next newline and reported as
// ErrFrameTooLarge; the reader stays usable afterwards. An unterminated tail
// at EOF is returned as a final frame and io.EOF follows on the next call.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	for {
		line, err := f.readLine()
		if len(bytes.TrimSpace(line)) > 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *FrameReader) readLine() ([]byte, error) {
	var (
		buf      []byte
		tooLarge bool
	)

	for {
		chunk, err := f.r.ReadSlice('\n')

		if !tooLarge {
			payload := len(buf) + len(bytes.TrimRight(chunk, "\r\n"))
			if payload > f.maxSize {
				tooLarge = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLarge {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, ErrFrameTooLarge
		}
		return bytes.TrimRight(buf, "\r\n"), err
	}
}

// WriteFrame writes msg as a single compact line followed by '\n'.
func WriteFrame(w io.Writer, msg []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(msg) + 1)
	if err := json.Compact(&buf, msg); err != nil {
		return fmt.Errorf("invalid JSON frame: %w", err)
	}
	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

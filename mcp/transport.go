package mcp

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Transport moves complete JSON-RPC frames between two peers.
type Transport interface {
	// Send delivers one encoded message.
	Send(ctx context.Context, msg []byte) error

	// Receive blocks until a complete message arrives, ctx ends or the
	// transport closes. io.EOF signals that the peer went away cleanly.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the transport. Pending and later calls fail with ErrTransportClosed.
	Close() error
}

type frameResult struct {
	frame []byte
	err   error
}

// StdioTransport carries newline-delimited frames over a reader and a writer,
// typically a process's stdin and stdout.
type StdioTransport struct {
	reader *FrameReader
	writer io.Writer

	writeMu sync.Mutex
	frames  chan frameResult

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) StdioOption {
	return func(t *StdioTransport) {
		if n > 0 {
			t.reader.maxSize = n
		}
	}
}

// NewStdioTransport builds a transport reading frames from r and writing them to w.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		reader: NewFrameReader(r, DefaultMaxFrameSize),
		writer: w,
		frames: make(chan frameResult),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// readLoop runs until the underlying reader fails. Oversized frames are
// reported once and reading continues.
func (t *StdioTransport) readLoop() {
	defer close(t.frames)

	for {
		frame, err := t.reader.ReadFrame()
		if err != nil && !errors.Is(err, ErrFrameTooLarge) {
			select {
			case t.frames <- frameResult{err: err}:
			case <-t.done:
			}
			return
		}

		select {
		case t.frames <- frameResult{frame: frame, err: err}:
		case <-t.done:
			return
		}
	}
}

// Receive implements Transport.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-t.done:
		return nil, ErrTransportClosed
	default:
	}

	t.startOnce.Do(func() { go t.readLoop() })

	select {
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-t.frames:
		if !ok {
			return nil, io.EOF
		}
		return res.frame, res.err
	}
}

// Send implements Transport.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return WriteFrame(t.writer, msg)
}

// Close implements Transport.
// The underlying reader and writer are left open; their owner closes them.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}

package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"

	"context"
)

// DebugLogging enables verbose payload logging (MCP Send/Recv messages).
var DebugLogging bool

// Stdio implements Transport over NDJSON (newline-delimited JSON): one
// message per line, UTF-8, terminated by '\n'. Empty lines are ignored
// rather than decoded as a message. EOF on the read side is
// end-of-stream.
type Stdio struct {
	in     io.WriteCloser
	out    io.ReadCloser
	reader *bufio.Reader
	cfg    Config

	mu     sync.Mutex
	closed bool
}

// NewStdio wraps a write side (peer's stdin) and read side (peer's stdout)
// in NDJSON framing.
func NewStdio(in io.WriteCloser, out io.ReadCloser, cfg Config) *Stdio {
	return &Stdio{
		in:     in,
		out:    out,
		reader: bufio.NewReaderSize(out, 64*1024),
		cfg:    cfg.WithDefaults(),
	}
}

// Send writes msg followed by a single newline.
func (t *Stdio) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if len(msg) > t.cfg.MaxMessageBytes {
		return ErrTooLarge
	}

	if DebugLogging {
		log.Printf("stdio send: %s", msg)
	}

	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	if _, err := t.in.Write(buf); err != nil {
		return fmt.Errorf("stdio write: %w", err)
	}
	return nil
}

type stdioReadResult struct {
	line []byte
	err  error
}

// Receive reads the next non-empty NDJSON line. Context cancellation closes
// the read side to unblock the underlying ReadBytes call.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		t.mu.Unlock()

		resultCh := make(chan stdioReadResult, 1)
		go func() {
			line, err := t.reader.ReadBytes('\n')
			resultCh <- stdioReadResult{line: line, err: err}
		}()

		var result stdioReadResult
		select {
		case result = <-resultCh:
		case <-ctx.Done():
			_ = t.out.Close()
			return nil, ctx.Err()
		}

		if result.err != nil {
			if result.err == io.EOF && len(bytes.TrimSpace(result.line)) == 0 {
				return nil, ErrEndOfStream
			}
			if result.err == io.EOF {
				// Trailing partial line with no newline: treat as last message.
				msg := bytes.TrimSpace(result.line)
				if len(msg) == 0 {
					return nil, ErrEndOfStream
				}
				if len(msg) > t.cfg.MaxMessageBytes {
					return nil, ErrTooLarge
				}
				return msg, nil
			}
			return nil, fmt.Errorf("stdio read: %w", result.err)
		}

		msg := bytes.TrimSpace(result.line)
		if len(msg) == 0 {
			// Empty line: ignored, loop for the next one.
			continue
		}
		if len(msg) > t.cfg.MaxMessageBytes {
			return nil, ErrTooLarge
		}
		if DebugLogging {
			log.Printf("stdio recv: %s", msg)
		}
		return msg, nil
	}
}

// Close closes both halves.
func (t *Stdio) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if err := t.in.Close(); err != nil {
		firstErr = err
	}
	if err := t.out.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IsClosed reports whether Close has run.
func (t *Stdio) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// ErrClosed is returned by WriteLine after Close.
var ErrClosed = errors.New("jsonl: writer closed")

// ErrMultiLine is returned when a payload contains an embedded newline.
var ErrMultiLine = errors.New("jsonl: payload spans multiple lines")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Writer writes JSONL lines to an agent's stdin.
//
// Concurrent WriteLine calls are serialized by a weighted semaphore so each
// line reaches the pipe whole. Output is UTF-8 without a byte-order mark:
// a BOM in front of the first line breaks the agent's JSON parser.
type Writer struct {
	sem *semaphore.Weighted
	dst io.WriteCloser
	buf *bufio.Writer
	enc *encoding.Encoder

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWriter wraps dst. The Writer owns dst and closes it on Close.
func NewWriter(dst io.WriteCloser) *Writer {
	return &Writer{
		sem: semaphore.NewWeighted(1),
		dst: dst,
		buf: bufio.NewWriter(dst),
		enc: unicode.UTF8.NewEncoder(),
	}
}

// WriteLine writes line followed by a single '\n' and flushes. Trailing
// line terminators in line are ignored; embedded newlines are rejected.
// Waiting for a concurrent writer honors ctx; the write itself does not.
func (w *Writer) WriteLine(ctx context.Context, line []byte) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)

	if w.closed.Load() {
		return ErrClosed
	}

	payload := bytes.TrimRight(bytes.TrimPrefix(line, utf8BOM), "\r\n")
	if bytes.ContainsAny(payload, "\r\n") {
		return ErrMultiLine
	}
	encoded, err := w.enc.Bytes(payload)
	if err != nil {
		return fmt.Errorf("jsonl: encode: %w", err)
	}

	if _, err := w.buf.Write(encoded); err != nil {
		return w.writeErr(err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return w.writeErr(err)
	}
	if err := w.buf.Flush(); err != nil {
		return w.writeErr(err)
	}
	return nil
}

// writeErr maps a pipe error caused by a concurrent Close to ErrClosed.
func (w *Writer) writeErr(err error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	return fmt.Errorf("jsonl: write: %w", err)
}

// Close closes the underlying pipe, signaling end-of-input to the agent.
// It does not wait for an in-flight WriteLine; closing the pipe unblocks
// it. Safe to call multiple times.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.closeErr = w.dst.Close()
	})
	return w.closeErr
}

// Closed reports whether Close has been called.
func (w *Writer) Closed() bool {
	return w.closed.Load()
}

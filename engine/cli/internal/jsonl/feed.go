package jsonl

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxLine is the default maximum accepted line size in bytes.
const DefaultMaxLine = 1 << 20 // 1 MB

// Feed reads lines from one stream in a dedicated goroutine.
//
// The stream is decoded as UTF-8; a leading byte-order mark is accepted and
// stripped. Lines longer than the configured maximum are discarded and
// reported through the oversize callback rather than ending the stream.
type Feed struct {
	lines    chan string
	stop     chan struct{}
	stopOnce sync.Once
	err      error // written before lines is closed
}

// FeedOptions configures a Feed.
type FeedOptions struct {
	// MaxLine is the maximum line size in bytes. Zero means DefaultMaxLine.
	MaxLine int

	// OnOversize is called with the size of every discarded oversized line.
	OnOversize func(size int)
}

// NewFeed starts reading r.
func NewFeed(r io.Reader, opts FeedOptions) *Feed {
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	f := &Feed{
		lines: make(chan string),
		stop:  make(chan struct{}),
	}
	src := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	go f.run(bufio.NewReaderSize(src, min(64<<10, opts.MaxLine)), opts)
	return f
}

// Lines returns the line channel. It is closed at end of stream, on a read
// error, or after Close.
func (f *Feed) Lines() <-chan string {
	return f.lines
}

// Err returns the read error that ended the feed, or nil for a clean end of
// stream. Only meaningful after Lines is closed.
func (f *Feed) Err() error {
	return f.err
}

// Close stops delivering lines. A read blocked in the underlying stream
// only returns once the stream is closed by its owner.
func (f *Feed) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *Feed) run(br *bufio.Reader, opts FeedOptions) {
	defer close(f.lines)
	for {
		line, size, err := readLine(br, opts.MaxLine)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.err = err
			}
			if size == 0 {
				return
			}
		}
		if size > opts.MaxLine {
			if opts.OnOversize != nil {
				opts.OnOversize(size)
			}
		} else if size > 0 || err == nil {
			select {
			case f.lines <- line:
			case <-f.stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// readLine reads one line without its terminator. It returns the line, the
// full line size, and any read error. Oversized lines are consumed to their
// end but not buffered; the returned string is empty for them.
func readLine(br *bufio.Reader, maxLine int) (string, int, error) {
	var buf []byte
	size := 0
	for {
		chunk, isPrefix, err := br.ReadLine()
		size += len(chunk)
		if size <= maxLine {
			buf = append(buf, chunk...)
		} else {
			buf = nil
		}
		if err != nil {
			return string(buf), size, err
		}
		if !isPrefix {
			return string(buf), size, nil
		}
	}
}

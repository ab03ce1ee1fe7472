package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// readChunk is how many source bytes a reader stream pulls at a time.
const readChunk = 4096

// ReaderDevice is a [Device] backed by a PCM or WAV byte source, typically a
// recorded file. WAV input in any PCM16 format is converted to the capture
// format; anything else is read as raw mono PCM16 at [SampleRate].
type ReaderDevice struct {
	open     func() (io.ReadCloser, error)
	realtime bool
	loop     bool
}

// ReaderOption configures a [ReaderDevice].
type ReaderOption func(*ReaderDevice)

// WithRealtime paces frames at the capture cadence (one frame per FrameMs)
// instead of delivering them as fast as they can be read. Default: true.
func WithRealtime(enabled bool) ReaderOption {
	return func(d *ReaderDevice) {
		d.realtime = enabled
	}
}

// WithLoop restarts the source from the beginning when it is exhausted.
func WithLoop(enabled bool) ReaderOption {
	return func(d *ReaderDevice) {
		d.loop = enabled
	}
}

// NewReaderDevice creates a device that calls open each time a stream is
// opened (and again on every loop iteration).
func NewReaderDevice(open func() (io.ReadCloser, error), opts ...ReaderOption) *ReaderDevice {
	d := &ReaderDevice{open: open, realtime: true}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewFileDevice creates a device that reads audio from the file at path.
func NewFileDevice(path string, opts ...ReaderOption) *ReaderDevice {
	return NewReaderDevice(func() (io.ReadCloser, error) {
		return os.Open(path)
	}, opts...)
}

// Open implements [Device].
func (d *ReaderDevice) Open(_ context.Context) (Stream, error) {
	s := &readerStream{dev: d}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	s.next = time.Now()
	return s, nil
}

var _ Device = (*ReaderDevice)(nil)

type readerStream struct {
	dev *ReaderDevice

	mu      sync.Mutex
	rc      io.ReadCloser
	src     *bufio.Reader
	conv    *FormatConverter
	pending []byte
	next    time.Time
	closed  bool
}

// reopen (re)starts the underlying source and sniffs its format.
func (s *readerStream) reopen() error {
	if s.rc != nil {
		_ = s.rc.Close()
		s.rc = nil
	}
	rc, err := s.dev.open()
	if err != nil {
		return fmt.Errorf("audio: open reader source: %w", err)
	}
	src := bufio.NewReader(rc)
	capture := Format{SampleRate: SampleRate, Channels: Channels}
	source := capture

	if magic, err := src.Peek(4); err == nil && string(magic) == "RIFF" {
		f, err := DecodeWAVHeader(src)
		if err != nil {
			_ = rc.Close()
			return err
		}
		if f.Channels > 2 {
			_ = rc.Close()
			return fmt.Errorf("audio: unsupported wav channel count %d", f.Channels)
		}
		source = f
	}

	s.rc = rc
	s.src = src
	s.conv = &FormatConverter{Source: source, Target: capture}
	return nil
}

// ReadFrame implements [Stream].
func (s *readerStream) ReadFrame(ctx context.Context, dst []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.dev.realtime {
		if wait := time.Until(s.next); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return 0, ctx.Err()
			case <-t.C:
			}
		}
		s.next = s.next.Add(FrameDuration)
	}

	for len(s.pending) < FrameBytes {
		buf := make([]byte, readChunk)
		n, err := io.ReadFull(s.src, buf)
		if n > 0 {
			// Keep chunks sample aligned for the converter.
			n -= n % (2 * s.conv.Source.Channels)
			s.pending = append(s.pending, s.conv.Convert(buf[:n])...)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if len(s.pending) >= FrameBytes {
				break
			}
			if !s.dev.loop {
				return 0, ErrClosed
			}
			// The partial tail frame is dropped at the loop point.
			s.pending = s.pending[:0]
			if rerr := s.reopen(); rerr != nil {
				return 0, rerr
			}
			continue
		}
		return 0, fmt.Errorf("audio: read source: %w", err)
	}

	n := min(len(dst), FrameSamples)
	for i := range n {
		dst[i] = int16(uint16(s.pending[i*2]) | uint16(s.pending[i*2+1])<<8)
	}
	s.pending = s.pending[n*2:]
	return n, nil
}

// Close implements [Stream].
func (s *readerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}

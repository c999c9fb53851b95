// Package mock provides scripted implementations of the capture interfaces
// for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zubia/zubia/pkg/capture"
)

// Device is a scripted [capture.Device]. By default every Open succeeds and
// returns a fresh [Stream]; set OpenErr to simulate device failures. The
// device counts concurrent open streams so tests can assert the
// one-open-capture invariant.
type Device struct {
	// OpenErr, when non-nil, is returned by every Open call.
	OpenErr error

	// FrameBuffer is the capacity of each stream's frame channel.
	// Defaults to 16.
	FrameBuffer int

	mu      sync.Mutex
	streams []*Stream

	openCount atomic.Int32
	maxOpen   atomic.Int32
}

// Open implements [capture.Device].
func (d *Device) Open(_ context.Context, _ capture.Constraints) (capture.Stream, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	buf := d.FrameBuffer
	if buf == 0 {
		buf = 16
	}
	n := d.openCount.Add(1)
	for {
		prev := d.maxOpen.Load()
		if n <= prev || d.maxOpen.CompareAndSwap(prev, n) {
			break
		}
	}

	s := &Stream{dev: d, frames: make(chan []float32, buf)}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// OpenStreams returns the number of currently open streams.
func (d *Device) OpenStreams() int { return int(d.openCount.Load()) }

// MaxOpenStreams returns the highest number of simultaneously open streams
// observed.
func (d *Device) MaxOpenStreams() int { return int(d.maxOpen.Load()) }

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Stream is a scripted [capture.Stream]. Tests push frames with [Push].
type Stream struct {
	dev    *Device
	frames chan []float32

	closeOnce sync.Once
	closed    atomic.Bool
}

// Push delivers one frame of float samples to the session, if the stream
// is still open.
func (s *Stream) Push(frame []float32) {
	if s.closed.Load() {
		return
	}
	s.frames <- frame
}

// Frames implements [capture.Stream].
func (s *Stream) Frames() <-chan []float32 { return s.frames }

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int { return 16000 }

// Close implements [capture.Stream]. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.frames)
		s.dev.openCount.Add(-1)
	})
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool { return s.closed.Load() }

// Encoder is a scripted [capture.Encoder] that concatenates the raw bytes
// of every sample written, so tests can assert exactly what was captured.
type Encoder struct {
	// WriteErr, when non-nil, is returned by every Write call.
	WriteErr error

	// FlushErr, when non-nil, is returned by every Flush call.
	FlushErr error

	mu      sync.Mutex
	buf     []byte
	flushes int
}

// Write implements [capture.Encoder].
func (e *Encoder) Write(pcm []int16) error {
	if e.WriteErr != nil {
		return e.WriteErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range pcm {
		e.buf = append(e.buf, byte(s), byte(s>>8))
	}
	return nil
}

// Flush implements [capture.Encoder].
func (e *Encoder) Flush() ([]byte, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	if e.FlushErr != nil {
		return nil, "mock", e.FlushErr
	}
	blob := e.buf
	e.buf = nil
	return blob, "mock", nil
}

// Flushes returns how many times Flush has been called.
func (e *Encoder) Flushes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes
}

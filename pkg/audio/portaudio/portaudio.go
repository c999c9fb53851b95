// Package portaudio adapts the system's default audio devices, via
// PortAudio, to the capture and playback interfaces used by the engine.
//
// Call [Init] once at startup and [Terminate] at shutdown; both wrap the
// underlying PortAudio host API lifecycle.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/zubia/zubia/pkg/audio"
	"github.com/zubia/zubia/pkg/capture"
)

// Compile-time interface assertions.
var (
	_ capture.Device = (*Device)(nil)
	_ audio.Player   = (*Player)(nil)
)

// framesPerBuffer is the PortAudio buffer size in samples: 20 ms at the
// 16 kHz wire rate.
const framesPerBuffer = 320

// Init initialises the PortAudio host API. Must be called before any
// device is opened.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host API. Call after all streams are
// closed.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Device opens capture streams on the system default input device.
type Device struct{}

// NewDevice returns a capture device backed by the default microphone.
func NewDevice() *Device { return &Device{} }

// Open starts a capture stream honouring the requested sample rate. The
// echo-cancellation and noise-suppression constraints are accepted but
// not locally applied; PortAudio exposes the device as configured by the
// OS.
func (d *Device) Open(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	rate := c.SampleRate
	if rate <= 0 {
		rate = capture.DefaultConstraints().SampleRate
	}

	buf := make([]float32, framesPerBuffer)
	pa, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %v: %w", err, capture.ErrDeviceUnavailable)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	s := &stream{
		pa:     pa,
		buf:    buf,
		rate:   rate,
		frames: make(chan []float32, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// stream pumps PortAudio input buffers onto a frame channel.
type stream struct {
	pa     *portaudio.Stream
	buf    []float32
	rate   int
	frames chan []float32

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *stream) Frames() <-chan []float32 { return s.frames }

func (s *stream) SampleRate() int { return s.rate }

// readLoop copies each PortAudio buffer into a fresh slice and forwards
// it. Frames are dropped when the consumer falls behind; capture must
// never block the audio callback thread.
func (s *stream) readLoop() {
	defer close(s.frames)
	for {
		if s.closed.Load() {
			return
		}
		if err := s.pa.Read(); err != nil {
			if !s.closed.Load() {
				slog.Warn("portaudio: input read failed, stopping stream", "err", err)
			}
			return
		}
		frame := make([]float32, len(s.buf))
		copy(frame, s.buf)

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		default:
			// Consumer is behind; drop the frame.
		}
	}
}

// Close stops and releases the PortAudio stream. Idempotent.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = errors.Join(s.pa.Stop(), s.pa.Close())
	})
	return err
}

// Player sounds PCM on the system default output device. Each Play call
// opens a short-lived output stream at the buffer's sample rate, writes
// the whole buffer, and blocks until it has been consumed.
type Player struct {
	mu     sync.Mutex
	closed bool
}

// NewPlayer returns a player backed by the default output device.
func NewPlayer() *Player { return &Player{} }

// Play blocks until pcm has been handed to the device in full.
func (p *Player) Play(pcm []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("portaudio: player is closed")
	}
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		return fmt.Errorf("portaudio: invalid sample rate %d", sampleRate)
	}

	out := make([]int16, framesPerBuffer)
	pa, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer pa.Close()

	if err := pa.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer pa.Stop()

	for off := 0; off < len(pcm); off += len(out) {
		n := copy(out, pcm[off:])
		// Zero-pad the trailing partial buffer.
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		if err := pa.Write(); err != nil {
			return fmt.Errorf("portaudio: write output: %w", err)
		}
	}
	return nil
}

// Close marks the player unusable. Idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

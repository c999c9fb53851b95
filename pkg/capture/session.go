package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zubia/zubia/pkg/audio"
)

// Session owns one open microphone [Stream] and one [Encoder]. A session
// alternates between encode legs: Start begins a leg, Stop flushes it and
// yields the encoded [Chunk], leaving the device open for the next leg.
// Close releases the device.
//
// All encoder access happens on the session's pump goroutine, so a Stop
// issued while a frame is being encoded takes effect once that encode
// settles — queued cancellation, not preemption.
type Session struct {
	stream Stream
	enc    Encoder

	cmds chan sessionCmd

	// level holds the RMS amplitude of the most recent frame (observation
	// only, for visualisation).
	level atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type sessionCmd struct {
	kind  cmdKind
	reply chan stopResult
}

type stopResult struct {
	chunk Chunk
	err   error
}

// Open opens the device with the given constraints and returns a Session
// ready for its first Start. Device open failures pass through unchanged
// so callers can distinguish [ErrPermissionDenied] from
// [ErrDeviceUnavailable].
func Open(ctx context.Context, dev Device, c Constraints, enc Encoder) (*Session, error) {
	stream, err := dev.Open(ctx, c)
	if err != nil {
		return nil, err
	}

	s := &Session{
		stream:   stream,
		enc:      enc,
		cmds:     make(chan sessionCmd),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Start begins an encode leg. Frames arriving before Start (and between
// legs) still feed the level observation but are not encoded. Starting an
// already-started leg is a no-op.
func (s *Session) Start() {
	select {
	case s.cmds <- sessionCmd{kind: cmdStart}:
	case <-s.done:
	case <-s.pumpDone:
	}
}

// Stop finishes the current encode leg and returns its chunk. The device
// stays open; call Start to begin the next leg or Close to release it.
// Stopping a session that is not encoding (or already closed) returns an
// empty chunk.
func (s *Session) Stop(ctx context.Context) (Chunk, error) {
	reply := make(chan stopResult, 1)
	select {
	case s.cmds <- sessionCmd{kind: cmdStop, reply: reply}:
	case <-s.done:
		return Chunk{}, nil
	case <-s.pumpDone:
		return Chunk{}, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.chunk, res.err
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Close releases the device track unconditionally and stops the pump.
// Idempotent — safe to call from any state, including after an error.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Close()
		<-s.pumpDone
	})
	return err
}

// Level returns the RMS amplitude (0..1) of the most recently captured
// frame. It is a non-owning observation used only for visualisation.
func (s *Session) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// pump is the single goroutine that reads device frames and owns the
// encoder. It exits when the session is closed or the device stream ends.
func (s *Session) pump() {
	defer close(s.pumpDone)

	frames := s.stream.Frames()
	encoding := false
	var legStart time.Time

	for {
		select {
		case <-s.done:
			return

		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdStart:
				if !encoding {
					encoding = true
					legStart = time.Now()
				}
			case cmdStop:
				var res stopResult
				if encoding {
					encoding = false
					// Drain frames the device already delivered so the final
					// chunk includes everything captured up to the stop.
					streamEnded := s.drainFrames(frames)
					blob, codec, err := s.enc.Flush()
					res = stopResult{
						chunk: Chunk{Data: blob, Codec: codec, Start: legStart},
						err:   err,
					}
					if streamEnded {
						cmd.reply <- res
						return
					}
				}
				cmd.reply <- res
			}

		case f, ok := <-frames:
			if !ok {
				// Device stream ended behind our back (unplugged, revoked).
				slog.Warn("capture: device stream ended")
				return
			}
			s.level.Store(math.Float64bits(rms(f)))
			if encoding {
				if err := s.enc.Write(audio.QuantizeFloat32(f)); err != nil {
					slog.Warn("capture: encode error, dropping frame", "err", err)
				}
			}
		}
	}
}

// drainFrames consumes every frame already buffered on the device channel,
// feeding each to the encoder. Reports whether the stream ended.
func (s *Session) drainFrames(frames <-chan []float32) bool {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return true
			}
			s.level.Store(math.Float64bits(rms(f)))
			if err := s.enc.Write(audio.QuantizeFloat32(f)); err != nil {
				slog.Warn("capture: encode error, dropping frame", "err", err)
			}
		default:
			return false
		}
	}
}

// rms computes the root-mean-square amplitude of a float frame.
func rms(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(f)))
}

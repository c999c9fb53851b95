// Package recorder drives the capture session according to the active
// recording mode. In streaming mode the microphone runs continuously and
// the encoded audio is cut into fixed-interval chunks; in push-to-talk
// mode one chunk spans exactly one press/release gesture.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/pkg/capture"
)

// Mode selects how the controller segments speech into utterances.
type Mode int

const (
	// Streaming keeps the microphone hot and emits a chunk every
	// interval, so the server can translate while the speaker keeps
	// talking.
	Streaming Mode = iota

	// PushToTalk emits exactly one chunk per press/release gesture.
	PushToTalk
)

// String returns the wire-friendly name of the mode.
func (m Mode) String() string {
	switch m {
	case Streaming:
		return "streaming"
	case PushToTalk:
		return "push_to_talk"
	default:
		return "unknown"
	}
}

// State describes what the controller is currently doing.
type State int

const (
	// Idle means no audio is being captured.
	Idle State = iota

	// Capturing means a capture leg is running.
	Capturing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

const (
	// DefaultInterval is the streaming-mode chunk length.
	DefaultInterval = 4 * time.Second

	// DefaultGrace is the pause between finalising a streaming chunk and
	// restarting the next leg, giving the encoder time to settle.
	DefaultGrace = 50 * time.Millisecond
)

// ErrWrongMode is returned when a gesture method is called in a mode that
// does not support it.
var ErrWrongMode = errors.New("recorder: operation not valid in current mode")

// Utterance is one finalised chunk of the local speaker's audio, ready to
// be sent to the server.
type Utterance struct {
	// ID uniquely identifies the chunk.
	ID string

	// Data is the encoded audio blob.
	Data []byte

	// Codec tags the encoding of Data.
	Codec string

	// Start is when the underlying capture leg began.
	Start time.Time

	// Mode records which recording mode produced the chunk.
	Mode Mode
}

// Session is the slice of the capture session the controller drives.
type Session interface {
	Start() error
	Stop(ctx context.Context) (capture.Chunk, error)
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithInterval overrides the streaming chunk length.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithGrace overrides the pause between streaming legs.
func WithGrace(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithMetrics wires metric instruments into the controller.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller segments microphone audio into utterances according to the
// active [Mode]. Finalised chunks are delivered to the emit callback in
// order; empty chunks (nothing was spoken into the encoder) are discarded.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	sess     Session
	emit     func(Utterance)
	metrics  *observe.Metrics
	interval time.Duration
	grace    time.Duration

	mu        sync.Mutex
	mode      Mode
	state     State
	streaming bool          // streaming loop is running
	pressed   bool          // push-to-talk gesture is active
	stopLoop  chan struct{} // closed to stop the streaming loop
	loopDone  chan struct{} // closed when the streaming loop exits
}

// New creates a controller in [PushToTalk] mode driving sess. Finalised
// utterances are passed to emit, which is invoked from the caller's
// goroutine in push-to-talk mode and from the streaming loop otherwise;
// it must not call back into the controller.
func New(sess Session, emit func(Utterance), opts ...Option) *Controller {
	c := &Controller{
		sess:     sess,
		emit:     emit,
		mode:     PushToTalk,
		interval: DefaultInterval,
		grace:    DefaultGrace,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mode returns the active recording mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State reports whether a capture leg is currently running.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetMode switches the recording mode. If a recording is in progress it is
// force-stopped first: the current leg is finalised and emitted, exactly
// as if the user had ended it.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return
	}
	c.stopActiveLocked()
	c.mode = m
	c.mu.Unlock()

	slog.Info("recorder: mode changed", "mode", m.String())
}

// Toggle starts streaming capture if idle, or stops it and emits the
// final partial chunk. Valid only in [Streaming] mode.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != Streaming {
		return fmt.Errorf("%w: toggle in %s", ErrWrongMode, c.mode)
	}
	if c.streaming {
		c.stopStreamingLocked()
		return nil
	}

	if err := c.sess.Start(); err != nil {
		c.metrics.RecordCaptureError(context.Background(), "start")
		return fmt.Errorf("recorder: start streaming: %w", err)
	}
	c.state = Capturing
	c.streaming = true
	c.stopLoop = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.streamLoop(c.stopLoop, c.loopDone)
	return nil
}

// Press begins a push-to-talk gesture. A press while a gesture is already
// active is a no-op: the first gesture continues untouched. Valid only in
// [PushToTalk] mode.
func (c *Controller) Press() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != PushToTalk {
		return fmt.Errorf("%w: press in %s", ErrWrongMode, c.mode)
	}
	if c.pressed {
		return nil
	}

	if err := c.sess.Start(); err != nil {
		c.metrics.RecordCaptureError(context.Background(), "start")
		return fmt.Errorf("recorder: start push-to-talk: %w", err)
	}
	c.pressed = true
	c.state = Capturing
	return nil
}

// Release ends the active push-to-talk gesture, finalising and emitting
// its single chunk. A release without an active gesture is a no-op.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != PushToTalk {
		return fmt.Errorf("%w: release in %s", ErrWrongMode, c.mode)
	}
	if !c.pressed {
		return nil
	}
	c.pressed = false
	c.state = Idle
	c.finalizeLocked(PushToTalk)
	return nil
}

// Close force-stops any active recording. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopActiveLocked()
	return nil
}

// stopActiveLocked ends whatever recording is in progress, emitting its
// final chunk. Must be called with c.mu held.
func (c *Controller) stopActiveLocked() {
	if c.streaming {
		c.stopStreamingLocked()
	}
	if c.pressed {
		c.pressed = false
		c.state = Idle
		c.finalizeLocked(PushToTalk)
	}
}

// stopStreamingLocked signals the streaming loop to finalise and exit,
// then waits for it. Must be called with c.mu held.
func (c *Controller) stopStreamingLocked() {
	close(c.stopLoop)
	done := c.loopDone
	c.streaming = false
	c.state = Idle

	// The loop never takes c.mu, so waiting under the lock cannot
	// deadlock; it keeps Toggle-off synchronous.
	c.mu.Unlock()
	<-done
	c.mu.Lock()
}

// streamLoop cuts the continuous capture into interval-sized chunks until
// stop is closed, then finalises the trailing partial chunk.
func (c *Controller) streamLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.finalize(Streaming)
			return
		case <-ticker.C:
			c.finalize(Streaming)

			// Let the encoder settle before the next leg.
			if c.grace > 0 {
				select {
				case <-stop:
					return
				case <-time.After(c.grace):
				}
			}

			if err := c.sess.Start(); err != nil {
				slog.Error("recorder: restarting streaming leg failed, stopping", "err", err)
				c.metrics.RecordCaptureError(context.Background(), "restart")
				c.mu.Lock()
				c.streaming = false
				c.state = Idle
				c.mu.Unlock()
				return
			}
		}
	}
}

// finalize stops the current leg and emits its chunk.
func (c *Controller) finalize(mode Mode) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunk, err := c.sess.Stop(ctx)
	if err != nil {
		slog.Warn("recorder: finalising chunk failed", "err", err)
		c.metrics.RecordCaptureError(context.Background(), "finalize")
		return
	}
	c.emitChunk(chunk, mode)
}

// finalizeLocked is finalize for callers already holding c.mu. The session
// has its own synchronisation, so holding the lock across Stop is safe as
// long as emit does not call back into the controller.
func (c *Controller) finalizeLocked(mode Mode) {
	c.finalize(mode)
}

// emitChunk wraps a non-empty chunk in an Utterance and hands it to the
// emit callback.
func (c *Controller) emitChunk(chunk capture.Chunk, mode Mode) {
	if chunk.Empty() {
		return
	}
	u := Utterance{
		ID:    uuid.NewString(),
		Data:  chunk.Data,
		Codec: chunk.Codec,
		Start: chunk.Start,
		Mode:  mode,
	}

	ctx := context.Background()
	c.metrics.RecordChunkSent(ctx, mode.String())
	if c.metrics != nil && !chunk.Start.IsZero() {
		c.metrics.CaptureLegDuration.Record(ctx, time.Since(chunk.Start).Seconds())
	}

	if c.emit != nil {
		c.emit(u)
	}
}

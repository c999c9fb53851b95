// Package capture defines the microphone device abstraction and the capture
// session that turns live device audio into encoded utterance chunks.
//
// The two primary abstractions are:
//
//   - [Device] — opens the microphone and returns a [Stream].
//   - [Session] — owns exactly one open Stream and one encoder, producing
//     one encoded chunk per start/stop leg.
//
// Concrete devices are provided by adapter packages (e.g. audio/portaudio);
// the mock subpackage provides a scripted device for tests. This package
// lives under pkg/ because external adapters are expected to implement
// [Device].
package capture

import (
	"context"
	"errors"
	"time"
)

// Open failure taxonomy. Both are surfaced to the user and never retried
// automatically.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable input device was found or the
	// device could not be opened.
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
)

// Constraints describes the audio source requested from a [Device].
// Devices honour them best-effort; SampleRate is a preference, not a
// guarantee — the Stream reports what it actually delivers.
type Constraints struct {
	// SampleRate is the preferred capture rate in Hz.
	SampleRate int

	// Channels is the requested channel count. The engine always asks for 1.
	Channels int

	// EchoCancellation requests acoustic echo cancellation where the
	// platform supports it.
	EchoCancellation bool

	// NoiseSuppression requests noise suppression where the platform
	// supports it.
	NoiseSuppression bool
}

// DefaultConstraints returns the canonical capture constraints: mono,
// echo-cancelled, noise-suppressed, 16 kHz preferred.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Stream is one open microphone handle delivering floating-point mono PCM.
type Stream interface {
	// Frames returns the channel of captured sample buffers. The channel is
	// closed when the stream is closed or the device fails.
	Frames() <-chan []float32

	// SampleRate reports the actual capture rate in Hz.
	SampleRate() int

	// Close releases the device unconditionally. Idempotent — safe to call
	// from any state, including after an error.
	Close() error
}

// Device opens the microphone. Implementations wrap a platform audio API
// and must be safe for concurrent use.
type Device interface {
	// Open requests an audio source matching the constraints. Fails with
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] (possibly wrapped);
	// the caller surfaces these and must not retry automatically.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Encoder turns canonical int16 PCM into one encoded utterance blob.
// A Session serialises all calls; implementations need no locking.
type Encoder interface {
	// Write appends samples to the blob under construction.
	Write(pcm []int16) error

	// Flush finishes the blob and resets the encoder for the next leg.
	// Returns a nil blob when no audio was written.
	Flush() (blob []byte, codec string, err error)
}

// Chunk is one finished encoded capture leg.
type Chunk struct {
	// Data is the encoded blob. Nil/empty for a zero-length capture — the
	// caller must skip transport for such chunks.
	Data []byte

	// Codec tags the encoding (e.g. "opus/16000").
	Codec string

	// Start is when the leg began capturing.
	Start time.Time
}

// Empty reports whether the chunk carries no audio.
func (c Chunk) Empty() bool { return len(c.Data) == 0 }

// Package audio defines the canonical wire audio format and the sample
// conversion primitives used across the Zubia client engine.
//
// All outbound audio is sent as 16-bit little-endian mono PCM wrapped in a
// 44-byte WAV header, regardless of the codec used during capture. Inbound
// translated audio arrives in the same container and is normalised back to
// the engine's playback format before rendering.
//
// This package lives under pkg/ because external code (device adapters,
// alternative codecs) is expected to work against these types.
package audio

import "errors"

// Canonical wire format parameters. Fixed for the whole session so that
// receivers never have to negotiate.
const (
	// WireSampleRate is the canonical sample rate in Hz.
	WireSampleRate = 16000

	// WireChannels is the canonical channel count (mono).
	WireChannels = 1

	// WireBitsPerSample is the canonical sample width.
	WireBitsPerSample = 16
)

// ErrDecode indicates that an encoded audio buffer could not be decoded.
// Callers must treat it as "drop this utterance/entry" — it is never fatal
// to the session.
var ErrDecode = errors.New("audio: decode failed")

// BlobDecoder decodes one encoded utterance blob into mono int16 PCM.
// Implementations wrap a platform codec (see the opus subpackage); the
// decode is not cancellable mid-operation.
type BlobDecoder interface {
	// DecodeBlob decodes blob and returns the recovered PCM samples and
	// their sample rate. A corrupt or empty blob yields an error wrapping
	// [ErrDecode].
	DecodeBlob(blob []byte) (pcm []int16, sampleRate int, err error)
}

// Player renders mono int16 PCM to an output device, blocking until the
// buffer has been played to completion.
//
// Implementations must be safe for sequential reuse; the playback queue
// guarantees at most one Play call is in flight at a time.
type Player interface {
	Play(pcm []int16, sampleRate int) error

	// Close releases the output device. Idempotent.
	Close() error
}

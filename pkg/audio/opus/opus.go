// Package opus wraps the gopus codec as the capture-side encoder and the
// wire-side decoder for utterance blobs.
//
// An utterance blob is a sequence of Opus packets, each prefixed with a
// little-endian uint16 length. Packets carry 20 ms of 16 kHz mono audio.
// The container is deliberately minimal: blobs are produced and consumed by
// this engine only, never stored or exchanged raw.
package opus

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/zubia/zubia/pkg/audio"
)

const (
	sampleRate  = audio.WireSampleRate
	channels    = audio.WireChannels
	frameSizeMs = 20

	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = sampleRate * frameSizeMs / 1000 // 320

	// maxPacketBytes bounds one encoded packet. Opus at voice bitrates
	// stays far below this.
	maxPacketBytes = 4000
)

// CodecTag identifies blobs produced by this package.
const CodecTag = "opus/16000"

// BlobEncoder accumulates PCM samples and encodes them into one utterance
// blob. Not safe for concurrent use; the capture session serialises calls.
type BlobEncoder struct {
	enc     *gopus.Encoder
	pending []int16
	blob    []byte
}

// NewBlobEncoder creates an encoder configured for the canonical capture
// format (16 kHz mono, voice application).
func NewBlobEncoder() (*BlobEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &BlobEncoder{enc: enc}, nil
}

// Write appends PCM samples and encodes every complete 20 ms frame into
// the blob under construction.
func (e *BlobEncoder) Write(pcm []int16) error {
	e.pending = append(e.pending, pcm...)
	for len(e.pending) >= frameSize {
		if err := e.encodeFrame(e.pending[:frameSize]); err != nil {
			return err
		}
		e.pending = e.pending[frameSize:]
	}
	return nil
}

// Flush encodes any trailing partial frame (zero-padded to a full frame)
// and returns the finished blob along with its codec tag. The encoder is
// reset and may be reused for the next utterance. A blob with no audio
// written returns nil.
func (e *BlobEncoder) Flush() ([]byte, string, error) {
	if len(e.pending) > 0 {
		frame := make([]int16, frameSize)
		copy(frame, e.pending)
		if err := e.encodeFrame(frame); err != nil {
			return nil, CodecTag, err
		}
		e.pending = nil
	}
	blob := e.blob
	e.blob = nil
	return blob, CodecTag, nil
}

func (e *BlobEncoder) encodeFrame(frame []int16) error {
	pkt, err := e.enc.Encode(frame, frameSize, maxPacketBytes)
	if err != nil {
		return fmt.Errorf("opus: encode frame: %w", err)
	}
	if len(pkt) > 0xffff {
		return fmt.Errorf("opus: packet too large (%d bytes)", len(pkt))
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(pkt)))
	e.blob = append(e.blob, hdr[:]...)
	e.blob = append(e.blob, pkt...)
	return nil
}

// Compile-time interface assertion.
var _ audio.BlobDecoder = (*Decoder)(nil)

// Decoder decodes utterance blobs back to PCM. It implements
// [audio.BlobDecoder]. One decoder maintains codec state across the
// packets of a blob; create one per session.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder for the canonical capture format.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// DecodeBlob decodes every packet in blob and returns the concatenated PCM
// samples with their sample rate. Corrupt framing or an undecodable packet
// yields an error wrapping [audio.ErrDecode].
func (d *Decoder) DecodeBlob(blob []byte) ([]int16, int, error) {
	if len(blob) == 0 {
		return nil, 0, fmt.Errorf("%w: empty opus blob", audio.ErrDecode)
	}

	var pcm []int16
	for off := 0; off < len(blob); {
		if off+2 > len(blob) {
			return nil, 0, fmt.Errorf("%w: truncated packet header at offset %d", audio.ErrDecode, off)
		}
		n := int(binary.LittleEndian.Uint16(blob[off:]))
		off += 2
		if n == 0 || off+n > len(blob) {
			return nil, 0, fmt.Errorf("%w: packet length %d overruns blob", audio.ErrDecode, n)
		}
		frame, err := d.dec.Decode(blob[off:off+n], frameSize, false)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: opus packet at offset %d: %v", audio.ErrDecode, off, err)
		}
		pcm = append(pcm, frame...)
		off += n
	}
	return pcm, sampleRate, nil
}

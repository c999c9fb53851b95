package audio

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the size of the canonical WAV header: RIFF descriptor,
// one 16-byte PCM fmt chunk, and the data chunk header.
const wavHeaderSize = 44

// EncodeWAV wraps raw little-endian int16 mono PCM bytes in the canonical
// 44-byte WAV container. The header carries format=PCM, one channel, the
// given sample rate, 16 bits per sample, and the exact payload length.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = WireSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * WireChannels * WireBitsPerSample / 8)
	blockAlign := uint16(WireChannels * WireBitsPerSample / 8)

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], 36+dataSize)
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:], WireChannels)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], WireBitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], dataSize)
	copy(out[44:], pcm)
	return out
}

// WAVInfo describes a parsed WAV payload.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Bits       int
}

// ParseWAV validates a WAV byte buffer and returns the raw PCM payload and
// its format. It accepts 16-bit PCM with any sample rate and channel count,
// walking chunks so that extra metadata chunks before "data" do not break
// decoding. Errors wrap [ErrDecode].
func ParseWAV(b []byte) ([]byte, WAVInfo, error) {
	if len(b) < wavHeaderSize {
		return nil, WAVInfo{}, fmt.Errorf("%w: buffer too short (%d bytes)", ErrDecode, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE marker", ErrDecode)
	}

	var info WAVInfo
	sawFmt := false

	// Walk chunks starting after the RIFF descriptor.
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			return nil, WAVInfo{}, fmt.Errorf("%w: chunk %q overruns buffer", ErrDecode, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, WAVInfo{}, fmt.Errorf("%w: fmt chunk too small", ErrDecode)
			}
			format := binary.LittleEndian.Uint16(b[body:])
			if format != 1 {
				return nil, WAVInfo{}, fmt.Errorf("%w: unsupported audio format %d (want PCM)", ErrDecode, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			info.Bits = int(binary.LittleEndian.Uint16(b[body+14:]))
			if info.Channels < 1 || info.SampleRate <= 0 {
				return nil, WAVInfo{}, fmt.Errorf("%w: implausible format (%d ch, %d Hz)", ErrDecode, info.Channels, info.SampleRate)
			}
			if info.Bits != 16 {
				return nil, WAVInfo{}, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, info.Bits)
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return nil, WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			return b[body : body+size], info, nil
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, WAVInfo{}, fmt.Errorf("%w: no data chunk", ErrDecode)
}

// ToWire converts one encoded utterance blob into canonical WAV wire bytes:
// decode via dec, then wrap the recovered PCM in the 44-byte header at the
// decoder's native sample rate. A blob that cannot be decoded yields an
// error wrapping [ErrDecode]; callers drop that utterance and carry on.
func ToWire(dec BlobDecoder, blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrDecode)
	}
	pcm, rate, err := dec.DecodeBlob(blob)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(Int16sToBytes(pcm), rate), nil
}

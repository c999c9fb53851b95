package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/zubia/zubia/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := audio.Int16sToBytes([]int16{100, -100, 32767, -32768})
	wav := audio.EncodeWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint16(wav[20:]); got != 1 {
		t.Errorf("audio format: got %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:]); got != 2 {
		t.Errorf("block align: got %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 4242, -4242}
	wav := audio.EncodeWAV(audio.Int16sToBytes(samples), 16000)

	pcm, info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.Bits != 16 {
		t.Fatalf("info mismatch: %+v", info)
	}
	got := audio.BytesToInt16s(pcm)
	if len(got) != len(samples) {
		t.Fatalf("sample count: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestParseWAV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"not riff", make([]byte, 64)},
		{"truncated data", func() []byte {
			wav := audio.EncodeWAV(make([]byte, 100), 16000)
			return wav[:80]
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := audio.ParseWAV(tt.in)
			if !errors.Is(err, audio.ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

// fakeDecoder is a BlobDecoder whose output is scripted.
type fakeDecoder struct {
	pcm  []int16
	rate int
	err  error
}

func (f *fakeDecoder) DecodeBlob(_ []byte) ([]int16, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.pcm, f.rate, nil
}

func TestToWire(t *testing.T) {
	dec := &fakeDecoder{pcm: []int16{10, -10, 20}, rate: 16000}
	wav, err := audio.ToWire(dec, []byte{0x01})
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	pcm, info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("sample rate: got %d", info.SampleRate)
	}
	got := audio.BytesToInt16s(pcm)
	if len(got) != 3 || got[0] != 10 || got[1] != -10 || got[2] != 20 {
		t.Errorf("pcm mismatch: %v", got)
	}
}

func TestToWire_EmptyBlob(t *testing.T) {
	_, err := audio.ToWire(&fakeDecoder{}, nil)
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestToWire_DecoderFailure(t *testing.T) {
	dec := &fakeDecoder{err: audio.ErrDecode}
	_, err := audio.ToWire(dec, []byte{0xff})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

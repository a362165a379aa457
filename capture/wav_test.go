package capture

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"drone-sentry/sentry"
)

// writeWAV encodes interleaved PCM16 samples as a minimal RIFF/WAVE file.
func writeWAV(t *testing.T, path string, sampleRate, channels int, samples [][]int16) {
	t.Helper()

	numSamples := 0
	if len(samples) > 0 {
		numSamples = len(samples[0])
	}
	dataSize := numSamples * channels * 2

	buf := make([]byte, 0, 44+dataSize)
	le := binary.LittleEndian

	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+dataSize))...)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(uint16(channels))...)
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(sampleRate*channels*2))...)
	buf = append(buf, u16(uint16(channels*2))...)
	buf = append(buf, u16(16)...)

	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(dataSize))...)
	for i := 0; i < numSamples; i++ {
		for ch := 0; ch < channels; ch++ {
			buf = append(buf, u16(uint16(samples[ch][i]))...)
		}
	}

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("failed to write wav fixture: %v", err)
	}
}

func TestReadWAVFileDecodesPCM16(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 8000, 2, [][]int16{
		{0, 16384, -16384, 32767},
		{100, 200, 300, 400},
	})

	wav, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if wav.SampleRate != 8000 || wav.Channels != 2 || wav.NumSamples() != 4 {
		t.Fatalf("decoded shape %d/%d/%d, want 8000/2/4", wav.SampleRate, wav.Channels, wav.NumSamples())
	}
	if math.Abs(wav.Samples[0][1]-0.5) > 1e-9 {
		t.Errorf("sample 16384 decoded to %f, want 0.5", wav.Samples[0][1])
	}
	if math.Abs(wav.Samples[0][2]+0.5) > 1e-9 {
		t.Errorf("sample -16384 decoded to %f, want -0.5", wav.Samples[0][2])
	}
	if math.Abs(wav.Samples[1][3]-400.0/32768.0) > 1e-9 {
		t.Errorf("channel 2 sample decoded to %f", wav.Samples[1][3])
	}
}

func TestReadWAVFileRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	notRiff := filepath.Join(dir, "notriff.wav")
	if err := os.WriteFile(notRiff, []byte("OggS this is not a wav"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAVFile(notRiff); err == nil {
		t.Error("expected error for non-RIFF input")
	}

	if _, err := ReadWAVFile(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}

	// IEEE float format is refused, only PCM is supported.
	floatWav := filepath.Join(dir, "float.wav")
	writeWAV(t, floatWav, 8000, 1, [][]int16{{1, 2}})
	data, err := os.ReadFile(floatWav)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(data[20:22], 3)
	if err := os.WriteFile(floatWav, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAVFile(floatWav); err == nil {
		t.Error("expected error for non-PCM format")
	}
}

func TestWAVSourceReplaysHops(t *testing.T) {
	t.Parallel()

	const hopSize = 4

	// 10 mono samples: two full hops plus a 2-sample tail.
	mono := make([]int16, 10)
	for i := range mono {
		mono[i] = int16((i + 1) * 1000)
	}
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 8000, 1, [][]int16{mono})

	source, err := NewWAVSource(path, hopSize)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}
	if source.FourChannel() {
		t.Fatal("mono recording reported four channels")
	}
	if source.SampleRate() != 8000 {
		t.Fatalf("SampleRate = %d", source.SampleRate())
	}

	ctx := context.Background()
	frame := sentry.NewFrame(hopSize)

	if err := source.ReadFrame(ctx, frame); err != nil {
		t.Fatalf("first ReadFrame: %v", err)
	}
	if math.Abs(frame.Channels[0][0]-1000.0/32768.0) > 1e-9 {
		t.Fatalf("first sample %f", frame.Channels[0][0])
	}
	// Channels beyond the recording stay silent.
	for ch := 1; ch < sentry.NumChannels; ch++ {
		for i, v := range frame.Channels[ch] {
			if v != 0 {
				t.Fatalf("channel %d sample %d = %f, want silence", ch, i, v)
			}
		}
	}

	if err := source.ReadFrame(ctx, frame); err != nil {
		t.Fatalf("second ReadFrame: %v", err)
	}

	// Partial tail: two real samples then zero padding.
	if err := source.ReadFrame(ctx, frame); err != nil {
		t.Fatalf("third ReadFrame: %v", err)
	}
	if frame.Channels[0][0] == 0 || frame.Channels[0][1] == 0 {
		t.Fatal("tail samples missing")
	}
	if frame.Channels[0][2] != 0 || frame.Channels[0][3] != 0 {
		t.Fatal("tail not zero padded")
	}

	if err := source.ReadFrame(ctx, frame); err != io.EOF {
		t.Fatalf("expected io.EOF after the recording, got %v", err)
	}
}

func TestSyntheticSourceDelaysAndEOF(t *testing.T) {
	t.Parallel()

	source := NewSyntheticSource(8000, 64, 1)
	source.NoiseLevel = 0
	source.Delays = [sentry.NumChannels]int{0, 8, 0, 8}
	source.MaxFrames = 2

	if !source.FourChannel() {
		t.Fatal("synthetic source must report four channels")
	}

	ctx := context.Background()
	frame := sentry.NewFrame(64)
	if err := source.ReadFrame(ctx, frame); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	// A delayed channel reproduces the reference channel shifted in time.
	for i := 8; i < 64; i++ {
		if math.Abs(frame.Channels[1][i]-frame.Channels[0][i-8]) > 1e-9 {
			t.Fatalf("delay not applied at sample %d: %f vs %f",
				i, frame.Channels[1][i], frame.Channels[0][i-8])
		}
	}

	if err := source.ReadFrame(ctx, frame); err != nil {
		t.Fatalf("second ReadFrame: %v", err)
	}
	if err := source.ReadFrame(ctx, frame); err != io.EOF {
		t.Fatalf("expected io.EOF after MaxFrames, got %v", err)
	}
}

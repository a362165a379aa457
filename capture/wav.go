package capture

// PCM16 WAV replay source. The RIFF parsing is deliberately minimal: field
// recordings from the array are plain PCM with fmt and data chunks, nothing
// more exotic.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"drone-sentry/sentry"
)

// WAVFile is a fully decoded PCM16 recording, one sample slice per channel,
// samples normalized to [-1,1].
type WAVFile struct {
	SampleRate int
	Channels   int
	Samples    [][]float64
}

// NumSamples returns the per-channel sample count.
func (w *WAVFile) NumSamples() int {
	if len(w.Samples) == 0 {
		return 0
	}
	return len(w.Samples[0])
}

// ReadWAVFile decodes a PCM16 WAV file into memory.
func ReadWAVFile(path string) (*WAVFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading wav file: %v", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		channels   int
		sampleRate int
		bitsPer    int
		pcm        []byte
	)

	// Walk the chunk list for fmt and data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.New("wav fmt chunk too short")
			}
			audioFormat := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported wav format %d, want PCM", audioFormat)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPer = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if channels == 0 || sampleRate == 0 {
		return nil, errors.New("wav file missing fmt chunk")
	}
	if bitsPer != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d, want 16", bitsPer)
	}
	if pcm == nil {
		return nil, errors.New("wav file missing data chunk")
	}

	frameBytes := channels * 2
	numSamples := len(pcm) / frameBytes

	wav := &WAVFile{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([][]float64, channels),
	}
	for ch := range wav.Samples {
		wav.Samples[ch] = make([]float64, numSamples)
	}

	for i := 0; i < numSamples; i++ {
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(pcm[base+ch*2 : base+ch*2+2]))
			wav.Samples[ch][i] = float64(raw) / 32768.0
		}
	}

	return wav, nil
}

// WAVSource replays a decoded recording hop by hop. Channels missing from
// the recording stay silent; direction estimation is skipped unless the
// file carries all four array channels.
type WAVSource struct {
	wav     *WAVFile
	hopSize int
	offset  int
}

func NewWAVSource(path string, hopSize int) (*WAVSource, error) {
	wav, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	return &WAVSource{wav: wav, hopSize: hopSize}, nil
}

// SampleRate reports the recording's sample rate for configuration checks.
func (s *WAVSource) SampleRate() int { return s.wav.SampleRate }

func (s *WAVSource) FourChannel() bool { return s.wav.Channels >= sentry.NumChannels }

// ReadFrame delivers the next hop, zero-padding the final partial hop, and
// returns io.EOF once the recording is exhausted.
func (s *WAVSource) ReadFrame(ctx context.Context, frame *sentry.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	total := s.wav.NumSamples()
	if s.offset >= total {
		return io.EOF
	}

	for ch := 0; ch < sentry.NumChannels; ch++ {
		dst := frame.Channels[ch]
		for i := range dst {
			dst[i] = 0
		}
		if ch >= s.wav.Channels {
			continue
		}
		src := s.wav.Samples[ch]
		n := s.hopSize
		if s.offset+n > total {
			n = total - s.offset
		}
		copy(dst[:n], src[s.offset:s.offset+n])
	}

	s.offset += s.hopSize
	return nil
}

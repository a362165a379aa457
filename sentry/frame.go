package sentry

import (
	"context"

	"drone-sentry/models"
)

// NumChannels is the microphone count of the capture array.
const NumChannels = 4

// Frame is one hop of synchronized multichannel samples, normalized to
// [-1,1]. The buffers are allocated once by the detector and refilled in
// place by the source each cycle.
type Frame struct {
	Channels [NumChannels][]float64
}

// NewFrame allocates a frame holding hopSize samples per channel.
func NewFrame(hopSize int) *Frame {
	f := &Frame{}
	for i := range f.Channels {
		f.Channels[i] = make([]float64, hopSize)
	}
	return f
}

// FrameSource delivers capture frames to the detector. ReadFrame blocks
// until a full hop is available and returns io.EOF when the source is
// exhausted (replay files).
type FrameSource interface {
	ReadFrame(ctx context.Context, frame *Frame) error

	// FourChannel reports whether all four channels carry independent
	// signals. Sources that only capture one channel fill the rest with
	// silence and return false; direction estimation is skipped for them.
	FourChannel() bool
}

// BatteryMonitor reads the supply voltage. Implementations return 0 when no
// battery sense is wired, which disables the battery state machine.
type BatteryMonitor interface {
	Voltage() float64
}

// Store persists detection events and calibration profiles.
type Store interface {
	StoreDetection(detection models.Detection) error
	StoreNoiseProfile(profile models.NoiseProfile) error
	LatestNoiseProfile() (*models.NoiseProfile, error)
}

// EventSink receives detection events as they happen, for live broadcast.
type EventSink interface {
	PublishDetection(detection models.Detection)
}

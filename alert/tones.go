package alert

import "time"

// ToneOutput plays a single tone at a fixed frequency for a duration.
// Implementations may block; the pattern player below is only used for
// startup/calibration signaling, never during live detection.
type ToneOutput interface {
	PlayTone(frequencyHz int, duration time.Duration)
}

// ToneStep is one element of a tone sequence. Frequency 0 means silence.
type ToneStep struct {
	Frequency int
	Duration  time.Duration
}

// Predefined signaling patterns.
var (
	StartupPattern = []ToneStep{
		{800, 100 * time.Millisecond},
		{1000, 100 * time.Millisecond},
		{1200, 100 * time.Millisecond},
		{1600, 200 * time.Millisecond},
	}

	CalibrationDonePattern = []ToneStep{
		{1000, 200 * time.Millisecond},
		{1500, 200 * time.Millisecond},
		{2000, 300 * time.Millisecond},
	}

	LowBatteryPattern = []ToneStep{
		{500, 500 * time.Millisecond},
		{0, 500 * time.Millisecond},
		{500, 500 * time.Millisecond},
	}
)

// PlayPattern plays a tone sequence on out, sleeping through rests. The
// sleep function is injectable for tests and defaults to time.Sleep when nil.
func PlayPattern(out ToneOutput, pattern []ToneStep, sleep func(time.Duration)) {
	if out == nil {
		return
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	for _, step := range pattern {
		if step.Frequency > 0 {
			out.PlayTone(step.Frequency, step.Duration)
		} else {
			sleep(step.Duration)
		}
	}
}

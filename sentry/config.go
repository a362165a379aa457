package sentry

import (
	"fmt"
	"time"

	"drone-sentry/dsp"
	"drone-sentry/utils"
)

// Config carries every tunable of the detection pipeline. Defaults match the
// deployed sentry hardware; each value can be overridden from the environment.
type Config struct {
	SampleRate int
	FFTSize    int
	HopSize    int
	MelBins    int
	TimeFrames int

	MicSpacingMM float64
	SpeedOfSound float64

	ConfidenceThreshold float64
	DroneClassIndex     int
	MinDetections       int
	DetectionWindow     time.Duration
	AlertHoldoff        time.Duration
	AlertDuration       time.Duration

	CalibrationTime time.Duration

	BatteryLowVoltage      float64
	BatteryCriticalVoltage float64
	BatteryFullVoltage     float64

	Preprocess dsp.PreprocessConfig
	Classes    []string
}

// DefaultConfig returns the hardware defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		FFTSize:    2048,
		HopSize:    512,
		MelBins:    128,
		TimeFrames: 32,

		MicSpacingMM: 50.0,
		SpeedOfSound: 343.0,

		ConfidenceThreshold: 0.75,
		DroneClassIndex:     1,
		MinDetections:       3,
		DetectionWindow:     4000 * time.Millisecond,
		AlertHoldoff:        2000 * time.Millisecond,
		AlertDuration:       500 * time.Millisecond,

		CalibrationTime: 30 * time.Second,

		BatteryLowVoltage:      6.8,
		BatteryCriticalVoltage: 6.4,
		BatteryFullVoltage:     8.4,

		Preprocess: dsp.DefaultPreprocessConfig(),
		Classes:    []string{"noise", "drone"},
	}
}

// ConfigFromEnv applies environment overrides on top of the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.SampleRate = utils.GetEnvInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.FFTSize = utils.GetEnvInt("FFT_SIZE", cfg.FFTSize)
	cfg.HopSize = utils.GetEnvInt("HOP_SIZE", cfg.HopSize)
	cfg.MelBins = utils.GetEnvInt("MEL_BINS", cfg.MelBins)
	cfg.TimeFrames = utils.GetEnvInt("TIME_FRAMES", cfg.TimeFrames)

	cfg.MicSpacingMM = utils.GetEnvFloat("MIC_SPACING_MM", cfg.MicSpacingMM)
	cfg.SpeedOfSound = utils.GetEnvFloat("SPEED_OF_SOUND", cfg.SpeedOfSound)

	cfg.ConfidenceThreshold = utils.GetEnvFloat("CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	cfg.DroneClassIndex = utils.GetEnvInt("DRONE_CLASS_INDEX", cfg.DroneClassIndex)
	cfg.MinDetections = utils.GetEnvInt("MIN_DETECTIONS", cfg.MinDetections)
	cfg.DetectionWindow = time.Duration(utils.GetEnvInt("DETECTION_WINDOW_MS",
		int(cfg.DetectionWindow/time.Millisecond))) * time.Millisecond
	cfg.AlertHoldoff = time.Duration(utils.GetEnvInt("ALERT_HOLDOFF_MS",
		int(cfg.AlertHoldoff/time.Millisecond))) * time.Millisecond
	cfg.AlertDuration = time.Duration(utils.GetEnvInt("ALERT_DURATION_MS",
		int(cfg.AlertDuration/time.Millisecond))) * time.Millisecond
	cfg.CalibrationTime = time.Duration(utils.GetEnvInt("CALIBRATION_TIME_MS",
		int(cfg.CalibrationTime/time.Millisecond))) * time.Millisecond

	cfg.BatteryLowVoltage = utils.GetEnvFloat("BATTERY_LOW_VOLTAGE", cfg.BatteryLowVoltage)
	cfg.BatteryCriticalVoltage = utils.GetEnvFloat("BATTERY_CRITICAL_VOLTAGE", cfg.BatteryCriticalVoltage)

	return cfg
}

// HopInterval is the control loop cadence: one hop of samples at the
// configured rate.
func (c Config) HopInterval() time.Duration {
	return time.Duration(c.HopSize) * time.Second / time.Duration(c.SampleRate)
}

// TensorSize is the flattened spectrogram length handed to inference.
func (c Config) TensorSize() int { return c.TimeFrames * c.MelBins }

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.HopSize <= 0 || c.HopSize > c.FFTSize {
		return fmt.Errorf("hop size %d out of range for fft size %d", c.HopSize, c.FFTSize)
	}
	if c.TimeFrames <= 0 {
		return fmt.Errorf("invalid time frame count: %d", c.TimeFrames)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %.2f outside (0,1]", c.ConfidenceThreshold)
	}
	if c.DroneClassIndex < 0 || c.DroneClassIndex >= len(c.Classes) {
		return fmt.Errorf("drone class index %d outside class list of %d", c.DroneClassIndex, len(c.Classes))
	}
	if c.MinDetections <= 0 {
		return fmt.Errorf("invalid minimum detection count: %d", c.MinDetections)
	}
	if c.MicSpacingMM <= 0 || c.SpeedOfSound <= 0 {
		return fmt.Errorf("invalid array geometry: spacing %.1fmm, c %.1fm/s", c.MicSpacingMM, c.SpeedOfSound)
	}
	return nil
}

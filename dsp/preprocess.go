package dsp

// Frame preprocessing applied before spectrogram computation to improve
// detection in noisy field conditions: a high-pass stage removes rumble
// below 50Hz, a band-pass stage focuses on the drone rotor/motor range and
// AGC levels the frame so the classifier sees consistent energy.

import "math"

// PreprocessConfig controls the per-frame conditioning chain.
type PreprocessConfig struct {
	EnableHighPass bool
	HighPassCutoff float64 // Hz
	EnableBandPass bool
	BandPassLow    float64 // Hz
	BandPassHigh   float64 // Hz
	EnableAGC      bool
	AGCTargetLevel float64 // target RMS
}

// DefaultPreprocessConfig returns the chain used during live detection.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		EnableHighPass: true,
		HighPassCutoff: 50.0,
		EnableBandPass: true,
		BandPassLow:    100.0,
		BandPassHigh:   5000.0,
		EnableAGC:      true,
		AGCTargetLevel: 0.3,
	}
}

// Preprocess applies the configured stages in place on a copy of the frame.
func Preprocess(samples []float64, sampleRate int, config PreprocessConfig) []float64 {
	if len(samples) == 0 {
		return samples
	}

	result := make([]float64, len(samples))
	copy(result, samples)

	if config.EnableHighPass {
		result = HighPassFilter(result, sampleRate, config.HighPassCutoff)
	}
	if config.EnableBandPass {
		result = HighPassFilter(result, sampleRate, config.BandPassLow)
		result = LowPassFilter(result, sampleRate, config.BandPassHigh)
	}
	if config.EnableAGC {
		result = ApplyAGC(result, config.AGCTargetLevel)
	}

	return result
}

// HighPassFilter removes frequencies below cutoff using a first-order IIR filter.
func HighPassFilter(samples []float64, sampleRate int, cutoffHz float64) []float64 {
	if cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return samples
	}

	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	filtered := make([]float64, len(samples))
	var prev float64
	for i, x := range samples {
		if i == 0 {
			filtered[i] = x
		} else {
			filtered[i] = alpha * (prev + x - samples[i-1])
		}
		prev = filtered[i]
	}
	return filtered
}

// LowPassFilter removes frequencies above cutoff using a first-order IIR filter.
func LowPassFilter(samples []float64, sampleRate int, cutoffHz float64) []float64 {
	if cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return samples
	}

	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (rc + dt)

	filtered := make([]float64, len(samples))
	var prev float64
	for i, x := range samples {
		if i == 0 {
			filtered[i] = x * alpha
		} else {
			filtered[i] = alpha*x + (1-alpha)*prev
		}
		prev = filtered[i]
	}
	return filtered
}

// ApplyAGC scales the frame towards a target RMS with soft limiting so a
// close-range pass does not clip into the transform.
func ApplyAGC(samples []float64, targetRMS float64) []float64 {
	current := RMS(samples)
	if current == 0 || math.Abs(current-targetRMS) < 1e-6 {
		return samples
	}

	gain := targetRMS / current
	result := make([]float64, len(samples))
	for i, s := range samples {
		amplified := s * gain
		if math.Abs(amplified) > 0.95 {
			result[i] = math.Tanh(amplified) * 0.95
		} else {
			result[i] = amplified
		}
	}
	return result
}

// EstimateSNR estimates the signal-to-noise ratio of a frame in dB, taking
// the quietest tenth of the frame as the noise reference.
func EstimateSNR(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	noiseLength := len(samples) / 10
	if noiseLength < 64 {
		noiseLength = 64
	}
	if noiseLength > len(samples) {
		noiseLength = len(samples)
	}

	noiseRMS := RMS(samples[:noiseLength])
	noisePower := noiseRMS * noiseRMS

	var signalPower float64
	for _, s := range samples {
		signalPower += s * s
	}
	signalPower /= float64(len(samples))

	if noisePower == 0 {
		return 100.0
	}
	snr := signalPower / noisePower
	if snr <= 0 {
		return -100.0
	}
	return 10.0 * math.Log10(snr)
}

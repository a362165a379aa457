package dsp

// Mel Spectrogram Engine
//
// Converts one frame of raw audio into a calibrated, noise-compensated
// mel-band power spectrum:
//
// 1. Hann Window: Reduce spectral leakage before the transform
// 2. Real FFT: Time domain -> frequency domain (gonum dsp/fourier)
// 3. Magnitude Spectrum: |X[k]| for the fftSize/2+1 usable bins
// 4. Mel Filterbank: Weighted sum through triangular filters placed on
//    the perceptual mel scale (2595*log10(1+hz/700))
// 5. dB Conversion: 20*log10(max(p, 1e-10)) to avoid log(0)
// 6. Noise Floor Subtraction: Per-band dB baseline from calibration,
//    subtracted and floored at zero for bands with a non-zero floor
//
// All buffers (window, filterbank, FFT plan, scratch) are allocated once in
// NewProcessor and never resized, mirroring the no-steady-state-allocation
// constraint of the embedded target.

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const logFloor = 1e-10

// Processor computes mel spectrogram rows from fixed-size audio frames.
// It is not safe for concurrent use; the pipeline owns exactly one.
type Processor struct {
	sampleRate int
	fftSize    int
	melBins    int

	filterbank []float64 // melBins x numFFTBins, row-major
	noiseFloor []float64 // dB per mel band, all-zero = uncalibrated
	window     []float64

	fft       *fourier.FFT
	frame     []float64    // windowed, zero-padded input scratch
	spectrum  []complex128 // FFT coefficient scratch
	magnitude []float64    // magnitude spectrum scratch
}

// NewProcessor allocates the filterbank, window and scratch buffers.
func NewProcessor(sampleRate, fftSize, melBins int) (*Processor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two, got %d", fftSize)
	}
	if melBins <= 0 || melBins > fftSize/2 {
		return nil, fmt.Errorf("invalid mel bin count: %d", melBins)
	}

	numFFTBins := fftSize/2 + 1
	p := &Processor{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		melBins:    melBins,
		filterbank: make([]float64, melBins*numFFTBins),
		noiseFloor: make([]float64, melBins),
		window:     make([]float64, fftSize),
		fft:        fourier.NewFFT(fftSize),
		frame:      make([]float64, fftSize),
		spectrum:   make([]complex128, numFFTBins),
		magnitude:  make([]float64, numFFTBins),
	}

	p.createHannWindow()
	p.createMelFilterbank()

	return p, nil
}

// SampleRate reports the configured sample rate.
func (p *Processor) SampleRate() int { return p.sampleRate }

// FFTSize reports the configured transform size.
func (p *Processor) FFTSize() int { return p.fftSize }

// MelBins reports the number of mel bands per output row.
func (p *Processor) MelBins() int { return p.melBins }

func (p *Processor) createHannWindow() {
	for i := 0; i < p.fftSize; i++ {
		p.window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(p.fftSize-1)))
	}
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// createMelFilterbank builds unit-height triangular filters between melBins+2
// equally spaced mel points covering [0, sampleRate/2].
func (p *Processor) createMelFilterbank() {
	fMax := float64(p.sampleRate) / 2.0
	melMin := hzToMel(0)
	melMax := hzToMel(fMax)
	numFFTBins := p.fftSize/2 + 1

	binPoints := make([]int, p.melBins+2)
	for i := range binPoints {
		mel := melMin + (melMax-melMin)*float64(i)/float64(p.melBins+1)
		hz := melToHz(mel)
		bin := int(hz / fMax * float64(numFFTBins))
		if bin < 0 {
			bin = 0
		}
		if bin > numFFTBins-1 {
			bin = numFFTBins - 1
		}
		binPoints[i] = bin
	}

	for m := 0; m < p.melBins; m++ {
		start := binPoints[m]
		center := binPoints[m+1]
		end := binPoints[m+2]
		row := p.filterbank[m*numFFTBins:]

		// Degenerate (zero-width) slopes stay zero rather than dividing by zero.
		if center != start {
			for k := start; k < center; k++ {
				row[k] = float64(k-start) / float64(center-start)
			}
		}
		if end != center {
			for k := center; k <= end; k++ {
				row[k] = float64(end-k) / float64(end-center)
			}
		}
	}
}

// ComputeMelSpectrogram fills out with one mel-band dB row for the frame.
// Frames shorter than the transform size are zero-padded; out must hold
// MelBins values.
func (p *Processor) ComputeMelSpectrogram(samples []float64, out []float64) error {
	if len(samples) > p.fftSize {
		return fmt.Errorf("frame length %d exceeds transform size %d", len(samples), p.fftSize)
	}
	if len(out) != p.melBins {
		return fmt.Errorf("output length %d, want %d", len(out), p.melBins)
	}

	p.computeMagnitude(samples)

	numFFTBins := p.fftSize/2 + 1
	for m := 0; m < p.melBins; m++ {
		row := p.filterbank[m*numFFTBins:]
		var sum float64
		for k := 0; k < numFFTBins; k++ {
			sum += row[k] * p.magnitude[k]
		}

		if sum < logFloor {
			sum = logFloor
		}
		value := 20.0 * math.Log10(sum)

		if p.noiseFloor[m] != 0 {
			value -= p.noiseFloor[m]
			if value < 0 {
				value = 0
			}
		}
		out[m] = value
	}

	return nil
}

// computeMagnitude windows, zero-pads and transforms the frame, leaving the
// magnitude spectrum in p.magnitude.
func (p *Processor) computeMagnitude(samples []float64) {
	for i := 0; i < p.fftSize; i++ {
		if i < len(samples) {
			p.frame[i] = samples[i] * p.window[i]
		} else {
			p.frame[i] = 0
		}
	}

	p.fft.Coefficients(p.spectrum, p.frame)
	for i := range p.spectrum {
		p.magnitude[i] = cmplx.Abs(p.spectrum[i])
	}
}

// SetNoiseFloor replaces the calibration profile wholesale.
func (p *Processor) SetNoiseFloor(profile []float64) error {
	if len(profile) != p.melBins {
		return fmt.Errorf("noise floor length %d, want %d", len(profile), p.melBins)
	}
	copy(p.noiseFloor, profile)
	return nil
}

// NoiseFloor returns a copy of the current calibration profile.
func (p *Processor) NoiseFloor() []float64 {
	out := make([]float64, p.melBins)
	copy(out, p.noiseFloor)
	return out
}

// Calibrated reports whether any band carries a non-zero noise floor.
func (p *Processor) Calibrated() bool {
	for _, v := range p.noiseFloor {
		if v != 0 {
			return true
		}
	}
	return false
}

// NormalizeDb maps a dB value onto [0,1] over the -80..0 range used for
// inference tensors, clamping out-of-range values.
func NormalizeDb(v float64) float64 {
	n := (v + 80.0) / 80.0
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// RMS returns the root mean square amplitude of the samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PeakFrequency returns the frequency of the strongest magnitude bin,
// used for diagnostics and calibration checks, not the hot path.
func (p *Processor) PeakFrequency(samples []float64) float64 {
	if len(samples) > p.fftSize {
		samples = samples[:p.fftSize]
	}
	p.computeMagnitude(samples)

	maxMag := 0.0
	maxIndex := 0
	for i := 1; i < p.fftSize/2; i++ {
		if p.magnitude[i] > maxMag {
			maxMag = p.magnitude[i]
			maxIndex = i
		}
	}

	return float64(maxIndex) * float64(p.sampleRate) / float64(p.fftSize)
}

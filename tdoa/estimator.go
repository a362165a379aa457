package tdoa

// Direction estimation for a 4-microphone square array using TDOA
// (time difference of arrival).
//
// Microphone arrangement (looking from above):
//
//	     Front (0°)
//	        ↑
//	  M1 -------- M2
//	   |          |
//	   |    ●     |      Y axis
//	   |          |        ↑
//	  M4 -------- M3       |
//	                       +--→ X axis
//
// The horizontal pairs (M1-M2, M4-M3) and vertical pairs (M1-M4, M2-M3)
// yield the X and Y components of the arrival direction. Each pairwise lag
// comes from a zero-normalized cross-correlation bounded by the maximum
// physically possible inter-microphone delay.

import (
	"math"
)

const (
	// defaultSmoothing is the EMA factor applied to accepted bearings.
	defaultSmoothing = 0.3
	// defaultMinCorrelation gates bearing updates: below this mean pairwise
	// correlation the previous smoothed bearing is held.
	defaultMinCorrelation = 0.5
	// lagMargin widens the correlation search beyond the geometric maximum.
	lagMargin = 5
	normFloor = 1e-10
)

// Estimator converts four synchronized channel buffers into a smoothed
// azimuth estimate. Not safe for concurrent use.
type Estimator struct {
	micSpacingM     float64
	speedOfSound    float64
	sampleRate      int
	maxDelaySamples float64

	smoothing      float64
	minCorrelation float64

	lastConfidence float64
	smoothed       float64
}

// NewEstimator precomputes the maximum possible inter-microphone delay
// (diagonal spacing over the speed of sound) used to bound the lag search.
func NewEstimator(micSpacingMM, speedOfSound float64, sampleRate int) *Estimator {
	spacingM := micSpacingMM / 1000.0
	maxDistanceM := math.Sqrt2 * spacingM
	maxDelayS := maxDistanceM / speedOfSound

	return &Estimator{
		micSpacingM:     spacingM,
		speedOfSound:    speedOfSound,
		sampleRate:      sampleRate,
		maxDelaySamples: maxDelayS * float64(sampleRate),
		smoothing:       defaultSmoothing,
		minCorrelation:  defaultMinCorrelation,
	}
}

// Confidence returns the mean pairwise correlation of the last estimate.
func (e *Estimator) Confidence() float64 { return e.lastConfidence }

// MaxDelaySamples reports the precomputed geometric delay bound.
func (e *Estimator) MaxDelaySamples() float64 { return e.maxDelaySamples }

// EstimateDirection returns the smoothed azimuth in degrees [0,360), 0 being
// array-forward. When the mean pairwise correlation falls below the minimum,
// the previous smoothed bearing is returned unchanged.
func (e *Estimator) EstimateDirection(mic1, mic2, mic3, mic4 []float64) float64 {
	tdoa12, conf12 := e.crossCorrelate(mic1, mic2)
	tdoa14, conf14 := e.crossCorrelate(mic1, mic4)
	tdoa32, conf32 := e.crossCorrelate(mic3, mic2)
	tdoa34, conf34 := e.crossCorrelate(mic3, mic4)

	e.lastConfidence = (conf12 + conf14 + conf32 + conf34) / 4.0

	if e.lastConfidence < e.minCorrelation {
		return e.smoothed
	}

	azimuth := e.tdoaToAzimuth(tdoa12, tdoa14, tdoa32, tdoa34)

	// Exponential smoothing with wraparound at 0/360.
	diff := azimuth - e.smoothed
	if diff > 180.0 {
		diff -= 360.0
	}
	if diff < -180.0 {
		diff += 360.0
	}
	e.smoothed += e.smoothing * diff

	if e.smoothed < 0 {
		e.smoothed += 360.0
	}
	if e.smoothed >= 360.0 {
		e.smoothed -= 360.0
	}

	return e.smoothed
}

// crossCorrelate finds the lag of peak zero-normalized correlation between
// two signals. Positive lag means sig2 trails sig1. Lags are integer
// resolution; sub-sample parabolic refinement is a possible extension at
// this return point.
func (e *Estimator) crossCorrelate(sig1, sig2 []float64) (float64, float64) {
	n := len(sig1)
	if len(sig2) < n {
		n = len(sig2)
	}

	maxLag := int(math.Ceil(e.maxDelaySamples)) + lagMargin
	if maxLag > n/4 {
		maxLag = n / 4
	}
	if maxLag < 1 {
		return 0, 0
	}

	maxCorr := math.Inf(-1)
	bestLag := 0

	for lag := -maxLag; lag <= maxLag; lag++ {
		var corr, norm1, norm2 float64
		for i := maxLag; i < n-maxLag; i++ {
			j := i + lag
			if j >= 0 && j < n {
				corr += sig1[i] * sig2[j]
				norm1 += sig1[i] * sig1[i]
				norm2 += sig2[j] * sig2[j]
			}
		}

		norm := math.Sqrt(norm1 * norm2)
		if norm <= normFloor {
			// A dead window carries no lag information; it must not
			// displace the zero-lag default.
			continue
		}
		corr /= norm

		if corr > maxCorr {
			maxCorr = corr
			bestLag = lag
		}
	}

	if math.IsInf(maxCorr, -1) {
		return 0, 0
	}
	return float64(bestLag), maxCorr
}

// tdoaToAzimuth averages the parallel-axis pairs for robustness and converts
// the per-axis delays to an arrival angle.
func (e *Estimator) tdoaToAzimuth(tdoa12, tdoa14, tdoa32, tdoa34 float64) float64 {
	sr := float64(e.sampleRate)
	dt12 := tdoa12 / sr
	dt14 := tdoa14 / sr
	dt32 := tdoa32 / sr
	dt34 := tdoa34 / sr

	dtX := (dt12 + dt34) / 2.0 // left-right
	dtY := (dt14 + dt32) / 2.0 // front-back

	// sin(θ) = c·Δt / d, clamped to tolerate noisy lags.
	sinX := clamp(e.speedOfSound*dtX/e.micSpacingM, -1, 1)
	sinY := clamp(e.speedOfSound*dtY/e.micSpacingM, -1, 1)

	// atan2 measures from +X; azimuth is measured from +Y (array forward).
	azimuth := math.Atan2(sinX, -sinY) * 180.0 / math.Pi
	if azimuth < 0 {
		azimuth += 360.0
	}
	return azimuth
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

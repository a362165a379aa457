package sentry

// Detection Orchestrator
//
// Owns the hop-gated control loop that turns capture frames into alerts:
//
//	read frame -> preprocess -> mel row -> rolling spectrogram ->
//	tensor -> inference -> confidence -> direction -> alert logic
//
// One mel row is produced per hop from channel 1; the last timeFrames rows
// form the inference tensor (oldest first, dB normalized into [0,1]). A
// detection counter with a decay window and an alert holdoff debounces the
// classifier before the actuator fires.
//
// All DSP buffers are allocated once in NewDetector. The loop runs on a
// single goroutine; the mutex only covers the snapshot fields and the flags
// toggled by monitor clients (mute, monitor mode, calibration requests).

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"drone-sentry/alert"
	"drone-sentry/dsp"
	"drone-sentry/infer"
	"drone-sentry/models"
	"drone-sentry/tdoa"
	"drone-sentry/utils"
)

// Deps are the detector's collaborators. Source, Engine and Actuator are
// required; Tones, Battery, Store and Sink may be nil.
type Deps struct {
	Source   FrameSource
	Engine   infer.Engine
	Actuator *alert.Actuator
	Tones    alert.ToneOutput
	Battery  BatteryMonitor
	Store    Store
	Sink     EventSink
}

// Detector runs the detection state machine over a frame source.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	source   FrameSource
	engine   infer.Engine
	actuator *alert.Actuator
	tones    alert.ToneOutput
	battery  BatteryMonitor
	store    Store
	sink     EventSink

	proc      *dsp.Processor
	estimator *tdoa.Estimator

	frame   *Frame
	windows [NumChannels][]float64 // fftSize analysis windows, shifted one hop per cycle

	spectrogram []float64 // timeFrames x melBins ring, row-major
	melRow      []float64
	tensor      []float64
	writeRow    int
	rowsFilled  int

	mu                   sync.Mutex
	state                State
	muted                bool
	monitorMode          bool
	calibrationRequested bool
	calibrated           bool
	alertActive          bool
	confidence           float64
	bearing              float64
	bearingConfidence    float64
	snrDb                float64
	batteryVoltage       float64
	detectionCount       int
	lastDetection        time.Time
	lastAlert            time.Time

	now func() time.Time
}

// NewDetector validates the configuration, allocates the DSP pipeline and
// restores the latest persisted noise profile when a store is supplied.
func NewDetector(cfg Config, deps Deps) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if deps.Source == nil || deps.Engine == nil || deps.Actuator == nil {
		return nil, errors.New("source, engine and actuator are required")
	}

	proc, err := dsp.NewProcessor(cfg.SampleRate, cfg.FFTSize, cfg.MelBins)
	if err != nil {
		return nil, fmt.Errorf("failed to build spectrogram processor: %w", err)
	}

	d := &Detector{
		cfg:    cfg,
		logger: utils.GetLogger(),

		source:   deps.Source,
		engine:   deps.Engine,
		actuator: deps.Actuator,
		tones:    deps.Tones,
		battery:  deps.Battery,
		store:    deps.Store,
		sink:     deps.Sink,

		proc:      proc,
		estimator: tdoa.NewEstimator(cfg.MicSpacingMM, cfg.SpeedOfSound, cfg.SampleRate),

		frame:       NewFrame(cfg.HopSize),
		spectrogram: make([]float64, cfg.TimeFrames*cfg.MelBins),
		melRow:      make([]float64, cfg.MelBins),
		tensor:      make([]float64, cfg.TimeFrames*cfg.MelBins),

		state: StateScan,
		now:   time.Now,
	}
	for ch := range d.windows {
		d.windows[ch] = make([]float64, cfg.FFTSize)
	}

	d.restoreNoiseProfile()

	return d, nil
}

// SetClock replaces the time source, for tests.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

func (d *Detector) restoreNoiseProfile() {
	if d.store == nil {
		return
	}
	profile, err := d.store.LatestNoiseProfile()
	if err != nil {
		d.logger.Error("failed to load noise profile", slog.Any("error", xerrors.New(err)))
		return
	}
	if profile == nil {
		return
	}
	if profile.MelBins != d.cfg.MelBins || profile.SampleRate != d.cfg.SampleRate {
		d.logger.Warn("stored noise profile does not match configuration, ignoring",
			slog.Int("profileMelBins", profile.MelBins),
			slog.Int("profileSampleRate", profile.SampleRate))
		return
	}
	if err := d.proc.SetNoiseFloor(profile.Profile); err != nil {
		d.logger.Error("failed to apply noise profile", slog.Any("error", xerrors.New(err)))
		return
	}
	d.mu.Lock()
	d.calibrated = true
	d.mu.Unlock()
	d.logger.Info("noise profile restored", slog.Time("createdAt", profile.CreatedAt))
}

// Run drives the loop at the hop cadence until the context is cancelled or
// the source is exhausted.
func (d *Detector) Run(ctx context.Context) error {
	alert.PlayPattern(d.tones, alert.StartupPattern, nil)
	d.logger.Info("detection loop started",
		slog.Duration("hopInterval", d.cfg.HopInterval()),
		slog.Float64("confidenceThreshold", d.cfg.ConfidenceThreshold))

	ticker := time.NewTicker(d.cfg.HopInterval())
	defer ticker.Stop()
	defer d.actuator.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := d.Step(ctx)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				d.logger.Info("frame source exhausted")
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				d.setState(StateError)
				d.logger.ErrorContext(ctx, "detection cycle failed", slog.Any("error", xerrors.New(err)))
				return err
			}
		}
	}
}

// Step executes one control cycle. Exposed for tests and the replay tool.
func (d *Detector) Step(ctx context.Context) error {
	if d.checkBattery() {
		d.updateActuator()
		return nil
	}

	if d.takeCalibrationRequest() {
		if err := d.Calibrate(ctx, d.cfg.CalibrationTime); err != nil {
			d.logger.ErrorContext(ctx, "calibration failed", slog.Any("error", xerrors.New(err)))
		}
	}

	if err := d.source.ReadFrame(ctx, d.frame); err != nil {
		return err
	}
	d.shiftWindows()

	processed := dsp.Preprocess(d.windows[0], d.cfg.SampleRate, d.cfg.Preprocess)
	snr := dsp.EstimateSNR(processed)

	if err := d.proc.ComputeMelSpectrogram(processed, d.melRow); err != nil {
		return fmt.Errorf("spectrogram computation failed: %w", err)
	}
	copy(d.spectrogram[d.writeRow*d.cfg.MelBins:(d.writeRow+1)*d.cfg.MelBins], d.melRow)
	d.writeRow = (d.writeRow + 1) % d.cfg.TimeFrames
	if d.rowsFilled < d.cfg.TimeFrames {
		d.rowsFilled++
	}

	// Inference only starts once the rolling buffer holds a full tensor.
	if d.rowsFilled < d.cfg.TimeFrames {
		d.mu.Lock()
		d.snrDb = snr
		d.mu.Unlock()
		d.updateActuator()
		return nil
	}

	d.buildTensor()

	start := d.now()
	scores, inferErr := d.engine.Infer(d.tensor)
	latency := d.now().Sub(start)

	// Inference failures cost one cycle of confidence, nothing more.
	confidence := 0.0
	if inferErr != nil {
		d.logger.ErrorContext(ctx, "inference failed", slog.Any("error", xerrors.New(inferErr)))
	} else if d.cfg.DroneClassIndex < len(scores) {
		confidence = scores[d.cfg.DroneClassIndex]
	}

	d.evaluate(confidence, scores, latency, snr)
	d.updateActuator()
	return nil
}

// evaluate applies the debounce and alert logic for one cycle.
func (d *Detector) evaluate(confidence float64, scores []float64, latency time.Duration, snr float64) {
	now := d.now()
	fourChannel := d.source.FourChannel()
	aboveThreshold := confidence >= d.cfg.ConfidenceThreshold

	var bearing, bearingConf float64
	if aboveThreshold && fourChannel {
		bearing = d.estimator.EstimateDirection(
			d.windows[0], d.windows[1], d.windows[2], d.windows[3])
		bearingConf = d.estimator.Confidence()
	}

	d.mu.Lock()
	d.confidence = confidence
	d.snrDb = snr

	if aboveThreshold {
		if fourChannel {
			d.bearing = bearing
			d.bearingConfidence = bearingConf
		}
		// Monitor mode observes only: no detection bookkeeping, so leaving
		// the mode cannot fire on a stale count.
		if !d.monitorMode {
			d.detectionCount++
			d.lastDetection = now
		}
	}

	if d.detectionCount > 0 && now.Sub(d.lastDetection) > d.cfg.DetectionWindow {
		d.detectionCount = 0
		if d.state == StateAlert {
			d.state = StateScan
		}
	}

	trigger := false
	if !d.monitorMode &&
		d.detectionCount >= d.cfg.MinDetections &&
		now.Sub(d.lastAlert) >= d.cfg.AlertHoldoff {
		d.state = StateAlert
		d.lastAlert = now
		trigger = true
	}

	muted := d.muted
	state := d.state
	bearingOut := d.bearing
	bearingConfOut := d.bearingConfidence
	d.mu.Unlock()

	if !trigger {
		return
	}

	if muted {
		d.actuator.TriggerHapticOnly(d.cfg.AlertDuration)
	} else {
		d.actuator.Trigger(d.cfg.AlertDuration)
	}

	d.emitDetection(now, state, confidence, bearingOut, bearingConfOut, scores, latency, snr)
}

func (d *Detector) emitDetection(now time.Time, state State, confidence, bearing, bearingConf float64,
	scores []float64, latency time.Duration, snr float64) {

	detection := models.Detection{
		ID:                uuid.NewString(),
		Timestamp:         now,
		State:             state.String(),
		Confidence:        confidence,
		BearingDeg:        bearing,
		BearingConfidence: bearingConf,
		SNRDb:             snr,
		LatencyMs:         float64(latency.Microseconds()) / 1000.0,
	}
	if len(scores) > 0 {
		if raw, err := json.Marshal(scores); err == nil {
			detection.Scores = raw
		}
	}

	d.logger.Info("drone detected",
		slog.Float64("confidence", confidence),
		slog.Float64("bearingDeg", bearing),
		slog.Float64("bearingConfidence", bearingConf),
		slog.Float64("snrDb", snr),
		slog.Float64("latencyMs", detection.LatencyMs))

	if d.store != nil {
		if err := d.store.StoreDetection(detection); err != nil {
			d.logger.Error("failed to store detection", slog.Any("error", xerrors.New(err)))
		}
	}
	if d.sink != nil {
		d.sink.PublishDetection(detection)
	}
}

// Calibrate measures the ambient noise floor: a wall-clock loop averaging
// channel-1 mel rows, applied wholesale on completion and persisted when a
// store is available. The rolling buffer is reset afterwards since rows
// computed against the old floor are no longer comparable.
func (d *Detector) Calibrate(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		duration = d.cfg.CalibrationTime
	}

	d.setState(StateCalibrate)
	d.actuator.Stop()
	d.logger.Info("calibration started", slog.Duration("duration", duration))

	sum := make([]float64, d.cfg.MelBins)
	frames := 0
	deadline := d.now().Add(duration)

	for d.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			d.restoreState()
			return err
		}
		if err := d.source.ReadFrame(ctx, d.frame); err != nil {
			d.restoreState()
			return fmt.Errorf("calibration read failed: %w", err)
		}
		d.shiftWindows()

		processed := dsp.Preprocess(d.windows[0], d.cfg.SampleRate, d.cfg.Preprocess)
		if err := d.proc.ComputeMelSpectrogram(processed, d.melRow); err != nil {
			d.restoreState()
			return fmt.Errorf("calibration spectrogram failed: %w", err)
		}
		for i, v := range d.melRow {
			sum[i] += v
		}
		frames++
	}

	if frames == 0 {
		d.restoreState()
		return errors.New("calibration captured no frames")
	}
	for i := range sum {
		sum[i] /= float64(frames)
	}
	if err := d.proc.SetNoiseFloor(sum); err != nil {
		d.restoreState()
		return fmt.Errorf("failed to apply noise floor: %w", err)
	}

	if d.store != nil {
		profile := models.NoiseProfile{
			CreatedAt:  d.now(),
			SampleRate: d.cfg.SampleRate,
			MelBins:    d.cfg.MelBins,
			Profile:    append([]float64(nil), sum...),
		}
		if err := d.store.StoreNoiseProfile(profile); err != nil {
			d.logger.Error("failed to persist noise profile", slog.Any("error", xerrors.New(err)))
		}
	}

	d.writeRow = 0
	d.rowsFilled = 0

	d.mu.Lock()
	d.calibrated = true
	d.detectionCount = 0
	d.mu.Unlock()

	d.restoreState()
	alert.PlayPattern(d.tones, alert.CalibrationDonePattern, nil)
	d.logger.Info("calibration complete", slog.Int("frames", frames))
	return nil
}

// checkBattery runs the battery state machine. Returns true while detection
// is suspended on a critical battery.
func (d *Detector) checkBattery() bool {
	if d.battery == nil {
		return false
	}
	voltage := d.battery.Voltage()

	d.mu.Lock()
	d.batteryVoltage = voltage
	suspended := d.state == StateLowBattery
	d.mu.Unlock()

	if voltage <= 0 {
		return false
	}

	if !suspended && voltage < d.cfg.BatteryCriticalVoltage {
		d.mu.Lock()
		d.state = StateLowBattery
		d.detectionCount = 0
		d.mu.Unlock()

		d.actuator.Stop()
		d.logger.Warn("battery critical, detection suspended", slog.Float64("voltage", voltage))
		alert.PlayPattern(d.tones, alert.LowBatteryPattern, nil)
		return true
	}

	if suspended {
		// Recovery needs headroom above the critical cutoff so a sagging
		// pack does not oscillate between states.
		if voltage >= d.cfg.BatteryLowVoltage {
			d.restoreState()
			d.logger.Info("battery recovered, detection resumed", slog.Float64("voltage", voltage))
			return false
		}
		return true
	}

	return false
}

// buildTensor flattens the ring oldest-first and normalizes dB into [0,1].
func (d *Detector) buildTensor() {
	melBins := d.cfg.MelBins
	idx := 0
	for t := 0; t < d.cfg.TimeFrames; t++ {
		row := (d.writeRow + t) % d.cfg.TimeFrames
		src := d.spectrogram[row*melBins : (row+1)*melBins]
		for _, v := range src {
			d.tensor[idx] = dsp.NormalizeDb(v)
			idx++
		}
	}
}

// shiftWindows advances each channel's analysis window by one hop.
func (d *Detector) shiftWindows() {
	hop := d.cfg.HopSize
	for ch := 0; ch < NumChannels; ch++ {
		window := d.windows[ch]
		copy(window, window[hop:])
		copy(window[len(window)-hop:], d.frame.Channels[ch])
	}
}

func (d *Detector) updateActuator() {
	d.actuator.Update()
	d.mu.Lock()
	d.alertActive = d.actuator.Active()
	d.mu.Unlock()
}

func (d *Detector) takeCalibrationRequest() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	requested := d.calibrationRequested
	d.calibrationRequested = false
	return requested
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// restoreState returns to the mode-appropriate idle state.
func (d *Detector) restoreState() {
	d.mu.Lock()
	if d.monitorMode {
		d.state = StateMonitor
	} else {
		d.state = StateScan
	}
	d.mu.Unlock()
}

// State returns the current top-level state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetMuted toggles audible alerts; haptic pulses still fire when muted.
func (d *Detector) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
	d.logger.Info("mute changed", slog.Bool("muted", muted))
}

// Muted reports whether audible alerts are suppressed.
func (d *Detector) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SetMonitor toggles monitor mode: acquisition continues but the alert logic
// and actuator stay quiet.
func (d *Detector) SetMonitor(enabled bool) {
	d.mu.Lock()
	d.monitorMode = enabled
	switch d.state {
	case StateScan, StateAlert, StateMonitor:
		if enabled {
			d.state = StateMonitor
			d.detectionCount = 0
		} else {
			d.state = StateScan
		}
	}
	d.mu.Unlock()
	d.logger.Info("monitor mode changed", slog.Bool("enabled", enabled))
}

// RequestCalibration schedules a calibration run at the next cycle boundary.
func (d *Detector) RequestCalibration() {
	d.mu.Lock()
	d.calibrationRequested = true
	d.mu.Unlock()
}

// Snapshot returns the live status for monitor clients.
func (d *Detector) Snapshot() models.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.Status{
		State:          d.state.String(),
		Confidence:     d.confidence,
		BearingDeg:     d.bearing,
		DetectionCount: d.detectionCount,
		BatteryVoltage: d.batteryVoltage,
		Muted:          d.muted,
		AlertActive:    d.alertActive,
		Calibrated:     d.calibrated,
		Timestamp:      d.now(),
	}
}

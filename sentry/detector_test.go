package sentry

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"drone-sentry/alert"
	"drone-sentry/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) get() time.Time          { return c.now }

// fakeSource emits a deterministic tone on all channels and advances the
// shared clock by one hop interval per read, so wall-clock driven logic
// (windows, holdoffs, calibration) moves with the audio.
type fakeSource struct {
	clock          *fakeClock
	advancePerRead time.Duration
	four           bool
	eofAfter       int
	reads          int
}

func (s *fakeSource) FourChannel() bool { return s.four }

func (s *fakeSource) ReadFrame(ctx context.Context, frame *Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.eofAfter > 0 && s.reads >= s.eofAfter {
		return io.EOF
	}
	s.reads++
	if s.clock != nil {
		s.clock.advance(s.advancePerRead)
	}

	base := s.reads * len(frame.Channels[0])
	for ch := range frame.Channels {
		for i := range frame.Channels[ch] {
			frame.Channels[ch][i] = 0.1 * math.Sin(2*math.Pi*440*float64(base+i)/8000.0)
		}
	}
	return nil
}

type fakeEngine struct {
	scores []float64
	err    error
	calls  int
}

func (e *fakeEngine) Infer(tensor []float64) ([]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.scores, nil
}

func (e *fakeEngine) Classes() []string { return []string{"noise", "drone"} }

type fakeStore struct {
	detections []models.Detection
	profiles   []models.NoiseProfile
}

func (s *fakeStore) StoreDetection(d models.Detection) error {
	s.detections = append(s.detections, d)
	return nil
}

func (s *fakeStore) StoreNoiseProfile(p models.NoiseProfile) error {
	s.profiles = append(s.profiles, p)
	return nil
}

func (s *fakeStore) LatestNoiseProfile() (*models.NoiseProfile, error) {
	if len(s.profiles) == 0 {
		return nil, nil
	}
	return &s.profiles[len(s.profiles)-1], nil
}

type fakeSink struct {
	events []models.Detection
}

func (s *fakeSink) PublishDetection(d models.Detection) { s.events = append(s.events, d) }

type fakeBattery struct {
	voltage float64
}

func (b *fakeBattery) Voltage() float64 { return b.voltage }

type fakeLine struct {
	active bool
}

func (l *fakeLine) Set(active bool) { l.active = active }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 8000
	cfg.FFTSize = 256
	cfg.HopSize = 64
	cfg.MelBins = 16
	cfg.TimeFrames = 4
	cfg.CalibrationTime = 100 * time.Millisecond
	return cfg
}

type testHarness struct {
	detector *Detector
	clock    *fakeClock
	source   *fakeSource
	engine   *fakeEngine
	store    *fakeStore
	sink     *fakeSink
	battery  *fakeBattery
	buzzer   *fakeLine
	haptic   *fakeLine
}

func newTestHarness(t *testing.T, cfg Config, scores []float64) *testHarness {
	t.Helper()

	clock := &fakeClock{now: time.Unix(5000, 0)}
	h := &testHarness{
		clock:   clock,
		source:  &fakeSource{clock: clock, advancePerRead: cfg.HopInterval(), four: true},
		engine:  &fakeEngine{scores: scores},
		store:   &fakeStore{},
		sink:    &fakeSink{},
		battery: &fakeBattery{},
		buzzer:  &fakeLine{},
		haptic:  &fakeLine{},
	}

	actuator := alert.NewActuator(h.buzzer, h.haptic)
	actuator.SetClock(clock.get)

	detector, err := NewDetector(cfg, Deps{
		Source:   h.source,
		Engine:   h.engine,
		Actuator: actuator,
		Battery:  h.battery,
		Store:    h.store,
		Sink:     h.sink,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	detector.SetClock(clock.get)
	h.detector = detector
	return h
}

func (h *testHarness) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.detector.Step(context.Background()); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
}

func TestNewDetectorValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if _, err := NewDetector(cfg, Deps{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}

	bad := cfg
	bad.FFTSize = 300 // not a power of two
	h := newTestHarness(t, cfg, nil)
	if _, err := NewDetector(bad, Deps{
		Source: h.source, Engine: h.engine, Actuator: alert.NewActuator(&fakeLine{}, &fakeLine{}),
	}); err == nil {
		t.Fatal("expected error for invalid transform size")
	}
}

func TestInferenceWaitsForFullBuffer(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, testConfig(), []float64{0.9, 0.1})

	h.step(t, 3)
	if h.engine.calls != 0 {
		t.Fatalf("inference ran with %d calls before the buffer filled", h.engine.calls)
	}

	h.step(t, 1)
	if h.engine.calls != 1 {
		t.Fatalf("expected first inference on the filling step, got %d calls", h.engine.calls)
	}
}

func TestAlertFiresAfterMinDetections(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})

	// Three warmup steps, then each step is one detection.
	h.step(t, 3+cfg.MinDetections-1)
	if h.detector.State() == StateAlert {
		t.Fatal("alerted before the minimum detection count")
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("emitted %d events before the threshold", len(h.sink.events))
	}

	h.step(t, 1)
	if h.detector.State() != StateAlert {
		t.Fatalf("state %s after %d detections, want ALERT", h.detector.State(), cfg.MinDetections)
	}
	if !h.buzzer.active || !h.haptic.active {
		t.Fatal("actuator not asserted on alert")
	}
	if len(h.sink.events) != 1 || len(h.store.detections) != 1 {
		t.Fatalf("expected exactly one event, got sink=%d store=%d", len(h.sink.events), len(h.store.detections))
	}

	event := h.sink.events[0]
	if event.ID == "" || event.State != "ALERT" || event.Confidence != 0.9 {
		t.Fatalf("malformed detection event: %+v", event)
	}
}

func TestAlertHoldoffSuppressesRetrigger(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})

	h.step(t, 3+cfg.MinDetections)
	if len(h.sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(h.sink.events))
	}

	// Continued detections inside the holdoff window stay silent.
	h.step(t, 5)
	if len(h.sink.events) != 1 {
		t.Fatalf("retriggered during holdoff: %d events", len(h.sink.events))
	}

	// Past the holdoff the still-present target fires again.
	h.clock.advance(cfg.AlertHoldoff)
	h.step(t, 1)
	if len(h.sink.events) != 2 {
		t.Fatalf("expected a second event after holdoff, got %d", len(h.sink.events))
	}
}

func TestDetectionWindowDecay(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})

	h.step(t, 3+cfg.MinDetections)
	if h.detector.State() != StateAlert {
		t.Fatalf("state %s, want ALERT", h.detector.State())
	}

	// Target goes quiet: once the window passes, the count resets and the
	// state returns to SCAN.
	h.engine.scores = []float64{0.9, 0.1}
	h.clock.advance(cfg.DetectionWindow)
	h.step(t, 1)

	status := h.detector.Snapshot()
	if status.State != "SCAN" {
		t.Fatalf("state %s after decay, want SCAN", status.State)
	}
	if status.DetectionCount != 0 {
		t.Fatalf("detection count %d after decay, want 0", status.DetectionCount)
	}
}

func TestMutedAlertIsHapticOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})
	h.detector.SetMuted(true)

	h.step(t, 3+cfg.MinDetections)
	if h.detector.State() != StateAlert {
		t.Fatalf("state %s, want ALERT", h.detector.State())
	}
	if h.buzzer.active {
		t.Fatal("buzzer asserted while muted")
	}
	if !h.haptic.active {
		t.Fatal("haptic not asserted while muted")
	}
	// Events still flow when muted.
	if len(h.sink.events) != 1 {
		t.Fatalf("expected one event while muted, got %d", len(h.sink.events))
	}
}

func TestMonitorModeSuppressesAlerts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})
	h.detector.SetMonitor(true)

	if h.detector.State() != StateMonitor {
		t.Fatalf("state %s after SetMonitor, want MONITOR", h.detector.State())
	}

	h.step(t, 3+cfg.MinDetections+3)
	if h.detector.State() != StateMonitor {
		t.Fatalf("state %s, want MONITOR", h.detector.State())
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("monitor mode emitted %d events", len(h.sink.events))
	}
	if h.buzzer.active || h.haptic.active {
		t.Fatal("actuator asserted in monitor mode")
	}

	// Acquisition continues: confidence is still tracked, but detections
	// are not counted.
	status := h.detector.Snapshot()
	if status.Confidence != 0.9 {
		t.Fatalf("confidence %f in monitor mode, want 0.9", status.Confidence)
	}
	if status.DetectionCount != 0 {
		t.Fatalf("detection count %d in monitor mode, want 0", status.DetectionCount)
	}
}

func TestLeavingMonitorModeNeedsFreshDetections(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})
	h.detector.SetMonitor(true)

	// A target present throughout monitor mode accumulates no count.
	h.step(t, 3+cfg.MinDetections+3)

	h.detector.SetMonitor(false)
	h.step(t, 1)
	if h.detector.State() == StateAlert {
		t.Fatal("alerted on the first cycle after leaving monitor mode")
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("emitted %d events on monitor exit", len(h.sink.events))
	}

	// The full debounce still applies from scratch.
	h.step(t, cfg.MinDetections-1)
	if h.detector.State() != StateAlert {
		t.Fatalf("state %s after %d fresh detections, want ALERT", h.detector.State(), cfg.MinDetections)
	}
}

func TestInferenceErrorCostsOneCycle(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, testConfig(), []float64{0.1, 0.9})
	h.step(t, 4)
	if got := h.detector.Snapshot().Confidence; got != 0.9 {
		t.Fatalf("confidence %f, want 0.9", got)
	}

	h.engine.err = errors.New("model unavailable")
	h.step(t, 1)
	status := h.detector.Snapshot()
	if status.Confidence != 0 {
		t.Fatalf("confidence %f after inference error, want 0", status.Confidence)
	}
	if status.State == "ERROR" {
		t.Fatal("inference error escalated to ERROR state")
	}

	// Recovery on the next successful cycle.
	h.engine.err = nil
	h.step(t, 1)
	if got := h.detector.Snapshot().Confidence; got != 0.9 {
		t.Fatalf("confidence %f after recovery, want 0.9", got)
	}
}

func TestLowBatterySuspendsAndRecovers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.1, 0.9})

	h.battery.voltage = cfg.BatteryCriticalVoltage - 0.2
	h.step(t, 1)
	if h.detector.State() != StateLowBattery {
		t.Fatalf("state %s on critical battery, want LOW_BATTERY", h.detector.State())
	}
	readsWhileSuspended := h.source.reads
	h.step(t, 3)
	if h.source.reads != readsWhileSuspended {
		t.Fatal("frames read while suspended on low battery")
	}

	// Hysteresis: above critical but below the recovery threshold stays
	// suspended.
	h.battery.voltage = (cfg.BatteryCriticalVoltage + cfg.BatteryLowVoltage) / 2
	h.step(t, 1)
	if h.detector.State() != StateLowBattery {
		t.Fatalf("state %s inside hysteresis band, want LOW_BATTERY", h.detector.State())
	}

	h.battery.voltage = cfg.BatteryLowVoltage + 0.1
	h.step(t, 1)
	if h.detector.State() != StateScan {
		t.Fatalf("state %s after recovery, want SCAN", h.detector.State())
	}
	if h.source.reads == readsWhileSuspended {
		t.Fatal("no frames read after recovery")
	}
}

func TestCalibrateBuildsAndPersistsProfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.9, 0.1})

	if h.detector.Snapshot().Calibrated {
		t.Fatal("calibrated before any calibration")
	}

	if err := h.detector.Calibrate(context.Background(), cfg.CalibrationTime); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	status := h.detector.Snapshot()
	if !status.Calibrated {
		t.Fatal("not calibrated after Calibrate")
	}
	if status.State != "SCAN" {
		t.Fatalf("state %s after calibration, want SCAN", status.State)
	}

	if len(h.store.profiles) != 1 {
		t.Fatalf("expected one persisted profile, got %d", len(h.store.profiles))
	}
	profile := h.store.profiles[0]
	if profile.MelBins != cfg.MelBins || profile.SampleRate != cfg.SampleRate {
		t.Fatalf("profile shape %d/%d does not match config", profile.MelBins, profile.SampleRate)
	}
	if len(profile.Profile) != cfg.MelBins {
		t.Fatalf("profile length %d, want %d", len(profile.Profile), cfg.MelBins)
	}
}

func TestRequestCalibrationRunsOnNextCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.9, 0.1})

	h.detector.RequestCalibration()
	h.step(t, 1)

	if len(h.store.profiles) != 1 {
		t.Fatalf("expected a persisted profile after the requested calibration, got %d", len(h.store.profiles))
	}
}

func TestNoiseProfileRestoredOnStartup(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := &fakeStore{profiles: []models.NoiseProfile{{
		CreatedAt:  time.Now(),
		SampleRate: cfg.SampleRate,
		MelBins:    cfg.MelBins,
		Profile:    make([]float64, cfg.MelBins),
	}}}
	for i := range store.profiles[0].Profile {
		store.profiles[0].Profile[i] = 5.0
	}

	clock := &fakeClock{now: time.Unix(5000, 0)}
	detector, err := NewDetector(cfg, Deps{
		Source:   &fakeSource{clock: clock, advancePerRead: cfg.HopInterval(), four: true},
		Engine:   &fakeEngine{scores: []float64{1, 0}},
		Actuator: alert.NewActuator(&fakeLine{}, &fakeLine{}),
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if !detector.Snapshot().Calibrated {
		t.Fatal("stored profile not restored on startup")
	}
}

func TestRunStopsOnSourceEOF(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newTestHarness(t, cfg, []float64{0.9, 0.1})
	h.source.eofAfter = 5

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.detector.Run(ctx); err != nil {
		t.Fatalf("Run after EOF: %v", err)
	}
	if h.source.reads != 5 {
		t.Fatalf("read %d frames, want 5", h.source.reads)
	}
}

func TestConfigHopInterval(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	want := time.Duration(float64(cfg.HopSize) / float64(cfg.SampleRate) * float64(time.Second))
	if got := cfg.HopInterval(); got != want {
		t.Fatalf("HopInterval = %s, want %s", got, want)
	}

	if cfg.TensorSize() != cfg.TimeFrames*cfg.MelBins {
		t.Fatalf("TensorSize = %d", cfg.TensorSize())
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []func(*Config){
		func(c *Config) { c.SampleRate = 0 },
		func(c *Config) { c.HopSize = 0 },
		func(c *Config) { c.HopSize = c.FFTSize * 2 },
		func(c *Config) { c.TimeFrames = 0 },
		func(c *Config) { c.ConfidenceThreshold = 0 },
		func(c *Config) { c.ConfidenceThreshold = 1.5 },
		func(c *Config) { c.DroneClassIndex = 7 },
		func(c *Config) { c.MinDetections = 0 },
		func(c *Config) { c.MicSpacingMM = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

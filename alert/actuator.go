package alert

// Alert pattern player for the buzzer and vibration motor. Two nested state
// machines: an outer ACTIVE/INACTIVE session and an inner ON/OFF pulse phase,
// both advanced purely by elapsed-time comparisons from Update so the control
// loop is never blocked while an alert plays.

import (
	"time"
)

// Line is a single active-high digital output.
type Line interface {
	Set(active bool)
}

// Actuator drives the audible and haptic lines with timed pulse patterns.
// Update must be called every control cycle.
type Actuator struct {
	buzzer Line
	haptic Line

	active     bool
	hapticOnly bool
	startTime  time.Time
	duration   time.Duration

	pulseState bool
	lastPulse  time.Time
	pulseOn    time.Duration
	pulseOff   time.Duration

	now func() time.Time
}

// NewActuator claims the two outputs and sets both inactive.
func NewActuator(buzzer, haptic Line) *Actuator {
	buzzer.Set(false)
	haptic.Set(false)
	return &Actuator{
		buzzer:   buzzer,
		haptic:   haptic,
		pulseOn:  100 * time.Millisecond,
		pulseOff: 100 * time.Millisecond,
		now:      time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (a *Actuator) SetClock(now func() time.Time) { a.now = now }

// Active reports whether an alert session is running.
func (a *Actuator) Active() bool { return a.active }

// Trigger starts a full audible+haptic session with a fast pulse cadence.
func (a *Actuator) Trigger(duration time.Duration) {
	a.active = true
	a.hapticOnly = false
	a.startTime = a.now()
	a.duration = duration
	a.pulseState = true
	a.lastPulse = a.startTime

	a.buzzer.Set(true)
	a.haptic.Set(true)

	a.pulseOn = 100 * time.Millisecond
	a.pulseOff = 50 * time.Millisecond
}

// TriggerHapticOnly starts a vibration-only session with a slower cadence.
func (a *Actuator) TriggerHapticOnly(duration time.Duration) {
	a.active = true
	a.hapticOnly = true
	a.startTime = a.now()
	a.duration = duration
	a.pulseState = true
	a.lastPulse = a.startTime

	a.haptic.Set(true)

	a.pulseOn = 150 * time.Millisecond
	a.pulseOff = 100 * time.Millisecond
}

// Stop forces both outputs inactive and ends the session.
func (a *Actuator) Stop() {
	a.active = false
	a.buzzer.Set(false)
	a.haptic.Set(false)
}

// Update advances the pattern player: ends the session once the total
// duration has elapsed, otherwise flips the pulse phase when its configured
// on/off time is up.
func (a *Actuator) Update() {
	if !a.active {
		return
	}

	now := a.now()

	if a.duration > 0 && now.Sub(a.startTime) >= a.duration {
		a.Stop()
		return
	}

	phaseDuration := a.pulseOff
	if a.pulseState {
		phaseDuration = a.pulseOn
	}

	if now.Sub(a.lastPulse) >= phaseDuration {
		a.pulseState = !a.pulseState
		a.lastPulse = now

		if a.pulseState {
			if !a.hapticOnly {
				a.buzzer.Set(true)
			}
			a.haptic.Set(true)
		} else {
			a.buzzer.Set(false)
			a.haptic.Set(false)
		}
	}
}

package sentry

// State is the top-level mode of the detection loop.
type State int

const (
	StateScan State = iota
	StateAlert
	StateMonitor
	StateCalibrate
	StateLowBattery
	StateError
)

func (s State) String() string {
	switch s {
	case StateScan:
		return "SCAN"
	case StateAlert:
		return "ALERT"
	case StateMonitor:
		return "MONITOR"
	case StateCalibrate:
		return "CALIBRATE"
	case StateLowBattery:
		return "LOW_BATTERY"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

package models

import (
	"encoding/json"
	"time"
)

// Detection represents one stored detection event produced by the sentry
// pipeline when the alert threshold is crossed.
type Detection struct {
	ID                string            `json:"id" bson:"id"`
	Timestamp         time.Time         `json:"timestamp" bson:"timestamp"`
	State             string            `json:"state" bson:"state"`
	Confidence        float64           `json:"confidence" bson:"confidence"`
	BearingDeg        float64           `json:"bearingDeg" bson:"bearingDeg"`
	BearingConfidence float64           `json:"bearingConfidence" bson:"bearingConfidence"`
	SNRDb             float64           `json:"snrDb,omitempty" bson:"snrDb"`
	LatencyMs         float64           `json:"latencyMs" bson:"latencyMs"`
	Scores            json.RawMessage   `json:"scores,omitempty" bson:"scores,omitempty"` // raw per-class scores
	Metadata          map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NoiseProfile is a persisted calibration result: one dB value per mel band.
type NoiseProfile struct {
	ID         int64     `json:"id" bson:"id"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	SampleRate int       `json:"sampleRate" bson:"sampleRate"`
	MelBins    int       `json:"melBins" bson:"melBins"`
	Profile    []float64 `json:"profile" bson:"profile"`
}

// Status is the live snapshot streamed to monitor clients.
type Status struct {
	State          string    `json:"state"`
	Confidence     float64   `json:"confidence"`
	BearingDeg     float64   `json:"bearingDeg"`
	DetectionCount int       `json:"detectionCount"`
	BatteryVoltage float64   `json:"batteryVoltage"`
	Muted          bool      `json:"muted"`
	AlertActive    bool      `json:"alertActive"`
	Calibrated     bool      `json:"calibrated"`
	Timestamp      time.Time `json:"timestamp"`
}

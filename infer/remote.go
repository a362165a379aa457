package infer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteEngine talks to an external inference service over HTTP. The service
// owns the model; this client only ships tensors and reads back scores.
type RemoteEngine struct {
	serviceURL string
	classes    []string
	timeFrames int
	melBins    int
	client     *http.Client
}

type inferRequest struct {
	Tensor []float64 `json:"tensor"`
	Shape  [2]int    `json:"shape"`
}

type inferResponse struct {
	Scores  []float64 `json:"scores"`
	Classes []string  `json:"classes,omitempty"`
}

// NewRemoteEngine creates a client for the inference service.
func NewRemoteEngine(serviceURL string, timeFrames, melBins int, classes []string) *RemoteEngine {
	if serviceURL == "" {
		serviceURL = "http://localhost:5002"
	}

	return &RemoteEngine{
		serviceURL: serviceURL,
		classes:    classes,
		timeFrames: timeFrames,
		melBins:    melBins,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// HealthCheck verifies the inference service is reachable. A failed check at
// startup is treated as a fatal model-load error by the caller.
func (re *RemoteEngine) HealthCheck() error {
	resp, err := re.client.Get(re.serviceURL + "/health")
	if err != nil {
		return fmt.Errorf("inference service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Classes returns the configured class labels.
func (re *RemoteEngine) Classes() []string { return re.classes }

// Infer posts the tensor and decodes the per-class scores.
func (re *RemoteEngine) Infer(tensor []float64) ([]float64, error) {
	if len(tensor) != re.timeFrames*re.melBins {
		return nil, fmt.Errorf("tensor length %d, want %d", len(tensor), re.timeFrames*re.melBins)
	}

	payload, err := json.Marshal(inferRequest{
		Tensor: tensor,
		Shape:  [2]int{re.timeFrames, re.melBins},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tensor: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, re.serviceURL+"/infer", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := re.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(decoded.Scores) == 0 {
		return nil, fmt.Errorf("received empty score vector")
	}

	return decoded.Scores, nil
}

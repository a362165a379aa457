package db

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"drone-sentry/models"
	"drone-sentry/utils"
)

// JSONFileClient journals detections and profiles to JSON files, for field
// units that run without a database.
type JSONFileClient struct {
	mu             sync.RWMutex
	detectionsPath string
	profilesPath   string
}

func NewJSONFileClient(dir string) (*JSONFileClient, error) {
	if err := utils.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("error creating storage directory: %v", err)
	}
	return &JSONFileClient{
		detectionsPath: filepath.Join(dir, "detections.json"),
		profilesPath:   filepath.Join(dir, "noise_profiles.json"),
	}, nil
}

func (c *JSONFileClient) Close() error { return nil }

// loadDetectionsInternal loads all detections from the JSON file (without lock)
func (c *JSONFileClient) loadDetectionsInternal() ([]models.Detection, error) {
	if _, err := os.Stat(c.detectionsPath); os.IsNotExist(err) {
		return []models.Detection{}, nil
	}

	data, err := os.ReadFile(c.detectionsPath)
	if err != nil {
		return nil, fmt.Errorf("error reading detections file: %v", err)
	}
	if len(data) == 0 {
		return []models.Detection{}, nil
	}

	var detections []models.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("error unmarshaling detections: %v", err)
	}
	return detections, nil
}

// StoreDetection appends a new detection to the JSON file
func (c *JSONFileClient) StoreDetection(detection models.Detection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	detections, err := c.loadDetectionsInternal()
	if err != nil {
		return err
	}

	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}
	detections = append(detections, detection)

	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling detections: %v", err)
	}
	if err := os.WriteFile(c.detectionsPath, data, 0644); err != nil {
		return fmt.Errorf("error writing detections file: %v", err)
	}
	return nil
}

// GetAllDetections returns all detections
func (c *JSONFileClient) GetAllDetections() ([]models.Detection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadDetectionsInternal()
}

func (c *JSONFileClient) loadProfilesInternal() ([]models.NoiseProfile, error) {
	if _, err := os.Stat(c.profilesPath); os.IsNotExist(err) {
		return []models.NoiseProfile{}, nil
	}

	data, err := os.ReadFile(c.profilesPath)
	if err != nil {
		return nil, fmt.Errorf("error reading profiles file: %v", err)
	}
	if len(data) == 0 {
		return []models.NoiseProfile{}, nil
	}

	var profiles []models.NoiseProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("error unmarshaling profiles: %v", err)
	}
	return profiles, nil
}

// StoreNoiseProfile appends a calibration profile to the JSON file
func (c *JSONFileClient) StoreNoiseProfile(profile models.NoiseProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	profiles, err := c.loadProfilesInternal()
	if err != nil {
		return err
	}

	if profile.ID == 0 {
		profile.ID = time.Now().UnixNano()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	profiles = append(profiles, profile)

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling profiles: %v", err)
	}
	if err := os.WriteFile(c.profilesPath, data, 0644); err != nil {
		return fmt.Errorf("error writing profiles file: %v", err)
	}
	return nil
}

// LatestNoiseProfile returns the most recently stored profile, or nil when
// no calibration has been stored yet
func (c *JSONFileClient) LatestNoiseProfile() (*models.NoiseProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	profiles, err := c.loadProfilesInternal()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	latest := profiles[0]
	for _, p := range profiles[1:] {
		if p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return &latest, nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"drone-sentry/models"
	"drone-sentry/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	// Create the directory if it doesn't exist (cross-platform)
	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000" // 5 seconds
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	err = createTables(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createDetectionsTable := `
    CREATE TABLE IF NOT EXISTS detections (
        id TEXT PRIMARY KEY,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        state TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        bearing_deg REAL NOT NULL DEFAULT 0,
        bearing_confidence REAL NOT NULL DEFAULT 0,
        snr_db REAL,
        latency_ms REAL NOT NULL DEFAULT 0,
        scores TEXT,
        metadata TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp);
    `

	createNoiseProfilesTable := `
    CREATE TABLE IF NOT EXISTS noise_profiles (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        sample_rate INTEGER NOT NULL,
        mel_bins INTEGER NOT NULL,
        profile TEXT NOT NULL
    );
    `

	_, err := db.Exec(createDetectionsTable)
	if err != nil {
		return fmt.Errorf("error creating detections table: %s", err)
	}

	_, err = db.Exec(createNoiseProfilesTable)
	if err != nil {
		return fmt.Errorf("error creating noise_profiles table: %s", err)
	}

	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreDetection stores a detection event in the database
func (db *SQLiteClient) StoreDetection(detection models.Detection) error {
	var scoresJSON *string
	if detection.Scores != nil {
		scoresStr := string(detection.Scores)
		scoresJSON = &scoresStr
	}

	var metadataJSON *string
	if detection.Metadata != nil {
		metadataBytes, err := json.Marshal(detection.Metadata)
		if err != nil {
			return fmt.Errorf("error marshaling metadata: %s", err)
		}
		metadataStr := string(metadataBytes)
		metadataJSON = &metadataStr
	}

	_, err := db.db.Exec(`
		INSERT INTO detections (
			id, timestamp, state, confidence, bearing_deg,
			bearing_confidence, snr_db, latency_ms, scores, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		detection.ID,
		detection.Timestamp,
		detection.State,
		detection.Confidence,
		detection.BearingDeg,
		detection.BearingConfidence,
		detection.SNRDb,
		detection.LatencyMs,
		scoresJSON,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	return nil
}

// GetAllDetections retrieves all detections from the database
func (db *SQLiteClient) GetAllDetections() ([]models.Detection, error) {
	rows, err := db.db.Query(`
		SELECT id, timestamp, state, confidence, bearing_deg,
		       bearing_confidence, snr_db, latency_ms, scores, metadata
		FROM detections
		ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		var scoresJSON *string
		var metadataJSON *string

		err := rows.Scan(
			&d.ID,
			&d.Timestamp,
			&d.State,
			&d.Confidence,
			&d.BearingDeg,
			&d.BearingConfidence,
			&d.SNRDb,
			&d.LatencyMs,
			&scoresJSON,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning detection: %s", err)
		}

		if scoresJSON != nil {
			d.Scores = json.RawMessage(*scoresJSON)
		}
		if metadataJSON != nil {
			err = json.Unmarshal([]byte(*metadataJSON), &d.Metadata)
			if err != nil {
				return nil, fmt.Errorf("error unmarshaling metadata: %s", err)
			}
		}

		detections = append(detections, d)
	}

	return detections, nil
}

// StoreNoiseProfile stores a calibration profile in the database
func (db *SQLiteClient) StoreNoiseProfile(profile models.NoiseProfile) error {
	profileJSON, err := json.Marshal(profile.Profile)
	if err != nil {
		return fmt.Errorf("error marshaling profile: %s", err)
	}

	_, err = db.db.Exec(`
		INSERT INTO noise_profiles (created_at, sample_rate, mel_bins, profile)
		VALUES (?, ?, ?, ?)`,
		profile.CreatedAt,
		profile.SampleRate,
		profile.MelBins,
		string(profileJSON),
	)
	if err != nil {
		return fmt.Errorf("error storing noise profile: %s", err)
	}
	return nil
}

// LatestNoiseProfile retrieves the most recent calibration profile, or nil
// when no calibration has been stored yet
func (db *SQLiteClient) LatestNoiseProfile() (*models.NoiseProfile, error) {
	row := db.db.QueryRow(`
		SELECT id, created_at, sample_rate, mel_bins, profile
		FROM noise_profiles
		ORDER BY id DESC
		LIMIT 1
	`)

	var p models.NoiseProfile
	var profileJSON string
	err := row.Scan(&p.ID, &p.CreatedAt, &p.SampleRate, &p.MelBins, &profileJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving noise profile: %s", err)
	}

	if err := json.Unmarshal([]byte(profileJSON), &p.Profile); err != nil {
		return nil, fmt.Errorf("error unmarshaling profile: %s", err)
	}

	return &p, nil
}

package db

import (
	"fmt"

	"drone-sentry/models"
	"drone-sentry/utils"
)

// Client is the persistence backend for detection events and calibration
// profiles. Three implementations exist: SQLite (default), MongoDB and a
// JSON-file journal for deployments without a database.
type Client interface {
	Close() error

	StoreDetection(detection models.Detection) error
	GetAllDetections() ([]models.Detection, error)

	StoreNoiseProfile(profile models.NoiseProfile) error
	LatestNoiseProfile() (*models.NoiseProfile, error)
}

// NewDBClient selects a backend from the DB_TYPE environment variable.
func NewDBClient() (Client, error) {
	dbType := utils.GetEnv("DB_TYPE", "sqlite")

	switch dbType {
	case "sqlite":
		return NewSQLiteClient(utils.GetEnv("SQLITE_DB_PATH", "storage/sentry.db"))
	case "mongo":
		return NewMongoClient(
			utils.GetEnv("DB_URI", "mongodb://localhost:27017"),
			utils.GetEnv("DB_NAME", "drone-sentry"),
		)
	case "jsonfile":
		return NewJSONFileClient(utils.GetEnv("JSON_DB_DIR", "storage"))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"drone-sentry/models"
)

const (
	detectionsCollection    = "detections"
	noiseProfilesCollection = "noise_profiles"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoClient(uri, dbName string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	return &MongoClient{client: client, db: client.Database(dbName)}, nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// StoreDetection inserts a detection event
func (m *MongoClient) StoreDetection(detection models.Detection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	collection := m.db.Collection(detectionsCollection)
	_, err := collection.InsertOne(ctx, detection)
	if err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	return nil
}

// GetAllDetections retrieves all detections, newest first
func (m *MongoClient) GetAllDetections() ([]models.Detection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection := m.db.Collection(detectionsCollection)
	findOptions := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	cursor, err := collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer cursor.Close(ctx)

	var detections []models.Detection
	if err := cursor.All(ctx, &detections); err != nil {
		return nil, fmt.Errorf("error decoding detections: %s", err)
	}

	return detections, nil
}

// StoreNoiseProfile inserts a calibration profile
func (m *MongoClient) StoreNoiseProfile(profile models.NoiseProfile) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if profile.ID == 0 {
		profile.ID = time.Now().UnixNano()
	}

	collection := m.db.Collection(noiseProfilesCollection)
	_, err := collection.InsertOne(ctx, profile)
	if err != nil {
		return fmt.Errorf("error storing noise profile: %s", err)
	}
	return nil
}

// LatestNoiseProfile retrieves the most recent calibration profile, or nil
// when no calibration has been stored yet
func (m *MongoClient) LatestNoiseProfile() (*models.NoiseProfile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	collection := m.db.Collection(noiseProfilesCollection)
	findOptions := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var profile models.NoiseProfile
	err := collection.FindOne(ctx, bson.M{}, findOptions).Decode(&profile)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving noise profile: %s", err)
	}

	return &profile, nil
}

// Package mongodb stores the settings as a single document.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
)

const (
	collectionName = "settings"
	documentID     = "current"
)

// settingsDocument wraps the settings with bookkeeping fields
type settingsDocument struct {
	ID        string          `bson:"_id"`
	Settings  domain.Settings `bson:"settings"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

// Store implements MongoDB storage
type Store struct {
	client     *mongo.Client
	database   *mongo.Database
	collection *mongo.Collection
	cfg        *config.MongoDBConfig
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetServerSelectionTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)
	return &Store{
		client:     client,
		database:   database,
		collection: database.Collection(collectionName),
		cfg:        cfg,
	}, nil
}

func (s *Store) Load(ctx context.Context) (*domain.Settings, error) {
	var doc settingsDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	return &doc.Settings, nil
}

func (s *Store) Save(ctx context.Context, settings *domain.Settings) error {
	doc := settingsDocument{
		ID:        documentID,
		Settings:  *settings,
		UpdatedAt: time.Now(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": documentID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	return nil
}

// Ping checks if the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

package client

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"havosec-api/internal/config"
	"havosec-api/internal/util"
)

// MongoClient holds the connection to the document database of record.
type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
	timeout  time.Duration
}

func NewMongoClient(cfg *config.Config) (*MongoClient, error) {
	mongoConfig := cfg.Mongo

	opts := options.Client().
		ApplyURI(mongoConfig.URI).
		SetAppName("havosec-api").
		SetConnectTimeout(mongoConfig.Timeout).
		SetServerSelectionTimeout(mongoConfig.Timeout).
		SetMaxPoolSize(100).
		SetRetryWrites(true)

	ctx, cancel := context.WithTimeout(context.Background(), mongoConfig.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	util.Info("MongoDB client initialized",
		zap.String("database", mongoConfig.Database),
		zap.String("events_collection", mongoConfig.EventsCollection),
	)

	return &MongoClient{
		Client:   client,
		Database: client.Database(mongoConfig.Database),
		timeout:  mongoConfig.Timeout,
	}, nil
}

func (m *MongoClient) Collection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

func (m *MongoClient) HealthCheck(ctx context.Context) error {
	if err := m.Client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Client.Disconnect(ctx); err != nil {
		util.Error("failed to disconnect MongoDB client", zap.Error(err))
		return err
	}
	util.Info("MongoDB client closed")
	return nil
}

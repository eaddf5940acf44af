package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"deskwatch/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Service interface {
	Health() map[string]string
	Ping(ctx context.Context) error
	GetDatabase() *mongo.Database
	Close() error
}

type service struct {
	db     *mongo.Client
	dbName string
}

// New creates a client for the configured deployment. The driver connects
// lazily, so an unreachable server is not an error here; callers find out
// through Ping and treat the store as unavailable until it answers.
func New(cfg config.DatabaseConfig) (Service, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("database uri is required")
	}

	// Use the SetServerAPIOptions() method to set the version of the Stable API on the client
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerAPIOptions(serverAPI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	// Send a ping so the log shows whether storage is reachable at startup
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		log.Printf("Database: MongoDB not reachable yet, persistence will be skipped until it is: %v", err)
	} else {
		log.Printf("Database: connected to MongoDB (database %q)", cfg.Name)
	}

	name := cfg.Name
	if name == "" {
		name = "deskwatch" // default database name
	}

	return &service{
		db:     client,
		dbName: name,
	}, nil
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Ping(ctx)
	if err != nil {
		log.Printf("Database: MongoDB health check failed: %v", err)
		return map[string]string{
			"message": "Database is unhealthy",
			"error":   err.Error(),
		}
	}

	return map[string]string{
		"message": "Database is healthy",
		"status":  "connected",
	}
}

func (s *service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx, readpref.Primary())
}

func (s *service) GetDatabase() *mongo.Database {
	return s.db.Database(s.dbName)
}

func (s *service) Close() error {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.db.Disconnect(ctx)
	}
	return nil
}

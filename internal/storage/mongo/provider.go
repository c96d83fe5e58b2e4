package mongo

import (
	"context"
	"fmt"

	"github.com/syntrixbase/postfeed/internal/storage/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Provider owns the MongoDB connection.
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects to MongoDB and verifies the connection with a ping.
func NewProvider(ctx context.Context, cfg config.MongoConfig) (*Provider, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Provider{
		client: client,
		dbName: cfg.DatabaseName,
	}, nil
}

// Client returns the underlying MongoDB client
func (p *Provider) Client() *mongo.Client {
	return p.client
}

// Database returns the configured database.
func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

// Close closes the MongoDB connection
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrDatabaseNameRequired = errors.New("database name required (set MONGODB_DATABASE)")
	ErrMongoURIRequired     = errors.New("mongo uri required (set MONGODB_URI)")
)

const (
	mongoAppName        = "loventia-chat"
	mongoMaxPoolSize    = 100
	mongoConnectTimeout = 10 * time.Second
	mongoPingTimeout    = 5 * time.Second
)

// MongoStore owns the client behind the Mongo message store.
type MongoStore struct {
	Client *mongo.Client
	DB     *mongo.Database
	log    zerolog.Logger
}

// NewMongoStore connects and pings the deployment; an unreachable server is
// reported here rather than on the first request.
func NewMongoStore(ctx context.Context, uri, dbName string, log zerolog.Logger) (*MongoStore, error) {
	if uri == "" {
		return nil, ErrMongoURIRequired
	}
	if dbName == "" {
		return nil, ErrDatabaseNameRequired
	}

	clientOpts := options.Client().ApplyURI(uri).
		SetAppName(mongoAppName).
		SetMaxPoolSize(mongoMaxPoolSize).
		SetServerSelectionTimeout(mongoConnectTimeout)

	start := time.Now()
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	store := &MongoStore{
		Client: client,
		DB:     client.Database(dbName),
		log:    log.With().Str("component", "mongo").Str("database", dbName).Logger(),
	}
	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	store.log.Info().Dur("took", time.Since(start)).Msg("connected to MongoDB")
	return store, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return errors.New("mongo client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()
	return m.Client.Ping(pingCtx, nil)
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	if err := m.Client.Disconnect(closeCtx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	m.log.Info().Msg("disconnected from MongoDB")
	return nil
}

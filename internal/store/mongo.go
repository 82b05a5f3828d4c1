package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/observer/hangouts/internal/domain"
)

// CollectionName is where owner documents live
const CollectionName = "hangouts"

// ownerDoc is the per-user document: {username, hangouts: [...]}
type ownerDoc struct {
	Username  string           `bson:"username"`
	Hangouts  []domain.Hangout `bson:"hangouts"`
	UpdatedAt time.Time        `bson:"updated_at,omitempty"`
}

// MongoStore implements HangoutStore on a MongoDB collection with one
// document per owner and the owner's hangouts embedded as an array.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoStore connects to MongoDB and ensures the collection's indexes.
// uri should be in the format: mongodb://host:port
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("hangouts").
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongoStoreWithCollection(client.Database(database).Collection(CollectionName))
	s.client = client

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("connected to MongoDB", "database", database, "collection", CollectionName)
	return s, nil
}

// NewMongoStoreWithCollection wraps an existing collection. The caller owns
// the client's lifecycle.
func NewMongoStoreWithCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{
		coll:   coll,
		logger: slog.Default().With("component", "store", "backend", "mongo"),
	}
}

// EnsureIndexes creates the unique owner index that Upsert relies on
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	})
	if err != nil {
		return fmt.Errorf("create username index: %w", err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, owner string) ([]domain.Hangout, error) {
	var doc ownerDoc
	err := s.coll.FindOne(ctx,
		bson.M{"username": owner},
		options.FindOne().SetProjection(bson.M{"_id": 0, "username": 1, "hangouts": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.Hangout{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find hangouts of %s: %w", owner, err)
	}
	if doc.Hangouts == nil {
		return []domain.Hangout{}, nil
	}
	return doc.Hangouts, nil
}

func (s *MongoStore) Get(ctx context.Context, owner, peer string) (*domain.Hangout, error) {
	var doc ownerDoc
	err := s.coll.FindOne(ctx,
		bson.M{"username": owner, "hangouts.username": peer},
		options.FindOne().SetProjection(bson.M{"_id": 0, "username": 1, "hangouts.$": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find hangout %s/%s: %w", owner, peer, err)
	}
	if len(doc.Hangouts) == 0 {
		return nil, ErrNotFound
	}
	h := doc.Hangouts[0]
	return &h, nil
}

// Upsert replaces the matching array entry in place. When there is none it
// pushes a new entry, creating the owner document if needed. Two writers
// racing to create the same entry collide on the unique owner index; the
// loser retries the in-place update.
func (s *MongoStore) Upsert(ctx context.Context, owner string, h domain.Hangout) error {
	updated, err := s.replaceEntry(ctx, owner, h)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"username": owner, "hangouts.username": bson.M{"$ne": h.Username}},
		bson.M{
			"$push": bson.M{"hangouts": h},
			"$set":  bson.M{"updated_at": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Debug("concurrent hangout insert, retrying update", "owner", owner, "peer", h.Username)
		updated, err = s.replaceEntry(ctx, owner, h)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("upsert hangout %s/%s: entry vanished during retry", owner, h.Username)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("push hangout %s/%s: %w", owner, h.Username, err)
	}
	return nil
}

func (s *MongoStore) replaceEntry(ctx context.Context, owner string, h domain.Hangout) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"username": owner, "hangouts.username": h.Username},
		bson.M{"$set": bson.M{"hangouts.$": h, "updated_at": time.Now()}},
	)
	if err != nil {
		return false, fmt.Errorf("update hangout %s/%s: %w", owner, h.Username, err)
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	s.logger.Info("MongoDB store closed")
	return nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/observer/hangouts/internal/domain"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoStore_List(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("returns embedded hangouts", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "username", Value: "alice"},
			{Key: "hangouts", Value: bson.A{
				bson.D{
					{Key: "username", Value: "bob"},
					{Key: "email", Value: "bob@example.com"},
					{Key: "state", Value: "INVITED"},
					{Key: "timestamp", Value: ts},
				},
			}},
		}))

		list, err := s.List(context.Background(), "alice")
		require.NoError(mt, err)
		require.Len(mt, list, 1)
		assert.Equal(mt, "bob", list[0].Username)
		assert.Equal(mt, domain.StateInvited, list[0].State)
		assert.True(mt, ts.Equal(list[0].Timestamp))
	})

	mt.Run("unknown owner yields empty list", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		list, err := s.List(context.Background(), "nobody")
		require.NoError(mt, err)
		assert.NotNil(mt, list)
		assert.Empty(mt, list)
	})

	mt.Run("command error is wrapped", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 2, Name: "BadValue", Message: "boom",
		}))

		_, err := s.List(context.Background(), "alice")
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "find hangouts of alice")
	})
}

func TestMongoStore_Get(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "username", Value: "alice"},
			{Key: "hangouts", Value: bson.A{
				bson.D{{Key: "username", Value: "bob"}, {Key: "state", Value: "ACCEPTED"}},
			}},
		}))

		h, err := s.Get(context.Background(), "alice", "bob")
		require.NoError(mt, err)
		assert.Equal(mt, domain.StateAccepted, h.State)
	})

	mt.Run("not found", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := s.Get(context.Background(), "alice", "bob")
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestMongoStore_Upsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	h := domain.Hangout{Username: "bob", State: domain.StateInvited, Timestamp: time.Now()}

	mt.Run("replaces existing entry", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		require.NoError(mt, s.Upsert(context.Background(), "alice", h))
	})

	mt.Run("pushes new entry", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 0},
				bson.E{Key: "upserted", Value: bson.A{
					bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: primitive.NewObjectID()}},
				}},
			),
		)

		require.NoError(mt, s.Upsert(context.Background(), "alice", h))
	})

	mt.Run("retries update after duplicate key", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		require.NoError(mt, s.Upsert(context.Background(), "alice", h))
	})

	mt.Run("surfaces write errors", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 2, Name: "BadValue", Message: "boom",
		}))

		err := s.Upsert(context.Background(), "alice", h)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "update hangout alice/bob")
	})
}

func TestMongoStore_EnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates unique index", func(mt *mtest.T) {
		s := NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, s.EnsureIndexes(context.Background()))
	})
}

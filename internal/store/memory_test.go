package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/hangouts/internal/domain"
)

func TestMemoryStore_ListUnknownOwner(t *testing.T) {
	s := NewMemoryStore()

	list, err := s.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertAppendsThenReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "bob", State: domain.StateInvited}))
	require.NoError(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "carol", State: domain.StateInviter}))
	require.NoError(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "bob", State: domain.StateAccepter}))

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Username, "replacement keeps position")
	assert.Equal(t, domain.StateAccepter, list[0].State)
	assert.Equal(t, "carol", list[1].Username)

	got, err := s.Get(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAccepter, got.State)
}

func TestMemoryStore_ListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "bob", State: domain.StateInvited}))

	list, _ := s.List(ctx, "alice")
	list[0].State = domain.StateBlocked

	got, err := s.Get(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInvited, got.State)
}

func TestMemoryStore_OwnersAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "bob", State: domain.StateInvited}))

	_, err := s.Get(ctx, "bob", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close(ctx))

	assert.ErrorIs(t, s.Upsert(ctx, "alice", domain.Hangout{Username: "bob"}), ErrClosed)
	_, err := s.List(ctx, "alice")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get(ctx, "alice", "bob")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := fmt.Sprintf("user%d", i%10)
			_ = s.Upsert(ctx, "alice", domain.Hangout{Username: peer, Timestamp: time.Now()})
		}(i)
	}
	wg.Wait()

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 10, "each peer appears exactly once")
}

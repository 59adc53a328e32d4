package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("old"), time.Minute))
	require.NoError(t, s.Put(ctx, "k1", []byte("new"), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestMemoryStoreValueIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, s.Put(ctx, "k1", buf, time.Minute))
	buf[0] = 'X'

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestMemoryStoreSets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddToSet(ctx, "owner1", "t1", time.Minute))
	require.NoError(t, s.AddToSet(ctx, "owner1", "t2", time.Minute))
	require.NoError(t, s.AddToSet(ctx, "owner1", "t1", time.Minute))

	members, err := s.SetMembers(ctx, "owner1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, members)
}

func TestMemoryStoreSetExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddToSet(ctx, "owner1", "t1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	members, err := s.SetMembers(ctx, "owner1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTTLAndAdd(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "order:1", []byte(`{"a":1}`), time.Minute))
	added, err := m.Add(ctx, "order:1", []byte(`{"a":2}`), time.Minute)
	require.NoError(t, err)
	assert.False(t, added, "Add must not overwrite a live value")

	b, ok, _ := m.Get(ctx, "order:1")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(b))

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "order:1")
	assert.False(t, ok, "expired")

	added, _ = m.Add(ctx, "order:1", []byte(`{"a":3}`), 0)
	assert.True(t, added)
	deleted, _ := m.Del(ctx, "order:1")
	assert.True(t, deleted)
	deleted, _ = m.Del(ctx, "order:1")
	assert.False(t, deleted)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)

	mock.ExpectGet("stock:P1").RedisNil()
	mock.ExpectSet("stock:P1", []byte("v"), time.Hour).SetVal("OK")
	mock.ExpectSetNX("stock:P1", []byte("w"), time.Hour).SetVal(false)
	mock.ExpectGet("stock:P1").SetVal("v")
	mock.ExpectDel("stock:P1").SetVal(1)

	_, ok, err := s.Get(ctx, "stock:P1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Set(ctx, "stock:P1", []byte("v"), time.Hour))
	added, err := s.Add(ctx, "stock:P1", []byte("w"), time.Hour)
	require.NoError(t, err)
	assert.False(t, added)
	b, ok, err := s.Get(ctx, "stock:P1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(b))
	deleted, err := s.Del(ctx, "stock:P1")
	require.NoError(t, err)
	assert.True(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

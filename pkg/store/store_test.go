package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Store{client: client, logger: zerolog.Nop()}, mr
}

func TestSetGet(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v"))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestGetMissIsRedisNil(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestSetEXPreservesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEX(ctx, "k", "v", time.Minute))
	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestExpireRefreshesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, "session:logs:1", "l1"))
	require.NoError(t, s.Expire(ctx, "session:logs:1", time.Minute))

	ttl, err := s.TTL(ctx, "session:logs:1")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestSetNXOnlyOnce(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	first, err := s.SetNX(ctx, "port:desktop:6081", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.SetNX(ctx, "port:desktop:6081", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestDelIsIdempotent(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Del(ctx, "absent"))
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Del(ctx, "k"))
	require.NoError(t, s.Del(ctx, "k"))
}

func TestIncr(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	v1, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)
}

func TestSetOperations(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "sessions:index", "a", "b", "c"))
	members, err := s.SMembers(ctx, "sessions:index")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	card, err := s.SCard(ctx, "sessions:index")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	require.NoError(t, s.SRem(ctx, "sessions:index", "b"))
	members, err = s.SMembers(ctx, "sessions:index")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, members)
}

func TestListOperations(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, "session:logs:1", "l1", "l2", "l3", "l4"))
	all, err := s.LRange(ctx, "session:logs:1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2", "l3", "l4"}, all)

	require.NoError(t, s.LTrim(ctx, "session:logs:1", -2, -1))
	trimmed, err := s.LRange(ctx, "session:logs:1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"l3", "l4"}, trimmed)
}

func TestKeysPattern(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "port:desktop:6081", "1"))
	require.NoError(t, s.Set(ctx, "port:desktop:6082", "1"))
	require.NoError(t, s.Set(ctx, "port:tool:8081", "1"))

	matches, err := s.Keys(ctx, "port:desktop:*")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestPublishSubscribe(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	sub := s.Subscribe(ctx, "session:abc:messages")
	defer sub.Close()

	// miniredis needs a moment to register the subscription before publish.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Publish(ctx, "session:abc:messages", []byte("hello")))

	select {
	case payload := <-sub.Bytes():
		assert.Equal(t, "hello", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

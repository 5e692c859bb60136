package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client, common.NewSilentLogger())
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "job:1", []byte("payload"), time.Minute))

	val, err := s.Get(ctx, "job:1")
	require.NoError(t, err)
	require.Equal(t, "payload", string(val))

	require.NoError(t, s.Delete(ctx, "job:1"))
	_, err = s.Get(ctx, "job:1")
	require.Error(t, err)
}

func TestRedisStore_GetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "job:missing")
	require.Error(t, err)
	require.True(t, coreerr.Is(err, coreerr.KindNotFound))
}

func TestRedisStore_Scan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "agent:1", []byte("a"), time.Minute))
	require.NoError(t, s.Put(ctx, "agent:2", []byte("b"), time.Minute))
	require.NoError(t, s.Put(ctx, "job:1", []byte("c"), time.Minute))

	keys, err := s.Scan(ctx, "agent:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"agent:1", "agent:2"}, keys)
}

func TestRedisStore_ListOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ListPushTail(ctx, "queue:high", []byte("j1")))
	require.NoError(t, s.ListPushTail(ctx, "queue:high", []byte("j2")))

	n, err := s.ListLen(ctx, "queue:high")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	snap, err := s.ListSnapshot(ctx, "queue:high")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("j1"), []byte("j2")}, snap)

	head, err := s.ListPopHead(ctx, "queue:high")
	require.NoError(t, err)
	require.Equal(t, "j1", string(head))

	n, err = s.ListLen(ctx, "queue:high")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRedisStore_ListPopHeadEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	val, err := s.ListPopHead(ctx, "queue:empty")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestRedisStore_ListReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ListPushTail(ctx, "queue:low", []byte("j1")))
	require.NoError(t, s.ListReplace(ctx, "queue:low", [][]byte{[]byte("j2"), []byte("j3")}))

	snap, err := s.ListSnapshot(ctx, "queue:low")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("j2"), []byte("j3")}, snap)
}

func TestRedisStore_Ping(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

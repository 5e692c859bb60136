package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/bobmcallan/jobmesh/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, common.NewSilentLogger())
	return NewSet(s)
}

func TestSet_AppendSnapshotIsolatedPerPriority(t *testing.T) {
	ctx := context.Background()
	set := newTestSet(t)

	require.NoError(t, set.For(models.PriorityHigh).Append(ctx, "h1"))
	require.NoError(t, set.For(models.PriorityLow).Append(ctx, "l1"))
	require.NoError(t, set.For(models.PriorityHigh).Append(ctx, "h2"))

	high, err := set.For(models.PriorityHigh).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h2"}, high)

	low, err := set.For(models.PriorityLow).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"l1"}, low)
}

func TestSet_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	set := newTestSet(t)
	q := set.For(models.PriorityMedium)

	require.NoError(t, q.Append(ctx, "a"))
	require.NoError(t, q.Append(ctx, "b"))
	require.NoError(t, q.ReplaceAll(ctx, []string{"b", "a", "c"}))

	snap, err := q.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, snap)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestSet_UnknownPriorityDefaultsToMedium(t *testing.T) {
	set := newTestSet(t)
	require.Same(t, set.medium, set.For("bogus"))
}

// Package queue implements the three FIFO priority lanes of job ids on top
// of the state store's list operations.
package queue

import (
	"context"

	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
)

const keyPrefix = "queue:"

// storeQueue is a single priority lane backed by one store list key.
type storeQueue struct {
	store interfaces.StateStore
	key   string
}

func (q *storeQueue) Append(ctx context.Context, jobID string) error {
	return q.store.ListPushTail(ctx, q.key, []byte(jobID))
}

func (q *storeQueue) Snapshot(ctx context.Context) ([]string, error) {
	raw, err := q.store.ListSnapshot(ctx, q.key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = string(v)
	}
	return out, nil
}

func (q *storeQueue) ReplaceAll(ctx context.Context, jobIDs []string) error {
	values := make([][]byte, len(jobIDs))
	for i, id := range jobIDs {
		values[i] = []byte(id)
	}
	return q.store.ListReplace(ctx, q.key, values)
}

func (q *storeQueue) Len(ctx context.Context) (int, error) {
	return q.store.ListLen(ctx, q.key)
}

// Set resolves each priority to its own storeQueue.
type Set struct {
	high   *storeQueue
	medium *storeQueue
	low    *storeQueue
}

// NewSet builds the three priority queues over store.
func NewSet(store interfaces.StateStore) *Set {
	return &Set{
		high:   &storeQueue{store: store, key: keyPrefix + string(models.PriorityHigh)},
		medium: &storeQueue{store: store, key: keyPrefix + string(models.PriorityMedium)},
		low:    &storeQueue{store: store, key: keyPrefix + string(models.PriorityLow)},
	}
}

// For returns the Queue for the given priority, defaulting to medium for
// any unrecognized value.
func (s *Set) For(priority models.JobPriority) interfaces.Queue {
	switch priority {
	case models.PriorityHigh:
		return s.high
	case models.PriorityLow:
		return s.low
	default:
		return s.medium
	}
}

var _ interfaces.QueueSet = (*Set)(nil)

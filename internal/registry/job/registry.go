// Package job implements the Job Registry: CRUD and state-machine
// transitions for job records, enforcing legal edges and timestamp stamping.
package job

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/google/uuid"
)

const keyPrefix = "job:"

func keyFor(id string) string { return keyPrefix + id }

// Registry is the store-backed implementation of interfaces.JobRegistry.
type Registry struct {
	store    interfaces.StateStore
	queues   interfaces.QueueSet
	logger   *common.Logger
	recordTTL time.Duration
}

// NewRegistry creates a Registry backed by store, appending submitted jobs
// to the queue set and stamping records with the configured record TTL.
func NewRegistry(store interfaces.StateStore, queues interfaces.QueueSet, recordTTL time.Duration, logger *common.Logger) *Registry {
	return &Registry{store: store, queues: queues, recordTTL: recordTTL, logger: logger}
}

// Submit validates req, persists a new pending job, and appends its id to
// the target priority queue. The store put happens before the queue append
// so any reader observing the queue can always resolve the id.
func (r *Registry) Submit(ctx context.Context, req interfaces.SubmitRequest) (*models.Job, int, error) {
	if req.Tenant == "" || req.Build == "" || req.Artifact == "" {
		return nil, 0, coreerr.Validation("submit job", "job", nil)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, 0, coreerr.Validation("submit job", "priority", nil)
	}

	target := req.Target
	if target == "" {
		target = models.TargetEmulator
	}
	if !target.Valid() {
		return nil, 0, coreerr.Validation("submit job", "target", nil)
	}
	target = target.Normalize()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := r.Get(ctx, id); err == nil {
		return nil, 0, coreerr.Conflict("submit job", "job", id, nil)
	}

	now := time.Now()
	j := &models.Job{
		ID:        id,
		Tenant:    req.Tenant,
		Build:     req.Build,
		Artifact:  req.Artifact,
		Priority:  priority,
		Target:    target,
		State:     models.JobStatePending,
		Attempt:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.save(ctx, j); err != nil {
		return nil, 0, err
	}

	q := r.queues.For(priority)
	if err := q.Append(ctx, id); err != nil {
		return nil, 0, err
	}

	n, err := q.Len(ctx)
	if err != nil {
		return nil, 0, err
	}

	return j, n, nil
}

// Get returns the job record for id, or NotFound if absent.
func (r *Registry) Get(ctx context.Context, id string) (*models.Job, error) {
	raw, err := r.store.Get(ctx, keyFor(id))
	if err != nil {
		return nil, err
	}
	var j models.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, coreerr.Internal("decode job", "job_registry", err)
	}
	return &j, nil
}

// List returns jobs matching filter, ordered by descending created_at.
func (r *Registry) List(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	keys, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	var out []*models.Job
	for _, k := range keys {
		raw, err := r.store.Get(ctx, k)
		if err != nil {
			continue // evicted between scan and get
		}
		var j models.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			continue
		}
		if filter.Tenant != "" && j.Tenant != filter.Tenant {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.Build != "" && j.Build != filter.Build {
			continue
		}
		out = append(out, &j)
	}

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Cancel transitions id to cancelled if it is pending or running.
func (r *Registry) Cancel(ctx context.Context, id string) (*models.Job, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State != models.JobStatePending && j.State != models.JobStateRunning {
		return nil, coreerr.IllegalState("cancel job", "job_registry", id, nil)
	}
	return r.Transition(ctx, id, models.JobStateCancelled, interfaces.JobPatch{})
}

// Transition validates the requested edge, applies patch, stamps the
// relevant timestamp, and persists the record. It is the single entry point
// for mutating a job's state.
func (r *Registry) Transition(ctx context.Context, id string, next models.JobState, patch interfaces.JobPatch) (*models.Job, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(j.State, next) {
		return nil, coreerr.IllegalState("transition job", "job_registry", id, nil)
	}

	now := time.Now()
	j.State = next
	j.UpdatedAt = now

	if patch.AssignedAgent != "" {
		j.AssignedAgent = patch.AssignedAgent
	}
	if patch.GroupKey != "" {
		j.GroupKey = patch.GroupKey
	}
	if patch.LastError != "" {
		j.LastError = patch.LastError
	}
	if patch.Result != nil {
		j.Result = patch.Result
	}
	if patch.IncrementAttempt {
		j.Attempt++
	}

	switch next {
	case models.JobStateRunning:
		j.StartedAt = now
	case models.JobStateCompleted, models.JobStateFailed, models.JobStateCancelled:
		j.CompletedAt = now
	}

	if err := r.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *Registry) save(ctx context.Context, j *models.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return coreerr.Internal("encode job", "job_registry", err)
	}
	return r.store.Put(ctx, keyFor(j.ID), raw, r.recordTTL)
}

var _ interfaces.JobRegistry = (*Registry)(nil)

// Package interfaces defines the contracts between the scheduling core's
// components.
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/jobmesh/internal/models"
)

// StateStore abstracts a key-value store with atomic list operations. The
// core assumes atomicity of each individual operation but does not assume
// multi-key transactions; correctness comes from monotone state transitions
// and idempotent writes, not locking.
type StateStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)

	ListPushTail(ctx context.Context, key string, value []byte) error
	ListPopHead(ctx context.Context, key string) ([]byte, error)
	ListLen(ctx context.Context, key string) (int, error)
	ListSnapshot(ctx context.Context, key string) ([][]byte, error)
	ListReplace(ctx context.Context, key string, values [][]byte) error

	Ping(ctx context.Context) error
	Close() error
}

// JobRegistry owns CRUD and state-machine transitions for job records.
type JobRegistry interface {
	Submit(ctx context.Context, req SubmitRequest) (*models.Job, int, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	Cancel(ctx context.Context, id string) (*models.Job, error)
	Transition(ctx context.Context, id string, next models.JobState, patch JobPatch) (*models.Job, error)
}

// SubmitRequest is the input to JobRegistry.Submit.
type SubmitRequest struct {
	ID       string
	Tenant   string
	Build    string
	Artifact string
	Priority models.JobPriority
	Target   models.JobTarget
}

// JobFilter narrows JobRegistry.List results.
type JobFilter struct {
	Tenant string
	State  models.JobState
	Build  string
	Limit  int
}

// JobPatch carries the optional fields a transition may set.
type JobPatch struct {
	AssignedAgent    string
	GroupKey         string
	LastError        string
	Result           any
	IncrementAttempt bool
}

// AgentRegistry owns registration, heartbeat, and liveness for workers.
type AgentRegistry interface {
	Register(ctx context.Context, name string, capabilities []models.JobTarget) (*models.Agent, error)
	Heartbeat(ctx context.Context, id string) error
	SetState(ctx context.Context, id string, state models.AgentState, currentJob string) (*models.Agent, error)
	LiveAgents(ctx context.Context) ([]*models.Agent, error)
	Get(ctx context.Context, id string) (*models.Agent, error)
}

// Queue is one FIFO priority lane of job ids.
type Queue interface {
	Append(ctx context.Context, jobID string) error
	Snapshot(ctx context.Context) ([]string, error)
	ReplaceAll(ctx context.Context, jobIDs []string) error
	Len(ctx context.Context) (int, error)
}

// QueueSet resolves the Queue for a given priority.
type QueueSet interface {
	For(priority models.JobPriority) Queue
}

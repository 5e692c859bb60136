// Package models holds the record shapes shared across the scheduling core.
package models

import "time"

// JobPriority selects which priority queue a job is placed in.
type JobPriority string

const (
	PriorityHigh   JobPriority = "high"
	PriorityMedium JobPriority = "medium"
	PriorityLow    JobPriority = "low"
)

// Valid reports whether p is one of the three recognized priorities.
func (p JobPriority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// JobTarget identifies the kind of environment a job must run against.
type JobTarget string

const (
	TargetEmulator JobTarget = "emulator"
	TargetDevice   JobTarget = "device"
	TargetCloud    JobTarget = "cloud"
)

// Valid reports whether t is a recognized target, accepting "browserstack"
// as a legacy alias for TargetCloud.
func (t JobTarget) Valid() bool {
	switch t {
	case TargetEmulator, TargetDevice, TargetCloud, "browserstack":
		return true
	}
	return false
}

// Normalize maps the legacy "browserstack" spelling onto TargetCloud.
func (t JobTarget) Normalize() JobTarget {
	if t == "browserstack" {
		return TargetCloud
	}
	return t
}

// JobState is the job's position in the lifecycle state machine.
type JobState string

const (
	JobStatePending         JobState = "pending"
	JobStateQueuedForGroup  JobState = "queued-for-group"
	JobStateRunning         JobState = "running"
	JobStateRetrying        JobState = "retrying"
	JobStateCompleted       JobState = "completed"
	JobStateFailed          JobState = "failed"
	JobStateCancelled       JobState = "cancelled"
)

// Terminal reports whether s is a state from which no further transition is legal.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// jobStateEdges enumerates every legal transition; all others are rejected.
var jobStateEdges = map[JobState]map[JobState]bool{
	JobStatePending: {
		JobStateQueuedForGroup: true,
		JobStateRunning:        true,
		JobStateCancelled:      true,
		JobStateFailed:         true,
	},
	JobStateQueuedForGroup: {
		JobStateRunning:   true,
		JobStateCancelled: true,
	},
	JobStateRunning: {
		JobStateCompleted: true,
		JobStateFailed:    true,
		JobStateRetrying:  true,
		JobStateCancelled: true,
	},
	JobStateRetrying: {
		JobStatePending: true,
	},
}

// CanTransition reports whether moving from s to next is a legal edge of the
// job state machine.
func CanTransition(from, next JobState) bool {
	edges, ok := jobStateEdges[from]
	if !ok {
		return false
	}
	return edges[next]
}

// Job is a single unit of work: an artifact to execute in a target environment.
type Job struct {
	ID            string      `json:"id"`
	Tenant        string      `json:"tenant"`
	Build         string      `json:"build"`
	Artifact      string      `json:"artifact"`
	Priority      JobPriority `json:"priority"`
	Target        JobTarget   `json:"target"`
	State         JobState    `json:"state"`
	Attempt       int         `json:"attempt"`
	LastError     string      `json:"last_error,omitempty"`
	AssignedAgent string      `json:"assigned_agent,omitempty"`
	GroupKey      string      `json:"group_key,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	StartedAt     time.Time   `json:"started_at,omitempty"`
	CompletedAt   time.Time   `json:"completed_at,omitempty"`
	Result        any         `json:"result,omitempty"`
}

// GroupKeyFor returns the build-affinity group key for a job assigned to agentID.
func GroupKeyFor(agentID, build string) string {
	return agentID + "|" + build
}

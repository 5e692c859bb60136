// Package engine wires the State Store, Job Registry, Agent Registry,
// Priority Queues, Scheduler Loop, Dispatch, and Lifecycle Driver together
// and exposes the operations a transport adapter would call.
package engine

import (
	"context"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/lifecycle"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/bobmcallan/jobmesh/internal/scheduler"
)

// Engine is the facade over the scheduling core's components.
type Engine struct {
	jobs       interfaces.JobRegistry
	agents     interfaces.AgentRegistry
	queues     interfaces.QueueSet
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Driver
	scheduler  *scheduler.Scheduler
	hub        *JobEventHub
	logger     *common.Logger
}

// New builds an Engine from its already-constructed components.
func New(
	jobs interfaces.JobRegistry,
	agents interfaces.AgentRegistry,
	queues interfaces.QueueSet,
	dispatcher *dispatch.Dispatcher,
	driver *lifecycle.Driver,
	sched *scheduler.Scheduler,
	hub *JobEventHub,
	logger *common.Logger,
) *Engine {
	return &Engine{
		jobs:       jobs,
		agents:     agents,
		queues:     queues,
		dispatcher: dispatcher,
		lifecycle:  driver,
		scheduler:  sched,
		hub:        hub,
		logger:     logger,
	}
}

// Start launches the scheduler tick loop and the job event hub.
func (e *Engine) Start() {
	go e.hub.Run()
	e.scheduler.Start()
}

// Stop halts the scheduler and the job event hub. No in-flight assignment
// is rolled back; the next startup's reconciliation pass repairs anything
// left inconsistent.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.hub.Stop()
}

// Hub returns the job event hub for transport registration (e.g. /ws/jobs).
func (e *Engine) Hub() *JobEventHub {
	return e.hub
}

// Submit accepts a job submission, enforcing the Job Registry's validation
// and queue-append ordering.
func (e *Engine) Submit(ctx context.Context, req interfaces.SubmitRequest) (*models.Job, int, error) {
	j, pos, err := e.jobs.Submit(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	e.hub.Broadcast(models.JobEvent{Type: models.JobEventQueued, JobID: j.ID, Tenant: j.Tenant, State: j.State, Timestamp: time.Now()})
	return j, pos, nil
}

// GetJob returns a single job record by id.
func (e *Engine) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return e.jobs.Get(ctx, id)
}

// ListJobs returns jobs matching filter.
func (e *Engine) ListJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	return e.jobs.List(ctx, filter)
}

// CancelJob cancels a pending or running job.
func (e *Engine) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := e.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	e.hub.Broadcast(models.JobEvent{Type: models.JobEventCancelled, JobID: j.ID, Tenant: j.Tenant, State: j.State, Timestamp: time.Now()})
	return j, nil
}

// TransitionJob applies an explicit state-machine transition.
func (e *Engine) TransitionJob(ctx context.Context, id string, next models.JobState, patch interfaces.JobPatch) (*models.Job, error) {
	return e.jobs.Transition(ctx, id, next, patch)
}

// RegisterAgent registers a new worker process.
func (e *Engine) RegisterAgent(ctx context.Context, name string, capabilities []models.JobTarget) (*models.Agent, error) {
	return e.agents.Register(ctx, name, capabilities)
}

// HeartbeatAgent refreshes an agent's liveness.
func (e *Engine) HeartbeatAgent(ctx context.Context, id string) error {
	return e.agents.Heartbeat(ctx, id)
}

// SetAgentState moves an agent to a new operational state.
func (e *Engine) SetAgentState(ctx context.Context, id string, state models.AgentState, currentJob string) (*models.Agent, error) {
	return e.agents.SetState(ctx, id, state, currentJob)
}

// ListAgents returns every currently live agent.
func (e *Engine) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	return e.agents.LiveAgents(ctx)
}

// ClaimJob is the agent-facing entry point of claim(agent_id, job_id).
func (e *Engine) ClaimJob(ctx context.Context, agentID, jobID string) (*models.Job, error) {
	j, err := e.dispatcher.Claim(ctx, agentID, jobID)
	if err != nil {
		return nil, err
	}
	e.hub.Broadcast(models.JobEvent{Type: models.JobEventClaimed, JobID: j.ID, Tenant: j.Tenant, State: j.State, AgentID: agentID, Timestamp: time.Now()})
	return j, nil
}

// CompleteJob is the agent-facing termination callback.
func (e *Engine) CompleteJob(ctx context.Context, agentID, jobID string, success bool, errMsg string, result any) (*models.Job, error) {
	j, err := e.lifecycle.Complete(ctx, agentID, jobID, success, errMsg, result)
	if err != nil {
		return nil, err
	}

	evt := models.JobEventCompleted
	switch j.State {
	case models.JobStateFailed:
		evt = models.JobEventFailed
	case models.JobStateRetrying, models.JobStatePending:
		evt = models.JobEventRetrying
	}
	e.hub.Broadcast(models.JobEvent{Type: evt, JobID: j.ID, Tenant: j.Tenant, State: j.State, AgentID: agentID, Timestamp: time.Now()})
	return j, nil
}

// QueueSnapshot returns the current ordered contents of one priority queue,
// resolved to job records.
func (e *Engine) QueueSnapshot(ctx context.Context, priority models.JobPriority) ([]*models.Job, error) {
	ids, err := e.queues.For(priority).Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		j, err := e.jobs.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

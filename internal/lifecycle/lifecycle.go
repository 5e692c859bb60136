// Package lifecycle implements the Lifecycle Driver: completion/failure
// handling with retry policy, and the passive reconciliation sweep that
// repairs state left inconsistent by a non-transactional store or a crash.
package lifecycle

import (
	"context"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
)

// Driver applies the termination and retry policy of the lifecycle model.
type Driver struct {
	jobs          interfaces.JobRegistry
	agents        interfaces.AgentRegistry
	queues        interfaces.QueueSet
	dispatcher    *dispatch.Dispatcher
	logger        *common.Logger
	maxAttempts   int
	livenessTTL   time.Duration
	jobMaxRuntime time.Duration
}

// NewDriver wires a Driver against the registries, queues, and dispatcher it
// must keep consistent.
func NewDriver(
	jobs interfaces.JobRegistry,
	agents interfaces.AgentRegistry,
	queues interfaces.QueueSet,
	dispatcher *dispatch.Dispatcher,
	maxAttempts int,
	livenessTTL, jobMaxRuntime time.Duration,
	logger *common.Logger,
) *Driver {
	return &Driver{
		jobs:          jobs,
		agents:        agents,
		queues:        queues,
		dispatcher:    dispatcher,
		maxAttempts:   maxAttempts,
		livenessTTL:   livenessTTL,
		jobMaxRuntime: jobMaxRuntime,
		logger:        logger,
	}
}

// Complete implements the termination callback: only the agent that holds
// the job may report on it, and only while it is running. A report against
// an already-terminal job (e.g. one cancelled mid-run) is accepted but does
// not reopen the record; the agent is still freed and its group advanced.
func (d *Driver) Complete(ctx context.Context, agentID, jobID string, success bool, errMsg string, result any) (*models.Job, error) {
	j, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if j.State.Terminal() {
		if err := d.dispatcher.AdvanceOrClose(ctx, agentID, j.Build, jobID); err != nil {
			d.logger.Warn().Str("job_id", jobID).Err(err).Msg("failed to advance group for late completion report")
		}
		return j, nil
	}

	if j.AssignedAgent != agentID || j.State != models.JobStateRunning {
		return nil, coreerr.Forbidden("complete job", "lifecycle", jobID)
	}

	if success {
		updated, err := d.jobs.Transition(ctx, jobID, models.JobStateCompleted, interfaces.JobPatch{Result: result})
		if err != nil {
			return nil, err
		}
		if err := d.dispatcher.AdvanceOrClose(ctx, agentID, j.Build, jobID); err != nil {
			return updated, err
		}
		return updated, nil
	}

	return d.handleFailure(ctx, agentID, j, errMsg)
}

func (d *Driver) handleFailure(ctx context.Context, agentID string, j *models.Job, errMsg string) (*models.Job, error) {
	if j.Attempt+1 < d.maxAttempts {
		if _, err := d.jobs.Transition(ctx, j.ID, models.JobStateRetrying, interfaces.JobPatch{
			LastError:        errMsg,
			IncrementAttempt: true,
		}); err != nil {
			return nil, err
		}

		updated, err := d.jobs.Transition(ctx, j.ID, models.JobStatePending, interfaces.JobPatch{})
		if err != nil {
			return nil, err
		}
		if err := d.queues.For(updated.Priority).Append(ctx, updated.ID); err != nil {
			return nil, err
		}
		if err := d.dispatcher.AdvanceOrClose(ctx, agentID, j.Build, j.ID); err != nil {
			return updated, err
		}
		return updated, nil
	}

	updated, err := d.jobs.Transition(ctx, j.ID, models.JobStateFailed, interfaces.JobPatch{LastError: errMsg})
	if err != nil {
		return nil, err
	}
	if err := d.dispatcher.AdvanceOrClose(ctx, agentID, j.Build, j.ID); err != nil {
		return updated, err
	}
	return updated, nil
}

// Reconcile reverts any running job whose agent is no longer live, or whose
// runtime exceeds jobMaxRuntime, back to pending without incrementing
// attempt: this is a crash recovery path, not a test failure. It is folded
// into each scheduler tick rather than run on its own cadence.
func (d *Driver) Reconcile(ctx context.Context) (int, error) {
	running, err := d.jobs.List(ctx, interfaces.JobFilter{State: models.JobStateRunning})
	if err != nil {
		return 0, err
	}

	live := make(map[string]bool)
	liveAgents, err := d.agents.LiveAgents(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range liveAgents {
		live[a.ID] = true
	}

	now := time.Now()
	reverted := 0
	for _, j := range running {
		stale := !live[j.AssignedAgent] || now.Sub(j.StartedAt) > d.jobMaxRuntime
		if !stale {
			continue
		}

		// running has no direct edge to pending; route through retrying, the
		// same edge the failure-retry path uses, without incrementing attempt
		// since this is a crash revert and not a reported test failure.
		if _, err := d.jobs.Transition(ctx, j.ID, models.JobStateRetrying, interfaces.JobPatch{}); err != nil {
			d.logger.Error().Str("job_id", j.ID).Err(err).Msg("reconciliation failed to revert job to pending")
			return reverted, err
		}
		if _, err := d.jobs.Transition(ctx, j.ID, models.JobStatePending, interfaces.JobPatch{}); err != nil {
			d.logger.Error().Str("job_id", j.ID).Err(err).Msg("reconciliation failed to revert job to pending")
			return reverted, err
		}
		if err := d.queues.For(j.Priority).Append(ctx, j.ID); err != nil {
			d.logger.Error().Str("job_id", j.ID).Err(err).Msg("reconciliation failed to re-queue reverted job")
			return reverted, err
		}
		reverted++
	}
	return reverted, nil
}

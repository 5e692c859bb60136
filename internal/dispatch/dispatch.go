// Package dispatch owns the in-memory build-affinity group table and the
// claim operation that binds a job to an agent. The group table is the
// single source of truth for grouping decisions and is serialized behind
// one mutex so scheduler-tick assignment and completion handling never
// mutate it concurrently.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
)

// Dispatcher binds chosen (job, agent) pairs to build-affinity groups and
// implements the shared claim() entry point used both by the scheduler's
// "claim directly" path and by an agent's direct claim_job call.
type Dispatcher struct {
	jobs        interfaces.JobRegistry
	agents      interfaces.AgentRegistry
	logger      *common.Logger
	livenessTTL time.Duration

	mu     sync.Mutex
	groups map[string]*models.BuildAffinityGroup
}

// NewDispatcher wires a Dispatcher against the job and agent registries.
func NewDispatcher(jobs interfaces.JobRegistry, agents interfaces.AgentRegistry, livenessTTL time.Duration, logger *common.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:        jobs,
		agents:      agents,
		livenessTTL: livenessTTL,
		logger:      logger,
		groups:      make(map[string]*models.BuildAffinityGroup),
	}
}

// Claim implements claim(agent_id, job_id): the agent must exist and be
// live, the job must be pending or queued-for-group, and the agent's
// capability set must cover the job's target.
func (d *Dispatcher) Claim(ctx context.Context, agentID, jobID string) (*models.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimLocked(ctx, agentID, jobID)
}

func (d *Dispatcher) claimLocked(ctx context.Context, agentID, jobID string) (*models.Job, error) {
	a, err := d.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !a.Live(time.Now(), d.livenessTTL) {
		return nil, coreerr.Conflict("claim job", "dispatch", jobID, nil)
	}

	j, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != models.JobStatePending && j.State != models.JobStateQueuedForGroup {
		return nil, coreerr.Conflict("claim job", "dispatch", jobID, nil)
	}
	if !a.Supports(j.Target) {
		return nil, coreerr.Conflict("claim job", "dispatch", jobID, nil)
	}

	// Job mutation first, then agent mutation. If the agent write fails,
	// the job is left running while the agent record is unchanged and no
	// group is opened; reconciliation reverts the job once its agent stops
	// being live or its runtime exceeds the configured maximum.
	updated, err := d.jobs.Transition(ctx, jobID, models.JobStateRunning, interfaces.JobPatch{AssignedAgent: agentID})
	if err != nil {
		return nil, err
	}
	if _, err := d.agents.SetState(ctx, agentID, models.AgentBusy, jobID); err != nil {
		d.logger.Warn().Str("agent_id", agentID).Str("job_id", jobID).Err(err).
			Msg("agent mutation failed after job claim, deferring to reconciliation")
		return updated, nil
	}

	key := models.GroupKeyFor(agentID, updated.Build)
	if g, ok := d.groups[key]; ok {
		g.Jobs = append(g.Jobs, jobID)
	} else {
		d.groups[key] = &models.BuildAffinityGroup{
			AgentID:    agentID,
			Build:      updated.Build,
			Jobs:       []string{jobID},
			CreatedAt:  time.Now(),
			Processing: true,
		}
	}
	return updated, nil
}

// Assign is the scheduler's entry point for a (job, agent) pair it has
// already matched on capability and idleness. It attaches to an existing
// build-affinity group when one is held for (agent, build), otherwise it
// claims the job directly and opens a new group. The returned bool reports
// whether the job attached to an already-open group (true) or was claimed
// directly onto a fresh one (false). The scheduler does not branch on it:
// in both cases it keeps the agent reserved to the job's build for the rest
// of that priority queue's pass.
func (d *Dispatcher) Assign(ctx context.Context, job *models.Job, agent *models.Agent) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := models.GroupKeyFor(agent.ID, job.Build)
	if g, ok := d.groups[key]; ok {
		g.Jobs = append(g.Jobs, job.ID)
		_, err := d.jobs.Transition(ctx, job.ID, models.JobStateQueuedForGroup, interfaces.JobPatch{
			AssignedAgent: agent.ID,
			GroupKey:      key,
		})
		return true, err
	}

	_, err := d.claimLocked(ctx, agent.ID, job.ID)
	return false, err
}

// AdvanceOrClose is called once a job at the head of a build-affinity group
// terminates. It pops the finished job, promotes the new head to running if
// one remains, or frees the agent and discards the group otherwise.
func (d *Dispatcher) AdvanceOrClose(ctx context.Context, agentID, build, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := models.GroupKeyFor(agentID, build)
	g, ok := d.groups[key]
	if !ok {
		_, err := d.agents.SetState(ctx, agentID, models.AgentIdle, "")
		return err
	}

	if g.Head() == jobID {
		g.PopHead()
	}

	if g.Empty() {
		delete(d.groups, key)
		_, err := d.agents.SetState(ctx, agentID, models.AgentIdle, "")
		return err
	}

	next := g.Head()
	g.Processing = true
	if _, err := d.jobs.Transition(ctx, next, models.JobStateRunning, interfaces.JobPatch{AssignedAgent: agentID}); err != nil {
		return err
	}
	_, err := d.agents.SetState(ctx, agentID, models.AgentBusy, next)
	return err
}

// Sweep drops any in-memory group older than maxIdle that is not currently
// processing its head job.
func (d *Dispatcher) Sweep(maxIdle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	dropped := 0
	for key, g := range d.groups {
		if !g.Processing && now.Sub(g.CreatedAt) > maxIdle {
			delete(d.groups, key)
			dropped++
		}
	}
	return dropped
}

// GroupFor returns a snapshot copy of the group for (agentID, build), or nil
// if none is held. Exposed for tests and diagnostics.
func (d *Dispatcher) GroupFor(agentID, build string) *models.BuildAffinityGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[models.GroupKeyFor(agentID, build)]
	if !ok {
		return nil
	}
	cp := *g
	cp.Jobs = append([]string(nil), g.Jobs...)
	return &cp
}

// GroupCount returns the number of in-memory groups currently held.
func (d *Dispatcher) GroupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups)
}

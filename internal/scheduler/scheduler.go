// Package scheduler implements the Scheduler Loop: a fixed-cadence tick that
// resolves idle agents, sorts each priority queue by tenant fairness and
// submission time, and hands matched (job, agent) pairs to dispatch.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/lifecycle"
	"github.com/bobmcallan/jobmesh/internal/models"
)

// TenantWeights resolves a fairness weight for a tenant name.
type TenantWeights interface {
	TenantWeight(tenant string) int
}

// Scheduler runs the periodic tick and group-age housekeeping loop.
type Scheduler struct {
	jobs       interfaces.JobRegistry
	agents     interfaces.AgentRegistry
	queues     interfaces.QueueSet
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Driver
	weights    TenantWeights
	logger     *common.Logger

	tickInterval time.Duration
	groupMaxIdle time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler wired against the registries, queues, dispatcher,
// and lifecycle driver it coordinates.
func New(
	jobs interfaces.JobRegistry,
	agents interfaces.AgentRegistry,
	queues interfaces.QueueSet,
	dispatcher *dispatch.Dispatcher,
	driver *lifecycle.Driver,
	weights TenantWeights,
	tickInterval, groupMaxIdle time.Duration,
	logger *common.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:         jobs,
		agents:       agents,
		queues:       queues,
		dispatcher:   dispatcher,
		lifecycle:    driver,
		weights:      weights,
		tickInterval: tickInterval,
		groupMaxIdle: groupMaxIdle,
		logger:       logger,
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (s *Scheduler) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in scheduler goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the tick loop. Safe to call multiple times, stops any
// existing loop first.
func (s *Scheduler) Start() {
	if s.cancel != nil {
		s.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.safeGo("scheduler-tick", func() { s.loop(ctx) })
	s.logger.Info().Str("tick_interval", s.tickInterval.String()).Msg("scheduler started")
}

// Stop cancels the tick loop and waits for it to exit. On shutdown the
// current tick is allowed to finish; no in-flight assignments are rolled
// back, they reconcile on next startup.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The tick runs on its own context so a Stop arriving mid-tick
			// lets it finish instead of failing its remaining store calls.
			s.Tick(context.Background())
		}
	}
}

// Tick runs one scheduling cycle: reconciliation, idle-agent resolution,
// per-priority snapshot-sort-drain assignment, and group-age housekeeping.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.lifecycle.Reconcile(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("reconciliation pass failed, retrying next tick")
		return
	}

	idle, err := s.idleAgents(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to resolve idle agents, retrying next tick")
		return
	}
	if len(idle) == 0 {
		return
	}

	for _, priority := range []models.JobPriority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
		idle = s.drainQueue(ctx, priority, idle)
	}

	if dropped := s.dispatcher.Sweep(s.groupMaxIdle); dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Msg("swept idle build-affinity groups")
	}
}

func (s *Scheduler) idleAgents(ctx context.Context) ([]*models.Agent, error) {
	live, err := s.agents.LiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	var idle []*models.Agent
	for _, a := range live {
		if a.State == models.AgentIdle {
			idle = append(idle, a)
		}
	}
	return idle, nil
}

// candidate tracks an agent's availability for the remainder of one priority
// queue's pass. An agent that just opened a build-affinity group stays in the
// candidate set, reserved to its build, so further same-build jobs of that
// queue can attach to it; it is no longer eligible for a different build.
// The candidate set is rebuilt for each priority: a reserved agent is not
// offered to the lower-priority passes of the same tick, so same-build jobs
// in a lower-priority queue do not attach to it until a later tick.
type candidate struct {
	agent         *models.Agent
	reservedBuild string // "" until the agent claims its first job this tick
}

// drainQueue performs one priority's snapshot-sort-drain-reappend cycle and
// returns the idle agent set updated for agents consumed this pass.
func (s *Scheduler) drainQueue(ctx context.Context, priority models.JobPriority, idle []*models.Agent) []*models.Agent {
	q := s.queues.For(priority)

	ids, err := q.Snapshot(ctx)
	if err != nil {
		s.logger.Warn().Str("priority", string(priority)).Err(err).Msg("failed to snapshot queue")
		return idle
	}
	if len(ids) == 0 {
		return idle
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.jobs.Get(ctx, id)
		if err != nil {
			continue // no longer exists
		}
		if j.State != models.JobStatePending {
			continue // state advanced past pending since it was queued
		}
		jobs = append(jobs, j)
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		wi := s.weights.TenantWeight(jobs[i].Tenant)
		wk := s.weights.TenantWeight(jobs[k].Tenant)
		if wi != wk {
			return wi > wk
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	candidates := make([]*candidate, len(idle))
	for i, a := range idle {
		candidates[i] = &candidate{agent: a}
	}

	var remaining []string
	for _, j := range jobs {
		idx := anyAvailable(candidates, j.Target, j.Build)
		if idx == -1 {
			remaining = append(remaining, j.ID)
			continue
		}
		c := candidates[idx]

		if _, err := s.dispatcher.Assign(ctx, j, c.agent); err != nil {
			s.logger.Warn().Str("job_id", j.ID).Str("agent_id", c.agent.ID).Err(err).Msg("dispatch assignment failed")
			remaining = append(remaining, j.ID)
			continue
		}
		c.reservedBuild = j.Build
	}

	if err := q.ReplaceAll(ctx, remaining); err != nil {
		s.logger.Warn().Str("priority", string(priority)).Err(err).Msg("failed to rewrite queue after tick")
	}

	var stillIdle []*models.Agent
	for _, c := range candidates {
		if c.reservedBuild == "" {
			stillIdle = append(stillIdle, c.agent)
		}
	}
	return stillIdle
}

// anyAvailable returns the index of a candidate that can take a job with the
// given target and build: a capability-matched agent that is either already
// reserved to the same build (so it can attach, preferred) or unreserved.
// Returns -1 if none.
func anyAvailable(candidates []*candidate, target models.JobTarget, build string) int {
	for i, c := range candidates {
		if c.reservedBuild == build && build != "" && c.agent.Supports(target) {
			return i
		}
	}
	for i, c := range candidates {
		if c.reservedBuild == "" && c.agent.Supports(target) {
			return i
		}
	}
	return -1
}

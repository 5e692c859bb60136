package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/lifecycle"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/bobmcallan/jobmesh/internal/queue"
	agentreg "github.com/bobmcallan/jobmesh/internal/registry/agent"
	jobreg "github.com/bobmcallan/jobmesh/internal/registry/job"
	redisstore "github.com/bobmcallan/jobmesh/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type staticWeights map[string]int

func (w staticWeights) TenantWeight(tenant string) int {
	if v, ok := w[tenant]; ok {
		return v
	}
	return 10
}

type fixture struct {
	jobs   *jobreg.Registry
	agents *agentreg.Registry
	queues *queue.Set
	disp   *dispatch.Dispatcher
	sched  *Scheduler
}

func newFixture(t *testing.T, weights staticWeights) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := common.NewSilentLogger()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := redisstore.NewRedisStoreFromClient(client, logger)
	queues := queue.NewSet(st)

	jobs := jobreg.NewRegistry(st, queues, time.Hour, logger)
	agents := agentreg.NewRegistry(st, time.Hour, time.Minute, logger)
	disp := dispatch.NewDispatcher(jobs, agents, time.Minute, logger)
	driver := lifecycle.NewDriver(jobs, agents, queues, disp, 3, time.Minute, time.Hour, logger)
	sched := New(jobs, agents, queues, disp, driver, weights, time.Hour, 10*time.Minute, logger)
	return &fixture{jobs: jobs, agents: agents, queues: queues, disp: disp, sched: sched}
}

func (f *fixture) submit(t *testing.T, tenant, build string) *models.Job {
	t.Helper()
	j, _, err := f.jobs.Submit(context.Background(), interfaces.SubmitRequest{
		Tenant: tenant, Build: build, Artifact: "x", Target: models.TargetEmulator,
	})
	require.NoError(t, err)
	return j
}

func (f *fixture) register(t *testing.T) *models.Agent {
	t.Helper()
	a, err := f.agents.Register(context.Background(), "agent", []models.JobTarget{models.TargetEmulator})
	require.NoError(t, err)
	return a
}

func TestTick_NoIdleAgentsIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{})
	j := f.submit(t, "t1", "b1")

	f.sched.Tick(ctx)

	after, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, after.State)
}

func TestTick_AssignsSingleIdleAgentToSingleJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{})
	a := f.register(t)
	j := f.submit(t, "t1", "b1")

	f.sched.Tick(ctx)

	after, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, after.State)
	require.Equal(t, a.ID, after.AssignedAgent)
}

func TestTick_GroupsSameBuildOntoOneAgentWithinATick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{})
	f.register(t)
	j1 := f.submit(t, "t1", "b1")
	j2 := f.submit(t, "t1", "b1")

	f.sched.Tick(ctx)

	j1After, err := f.jobs.Get(ctx, j1.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, j1After.State)

	j2After, err := f.jobs.Get(ctx, j2.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateQueuedForGroup, j2After.State)
}

func TestTick_DoesNotGroupDifferentBuildsOntoSingleAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{})
	f.register(t)
	j1 := f.submit(t, "t1", "b1")
	j2 := f.submit(t, "t1", "b2")

	f.sched.Tick(ctx)

	running := 0
	pending := 0
	for _, j := range []*models.Job{j1, j2} {
		after, err := f.jobs.Get(ctx, j.ID)
		require.NoError(t, err)
		switch after.State {
		case models.JobStateRunning:
			running++
		case models.JobStatePending:
			pending++
		}
	}
	require.Equal(t, 1, running)
	require.Equal(t, 1, pending)
}

func TestTick_OrdersByTenantWeightThenCreationTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{"gold": 100, "bronze": 1})
	f.register(t)

	bronze := f.submit(t, "bronze", "b1")
	time.Sleep(2 * time.Millisecond)
	gold := f.submit(t, "gold", "b2")

	f.sched.Tick(ctx)

	goldAfter, err := f.jobs.Get(ctx, gold.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, goldAfter.State)

	bronzeAfter, err := f.jobs.Get(ctx, bronze.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, bronzeAfter.State)
}

func TestTick_HighPriorityDrainsBeforeMediumEvenIfOlder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticWeights{})
	f.register(t)

	mediumJob, _, err := f.jobs.Submit(ctx, interfaces.SubmitRequest{
		Tenant: "t1", Build: "b1", Artifact: "x", Target: models.TargetEmulator, Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	highJob, _, err := f.jobs.Submit(ctx, interfaces.SubmitRequest{
		Tenant: "t1", Build: "b2", Artifact: "x", Target: models.TargetEmulator, Priority: models.PriorityHigh,
	})
	require.NoError(t, err)

	f.sched.Tick(ctx)

	highAfter, err := f.jobs.Get(ctx, highJob.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, highAfter.State)

	medAfter, err := f.jobs.Get(ctx, mediumJob.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, medAfter.State)
}

func TestAnyAvailable_PrefersSameBuildReservation(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Capabilities: []models.JobTarget{models.TargetEmulator}}
	a2 := &models.Agent{ID: "a2", Capabilities: []models.JobTarget{models.TargetEmulator}}
	candidates := []*candidate{
		{agent: a1, reservedBuild: "b1"},
		{agent: a2},
	}

	idx := anyAvailable(candidates, models.TargetEmulator, "b1")
	require.Equal(t, 0, idx)
}

func TestAnyAvailable_NoneWhenAllReservedToOtherBuilds(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Capabilities: []models.JobTarget{models.TargetEmulator}}
	candidates := []*candidate{{agent: a1, reservedBuild: "b1"}}

	idx := anyAvailable(candidates, models.TargetEmulator, "b2")
	require.Equal(t, -1, idx)
}

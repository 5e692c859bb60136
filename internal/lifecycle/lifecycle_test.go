package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/bobmcallan/jobmesh/internal/queue"
	agentreg "github.com/bobmcallan/jobmesh/internal/registry/agent"
	jobreg "github.com/bobmcallan/jobmesh/internal/registry/job"
	redisstore "github.com/bobmcallan/jobmesh/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	jobs   *jobreg.Registry
	agents *agentreg.Registry
	queues *queue.Set
	disp   *dispatch.Dispatcher
	driver *Driver
}

func newFixture(t *testing.T, maxAttempts int, livenessTTL, jobMaxRuntime time.Duration) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := common.NewSilentLogger()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := redisstore.NewRedisStoreFromClient(client, logger)
	queues := queue.NewSet(st)

	jobs := jobreg.NewRegistry(st, queues, time.Hour, logger)
	agents := agentreg.NewRegistry(st, time.Hour, livenessTTL, logger)
	disp := dispatch.NewDispatcher(jobs, agents, livenessTTL, logger)
	driver := NewDriver(jobs, agents, queues, disp, maxAttempts, livenessTTL, jobMaxRuntime, logger)
	return &fixture{jobs: jobs, agents: agents, queues: queues, disp: disp, driver: driver}
}

func (f *fixture) claimedJob(t *testing.T, build string) (*models.Job, *models.Agent) {
	t.Helper()
	ctx := context.Background()
	a, err := f.agents.Register(ctx, "agent", []models.JobTarget{models.TargetEmulator})
	require.NoError(t, err)
	j, _, err := f.jobs.Submit(ctx, interfaces.SubmitRequest{Tenant: "t1", Build: build, Artifact: "x", Target: models.TargetEmulator})
	require.NoError(t, err)
	running, err := f.disp.Claim(ctx, a.ID, j.ID)
	require.NoError(t, err)
	return running, a
}

func TestDriver_CompleteSuccessFreesAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, time.Minute, time.Hour)

	j, a := f.claimedJob(t, "b1")

	updated, err := f.driver.Complete(ctx, a.ID, j.ID, true, "", "payload")
	require.NoError(t, err)
	require.Equal(t, models.JobStateCompleted, updated.State)
	require.Equal(t, "payload", updated.Result)

	agentAfter, err := f.agents.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentIdle, agentAfter.State)
}

func TestDriver_CompleteRejectsNonOwningAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, time.Minute, time.Hour)

	j, _ := f.claimedJob(t, "b1")

	_, err := f.driver.Complete(ctx, "someone-else", j.ID, true, "", nil)
	require.Error(t, err)
	require.True(t, coreerr.Is(err, coreerr.KindForbidden))
}

func TestDriver_CompleteFailureRetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, time.Minute, time.Hour)

	j, a := f.claimedJob(t, "b1")

	retried, err := f.driver.Complete(ctx, a.ID, j.ID, false, "boom", nil)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, retried.State)
	require.Equal(t, 1, retried.Attempt)

	qlen, err := f.queues.For(models.PriorityMedium).Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, qlen)

	reclaimed, err := f.disp.Claim(ctx, a.ID, j.ID)
	require.NoError(t, err)

	final, err := f.driver.Complete(ctx, a.ID, reclaimed.ID, false, "boom again", nil)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, final.State)
	require.Equal(t, 1, final.Attempt)
}

func TestDriver_CompleteLateReportAfterCancelDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, time.Minute, time.Hour)

	j, a := f.claimedJob(t, "b1")

	_, err := f.jobs.Cancel(ctx, j.ID)
	require.NoError(t, err)

	reported, err := f.driver.Complete(ctx, a.ID, j.ID, true, "", nil)
	require.NoError(t, err)
	require.Equal(t, models.JobStateCancelled, reported.State)

	agentAfter, err := f.agents.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentIdle, agentAfter.State)
}

func TestDriver_ReconcileRevertsDeadAgentJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 20*time.Millisecond, time.Hour)

	j, _ := f.claimedJob(t, "b1")

	time.Sleep(40 * time.Millisecond)

	reverted, err := f.driver.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reverted)

	after, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, after.State)
	require.Equal(t, 0, after.Attempt)
}

func TestDriver_ReconcileRevertsOverrunJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, time.Hour, 20*time.Millisecond)

	j, _ := f.claimedJob(t, "b1")

	time.Sleep(40 * time.Millisecond)

	reverted, err := f.driver.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reverted)

	after, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, after.State)
}

func TestDriver_ReconcileLeavesHealthyJobsAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, time.Minute, time.Hour)

	j, _ := f.claimedJob(t, "b1")

	reverted, err := f.driver.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, reverted)

	after, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, after.State)
}

// Package app wires the scheduling core's components into a single runnable
// unit: configuration, logging, the Redis-backed state store, both
// registries, the queue set, dispatch, the lifecycle driver, the scheduler
// loop, and the engine facade a transport layer calls into.
package app

import (
	"fmt"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/dispatch"
	"github.com/bobmcallan/jobmesh/internal/engine"
	"github.com/bobmcallan/jobmesh/internal/lifecycle"
	"github.com/bobmcallan/jobmesh/internal/queue"
	agentreg "github.com/bobmcallan/jobmesh/internal/registry/agent"
	jobreg "github.com/bobmcallan/jobmesh/internal/registry/job"
	"github.com/bobmcallan/jobmesh/internal/scheduler"
	"github.com/bobmcallan/jobmesh/internal/store"
)

// App owns every long-lived component and the config/logger they share.
type App struct {
	Config *common.Config
	Logger *common.Logger

	Store  *store.RedisStore
	Engine *engine.Engine
}

// NewApp loads configuration from configPath (if non-empty and present),
// then constructs and wires every component bottom-up: store, registries,
// queues, dispatcher, lifecycle driver, scheduler, engine.
func NewApp(configPath string) (*App, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(cfg.Logging)

	st := store.NewRedisStore(
		cfg.Store.Address,
		cfg.Store.Password,
		cfg.Store.DB,
		cfg.Store.GetDialTimeout(),
		logger,
	)

	queues := queue.NewSet(st)
	jobs := jobreg.NewRegistry(st, queues, cfg.Scheduler.GetJobRecordTTL(), logger)
	agents := agentreg.NewRegistry(st, cfg.Scheduler.GetAgentRecordTTL(), cfg.Scheduler.GetLivenessTTL(), logger)
	disp := dispatch.NewDispatcher(jobs, agents, cfg.Scheduler.GetLivenessTTL(), logger)
	driver := lifecycle.NewDriver(
		jobs, agents, queues, disp,
		cfg.Scheduler.GetMaxAttempts(),
		cfg.Scheduler.GetLivenessTTL(),
		cfg.Scheduler.GetJobMaxRuntime(),
		logger,
	)

	sched := scheduler.New(jobs, agents, queues, disp, driver, &cfg.Scheduler, cfg.Scheduler.GetTickInterval(), cfg.Scheduler.GetGroupMaxIdle(), logger)
	hub := engine.NewJobEventHub(logger)
	eng := engine.New(jobs, agents, queues, disp, driver, sched, hub, logger)

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
		Engine: eng,
	}, nil
}

// Start launches the scheduler loop and the job event hub.
func (a *App) Start() {
	a.Engine.Start()
}

// Close stops the scheduler and hub and releases the store connection.
func (a *App) Close() error {
	a.Engine.Stop()
	return a.Store.Close()
}

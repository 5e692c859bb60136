// Package agent implements the Agent Registry: registration, heartbeat,
// liveness filtering, and state transitions for worker processes.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/bobmcallan/jobmesh/internal/interfaces"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/google/uuid"
)

const keyPrefix = "agent:"

func keyFor(id string) string { return keyPrefix + id }

// Registry is the store-backed implementation of interfaces.AgentRegistry.
type Registry struct {
	store       interfaces.StateStore
	logger      *common.Logger
	recordTTL   time.Duration
	livenessTTL time.Duration
}

// NewRegistry creates a Registry backed by store. recordTTL governs how long
// an agent record survives in the store without a heartbeat; livenessTTL
// governs how quickly a silent agent is excluded from scheduling.
func NewRegistry(store interfaces.StateStore, recordTTL, livenessTTL time.Duration, logger *common.Logger) *Registry {
	return &Registry{store: store, recordTTL: recordTTL, livenessTTL: livenessTTL, logger: logger}
}

// Register assigns an id, marks the agent idle, and stores it with TTL.
func (r *Registry) Register(ctx context.Context, name string, capabilities []models.JobTarget) (*models.Agent, error) {
	if name == "" || len(capabilities) == 0 {
		return nil, coreerr.Validation("register agent", "agent", nil)
	}
	for _, c := range capabilities {
		if !c.Valid() {
			return nil, coreerr.Validation("register agent", "capability", nil)
		}
	}

	now := time.Now()
	a := &models.Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Capabilities: capabilities,
		State:        models.AgentIdle,
		LastSeen:     now,
		RegisteredAt: now,
	}
	if err := r.save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the agent record for id, or NotFound if absent.
func (r *Registry) Get(ctx context.Context, id string) (*models.Agent, error) {
	raw, err := r.store.Get(ctx, keyFor(id))
	if err != nil {
		return nil, err
	}
	var a models.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, coreerr.Internal("decode agent", "agent_registry", err)
	}
	return &a, nil
}

// Heartbeat refreshes last_seen and the record's store TTL.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	a.LastSeen = time.Now()
	return r.save(ctx, a)
}

// SetState moves the agent to state, enforcing that busy carries a
// current_job and every other state clears it.
func (r *Registry) SetState(ctx context.Context, id string, state models.AgentState, currentJob string) (*models.Agent, error) {
	if !state.Valid() {
		return nil, coreerr.Validation("set agent state", "state", nil)
	}
	if state == models.AgentBusy && currentJob == "" {
		return nil, coreerr.Validation("set agent state", "current_job", nil)
	}

	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	a.State = state
	a.LastSeen = time.Now()
	if state == models.AgentBusy {
		a.CurrentJob = currentJob
	} else {
		a.CurrentJob = ""
	}

	if err := r.save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// LiveAgents returns every agent record whose heartbeat is within
// livenessTTL of now. Non-live entries are silently skipped; their eventual
// removal is handled passively by the record TTL rather than by this call.
func (r *Registry) LiveAgents(ctx context.Context) ([]*models.Agent, error) {
	keys, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*models.Agent
	for _, k := range keys {
		raw, err := r.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var a models.Agent
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		if a.Live(now, r.livenessTTL) {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r *Registry) save(ctx context.Context, a *models.Agent) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return coreerr.Internal("encode agent", "agent_registry", err)
	}
	return r.store.Put(ctx, keyFor(a.ID), raw, r.recordTTL)
}

var _ interfaces.AgentRegistry = (*Registry)(nil)

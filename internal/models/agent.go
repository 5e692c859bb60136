package models

import "time"

// AgentState describes a worker process's availability for new work.
type AgentState string

const (
	AgentIdle        AgentState = "idle"
	AgentBusy        AgentState = "busy"
	AgentMaintenance AgentState = "maintenance"
	AgentOffline     AgentState = "offline"
)

// Valid reports whether s is a recognized agent state.
func (s AgentState) Valid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentMaintenance, AgentOffline:
		return true
	}
	return false
}

// Agent is a worker process that executes jobs.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Capabilities []JobTarget `json:"capabilities"`
	State        AgentState  `json:"state"`
	CurrentJob   string      `json:"current_job,omitempty"`
	LastSeen     time.Time   `json:"last_seen"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Supports reports whether the agent's capability set contains target.
func (a *Agent) Supports(target JobTarget) bool {
	target = target.Normalize()
	for _, c := range a.Capabilities {
		if c.Normalize() == target {
			return true
		}
	}
	return false
}

// Live reports whether the agent's last heartbeat is within ttl of now.
func (a *Agent) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(a.LastSeen) < ttl
}

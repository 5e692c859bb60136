package models

import "time"

// BuildAffinityGroup is an ephemeral, scheduler-held ordered list of jobs
// sharing a build on one agent. It is never persisted; on restart the group
// table starts empty and no group is rebuilt for jobs already running. A
// completion report for a job with no held group frees its agent.
type BuildAffinityGroup struct {
	AgentID    string
	Build      string
	Jobs       []string // ordered job ids, head = next to run
	CreatedAt  time.Time
	Processing bool // true iff the head job is currently running
}

// Key returns the group table key for this group.
func (g *BuildAffinityGroup) Key() string {
	return GroupKeyFor(g.AgentID, g.Build)
}

// Head returns the id of the job currently at the front of the group, or
// "" if the group is empty.
func (g *BuildAffinityGroup) Head() string {
	if len(g.Jobs) == 0 {
		return ""
	}
	return g.Jobs[0]
}

// PopHead removes the current head job from the group.
func (g *BuildAffinityGroup) PopHead() {
	if len(g.Jobs) == 0 {
		return
	}
	g.Jobs = g.Jobs[1:]
}

// Empty reports whether the group has no jobs left and should be discarded.
func (g *BuildAffinityGroup) Empty() bool {
	return len(g.Jobs) == 0
}

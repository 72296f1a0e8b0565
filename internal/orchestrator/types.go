package orchestrator

import "time"

// ChainState tracks where a team chain run is in its lifecycle.
type ChainState string

const (
	ChainIdle    ChainState = "idle"
	ChainRouting ChainState = "routing"
	ChainStep    ChainState = "step"
	ChainHandoff ChainState = "handoff"
	ChainDone    ChainState = "done"
)

// ChainStepResult is one completed link in a chain.
type ChainStepResult struct {
	AgentID string `json:"agent_id"`
	Output  string `json:"output"`
}

// ChainExecution is the transient record of one team run. It exists only
// for the duration of the run; the events it emits are the durable trace.
type ChainExecution struct {
	TeamID    string            `json:"team_id"`
	State     ChainState        `json:"state"`
	Steps     []ChainStepResult `json:"steps"`
	Index     int               `json:"index"`
	StartedAt time.Time         `json:"started_at"`
}

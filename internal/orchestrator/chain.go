package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	"go.uber.org/zap"
)

// handleTeam runs a chain for the team and writes the final response.
// Chains for different teams run concurrently; runs for the same team
// are serialized so only one chain per team is ever active.
func (p *Processor) handleTeam(ctx context.Context, cfg *config.Config, team config.Team, item *queue.WorkItem, message string) {
	lock := p.teamLock(team.ID)
	lock.Lock()
	defer lock.Unlock()

	output, err := p.runChain(ctx, cfg, team, item, message)
	if err != nil {
		p.logger.Error("chain failed",
			zap.String("team", team.ID), zap.Error(err))
		p.respond(item, team.ID, fmt.Sprintf("Team %s failed: %s", team.ID, err.Error()))
		return
	}
	p.respond(item, chainTerminalAgent(team), output)
}

// runChain drives the hand-off state machine: Routing, then one Step per
// member in order, with a Handoff between consecutive steps. Each step's
// input is exactly the prior step's output; steps are strictly
// sequential, never fanned out.
func (p *Processor) runChain(ctx context.Context, cfg *config.Config, team config.Team, item *queue.WorkItem, message string) (string, error) {
	exec := &ChainExecution{
		TeamID:    team.ID,
		State:     ChainRouting,
		StartedAt: time.Now(),
	}

	// A member missing from the agent set is fatal before any step runs;
	// silently skipping a link would corrupt the causal chain.
	members := make([]config.Agent, 0, len(team.Members))
	for _, id := range team.Members {
		a, ok := cfg.Agents[id]
		if !ok {
			return "", fmt.Errorf("team %s references unknown agent %q", team.ID, id)
		}
		members = append(members, a)
	}

	p.events.Emit(event.ChainStarted, map[string]any{
		"team":      team.ID,
		"messageId": item.MessageID,
		"members":   team.Members,
		"leader":    team.Leader,
	})

	current := message
	for i, agent := range members {
		exec.State = ChainStep
		exec.Index = i

		p.events.Emit(event.ChainStepStarted, map[string]any{
			"team":  team.ID,
			"agent": agent.ID,
			"step":  i,
		})

		output, err := p.invokeOnce(ctx, cfg, agent, current)
		if err != nil {
			return "", fmt.Errorf("step %d (%s): %w", i, agent.ID, err)
		}

		exec.Steps = append(exec.Steps, ChainStepResult{AgentID: agent.ID, Output: output})
		p.events.Emit(event.ChainStepDone, map[string]any{
			"team":   team.ID,
			"agent":  agent.ID,
			"step":   i,
			"output": output,
		})

		if i < len(members)-1 {
			exec.State = ChainHandoff
			p.events.Emit(event.ChainHandoff, map[string]any{
				"team": team.ID,
				"from": agent.ID,
				"to":   members[i+1].ID,
				"step": i,
			})
		}
		current = output
	}

	exec.State = ChainDone
	p.events.Emit(event.ChainEnded, map[string]any{
		"team":    team.ID,
		"members": team.Members,
		"steps":   len(exec.Steps),
		"took":    time.Since(exec.StartedAt).String(),
	})
	return current, nil
}

func (p *Processor) teamLock(teamID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.teamLocks[teamID]
	if !ok {
		lock = &sync.Mutex{}
		p.teamLocks[teamID] = lock
	}
	return lock
}

// chainTerminalAgent names the agent credited with the chain's response.
func chainTerminalAgent(team config.Team) string {
	if len(team.Members) == 0 {
		return team.ID
	}
	return team.Members[len(team.Members)-1]
}

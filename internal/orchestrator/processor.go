package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/ratelimit"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/retry"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/store"
	"go.uber.org/zap"
)

// CommandHeartbeat tags synthetic work items injected by the heartbeat
// scheduler. They ride the normal invocation path but draw on their own
// rate-limit budget.
const CommandHeartbeat = "heartbeat"

// Invoker executes one agent turn. Satisfied by invoke.Engine.
type Invoker interface {
	Invoke(ctx context.Context, agent config.Agent, message, workDir string, reset bool) (string, error)
}

// Processor drives the queue: it dequeues work items, routes each to an
// agent or a team chain, and writes response items. Every item is
// handled in its own goroutine so one slow invocation never blocks the
// poll loop, and per-item failures are contained to that item.
type Processor struct {
	cfgPath   string
	queue     *queue.Store
	invoker   Invoker
	events    *event.Emitter
	limiter   *ratelimit.Limiter // interactive budget
	hbLimiter *ratelimit.Limiter // heartbeat budget, deliberately separate
	retryer   *retry.Retryer
	db        *store.Store // optional
	resetDir  string
	logger    *zap.Logger

	mu        sync.Mutex
	teamLocks map[string]*sync.Mutex
	lastCfg   *config.Config
}

// NewProcessor wires the queue processor. db may be nil.
func NewProcessor(
	cfgPath string,
	q *queue.Store,
	invoker Invoker,
	events *event.Emitter,
	limiter, hbLimiter *ratelimit.Limiter,
	retryer *retry.Retryer,
	db *store.Store,
	resetDir string,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		cfgPath:   cfgPath,
		queue:     q,
		invoker:   invoker,
		events:    events,
		limiter:   limiter,
		hbLimiter: hbLimiter,
		retryer:   retryer,
		db:        db,
		resetDir:  resetDir,
		logger:    logger,
		teamLocks: make(map[string]*sync.Mutex),
	}
}

// Run consumes the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.events.Emit(event.ProcessorStarted, map[string]any{
		"pid": os.Getpid(),
	})
	p.logger.Info("queue processor started")

	for item := range p.queue.Watch(ctx) {
		item := item
		go p.HandleItem(ctx, item)
	}
	return ctx.Err()
}

// HandleItem processes one work item end to end. Exported so gateways
// and tests can inject items without going through the watch loop.
func (p *Processor) HandleItem(ctx context.Context, item *queue.WorkItem) {
	p.events.Emit(event.ItemReceived, map[string]any{
		"messageId": item.MessageID,
		"channel":   item.Channel,
		"sender":    item.Sender,
	})

	if strings.TrimSpace(item.Message) == "" {
		// Structurally invalid: drop silently, leave only a log trace.
		p.logger.Warn("dropping work item with empty message",
			zap.String("id", item.MessageID))
		p.queue.Drop(item)
		return
	}

	cfg := p.loadConfig()
	if cfg == nil {
		p.respond(item, "system", "Configuration unavailable — try again later.")
		return
	}

	if !p.limiterFor(item).Admit() {
		p.respond(item, "system", "Rate limit reached — try again later.")
		return
	}

	// Team routing first, then single agent.
	if team, msg, ok := p.resolveTeam(cfg, item); ok {
		p.handleTeam(ctx, cfg, team, item, msg)
		return
	}

	agent, msg, err := p.resolveAgent(cfg, item)
	if err != nil {
		p.respond(item, "system", err.Error())
		return
	}

	p.events.Emit(event.AgentRouted, map[string]any{
		"messageId": item.MessageID,
		"agent":     agent.ID,
	})

	output, err := p.invokeOnce(ctx, cfg, agent, msg)
	if err != nil {
		p.logger.Error("invocation failed",
			zap.String("agent", agent.ID), zap.Error(err))
		p.respond(item, agent.ID, fmt.Sprintf("Agent %s failed: %s", agent.ID, err.Error()))
		return
	}

	p.logConversation(ctx, agent.ID, item, output)
	p.respond(item, agent.ID, output)
}

// invokeOnce runs a single agent turn with the reset flag consumed and
// transient failures retried.
func (p *Processor) invokeOnce(ctx context.Context, cfg *config.Config, agent config.Agent, message string) (string, error) {
	reset := p.takeResetFlag(agent.ID)
	return retry.DoWithResult(ctx, p.retryer, "invoke "+agent.ID, func() (string, error) {
		return p.invoker.Invoke(ctx, agent, message, agent.WorkingDir, reset)
	})
}

func (p *Processor) limiterFor(item *queue.WorkItem) *ratelimit.Limiter {
	if item.Command == CommandHeartbeat {
		return p.hbLimiter
	}
	return p.limiter
}

// loadConfig reloads the settings document so config edits apply between
// ticks. On a read failure the last good config is reused.
func (p *Processor) loadConfig() *config.Config {
	cfg, err := config.Load(p.cfgPath)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.lastCfg != nil {
			p.logger.Warn("config reload failed, using previous", zap.Error(err))
			return p.lastCfg
		}
		p.logger.Error("config unavailable", zap.Error(err))
		return nil
	}
	p.mu.Lock()
	p.lastCfg = cfg
	p.mu.Unlock()
	return cfg
}

// resolveTeam checks the explicit team field, then an @team-<id> mention.
func (p *Processor) resolveTeam(cfg *config.Config, item *queue.WorkItem) (config.Team, string, bool) {
	if item.Team != "" {
		if t, ok := cfg.Teams[item.Team]; ok {
			return t, item.Message, true
		}
	}
	for id, t := range cfg.Teams {
		mention := "@team-" + id
		if strings.Contains(item.Message, mention) {
			clean := strings.TrimSpace(strings.Replace(item.Message, mention, "", 1))
			return t, clean, true
		}
	}
	return config.Team{}, item.Message, false
}

// resolveAgent checks the explicit agent field, an @<id> mention, and
// finally falls back to a sole configured agent.
func (p *Processor) resolveAgent(cfg *config.Config, item *queue.WorkItem) (config.Agent, string, error) {
	if item.Agent != "" {
		a, ok := cfg.Agents[item.Agent]
		if !ok {
			return config.Agent{}, "", fmt.Errorf("unknown agent %q", item.Agent)
		}
		return a, item.Message, nil
	}
	for id, a := range cfg.Agents {
		mention := "@" + id
		if strings.Contains(item.Message, mention) {
			clean := strings.TrimSpace(strings.Replace(item.Message, mention, "", 1))
			return a, clean, nil
		}
	}
	if len(cfg.Agents) == 1 {
		for _, a := range cfg.Agents {
			return a, item.Message, nil
		}
	}
	return config.Agent{}, "", fmt.Errorf("no agent matched; mention one with @id")
}

// takeResetFlag consumes the out-of-band reset marker for an agent. The
// flag drops prior conversational context on the next invocation only;
// it does not cancel anything in flight.
func (p *Processor) takeResetFlag(agentID string) bool {
	if p.resetDir == "" {
		return false
	}
	path := filepath.Join(p.resetDir, agentID+".reset")
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		p.logger.Warn("clear reset flag failed", zap.String("agent", agentID), zap.Error(err))
	}
	return true
}

// RequestReset sets the reset marker for an agent.
func (p *Processor) RequestReset(agentID string) error {
	if err := os.MkdirAll(p.resetDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(p.resetDir, agentID+".reset")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}

func (p *Processor) respond(item *queue.WorkItem, sender, text string) {
	resp := &queue.ResponseItem{
		Channel:         item.Channel,
		Sender:          sender,
		Message:         text,
		OriginalMessage: item.Message,
		MessageID:       item.MessageID,
	}
	if err := p.queue.Complete(item, resp); err != nil {
		p.logger.Error("write response failed",
			zap.String("id", item.MessageID), zap.Error(err))
		return
	}
	p.events.Emit(event.ResponseReady, map[string]any{
		"messageId": item.MessageID,
		"channel":   item.Channel,
		"sender":    sender,
	})
}

func (p *Processor) logConversation(ctx context.Context, agentID string, item *queue.WorkItem, output string) {
	if p.db == nil {
		return
	}
	_ = p.db.AppendConversation(ctx, &store.ConversationEntry{
		AgentID: agentID,
		Channel: item.Channel,
		Sender:  item.Sender,
		Role:    "user",
		Content: item.Message,
	})
	_ = p.db.AppendConversation(ctx, &store.ConversationEntry{
		AgentID: agentID,
		Channel: item.Channel,
		Sender:  agentID,
		Role:    "agent",
		Content: output,
	})
}

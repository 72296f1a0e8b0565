package heartbeat

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/notify"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/orchestrator"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/store"
	"go.uber.org/zap"
)

const (
	scriptTimeout   = 60 * time.Second
	collectInterval = time.Second
	fallbackPrompt  = "Status check: review your current positions and report anything noteworthy."
)

// Scheduler fires periodic per-agent activity independent of external
// messages. Timer precision is bounded by the tick: an agent with a 90s
// interval fires on the first tick at or past 90s elapsed.
type Scheduler struct {
	cfgPath  string
	queue    *queue.Store
	records  *Records
	notifier *notify.Notifier
	events   *event.Emitter
	db       *store.Store // optional prompt context
	tick     time.Duration
	wait     time.Duration
	now      func() time.Time
	logger   *zap.Logger

	runScript func(ctx context.Context, script, workDir string) (string, error)
}

// NewScheduler wires the heartbeat scheduler. db may be nil.
func NewScheduler(
	cfgPath string,
	q *queue.Store,
	records *Records,
	notifier *notify.Notifier,
	events *event.Emitter,
	db *store.Store,
	tick, wait time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Scheduler{
		cfgPath:   cfgPath,
		queue:     q,
		records:   records,
		notifier:  notifier,
		events:    events,
		db:        db,
		tick:      tick,
		wait:      wait,
		now:       time.Now,
		logger:    logger,
		runScript: runScript,
	}
}

// SetClock overrides the time source for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("heartbeat scheduler started", zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.OnTick(ctx)
		}
	}
}

// OnTick reloads the settings document and fires every agent whose
// interval has elapsed. The record is updated to the fire time even
// when the fire failed, so a failing heartbeat retries on the next full
// interval rather than every tick.
func (s *Scheduler) OnTick(ctx context.Context) {
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.logger.Warn("heartbeat config reload failed", zap.Error(err))
		return
	}

	now := s.now()
	for id, agent := range cfg.Agents {
		interval := agent.HeartbeatInterval.Std()
		if interval <= 0 {
			continue
		}
		if elapsed := now.Sub(s.records.LastFired(id)); elapsed < interval {
			continue
		}

		if err := s.Fire(ctx, cfg, agent); err != nil {
			s.logger.Warn("heartbeat failed",
				zap.String("agent", id), zap.Error(err))
		}
		if err := s.records.SetLastFired(id, now); err != nil {
			s.logger.Error("heartbeat record update failed",
				zap.String("agent", id), zap.Error(err))
		}
	}
}

// Fire runs one heartbeat for the agent, regardless of interval state.
func (s *Scheduler) Fire(ctx context.Context, cfg *config.Config, agent config.Agent) error {
	s.events.Emit(event.HeartbeatFired, map[string]any{
		"agent": agent.ID,
		"mode":  string(agent.HeartbeatMode),
	})

	if agent.HeartbeatMode == config.HeartbeatScript {
		return s.fireScript(ctx, agent)
	}
	return s.fireClaude(ctx, cfg, agent)
}

// fireScript executes the agent's executable directly; no model spawn.
func (s *Scheduler) fireScript(ctx context.Context, agent config.Agent) error {
	if agent.HeartbeatScript == "" {
		return fmt.Errorf("agent %s: heartbeat_mode=script without heartbeat_script", agent.ID)
	}
	output, err := s.runScript(ctx, agent.HeartbeatScript, agent.WorkingDir)
	if err != nil {
		return fmt.Errorf("heartbeat script: %w", err)
	}
	return s.forward(ctx, agent.ID, output)
}

// fireClaude submits a synthetic work item through the normal invocation
// path, then waits a bounded window for the response to appear.
func (s *Scheduler) fireClaude(ctx context.Context, cfg *config.Config, agent config.Agent) error {
	prompt := s.heartbeatPrompt(ctx, cfg, agent)

	id, err := s.queue.Enqueue(&queue.WorkItem{
		Channel: "heartbeat",
		Sender:  "heartbeat",
		Message: prompt,
		Agent:   agent.ID,
		Command: orchestrator.CommandHeartbeat,
	})
	if err != nil {
		return fmt.Errorf("enqueue heartbeat: %w", err)
	}

	if s.wait <= 0 {
		return nil
	}

	deadline := s.now().Add(s.wait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(collectInterval):
		}
		if resp, ok := s.queue.CollectResponse("heartbeat", id); ok {
			return s.forward(ctx, agent.ID, resp.Message)
		}
	}
	// No response inside the window; the processor may still be working.
	// The reply stays in the outgoing store for later collection.
	s.logger.Debug("heartbeat response not ready within wait window",
		zap.String("agent", agent.ID))
	return nil
}

// heartbeatPrompt reads the agent's prompt file, falling back to the
// configured default, and prepends stored strategy/memory context.
func (s *Scheduler) heartbeatPrompt(ctx context.Context, cfg *config.Config, agent config.Agent) string {
	prompt := cfg.Heartbeat.DefaultPrompt
	if prompt == "" {
		prompt = fallbackPrompt
	}
	if agent.HeartbeatPrompt != "" {
		if data, err := os.ReadFile(agent.HeartbeatPrompt); err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				prompt = text
			}
		} else {
			s.logger.Debug("heartbeat prompt file unreadable, using default",
				zap.String("agent", agent.ID), zap.Error(err))
		}
	}
	if s.db != nil {
		if extra := s.db.PromptContext(ctx, agent.ID); extra != "" {
			prompt = extra + "\n" + prompt
		}
	}
	return prompt
}

func (s *Scheduler) forward(ctx context.Context, agentID, text string) error {
	if text == "" || !s.notifier.Enabled() {
		return nil
	}
	return s.notifier.Send(ctx, fmt.Sprintf("[%s] %s", agentID, text))
}

func runScript(ctx context.Context, script, workDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = workDir
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", script, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level settings document. The orchestrator reloads it
// between ticks, so edits to agents and teams take effect without a restart.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Queue     QueueConfig      `json:"queue"`
	Agents    map[string]Agent `json:"agents"`
	Teams     map[string]Team  `json:"teams"`
	Heartbeat HeartbeatConfig  `json:"heartbeat"`
	RateLimit RateLimitConfig  `json:"rate_limit"`
	Notify    NotifyConfig     `json:"notify"`
	Events    EventsConfig     `json:"events"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// QueueConfig locates the durable mailbox directories.
type QueueConfig struct {
	IncomingDir string `json:"incoming_dir"`
	OutgoingDir string `json:"outgoing_dir"`
	PollSeconds int    `json:"poll_seconds"`
}

// InvokeMode selects how an agent process is started.
type InvokeMode string

const (
	InvokeLocal  InvokeMode = "local"
	InvokeRemote InvokeMode = "remote"
)

// HeartbeatMode selects what a heartbeat fire does.
type HeartbeatMode string

const (
	HeartbeatClaude HeartbeatMode = "claude"
	HeartbeatScript HeartbeatMode = "script"
)

// Agent is the static descriptor of one configured agent identity.
type Agent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Provider   string        `json:"provider"` // "claude" or "codex"
	Model      string        `json:"model"`
	WorkingDir string        `json:"working_dir"`
	InvokeMode InvokeMode    `json:"invoke_mode"`
	Remote     *RemoteConfig `json:"remote,omitempty"`

	// Heartbeat settings. A zero interval disables heartbeats for the agent.
	HeartbeatInterval Duration      `json:"heartbeat_interval"`
	HeartbeatMode     HeartbeatMode `json:"heartbeat_mode"`
	HeartbeatScript   string        `json:"heartbeat_script,omitempty"`
	HeartbeatPrompt   string        `json:"heartbeat_prompt,omitempty"` // path to prompt file
}

// RemoteConfig carries the ssh parameters for a remote-mode agent.
type RemoteConfig struct {
	Host string `json:"host"`
	User string `json:"user"`
	Root string `json:"root"` // remote working directory
}

// Team is an ordered chain of agents with a designated leader.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Leader  string   `json:"leader"`
}

type HeartbeatConfig struct {
	TickSeconds   int    `json:"tick_seconds"`
	StateDir      string `json:"state_dir"`
	WaitSeconds   int    `json:"wait_seconds"`
	DefaultPrompt string `json:"default_prompt"`
}

type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

type NotifyConfig struct {
	WebhookURL string `json:"webhook_url"`
	MaxChars   int    `json:"max_chars"`
}

type EventsConfig struct {
	Dir      string `json:"dir"`
	RedisURL string `json:"redis_url,omitempty"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// Duration unmarshals either a JSON number of seconds or a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be seconds or a duration string: %s", data)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON settings file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.IncomingDir == "" {
		c.Queue.IncomingDir = "data/queue/incoming"
	}
	if c.Queue.OutgoingDir == "" {
		c.Queue.OutgoingDir = "data/queue/outgoing"
	}
	if c.Queue.PollSeconds <= 0 {
		c.Queue.PollSeconds = 1
	}
	if c.Heartbeat.TickSeconds <= 0 {
		c.Heartbeat.TickSeconds = 60
	}
	if c.Heartbeat.StateDir == "" {
		c.Heartbeat.StateDir = "data/heartbeat"
	}
	if c.Heartbeat.WaitSeconds <= 0 {
		c.Heartbeat.WaitSeconds = 90
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 5
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Notify.MaxChars <= 0 {
		c.Notify.MaxChars = 2000
	}
	if c.Events.Dir == "" {
		c.Events.Dir = "data/events"
	}
	for id, a := range c.Agents {
		if a.ID == "" {
			a.ID = id
		}
		if a.Name == "" {
			a.Name = id
		}
		if a.InvokeMode == "" {
			a.InvokeMode = InvokeLocal
		}
		if a.HeartbeatMode == "" {
			a.HeartbeatMode = HeartbeatClaude
		}
		c.Agents[id] = a
	}
	for id, t := range c.Teams {
		if t.ID == "" {
			t.ID = id
		}
		if t.Name == "" {
			t.Name = id
		}
		c.Teams[id] = t
	}
}

func (c *Config) validate() error {
	for id, a := range c.Agents {
		if a.InvokeMode != InvokeLocal && a.InvokeMode != InvokeRemote {
			return fmt.Errorf("agent %s: unknown invoke_mode %q", id, a.InvokeMode)
		}
	}
	for id, t := range c.Teams {
		if len(t.Members) == 0 {
			return fmt.Errorf("team %s: member list is empty", id)
		}
		leaderFound := false
		for _, m := range t.Members {
			if m == t.Leader {
				leaderFound = true
				break
			}
		}
		if t.Leader != "" && !leaderFound {
			return fmt.Errorf("team %s: leader %s is not a member", id, t.Leader)
		}
	}
	return nil
}

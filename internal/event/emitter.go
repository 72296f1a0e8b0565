package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type tags the closed set of facts the orchestrator emits.
type Type string

const (
	ProcessorStarted Type = "processor_started"
	ItemReceived     Type = "item_received"
	AgentRouted      Type = "agent_routed"
	ChainStarted     Type = "chain_started"
	ChainStepStarted Type = "chain_step_started"
	ChainStepDone    Type = "chain_step_done"
	ChainHandoff     Type = "chain_handoff"
	ChainEnded       Type = "chain_ended"
	ResponseReady    Type = "response_ready"
	HeartbeatFired   Type = "heartbeat_fired"
)

// Event is one append-only, write-once fact. Consumers (the dashboard)
// delete event files after reading them.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp int64          `json:"timestamp"` // ms epoch
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields into the top-level object next to type
// and timestamp, matching what the dashboard consumes.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["type"] = e.Type
	obj["timestamp"] = e.Timestamp
	return json.Marshal(obj)
}

// Emitter appends events to a directory, one JSON file each, and
// optionally mirrors them onto a Redis stream for live consumers.
type Emitter struct {
	dir    string
	stream *Stream // nil when Redis is not configured
	now    func() time.Time
	logger *zap.Logger
}

// NewEmitter creates the events directory if needed.
func NewEmitter(dir string, stream *Stream, logger *zap.Logger) (*Emitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir %s: %w", dir, err)
	}
	return &Emitter{dir: dir, stream: stream, now: time.Now, logger: logger}, nil
}

// SetClock overrides the time source for tests.
func (e *Emitter) SetClock(now func() time.Time) { e.now = now }

// Emit writes one event. Emission is best-effort: a failed write is
// logged, never propagated, so observability can not break processing.
func (e *Emitter) Emit(typ Type, fields map[string]any) {
	ev := Event{
		Type:      typ,
		Timestamp: e.now().UnixMilli(),
		Fields:    fields,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("marshal event failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}

	name := fmt.Sprintf("%d_%s_%s.json", ev.Timestamp, typ, uuid.New().String()[:8])
	path := filepath.Join(e.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		e.logger.Warn("write event failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		e.logger.Warn("rename event failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}

	if e.stream != nil {
		e.stream.Publish(ev, data)
	}
}

// Recent returns up to limit events currently on disk, oldest first.
// The timestamp-prefixed filenames give a stable order.
func (e *Emitter) Recent(limit int) []json.RawMessage {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil
	}
	var out []json.RawMessage
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, json.RawMessage(data))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/notify"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, cfgJSON string) (*Scheduler, *queue.Store) {
	t.Helper()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(cfgPath, []byte(cfgJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	q, err := queue.NewStore(filepath.Join(dir, "in"), filepath.Join(dir, "out"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	records, err := NewRecords(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	em, err := event.NewEmitter(filepath.Join(dir, "events"), nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(cfgPath, q, records, notify.New("", 0, zap.NewNop()), em, nil,
		time.Minute, 0, zap.NewNop())
	return s, q
}

const thirtySecondCfg = `{
	"agents": {
		"strategist": {"provider": "claude", "heartbeat_interval": 30}
	}
}`

func TestTickSkipsWithinInterval(t *testing.T) {
	s, q := newTestScheduler(t, thirtySecondCfg)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	// Last fire 29s ago: interval not yet elapsed, no fire.
	if err := s.records.SetLastFired("strategist", now.Add(-29*time.Second)); err != nil {
		t.Fatal(err)
	}
	s.OnTick(context.Background())

	if n := q.PendingCount(); n != 0 {
		t.Fatalf("got %d queued heartbeats, want 0", n)
	}
	if got := s.records.LastFired("strategist"); !got.Equal(now.Add(-29 * time.Second).Truncate(time.Second)) {
		t.Errorf("record moved without a fire: %v", got)
	}
}

func TestTickFiresPastInterval(t *testing.T) {
	s, q := newTestScheduler(t, thirtySecondCfg)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if err := s.records.SetLastFired("strategist", now.Add(-31*time.Second)); err != nil {
		t.Fatal(err)
	}
	s.OnTick(context.Background())

	items := q.PollNew()
	if len(items) != 1 {
		t.Fatalf("got %d queued heartbeats, want 1", len(items))
	}
	if items[0].Agent != "strategist" || items[0].Command != "heartbeat" {
		t.Errorf("unexpected heartbeat item: %+v", items[0])
	}
	if items[0].Message == "" {
		t.Error("heartbeat prompt empty")
	}
	// Record updates to the fire time.
	if got := s.records.LastFired("strategist"); !got.Equal(now.Truncate(time.Second)) {
		t.Errorf("record %v, want fire time %v", got, now)
	}
}

func TestTickZeroIntervalDisabled(t *testing.T) {
	s, q := newTestScheduler(t, `{
		"agents": {"quiet": {"provider": "claude"}}
	}`)
	s.SetClock(func() time.Time { return time.Now() })

	s.OnTick(context.Background())
	if n := q.PendingCount(); n != 0 {
		t.Fatalf("agent without interval fired %d times", n)
	}
}

func TestRecordUpdatedEvenOnFailure(t *testing.T) {
	s, q := newTestScheduler(t, `{
		"agents": {
			"strategist": {
				"provider": "claude",
				"heartbeat_interval": 30,
				"heartbeat_mode": "script"
			}
		}
	}`)
	// script mode without a script path fails the fire

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	s.records.SetLastFired("strategist", now.Add(-time.Hour))

	s.OnTick(context.Background())

	if n := q.PendingCount(); n != 0 {
		t.Fatal("script mode must not enqueue work items")
	}
	// Failed fire still advances the record: retry on the next full
	// interval, not the next tick.
	if got := s.records.LastFired("strategist"); !got.Equal(now.Truncate(time.Second)) {
		t.Errorf("record %v, want %v even after failure", got, now)
	}
}

func TestScriptModeForwardsOutput(t *testing.T) {
	s, q := newTestScheduler(t, `{
		"agents": {
			"sentinel": {
				"provider": "claude",
				"heartbeat_interval": 30,
				"heartbeat_mode": "script",
				"heartbeat_script": "/opt/checks/positions.sh"
			}
		}
	}`)

	var ranScript string
	s.runScript = func(_ context.Context, script, _ string) (string, error) {
		ranScript = script
		return "all green", nil
	}

	now := time.Now()
	s.SetClock(func() time.Time { return now })
	s.OnTick(context.Background())

	if ranScript != "/opt/checks/positions.sh" {
		t.Errorf("ran %q, want configured script", ranScript)
	}
	if n := q.PendingCount(); n != 0 {
		t.Error("script mode bypasses the invocation queue entirely")
	}
}

func TestRecordsMonotonic(t *testing.T) {
	records, err := NewRecords(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := records.SetLastFired("a", later); err != nil {
		t.Fatal(err)
	}
	// An older timestamp never rolls the record back.
	if err := records.SetLastFired("a", later.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got := records.LastFired("a"); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
}

func TestRecordsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	records, _ := NewRecords(dir)
	fired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records.SetLastFired("a", fired)

	reopened, err := NewRecords(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.LastFired("a"); !got.Equal(fired) {
		t.Errorf("got %v after restart, want %v", got, fired)
	}
}

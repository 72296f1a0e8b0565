package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Records persists the last-fired timestamp per agent as one small file
// of integer epoch-seconds, so scheduling survives process restarts.
type Records struct {
	dir string
}

// NewRecords creates the state directory if needed.
func NewRecords(dir string) (*Records, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create heartbeat state dir %s: %w", dir, err)
	}
	return &Records{dir: dir}, nil
}

// LastFired returns the recorded fire time, or the zero time if none.
func (r *Records) LastFired(agentID string) time.Time {
	data, err := os.ReadFile(r.path(agentID))
	if err != nil {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// SetLastFired records a fire time. Timestamps are monotonically
// non-decreasing per agent; an older value is ignored. The write goes
// through a temp file and rename so a concurrent reader never sees a
// partial value.
func (r *Records) SetLastFired(agentID string, t time.Time) error {
	if existing := r.LastFired(agentID); t.Before(existing) {
		return nil
	}
	path := r.path(agentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(t.Unix(), 10)), 0o644); err != nil {
		return fmt.Errorf("write heartbeat record %s: %w", agentID, err)
	}
	return os.Rename(tmp, path)
}

func (r *Records) path(agentID string) string {
	return filepath.Join(r.dir, agentID+".last")
}

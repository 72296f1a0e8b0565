package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkItem is one request flowing through the durable mailbox.
// One JSON file per item; the filename carries the channel and message ID.
type WorkItem struct {
	Channel   string   `json:"channel"`
	Sender    string   `json:"sender"`
	SenderID  string   `json:"senderId"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"` // ms epoch
	MessageID string   `json:"messageId"`
	Agent     string   `json:"agent,omitempty"`
	Command   string   `json:"command,omitempty"`
	Team      string   `json:"team,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// ResponseItem is the result written to the outgoing mailbox.
type ResponseItem struct {
	Channel         string   `json:"channel"`
	Sender          string   `json:"sender"`
	Message         string   `json:"message"`
	OriginalMessage string   `json:"originalMessage,omitempty"`
	Timestamp       int64    `json:"timestamp"`
	MessageID       string   `json:"messageId"`
	Files           []string `json:"files,omitempty"`
}

// deleteGrace lets a concurrent writer finish flushing before an input
// file is removed after processing.
const deleteGrace = 500 * time.Millisecond

// Store is the directory-backed work queue. Presence of a file means
// pending; files are claimed by delete, which is atomic on the filesystem,
// so no in-process locks are needed across producers.
type Store struct {
	incomingDir string
	outgoingDir string
	mu          sync.Mutex
	seen        map[string]bool // filenames handled this process lifetime
	logger      *zap.Logger
}

// NewStore creates the mailbox directories if needed.
func NewStore(incomingDir, outgoingDir string, logger *zap.Logger) (*Store, error) {
	for _, dir := range []string{incomingDir, outgoingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir %s: %w", dir, err)
		}
	}
	return &Store{
		incomingDir: incomingDir,
		outgoingDir: outgoingDir,
		seen:        make(map[string]bool),
		logger:      logger,
	}, nil
}

// Enqueue writes a work item into the incoming mailbox and returns its
// message ID. Missing IDs and timestamps are filled in.
func (s *Store) Enqueue(item *WorkItem) (string, error) {
	if item.MessageID == "" {
		item.MessageID = uuid.New().String()
	}
	if item.Timestamp == 0 {
		item.Timestamp = time.Now().UnixMilli()
	}
	if item.Channel == "" {
		item.Channel = "system"
	}
	name := itemFilename(item.Channel, item.MessageID)
	if err := writeAtomic(filepath.Join(s.incomingDir, name), item); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", item.MessageID, err)
	}
	s.logger.Debug("work item enqueued",
		zap.String("id", item.MessageID),
		zap.String("channel", item.Channel))
	return item.MessageID, nil
}

// PollNew returns items not yet seen by this process. Files that fail to
// parse are skipped, not deleted, so a partial write is retried on the
// next poll. An unreadable directory yields zero items rather than an
// error; a transient filesystem hiccup must not stop the poll loop.
func (s *Store) PollNew() []*WorkItem {
	entries, err := os.ReadDir(s.incomingDir)
	if err != nil {
		s.logger.Warn("incoming dir unreadable", zap.Error(err))
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var items []*WorkItem
	for _, name := range names {
		s.mu.Lock()
		handled := s.seen[name]
		s.mu.Unlock()
		if handled {
			continue
		}

		path := filepath.Join(s.incomingDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var item WorkItem
		if err := json.Unmarshal(data, &item); err != nil {
			// Possibly mid-write; leave the file for the next poll.
			s.logger.Debug("skipping unparseable work item",
				zap.String("file", name), zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.seen[name] = true
		s.mu.Unlock()
		items = append(items, &item)
	}
	return items
}

// Complete writes the response to the outgoing mailbox and removes the
// originating input file after a short grace delay.
func (s *Store) Complete(item *WorkItem, resp *ResponseItem) error {
	if resp.MessageID == "" {
		resp.MessageID = item.MessageID
	}
	if resp.Timestamp == 0 {
		resp.Timestamp = time.Now().UnixMilli()
	}
	name := itemFilename(resp.Channel, resp.MessageID)
	if err := writeAtomic(filepath.Join(s.outgoingDir, name), resp); err != nil {
		return fmt.Errorf("complete %s: %w", resp.MessageID, err)
	}
	s.removeInput(item)
	return nil
}

// Drop removes an input file without producing a response. Used for
// items that were consumed elsewhere (e.g. heartbeat collection).
func (s *Store) Drop(item *WorkItem) {
	s.removeInput(item)
}

func (s *Store) removeInput(item *WorkItem) {
	name := itemFilename(item.Channel, item.MessageID)
	path := filepath.Join(s.incomingDir, name)
	go func() {
		time.Sleep(deleteGrace)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove processed item failed",
				zap.String("file", name), zap.Error(err))
		}
	}()
}

// CollectResponse returns and deletes the outgoing response for the given
// message ID, if present.
func (s *Store) CollectResponse(channel, messageID string) (*ResponseItem, bool) {
	path := filepath.Join(s.outgoingDir, itemFilename(channel, messageID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var resp ResponseItem
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	_ = os.Remove(path)
	return &resp, true
}

// PendingCount reports how many input files are currently on disk.
func (s *Store) PendingCount() int {
	entries, err := os.ReadDir(s.incomingDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

// itemFilename builds the channel-prefixed filename for traceability.
func itemFilename(channel, messageID string) string {
	ch := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, channel)
	if ch == "" {
		ch = "system"
	}
	return fmt.Sprintf("%s_%s.json", ch, messageID)
}

// writeAtomic writes JSON via write-to-temp-then-rename so a concurrent
// reader never observes a partial file.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "in"), filepath.Join(dir, "out"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEnqueuePollComplete(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue(&WorkItem{
		Channel: "discord",
		Sender:  "alice",
		Message: "hello",
		Agent:   "strategist",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated message id")
	}

	items := s.PollNew()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Message != "hello" || items[0].Agent != "strategist" {
		t.Errorf("unexpected item: %+v", items[0])
	}
	if items[0].MessageID != id {
		t.Errorf("got id %q, want %q", items[0].MessageID, id)
	}

	// Second poll must not return the same filename again.
	if again := s.PollNew(); len(again) != 0 {
		t.Fatalf("got %d items on second poll, want 0", len(again))
	}

	if err := s.Complete(items[0], &ResponseItem{
		Channel: items[0].Channel,
		Sender:  "strategist",
		Message: "world",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, ok := s.CollectResponse("discord", id)
	if !ok {
		t.Fatal("response not found")
	}
	if resp.Message != "world" {
		t.Errorf("got response %q, want %q", resp.Message, "world")
	}
	if resp.MessageID != id {
		t.Errorf("response id %q does not match work item %q", resp.MessageID, id)
	}
	// Collect deletes the response file.
	if _, ok := s.CollectResponse("discord", id); ok {
		t.Error("response should be deleted after collect")
	}
}

func TestPollSkipsMalformed(t *testing.T) {
	s := newTestStore(t)

	bad := filepath.Join(s.incomingDir, "discord_broken.json")
	if err := os.WriteFile(bad, []byte(`{"channel": "disc`), 0o644); err != nil {
		t.Fatal(err)
	}

	if items := s.PollNew(); len(items) != 0 {
		t.Fatalf("got %d items, want 0", len(items))
	}
	// The file must survive for the next poll; it may still be mid-write.
	if _, err := os.Stat(bad); err != nil {
		t.Fatalf("malformed file was removed: %v", err)
	}

	// Once the writer finishes, the same filename parses and is returned.
	if err := os.WriteFile(bad, []byte(`{"channel":"discord","messageId":"broken","message":"ok"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	items := s.PollNew()
	if len(items) != 1 || items[0].Message != "ok" {
		t.Fatalf("expected repaired item, got %+v", items)
	}
}

func TestPollUnreadableDir(t *testing.T) {
	s := newTestStore(t)
	os.RemoveAll(s.incomingDir)

	// Missing directory reports zero items, never panics or errors.
	if items := s.PollNew(); items != nil {
		t.Fatalf("got %v, want nil", items)
	}
}

func TestCompleteRemovesInput(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Enqueue(&WorkItem{Channel: "cli", Message: "x"})
	items := s.PollNew()
	if len(items) != 1 {
		t.Fatal("expected one item")
	}
	if err := s.Complete(items[0], &ResponseItem{Channel: "cli", Message: "y"}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(s.incomingDir, itemFilename("cli", id))
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("input file not removed after grace delay")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestWatchDeliversNewItems(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := s.Watch(ctx)

	if _, err := s.Enqueue(&WorkItem{Channel: "cli", Message: "first"}); err != nil {
		t.Fatal(err)
	}

	select {
	case item := <-ch:
		if item.Message != "first" {
			t.Errorf("got %q, want %q", item.Message, "first")
		}
	case <-ctx.Done():
		t.Fatal("watch did not deliver item")
	}

	cancel()
	// Channel closes on cancellation.
	for range ch {
	}
}

func TestPendingCount(t *testing.T) {
	s := newTestStore(t)
	if n := s.PendingCount(); n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
	s.Enqueue(&WorkItem{Channel: "cli", Message: "a"})
	s.Enqueue(&WorkItem{Channel: "cli", Message: "b"})
	if n := s.PendingCount(); n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
}

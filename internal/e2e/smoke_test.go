//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("TINYCLAW_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func getJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	resp, err := http.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestHealth(t *testing.T) {
	var body map[string]string
	getJSON(t, "/api/health", &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestAgentsListed(t *testing.T) {
	var agents []struct {
		ID       string `json:"id"`
		Provider string `json:"provider"`
	}
	getJSON(t, "/api/agents", &agents)
	if len(agents) == 0 {
		t.Fatal("no agents configured on the running server")
	}
	for _, a := range agents {
		if a.Provider != "claude" && a.Provider != "codex" {
			t.Errorf("agent %s has unknown provider %q", a.ID, a.Provider)
		}
	}
}

func TestStatusCounters(t *testing.T) {
	var st struct {
		AgentCount int `json:"agent_count"`
		Pending    int `json:"pending"`
	}
	getJSON(t, "/api/status", &st)
	if st.AgentCount == 0 {
		t.Error("agent_count = 0")
	}
	if st.Pending < 0 {
		t.Errorf("pending = %d", st.Pending)
	}
}

// TestAgentRoundTrip sends a real message through the queue and waits
// for an agent reply. Requires a working provider binary on the server.
func TestAgentRoundTrip(t *testing.T) {
	if os.Getenv("TINYCLAW_E2E_INVOKE") == "" {
		t.Skip("set TINYCLAW_E2E_INVOKE to exercise a live agent invocation")
	}

	body, _ := json.Marshal(map[string]interface{}{
		"channel":      "smoke",
		"sender":       "smokebot",
		"message":      "Reply with the single word pong.",
		"wait_seconds": 120,
	})
	client := &http.Client{Timeout: 130 * time.Second}
	resp, err := client.Post(baseURL+"/api/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/message: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	var msg struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
	}
	if len(msg.Message) == 0 {
		t.Error("empty agent reply")
	}
	t.Logf("[%s] %.200s", msg.Sender, msg.Message)
}

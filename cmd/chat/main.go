package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "TinyClaw server URL")
	user := flag.String("user", "cli-user", "User name for chat")
	wait := flag.Int("wait", 120, "Seconds to wait for an agent response")
	flag.Parse()

	fmt.Println("TinyClaw CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Use @agent-id or @team-id to route.")
	fmt.Println("Commands: /status, /agents, /teams")
	fmt.Println("---")

	fetchAgents(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/status" {
			fetchStatus(*server)
			continue
		}
		if input == "/agents" {
			fetchAgents(*server)
			continue
		}
		if input == "/teams" {
			fetchTeams(*server)
			continue
		}

		sendMessage(*server, *user, input, *wait)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var agents []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		printError("Failed to parse agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents configured yet.")
		return
	}
	fmt.Println("Available agents:")
	for _, a := range agents {
		fmt.Printf("  @%s (%s/%s)\n", a.ID, a.Provider, a.Model)
	}
}

func fetchTeams(server string) {
	resp, err := http.Get(server + "/api/teams")
	if err != nil {
		printError("Failed to fetch teams: %v", err)
		return
	}
	defer resp.Body.Close()

	var teams []struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&teams); err != nil {
		printError("Failed to parse teams: %v", err)
		return
	}
	if len(teams) == 0 {
		fmt.Println("No teams configured yet.")
		return
	}
	fmt.Println("Available teams:")
	for _, t := range teams {
		fmt.Printf("  @%s (%s)\n", t.ID, strings.Join(t.Members, " → "))
	}
}

func fetchStatus(server string) {
	resp, err := http.Get(server + "/api/status")
	if err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	defer resp.Body.Close()

	var st struct {
		AgentCount int `json:"agent_count"`
		TeamCount  int `json:"team_count"`
		Pending    int `json:"pending"`
		Gateways   []struct {
			Platform  string `json:"platform"`
			Connected bool   `json:"connected"`
			Error     string `json:"error,omitempty"`
			Details   string `json:"details,omitempty"`
		} `json:"gateways"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		printError("Failed to parse status: %v", err)
		return
	}
	fmt.Printf("Agents: %d | Teams: %d | Queue pending: %d\n",
		st.AgentCount, st.TeamCount, st.Pending)
	for _, g := range st.Gateways {
		icon := "\033[31m✗\033[0m"
		if g.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s", icon, g.Platform)
		if g.Details != "" {
			fmt.Printf(" — %s", g.Details)
		}
		if g.Error != "" {
			fmt.Printf(" \033[31m(%s)\033[0m", g.Error)
		}
		fmt.Println()
	}
}

func sendMessage(server, user, content string, wait int) {
	body, _ := json.Marshal(map[string]interface{}{
		"channel":      "cli",
		"sender":       user,
		"message":      content,
		"wait_seconds": wait,
	})

	client := &http.Client{Timeout: time.Duration(wait+5) * time.Second}
	resp, err := client.Post(
		server+"/api/message",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var msg struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	if msg.Sender != "" {
		fmt.Printf("\033[36m[%s]\033[0m %s\n", msg.Sender, msg.Message)
	} else {
		fmt.Println(msg.Message)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}

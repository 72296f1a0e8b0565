package invoke

import (
	"bufio"
	"encoding/json"
	"strings"
)

// Extractor turns a provider's raw stdout into the final answer text.
// Claude prints plain text; Codex emits line-delimited JSON records and
// only the last agent message matters.
type Extractor func(stdout string) string

// extractorFor selects the extractor by provider. Unknown providers get
// the plain-text extractor.
func extractorFor(provider string) Extractor {
	switch provider {
	case ProviderCodex:
		return extractCodex
	default:
		return extractPlain
	}
}

func extractPlain(stdout string) string {
	return strings.TrimSpace(stdout)
}

// codexRecord is the shape of one Codex JSON output line. Agent messages
// appear either as a bare record or wrapped in an item envelope.
type codexRecord struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Item    *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item,omitempty"`
}

// extractCodex keeps the last final-answer record and discards thinking
// and tool-call records. Lines that fail to parse are ignored; if no
// final answer is found the raw output is returned so the caller still
// sees something useful.
func extractCodex(stdout string) string {
	var last string

	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var rec codexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		switch {
		case rec.Type == "agent_message" && rec.Message != "":
			last = rec.Message
		case rec.Type == "agent_message" && rec.Text != "":
			last = rec.Text
		case rec.Item != nil && rec.Item.Type == "agent_message" && rec.Item.Text != "":
			last = rec.Item.Text
		}
	}

	if last == "" {
		return strings.TrimSpace(stdout)
	}
	return last
}

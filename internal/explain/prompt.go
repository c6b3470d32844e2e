package explain

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/timvw/pcap-patrol/internal/model"
)

// SystemPrompt is the system-level instruction for the LLM.
//
//go:embed prompts/system.md
var SystemPrompt string

// UserPromptTemplate precedes the frame description in the user message.
//
//go:embed prompts/user.md
var UserPromptTemplate string

// BuildUserMessage renders the user message for one frame.
func BuildUserMessage(req Request) string {
	var b strings.Builder
	b.WriteString(UserPromptTemplate)
	b.WriteString("Frame: " + strconv.Itoa(req.FrameNumber) + "\n")
	if q := strings.TrimSpace(req.Question); q != "" {
		b.WriteString("Question: " + q + "\n")
	}
	if req.Truncated {
		b.WriteString("Note: the dissection below was truncated.\n")
	}
	b.WriteString("\n<dissection>\n")
	b.WriteString(req.Detail)
	if !strings.HasSuffix(req.Detail, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("</dissection>\n")
	return b.String()
}

// stripMarkdownFences removes a surrounding ``` fence, with or without a
// language tag.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseExplanation decodes the model's JSON answer.
func parseExplanation(raw string) (*model.Explanation, error) {
	text := stripMarkdownFences(raw)
	var ex model.Explanation
	if err := json.Unmarshal([]byte(text), &ex); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if ex.Protocols == nil {
		ex.Protocols = []string{}
	}
	if ex.Identifiers == nil {
		ex.Identifiers = []string{}
	}
	if ex.Anomalies == nil {
		ex.Anomalies = []string{}
	}
	return &ex, nil
}

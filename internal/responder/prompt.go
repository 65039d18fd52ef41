package responder

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/ircrelay/internal/memory"
)

// Request is everything a backend needs to answer one question.
type Request struct {
	Question string
	History  []memory.Turn
	Logs     []memory.LogEntry
	User     string
	Channel  string
}

// Message is one role/content pair in the wire conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemPrompt joins the persona context with the clock and the recent
// channel transcript.
func SystemPrompt(base string, req Request, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(base))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Current time: %s (UTC).\n", now.UTC().Format(time.RFC1123))
	if req.User != "" {
		fmt.Fprintf(&sb, "You are talking to %s", req.User)
		if req.Channel != "" && !strings.EqualFold(req.Channel, req.User) {
			fmt.Fprintf(&sb, " in %s", req.Channel)
		}
		sb.WriteString(".\n")
	}
	if len(req.Logs) > 0 {
		sb.WriteString("\n# Recent channel messages\n")
		for _, e := range req.Logs {
			fmt.Fprintf(&sb, "[%s] <%s> %s\n", e.Timestamp.UTC().Format("15:04"), e.User, e.Message)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BuildMessages lays out system prompt, prior turns and the question.
func BuildMessages(base string, req Request, now time.Time) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: "system", Content: SystemPrompt(base, req, now)})
	for _, t := range req.History {
		msgs = append(msgs, Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.Question})
	return msgs
}

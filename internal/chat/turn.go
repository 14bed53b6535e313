// Package chat defines the conversation turn model shared by the history
// store, the responders, and the session engine.
package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Timestamp is an RFC3339 UTC instant;
// it is empty while the turn is an in-progress streaming placeholder and set
// exactly once when the turn is finalized.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"ts"`
}

func User(text string) Turn {
	return Turn{Role: RoleUser, Content: text}
}

func Assistant(text string) Turn {
	return Turn{Role: RoleAssistant, Content: text}
}

// Placeholder is an assistant turn created before its content is known.
func Placeholder() Turn {
	return Turn{Role: RoleAssistant}
}

// Finalized reports whether the turn's timestamp has been set.
func (t Turn) Finalized() bool {
	return t.Timestamp != ""
}

// Now formats the current instant the way persisted turns expect it.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

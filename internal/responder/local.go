package responder

import (
	"context"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/chat"
)

const (
	localChunkSize = 12
	localChunkGap  = 60 * time.Millisecond
)

// SleepFunc lets tests replace the inter-chunk typing delay.
type SleepFunc func(time.Duration)

// Local is the deterministic rule-based responder. It is pure: no I/O, no
// side effects, and it always returns non-empty text.
type Local struct {
	sleep SleepFunc
}

func NewLocal() *Local {
	return &Local{sleep: time.Sleep}
}

// NewLocalWithSleep is for tests that cannot afford real typing delays.
func NewLocalWithSleep(sleep SleepFunc) *Local {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Local{sleep: sleep}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Respond(_ context.Context, turns []chat.Turn) (string, error) {
	return localReply(lastUserText(turns)), nil
}

// Stream yields the reply in fixed-size chunks with a short delay between
// them to simulate typing.
func (l *Local) Stream(ctx context.Context, turns []chat.Turn) (*Stream, error) {
	full := localReply(lastUserText(turns))

	sctx, cancel := context.WithCancel(ctx)
	s := NewChanStream(cancel)
	go func() {
		defer s.CloseSend()
		for i := 0; i < len(full); i += localChunkSize {
			j := i + localChunkSize
			if j > len(full) {
				j = len(full)
			}
			if sctx.Err() != nil || !s.Send(full[i:j]) {
				return
			}
			l.sleep(localChunkGap)
		}
	}()
	return s, nil
}

// localReply classifies the lowercased input by substring, first match wins.
// The reply strings and their priority order are fixed.
func localReply(userText string) string {
	text := strings.ToLower(userText)
	switch {
	case strings.Contains(text, "hello") || strings.Contains(text, "hi"):
		return "Hi there! How can I help you today?"
	case strings.Contains(text, "task"):
		return "You can create a new task from the Tasks page."
	case strings.Contains(text, "dashboard"):
		return "The dashboard shows metrics and recent tasks. Which metric?"
	case strings.Contains(text, "help") || strings.Contains(text, "how"):
		return "Ask me about creating, updating, or deleting tasks, or about user accounts."
	default:
		return "Thanks — I got that. Can you tell me more?"
	}
}

// lastUserText finds the newest user turn; the local variant only classifies
// the latest input, not the whole conversation.
func lastUserText(turns []chat.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == chat.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

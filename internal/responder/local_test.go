package responder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/chat"
)

func TestLocalReplies(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "Hi there! How can I help you today?"},
		{"HELLO THERE", "Hi there! How can I help you today?"},
		{"hi", "Hi there! How can I help you today?"},
		{"add a task please", "You can create a new task from the Tasks page."},
		{"show me the dashboard", "The dashboard shows metrics and recent tasks. Which metric?"},
		{"help", "Ask me about creating, updating, or deleting tasks, or about user accounts."},
		{"how do I do this", "Hi there! How can I help you today?"}, // "this" contains "hi"
		{"something else entirely", "Thanks — I got that. Can you tell me more?"},
		{"", "Thanks — I got that. Can you tell me more?"},
	}
	l := NewLocalWithSleep(func(time.Duration) {})
	for _, tt := range tests {
		got, err := l.Respond(context.Background(), []chat.Turn{chat.User(tt.input)})
		if err != nil {
			t.Fatalf("Respond(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Respond(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLocalRespond_UsesNewestUserTurn(t *testing.T) {
	l := NewLocalWithSleep(func(time.Duration) {})
	turns := []chat.Turn{
		chat.User("hello"),
		chat.Assistant("Hi there! How can I help you today?"),
		chat.User("show the dashboard"),
		chat.Placeholder(),
	}
	got, err := l.Respond(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if got != "The dashboard shows metrics and recent tasks. Which metric?" {
		t.Fatalf("classified the wrong turn: %q", got)
	}
}

func TestLocalStream_ChunksConcatenateToFullReply(t *testing.T) {
	sleeps := 0
	l := NewLocalWithSleep(func(time.Duration) { sleeps++ })

	s, err := l.Stream(context.Background(), []chat.Turn{chat.User("help")})
	if err != nil {
		t.Fatal(err)
	}

	want := "Ask me about creating, updating, or deleting tasks, or about user accounts."
	var chunks []string
	for {
		chunk, ok := s.Recv()
		if !ok {
			break
		}
		if len(chunk) > localChunkSize {
			t.Fatalf("chunk %q longer than %d", chunk, localChunkSize)
		}
		chunks = append(chunks, chunk)
	}
	if got := strings.Join(chunks, ""); got != want {
		t.Fatalf("concatenated chunks = %q, want %q", got, want)
	}
	if sleeps != len(chunks) {
		t.Fatalf("slept %d times for %d chunks", sleeps, len(chunks))
	}
}

func TestLocalStream_StopsWhenConsumerCloses(t *testing.T) {
	release := make(chan struct{})
	l := NewLocalWithSleep(func(time.Duration) { <-release })

	s, err := l.Stream(context.Background(), []chat.Turn{chat.User("help")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Recv(); !ok {
		t.Fatal("expected a first chunk")
	}
	s.Close()
	close(release)

	// The producer must finish instead of pushing the rest of the reply.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("stream did not terminate after Close")
		default:
		}
		if _, ok := s.Recv(); !ok {
			return
		}
	}
}

func TestLocalIsDeterministic(t *testing.T) {
	l := NewLocalWithSleep(func(time.Duration) {})
	turns := []chat.Turn{chat.User("tell me about tasks")}
	a, _ := l.Respond(context.Background(), turns)
	b, _ := l.Respond(context.Background(), turns)
	if a != b || a == "" {
		t.Fatalf("local responder not deterministic/total: %q vs %q", a, b)
	}
}

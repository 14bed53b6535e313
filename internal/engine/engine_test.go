package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/chat"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/responder"
)

// steppedResponder hands each Stream call's send side to the test, so the
// test controls exactly when chunks arrive and when the reply ends.
type steppedResponder struct {
	calls chan *streamCall
}

type streamCall struct {
	turns  []chat.Turn
	stream *responder.Stream
}

func newSteppedResponder() *steppedResponder {
	return &steppedResponder{calls: make(chan *streamCall, 8)}
}

func (f *steppedResponder) Name() string { return "stepped" }

func (f *steppedResponder) Respond(ctx context.Context, turns []chat.Turn) (string, error) {
	return "", errors.New("not used")
}

func (f *steppedResponder) Stream(ctx context.Context, turns []chat.Turn) (*responder.Stream, error) {
	s := responder.NewChanStream(nil)
	f.calls <- &streamCall{turns: turns, stream: s}
	return s, nil
}

func (f *steppedResponder) next(t *testing.T) *streamCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("responder was not invoked")
		return nil
	}
}

// lastUser returns the newest user turn's content in a call's snapshot.
func (c *streamCall) lastUser(t *testing.T) string {
	t.Helper()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == chat.RoleUser {
			return c.turns[i].Content
		}
	}
	t.Fatal("no user turn in responder snapshot")
	return ""
}

type errResponder struct{ err error }

func (e errResponder) Name() string { return "failing" }
func (e errResponder) Respond(ctx context.Context, turns []chat.Turn) (string, error) {
	return "", e.err
}
func (e errResponder) Stream(ctx context.Context, turns []chat.Turn) (*responder.Stream, error) {
	return nil, e.err
}

func fixedSelector(r responder.Responder) Selector {
	return func(useExternal bool, model string) responder.Responder { return r }
}

func newTestEngine(t *testing.T, r responder.Responder) *Engine {
	t.Helper()
	store := history.NewStore(t.TempDir(), nil)
	return New(store, fixedSelector(r), nil)
}

// waitIdle polls until the session's history is fully finalized and the
// queue is empty, meaning the producer goroutine has wound down.
func waitIdle(t *testing.T, e *Engine, session string, wantTurns int) []chat.Turn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		turns := e.History(session)
		done := len(turns) == wantTurns && e.QueueLen(session) == 0
		for _, turn := range turns {
			if !turn.Finalized() {
				done = false
			}
		}
		if done {
			return turns
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never settled: %d turns %+v", len(turns), turns)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmit_HelloProducesTwoFinalizedTurns(t *testing.T) {
	local := responder.NewLocalWithSleep(func(time.Duration) {})
	e := newTestEngine(t, local)

	res := e.Submit(context.Background(), "s1", "  hello  ", false, "")
	if res.Queued || res.Stream == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	reply := res.Stream.Drain()
	if reply != "Hi there! How can I help you today?" {
		t.Fatalf("streamed %q", reply)
	}

	turns := waitIdle(t, e, "s1", 2)
	if turns[0].Role != chat.RoleUser || turns[0].Content != "hello" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Role != chat.RoleAssistant || turns[1].Content != reply {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
	for _, turn := range turns {
		if _, err := time.Parse(time.RFC3339Nano, turn.Timestamp); err != nil {
			t.Fatalf("bad timestamp on %+v: %v", turn, err)
		}
	}
}

func TestSubmit_QueuesInOrderAndDrainsFIFO(t *testing.T) {
	f := newSteppedResponder()
	e := newTestEngine(t, f)

	res := e.Submit(context.Background(), "s1", "A", false, "")
	if res.Queued {
		t.Fatal("first submit queued")
	}
	callA := f.next(t)

	for i, text := range []string{"B", "B", "C"} {
		qr := e.Submit(context.Background(), "s1", text, false, "")
		if !qr.Queued {
			t.Fatalf("submit %d not queued", i)
		}
	}
	// The duplicate "B" must have been dropped.
	if n := e.QueueLen("s1"); n != 2 {
		t.Fatalf("queue len = %d, want 2", n)
	}

	callA.stream.Send("ra")
	callA.stream.CloseSend()

	callB := f.next(t)
	if got := callB.lastUser(t); got != "B" {
		t.Fatalf("second reply is for %q, want B", got)
	}
	callB.stream.Send("rb")
	callB.stream.CloseSend()

	callC := f.next(t)
	if got := callC.lastUser(t); got != "C" {
		t.Fatalf("third reply is for %q, want C", got)
	}
	callC.stream.Send("rc")
	callC.stream.CloseSend()

	if got := res.Stream.Drain(); got != "rarbrc" {
		t.Fatalf("caller stream carried %q", got)
	}

	turns := waitIdle(t, e, "s1", 6)
	wantContents := []string{"A", "ra", "B", "rb", "C", "rc"}
	for i, want := range wantContents {
		if turns[i].Content != want {
			t.Fatalf("turn %d = %+v, want content %q", i, turns[i], want)
		}
	}
}

func TestSubmit_EmptyTextIsNotQueued(t *testing.T) {
	f := newSteppedResponder()
	e := newTestEngine(t, f)

	e.Submit(context.Background(), "s1", "A", false, "")
	call := f.next(t)

	qr := e.Submit(context.Background(), "s1", "   ", false, "")
	if !qr.Queued || qr.QueueLen != 0 {
		t.Fatalf("blank submit while streaming: %+v", qr)
	}

	call.stream.CloseSend()
	waitIdle(t, e, "s1", 2)
}

func TestSubmit_AbandonedConsumerStillFinalizesAndDrains(t *testing.T) {
	f := newSteppedResponder()
	e := newTestEngine(t, f)

	res := e.Submit(context.Background(), "s1", "A", false, "")
	callA := f.next(t)

	if qr := e.Submit(context.Background(), "s1", "B", false, ""); !qr.Queued {
		t.Fatal("second submit not queued")
	}

	callA.stream.Send("par")
	if chunk, ok := res.Stream.Recv(); !ok || chunk != "par" {
		t.Fatalf("Recv = %q, %v", chunk, ok)
	}
	res.Stream.Close()

	// After abandonment the engine stops forwarding and closes the
	// responder stream under it.
	for i := 0; ; i++ {
		if !callA.stream.Send("tial") {
			break
		}
		if i > 100 {
			t.Fatal("engine kept accepting chunks after consumer left")
		}
		time.Sleep(5 * time.Millisecond)
	}
	callA.stream.CloseSend()

	// The queued message is still processed, just with nobody listening.
	callB := f.next(t)
	if got := callB.lastUser(t); got != "B" {
		t.Fatalf("drained reply is for %q, want B", got)
	}
	callB.stream.Send("rb")
	callB.stream.CloseSend()

	turns := waitIdle(t, e, "s1", 4)
	if turns[1].Content == "" {
		t.Fatal("abandoned reply finalized empty instead of partial")
	}
	if turns[3].Content != "rb" {
		t.Fatalf("queued reply = %+v", turns[3])
	}
}

func TestSubmit_ResponderFailureBecomesErrorTurn(t *testing.T) {
	e := newTestEngine(t, errResponder{err: errors.New("boom")})

	res := e.Submit(context.Background(), "s1", "hi", false, "")
	got := res.Stream.Drain()
	want := fmt.Sprintf("(assistant error) %v", errors.New("boom"))
	if got != want {
		t.Fatalf("streamed %q, want %q", got, want)
	}

	turns := waitIdle(t, e, "s1", 2)
	if turns[1].Content != want {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestClear_RefusedWhileStreaming(t *testing.T) {
	f := newSteppedResponder()
	e := newTestEngine(t, f)

	e.Submit(context.Background(), "s1", "A", false, "")
	call := f.next(t)

	if err := e.Clear("s1"); !errors.Is(err, ErrStreaming) {
		t.Fatalf("Clear mid-stream = %v, want ErrStreaming", err)
	}

	call.stream.CloseSend()
	waitIdle(t, e, "s1", 2)

	if err := e.Clear("s1"); err != nil {
		t.Fatalf("Clear while idle: %v", err)
	}
	if turns := e.History("s1"); len(turns) != 0 {
		t.Fatalf("history after clear: %+v", turns)
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == "" || a == b {
		t.Fatalf("ids %q and %q", a, b)
	}
}

// Package engine owns the chat session state machine: it serializes
// submitted user messages against the history store, invokes a responder,
// streams chunks to the caller, and enforces at most one in-flight response
// per session with FIFO queueing for input that arrives mid-stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/chat"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/responder"
)

// ErrStreaming is returned by Clear while a response is in flight. Clearing
// mid-stream is a caller error, not something the engine mediates.
var ErrStreaming = errors.New("session is streaming")

type Engine struct {
	store  *history.Store
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState

	// selectResponder picks the variant for one submit.
	selectResponder Selector
}

// Selector picks the responder variant for one submit.
type Selector func(useExternal bool, model string) responder.Responder

// DefaultSelector applies the spec'd selection rule: external only when
// asked for and configured, local otherwise.
func DefaultSelector(cfg responder.Config) Selector {
	local := responder.NewLocal()
	return func(useExternal bool, model string) responder.Responder {
		return responder.Select(cfg, local, useExternal, model)
	}
}

// sessionState is per-session ephemeral control data. It lives only for the
// process lifetime and is never persisted.
type sessionState struct {
	inFlight bool
	queue    []string
}

func New(store *history.Store, selector Selector, logger *log.Logger) *Engine {
	return &Engine{
		store:           store,
		logger:          logger,
		sessions:        map[string]*sessionState{},
		selectResponder: selector,
	}
}

// NewSessionID mints an identifier for a fresh session.
func NewSessionID() string {
	return ulid.Make().String()
}

// SubmitResult reports what happened to a submitted message. Exactly one of
// Queued or Stream is meaningful: when Queued is true the message waits its
// turn; otherwise Stream carries the assistant's reply chunks and the caller
// should drain it.
type SubmitResult struct {
	Queued   bool
	QueueLen int
	Stream   *responder.Stream
}

// Submit runs the Idle -> Streaming transition, or queues the message when
// the session is already streaming. The returned stream always terminates:
// responder failures surface as a terminal text chunk, never as an error.
func (e *Engine) Submit(ctx context.Context, session, text string, useExternal bool, model string) SubmitResult {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	st := e.state(session)
	if st.inFlight {
		if text != "" && (len(st.queue) == 0 || st.queue[len(st.queue)-1] != text) {
			st.queue = append(st.queue, text)
		}
		n := len(st.queue)
		e.mu.Unlock()
		return SubmitResult{Queued: true, QueueLen: n}
	}
	st.inFlight = true
	e.mu.Unlock()

	out := responder.NewChanStream(nil)
	r := e.selectResponder(useExternal, model)

	// The producer outlives the caller's request context: an abandoned
	// consumer must still see the placeholder finalized and the queue
	// drained.
	go e.run(context.WithoutCancel(ctx), session, text, r, out)

	return SubmitResult{Stream: out}
}

// History returns the session's turns in chronological order.
func (e *Engine) History(session string) []chat.Turn {
	return e.store.Turns(session)
}

// Clear empties the session's history. Permitted only while Idle.
func (e *Engine) Clear(session string) error {
	e.mu.Lock()
	st := e.state(session)
	if st.inFlight {
		e.mu.Unlock()
		return ErrStreaming
	}
	e.mu.Unlock()

	e.store.Clear(session)
	return nil
}

// QueueLen reports how many messages are waiting behind the current stream.
func (e *Engine) QueueLen(session string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state(session).queue)
}

// run processes the submitted message and then drains queued messages one at
// a time, re-entering the streaming transition for each without new caller
// action. The session returns to Idle only when the queue is empty.
func (e *Engine) run(ctx context.Context, session, text string, r responder.Responder, out *responder.Stream) {
	defer out.CloseSend()

	forward := true
	msg := text
	for {
		forward = e.streamOne(ctx, session, msg, r, out, forward)
		next, ok := e.popQueueOrGoIdle(session)
		if !ok {
			return
		}
		msg = next
	}
}

// streamOne handles a single user message: append the user turn, open a
// placeholder, stream the responder's chunks into it, and finalize. The
// finalize is deferred so it fires on normal exhaustion, responder failure,
// and consumer abandonment alike. Returns whether the consumer is still
// listening.
func (e *Engine) streamOne(ctx context.Context, session, text string, r responder.Responder, out *responder.Stream, forward bool) bool {
	e.store.Append(session, chat.RoleUser, text, "")
	idx := e.store.AppendPlaceholder(session)
	defer e.store.FinalizePlaceholder(session, idx)

	rs, err := r.Stream(ctx, e.store.Turns(session))
	if err != nil {
		// Failure becomes conversation content, not an error.
		if e.logger != nil {
			e.logger.Printf("responder %s failed for session %s: %v", r.Name(), session, err)
		}
		msg := fmt.Sprintf("(assistant error) %v", err)
		e.store.UpdatePlaceholder(session, idx, msg)
		if forward {
			forward = out.Send(msg)
		}
		return forward
	}

	var buf strings.Builder
	for {
		chunk, ok := rs.Recv()
		if !ok {
			break
		}
		buf.WriteString(chunk)
		e.store.UpdatePlaceholder(session, idx, buf.String())
		if forward && !out.Send(chunk) {
			// Consumer walked away: stop this responder stream and
			// finalize with what accumulated so far.
			forward = false
			rs.Close()
			break
		}
	}
	return forward
}

// popQueueOrGoIdle pops the oldest queued message, or clears the in-flight
// flag when the queue is empty. One locked step, so a Submit racing with the
// drain either queues behind it or finds the session Idle.
func (e *Engine) popQueueOrGoIdle(session string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(session)
	if len(st.queue) == 0 {
		st.inFlight = false
		return "", false
	}
	msg := st.queue[0]
	st.queue = st.queue[1:]
	return msg, true
}

func (e *Engine) state(session string) *sessionState {
	st, ok := e.sessions[session]
	if !ok {
		st = &sessionState{}
		e.sessions[session] = st
	}
	return st
}

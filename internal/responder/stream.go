package responder

import "sync"

// Stream is a single-consumer sequence of text chunks. The producer calls
// Send and CloseSend; the consumer calls Recv until it reports exhaustion,
// or Close to abandon the stream early. Close cancels the producer via the
// cancel func supplied at construction.
type Stream struct {
	ch     chan string
	done   chan struct{}
	cancel func()

	closeOnce sync.Once
	sendOnce  sync.Once
}

// NewChanStream creates a stream whose consumer-side Close invokes cancel.
func NewChanStream(cancel func()) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{
		ch:     make(chan string, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Send delivers one chunk to the consumer. It reports false once the
// consumer has abandoned the stream; producers should stop producing but may
// keep running their cleanup path.
func (s *Stream) Send(text string) bool {
	select {
	case <-s.done:
		return false
	case s.ch <- text:
		return true
	}
}

// CloseSend signals normal end of the sequence. Only the producer calls it.
func (s *Stream) CloseSend() {
	s.sendOnce.Do(func() { close(s.ch) })
}

// Recv returns the next chunk. ok is false when the sequence is exhausted.
func (s *Stream) Recv() (text string, ok bool) {
	text, ok = <-s.ch
	return text, ok
}

// Close abandons the stream from the consumer side and cancels the producer.
// Chunks still buffered are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		// Drain so a producer blocked in Send observes done promptly and
		// CloseSend can complete.
		go func() {
			for range s.ch {
			}
		}()
	})
}

// Drain consumes the rest of the stream and returns the concatenation of the
// remaining chunks.
func (s *Stream) Drain() string {
	var out string
	for {
		chunk, ok := s.Recv()
		if !ok {
			return out
		}
		out += chunk
	}
}

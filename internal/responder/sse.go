package responder

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// SSEEvent is one server-sent event. Name is empty for the default event
// type; Data holds the joined data lines.
type SSEEvent struct {
	Name string
	Data []byte
}

// ParseSSE reads a text/event-stream body and invokes fn for every complete
// event. It returns fn's first error, the reader's error, or ctx.Err() when
// the context is cancelled between events. Comment lines (leading ':') and
// fields other than event/data are ignored.
func ParseSSE(ctx context.Context, r io.Reader, fn func(SSEEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var name string
	var data []string
	flush := func() error {
		if len(data) == 0 && name == "" {
			return nil
		}
		ev := SSEEvent{Name: name, Data: []byte(strings.Join(data, "\n"))}
		name = ""
		data = data[:0]
		return fn(ev)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// Streams that end without a trailing blank line still deliver the
	// final event.
	return flush()
}

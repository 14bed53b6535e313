package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/taskdeck/taskdeck/internal/engine"
)

// validSessionID matches ULIDs and other safe identifiers. Only
// alphanumeric, dashes, and underscores are allowed.
var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	var req SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res := s.engine.Submit(s.baseCtx, session, req.Text, req.UseExternal, req.Model)
	if res.Queued {
		writeJSON(w, http.StatusAccepted, QueuedResponse{Queued: true, QueueLen: res.QueueLen})
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		// Fall back to a single JSON body with the full reply.
		text := res.Stream.Drain()
		writeJSON(w, http.StatusOK, map[string]any{"text": text})
		return
	}

	b := s.broadcaster(session)
	b.BeginReply()
	b.Send(map[string]any{"type": "user", "text": strings.TrimSpace(req.Text)})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Abandon the stream if the client disconnects; the engine still
	// finalizes the placeholder and drains the queue.
	go func() {
		<-r.Context().Done()
		res.Stream.Close()
	}()

	for {
		chunk, ok := res.Stream.Recv()
		if !ok {
			break
		}
		b.Send(map[string]any{"type": "delta", "text": chunk})
		data, err := json.Marshal(map[string]any{"delta": chunk})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	b.Send(map[string]any{"type": "final"})
	fmt.Fprintf(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	body, err := json.Marshal(HistoryResponse{Session: session, Turns: s.engine.History(session)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("marshal history: %v", err))
		return
	}

	// Content-addressed ETag lets pollers skip unchanged histories.
	sum := blake3.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Clear(session); err != nil {
		if errors.Is(err, engine.ErrStreaming) {
			writeError(w, http.StatusConflict, "cannot clear while a reply is streaming")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcaster(session).Send(map[string]any{"type": "cleared"})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, s.broadcaster(session))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, msg := s.tasks.List(r.Context(), limit)
	writeJSON(w, http.StatusOK, TasksResponse{Tasks: list, Message: msg})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, msg := s.tasks.Statistics(r.Context())
	if msg != "" {
		writeError(w, http.StatusBadGateway, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// sessionID resolves the session for a request: the X-Session-ID header,
// "new" to mint a fresh ULID, or the configured default when absent. The
// resolved ID is echoed back so clients can stick to it.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Session-ID"))
	switch {
	case id == "":
		id = s.config.DefaultSession
	case id == "new":
		id = engine.NewSessionID()
	case !validSessionID.MatchString(id):
		writeError(w, http.StatusBadRequest, "session id must be alphanumeric with dashes/underscores, 1-128 chars")
		return "", false
	}
	w.Header().Set("X-Session-ID", id)
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Package history is the durable log of chat turns. One JSON file per
// session, fully rewritten on every mutation, cached in memory after the
// first load. The store is the single source of truth for a conversation;
// nothing else writes the log.
package history

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/taskdeck/taskdeck/internal/chat"
)

type Store struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	cache map[string][]chat.Turn

	// now is the finalization clock. Overridable in tests.
	now func() string
}

func NewStore(dir string, logger *log.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  map[string][]chat.Turn{},
		now:    chat.Now,
	}
}

// Turns returns a copy of the session's history, loading it from disk on
// first access. Storage errors degrade to an empty history; the caller never
// sees a failure.
func (s *Store) Turns(session string) []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.load(session)
	out := make([]chat.Turn, len(turns))
	copy(out, turns)
	return out
}

// Append normalizes content and appends a finalized turn. Empty user turns
// and turns that repeat the immediately preceding (role, content) pair are
// dropped silently. An empty ts means "now".
func (s *Store) Append(session string, role chat.Role, content, ts string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" && role == chat.RoleUser {
		return
	}
	turns := s.load(session)
	if n := len(turns); n > 0 {
		last := turns[n-1]
		if last.Role == role && last.Content == content {
			// Idempotent append: double-submit produces one turn.
			return
		}
	}
	if ts == "" {
		ts = s.now()
	}
	s.cache[session] = append(turns, chat.Turn{Role: role, Content: content, Timestamp: ts})
	s.persist(session)
}

// AppendPlaceholder appends an empty assistant turn with no timestamp and
// returns its index. If an open placeholder already exists it is reused, so
// at most one unfinalized turn exists at any instant.
func (s *Store) AppendPlaceholder(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.load(session)
	for i := range turns {
		if !turns[i].Finalized() {
			return i
		}
	}
	s.cache[session] = append(turns, chat.Placeholder())
	s.persist(session)
	return len(s.cache[session]) - 1
}

// UpdatePlaceholder overwrites the content of the turn at idx in place,
// leaving its timestamp untouched, and persists the new snapshot.
func (s *Store) UpdatePlaceholder(session string, idx int, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.load(session)
	if idx < 0 || idx >= len(turns) {
		return
	}
	turns[idx].Content = content
	s.persist(session)
}

// FinalizePlaceholder stamps the turn at idx with the current instant. A
// turn that is already finalized is left alone.
func (s *Store) FinalizePlaceholder(session string, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.load(session)
	if idx < 0 || idx >= len(turns) || turns[idx].Finalized() {
		return
	}
	turns[idx].Timestamp = s.now()
	s.persist(session)
}

// Clear empties the session's history and persists the empty log.
func (s *Store) Clear(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[session] = []chat.Turn{}
	s.persist(session)
}

// load returns the cached history, reading and validating the log file on
// first access. Missing, unreadable, or malformed logs become empty.
func (s *Store) load(session string) []chat.Turn {
	if turns, ok := s.cache[session]; ok {
		return turns
	}
	turns := []chat.Turn{}
	if b, err := os.ReadFile(s.path(session)); err == nil {
		if err := validateLog(b); err != nil {
			s.logf("history: invalid log for session %s, starting empty: %v", session, err)
		} else if err := json.Unmarshal(b, &turns); err != nil {
			s.logf("history: unreadable log for session %s, starting empty: %v", session, err)
			turns = []chat.Turn{}
		}
	}
	s.cache[session] = turns
	return turns
}

// persist rewrites the session's log atomically (write-temp-then-rename) so
// concurrent readers never observe a partially written file. Failure is
// logged and swallowed; the in-memory history stays authoritative.
func (s *Store) persist(session string) {
	turns := s.cache[session]
	if turns == nil {
		turns = []chat.Turn{}
	}
	b, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		s.logf("history: marshal session %s: %v", session, err)
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logf("history: create dir: %v", err)
		return
	}
	tmp, err := os.CreateTemp(s.dir, ".taskdeck-history-*")
	if err != nil {
		s.logf("history: temp file: %v", err)
		return
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(b)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		s.logf("history: write session %s: %v %v", session, werr, cerr)
		return
	}
	if err := os.Rename(tmpName, s.path(session)); err != nil {
		_ = os.Remove(tmpName)
		s.logf("history: replace session %s: %v", session, err)
	}
}

func (s *Store) path(session string) string {
	return filepath.Join(s.dir, session+".json")
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

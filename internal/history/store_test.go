package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskdeck/taskdeck/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil)
}

func readLog(t *testing.T, s *Store, session string) []chat.Turn {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(s.dir, session+".json"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var turns []chat.Turn
	if err := json.Unmarshal(b, &turns); err != nil {
		t.Fatalf("parse log: %v", err)
	}
	return turns
}

func TestAppend_PersistsAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "hello", "")

	turns := s.Turns("u")
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[0].Content != "hello" {
		t.Fatalf("unexpected turn: %+v", turns[0])
	}
	if !turns[0].Finalized() {
		t.Fatal("appended turn should have a timestamp")
	}

	onDisk := readLog(t, s, "u")
	if len(onDisk) != 1 || onDisk[0].Content != "hello" {
		t.Fatalf("log on disk does not match: %+v", onDisk)
	}
}

func TestAppend_DropsConsecutiveDuplicates(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "same", "")
	s.Append("u", chat.RoleUser, "same", "")
	if n := len(s.Turns("u")); n != 1 {
		t.Fatalf("duplicate append produced %d turns, want 1", n)
	}

	// A different turn in between makes the repeat legal again.
	s.Append("u", chat.RoleAssistant, "reply", "")
	s.Append("u", chat.RoleUser, "same", "")
	if n := len(s.Turns("u")); n != 3 {
		t.Fatalf("non-adjacent repeat suppressed: got %d turns, want 3", n)
	}
}

func TestAppend_RejectsEmptyUserContent(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "", "")
	s.Append("u", chat.RoleUser, "   ", "")
	s.Append("u", chat.RoleUser, "\n\t", "")
	if n := len(s.Turns("u")); n != 0 {
		t.Fatalf("empty user content appended: %d turns", n)
	}
}

func TestAppend_TrimsContent(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "  hi there  ", "")
	if got := s.Turns("u")[0].Content; got != "hi there" {
		t.Fatalf("content not trimmed: %q", got)
	}
}

func TestAppendPlaceholder_SingleOpenPlaceholder(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "hi", "")

	idx := s.AppendPlaceholder("u")
	if idx != 1 {
		t.Fatalf("placeholder index = %d, want 1", idx)
	}
	// A second call must reuse the open placeholder, not create another.
	if again := s.AppendPlaceholder("u"); again != idx {
		t.Fatalf("placeholder not reused: got %d, want %d", again, idx)
	}

	open := 0
	for _, turn := range s.Turns("u") {
		if !turn.Finalized() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("%d open placeholders, want 1", open)
	}
}

func TestUpdateThenFinalizePlaceholder(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "hi", "")
	idx := s.AppendPlaceholder("u")

	s.UpdatePlaceholder("u", idx, "part")
	s.UpdatePlaceholder("u", idx, "partial reply")

	turns := s.Turns("u")
	if turns[idx].Content != "partial reply" {
		t.Fatalf("placeholder content = %q", turns[idx].Content)
	}
	if turns[idx].Finalized() {
		t.Fatal("placeholder finalized too early")
	}

	s.FinalizePlaceholder("u", idx)
	turns = s.Turns("u")
	if !turns[idx].Finalized() {
		t.Fatal("placeholder not finalized")
	}
	ts := turns[idx].Timestamp

	// Finalize is idempotent: the timestamp is set exactly once.
	s.FinalizePlaceholder("u", idx)
	if got := s.Turns("u")[idx].Timestamp; got != ts {
		t.Fatalf("timestamp rewritten: %q -> %q", ts, got)
	}
}

func TestClear_PersistsEmptyLog(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "hi", "")
	s.Clear("u")

	if n := len(s.Turns("u")); n != 0 {
		t.Fatalf("history not cleared: %d turns", n)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, "u.json"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("persisted log = %q, want []", b)
	}
}

func TestLoad_ReadsExistingLog(t *testing.T) {
	dir := t.TempDir()
	first := NewStore(dir, nil)
	first.Append("u", chat.RoleUser, "hello", "")
	first.Append("u", chat.RoleAssistant, "hi!", "")

	second := NewStore(dir, nil)
	turns := second.Turns("u")
	if len(turns) != 2 || turns[1].Content != "hi!" {
		t.Fatalf("reloaded history mismatch: %+v", turns)
	}
}

func TestLoad_CorruptLogDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "u.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, nil)
	if n := len(s.Turns("u")); n != 0 {
		t.Fatalf("corrupt log yielded %d turns, want 0", n)
	}
	// The store stays usable.
	s.Append("u", chat.RoleUser, "fresh start", "")
	if n := len(s.Turns("u")); n != 1 {
		t.Fatalf("store unusable after corrupt load: %d turns", n)
	}
}

func TestLoad_SchemaViolationDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	// Valid JSON, wrong shape: role outside the enum.
	bad := `[{"role": "system", "content": "x", "ts": ""}]`
	if err := os.WriteFile(filepath.Join(dir, "u.json"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, nil)
	if n := len(s.Turns("u")); n != 0 {
		t.Fatalf("schema-violating log yielded %d turns, want 0", n)
	}
}

func TestTurns_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	s.Append("u", chat.RoleUser, "hi", "")
	turns := s.Turns("u")
	turns[0].Content = "mutated"
	if got := s.Turns("u")[0].Content; got != "hi" {
		t.Fatalf("caller mutation leaked into store: %q", got)
	}
}

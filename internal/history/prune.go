package history

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Prune removes session log files whose last modification is older than
// maxAge. Files whose base name matches any keep glob are retained
// regardless of age. Returns the names of pruned sessions.
func (s *Store) Prune(maxAge time.Duration, keepGlobs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxAge <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)

	var pruned []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if matchesAny(keepGlobs, name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		session := strings.TrimSuffix(name, ".json")
		if _, loaded := s.cache[session]; loaded {
			// Never prune a session this process is actively using.
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logf("history: prune %s: %v", name, err)
			continue
		}
		pruned = append(pruned, session)
	}
	return pruned
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if g == "" {
			continue
		}
		if ok, err := doublestar.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}

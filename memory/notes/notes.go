// Package notes is the human-editable half of memory: plain markdown files
// in the workspace that the user can read and edit directly, injected into
// the prompt alongside vector recall.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	longTermFile = "MEMORY.md"

	longTermHeader = "## Long-term Memory"
	dailyHeader    = "## Today's Notes"

	// Long-term memory's fixed share of the budget, and the minimum
	// leftover worth spending on today's note at all.
	longTermShare = 0.6
	minRemainder  = 100

	truncationMarker  = "... (truncated)"
	truncationReserve = 20
)

// separators are tried in order when looking for a clean cut point.
var separators = []string{"\n\n", ".\n", ". ", "\n"}

// Store reads and writes the markdown notes under a memory directory.
type Store struct {
	dir    string
	logger *log.Logger

	// now is swapped in tests to pin the daily filename.
	now func() time.Time
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Store{dir: dir, logger: logger, now: time.Now}, nil
}

// LongTerm returns the contents of MEMORY.md, empty when absent.
func (s *Store) LongTerm() (string, error) {
	return s.read(filepath.Join(s.dir, longTermFile))
}

// Today returns the contents of today's daily note, empty when absent.
func (s *Store) Today() (string, error) {
	return s.read(s.todayPath())
}

// WriteLongTerm atomically replaces MEMORY.md.
func (s *Store) WriteLongTerm(content string) error {
	return s.writeAtomic(filepath.Join(s.dir, longTermFile), content)
}

// AppendToday appends a timestamped line to today's note.
func (s *Store) AppendToday(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	path := s.todayPath()
	existing, err := s.read(path)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString(existing)
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "- %s %s\n", s.now().Format("15:04"), line)
	return s.writeAtomic(path, sb.String())
}

// Context renders both notes files into one prompt section bounded by
// maxChars. Long-term memory is capped at 60% of the budget; whatever it
// leaves unused goes to today's note, which is included only when the
// leftover is worth more than a token-sized scrap.
func (s *Store) Context(maxChars int) (string, error) {
	if maxChars <= 0 {
		return "", nil
	}
	longTerm, err := s.LongTerm()
	if err != nil {
		return "", err
	}
	daily, err := s.Today()
	if err != nil {
		return "", err
	}
	longTerm = strings.TrimSpace(longTerm)
	daily = strings.TrimSpace(daily)
	if longTerm == "" && daily == "" {
		return "", nil
	}

	var sections []string
	used := 0
	if longTerm != "" {
		excerpt := truncate(longTerm, int(float64(maxChars)*longTermShare))
		sections = append(sections, longTermHeader+"\n"+excerpt)
		used = len(excerpt)
	}
	if remaining := maxChars - used; daily != "" && remaining > minRemainder {
		sections = append(sections, dailyHeader+"\n"+truncate(daily, remaining))
	}
	return strings.Join(sections, "\n\n"), nil
}

// Dir returns the notes directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) todayPath() string {
	return filepath.Join(s.dir, s.now().Format("2006-01-02")+".md")
}

func (s *Store) read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read notes file: %w", err)
	}
	return string(data), nil
}

// writeAtomic writes via a temp file and rename, so a crash never leaves a
// half-written notes file.
func (s *Store) writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(s.dir, ".notes-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace notes file: %w", err)
	}
	s.logger.Debug("notes updated", "file", filepath.Base(path))
	return nil
}

// truncate cuts text to at most maxChars, preferring a sentence or
// paragraph boundary in the second half of the budget over a mid-word cut,
// and marks the truncation.
func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	if maxChars <= truncationReserve {
		return truncationMarker[:min(len(truncationMarker), maxChars)]
	}

	cutAt := maxChars - truncationReserve
	window := text[:cutAt]
	for _, sep := range separators {
		if pos := strings.LastIndex(window, sep); pos > cutAt/2 {
			return strings.TrimSpace(text[:pos+len(sep)]) + "\n" + truncationMarker
		}
	}
	if pos := strings.LastIndex(window, " "); pos > cutAt/2 {
		return text[:pos] + "\n" + truncationMarker
	}
	return window + "\n" + truncationMarker
}

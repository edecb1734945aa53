package actioncache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Operation names understood by the act capability.
const (
	OpClick = "click"
	OpFill  = "fill"
)

// Entry maps (instruction, URL) to a previously resolved target.
type Entry struct {
	Instruction string `json:"instruction"`
	URL         string `json:"url"`
	Selector    string `json:"selector"`
	Operation   string `json:"operation"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	Hits        int    `json:"hits"`
}

// Store reads and writes entries of one workflow directory. Each entry is a
// JSON file named after the hash of its key.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at workflowDir.
func NewStore(workflowDir string) *Store {
	return &Store{dir: workflowDir}
}

// Dir returns the workflow directory.
func (s *Store) Dir() string { return s.dir }

// Key derives the file key for (instruction, url).
func Key(instruction, url string) string {
	sum := sha256.Sum256([]byte(instruction + "\x00" + url))
	return hex.EncodeToString(sum[:16])
}

func (s *Store) path(instruction, url string) string {
	return filepath.Join(s.dir, Key(instruction, url)+".json")
}

// Get returns the entry for (instruction, url), or nil on a miss.
func (s *Store) Get(instruction, url string) (*Entry, error) {
	data, err := os.ReadFile(s.path(instruction, url))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("actioncache: read: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is a miss; the next Put replaces it.
		return nil, nil
	}
	return &e, nil
}

// Put writes e, replacing any previous entry for the same key.
func (s *Store) Put(e *Entry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("actioncache: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("actioncache: marshal: %w", err)
	}

	dst := s.path(e.Instruction, e.URL)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("actioncache: write: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("actioncache: rename: %w", err)
	}
	return nil
}

// Len counts entries on disk.
func (s *Store) Len() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

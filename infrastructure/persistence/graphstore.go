package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"graphweaver/domain/graph"
	"graphweaver/pkg/errors"
)

// GraphStore persists the master graph document. Save failures are fatal to
// the caller by contract: a half-written master graph must never reach
// downstream consumers.
type GraphStore struct {
	path   string
	logger *zap.Logger
}

// NewGraphStore builds a store for the master graph at path.
func NewGraphStore(path string, logger *zap.Logger) *GraphStore {
	return &GraphStore{path: path, logger: logger}
}

// Load reads the master graph; a missing file yields an empty document.
func (s *GraphStore) Load() (*graph.Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("master graph not found, starting empty", zap.String("path", s.path))
			return &graph.Document{}, nil
		}
		return nil, errors.NewInternal("failed to read master graph", err)
	}
	var doc graph.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewInternal("failed to parse master graph", err)
	}
	return &doc, nil
}

// Save writes the document atomically.
func (s *GraphStore) Save(doc *graph.Document) error {
	if err := writeJSONAtomic(s.path, doc); err != nil {
		return err
	}
	s.logger.Info("master graph saved",
		zap.String("path", s.path),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("relationships", len(doc.Relationships)))
	return nil
}

// ProcessedLog is the append-only record of merged fragment basenames.
type ProcessedLog struct {
	path string
}

// NewProcessedLog builds a log at path.
func NewProcessedLog(path string) *ProcessedLog {
	return &ProcessedLog{path: path}
}

// Load returns the set of already-merged basenames.
func (l *ProcessedLog) Load() (map[string]struct{}, error) {
	set := make(map[string]struct{})
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, errors.NewInternal("failed to open processed log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			set[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternal("failed to read processed log", err)
	}
	return set, nil
}

// Append records basenames as merged.
func (l *ProcessedLog) Append(basenames []string) error {
	if len(basenames) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.NewInternal("failed to create log directory", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewInternal("failed to open processed log", err)
	}
	defer f.Close()
	for _, name := range basenames {
		if _, err := f.WriteString(name + "\n"); err != nil {
			return errors.NewInternal("failed to append to processed log", err)
		}
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeFilename replaces characters unsafe in file names.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// FragmentStore lays fragments out as
// <root>/<category>/<sanitized-name>/<sanitized-name>_<timestamp>.json and
// keeps only the newest fragment per entity.
type FragmentStore struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewFragmentStore builds a fragment store rooted at root.
func NewFragmentStore(root string, logger *zap.Logger) *FragmentStore {
	return &FragmentStore{root: root, logger: logger, now: time.Now}
}

// Write stores a fragment for the named entity and removes older fragments
// in the same directory.
func (s *FragmentStore) Write(category, name string, doc *graph.Document) (string, error) {
	safe := SanitizeFilename(name)
	dir := filepath.Join(s.root, category, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewInternal("failed to create fragment directory", err)
	}

	stamp := s.now().Format("2006-01-02-15-04-05")
	path := filepath.Join(dir, safe+"_"+stamp+".json")
	if err := writeJSONAtomic(path, doc); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return path, nil
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if e.Name() != filepath.Base(path) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				s.logger.Warn("failed to remove stale fragment",
					zap.String("file", e.Name()), zap.Error(err))
			}
		}
	}
	return path, nil
}

var fragmentStampPattern = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})\.json$`)

// LatestFragmentTime returns when the entity's newest fragment was written,
// from the timestamp embedded in the file name. ok is false when the entity
// has never been processed.
func (s *FragmentStore) LatestFragmentTime(category, name string) (time.Time, bool) {
	dir := filepath.Join(s.root, category, SanitizeFilename(name))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, false
	}
	var latest time.Time
	found := false
	for _, e := range entries {
		m := fragmentStampPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02-15-04-05", m[1], time.Local)
		if err != nil {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	return latest, found
}

// Unmerged walks the fragment tree and returns every JSON fragment whose
// basename is not in the processed set, sorted for deterministic merging.
func (s *FragmentStore) Unmerged(processed map[string]struct{}) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		if _, done := processed[d.Name()]; !done {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewInternal("failed to scan fragments", err)
	}
	sort.Strings(out)
	return out, nil
}

// Read loads one fragment document.
func (s *FragmentStore) Read(path string) (*graph.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInternal("failed to read fragment "+path, err)
	}
	var doc graph.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewInternal("failed to parse fragment "+path, err)
	}
	return &doc, nil
}

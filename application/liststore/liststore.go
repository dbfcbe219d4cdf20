// Package liststore owns the watch-list file: a markdown file of names
// grouped under `##` category headers. Every mutation rewrites the file, so
// concurrent pipeline steps share one store behind its mutex.
package liststore

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"graphweaver/pkg/errors"
	"graphweaver/pkg/zh"
)

// Entry is one watch-list line.
type Entry struct {
	Line string // line as written, including any language prefix
	Name string // display name without the prefix
	Lang string // language code, default zh
}

// Section is one category block in file order.
type Section struct {
	Category string
	Comments []string
	Entries  []Entry
}

var langPrefixPattern = regexp.MustCompile(`^\(([a-z]{2,3})\)\s*(.+)$`)

// Store serializes all access to the watch-list file.
type Store struct {
	mu     sync.Mutex
	path   string
	conv   *zh.Converter
	logger *zap.Logger
}

// New creates a store for the file at path.
func New(path string, conv *zh.Converter, logger *zap.Logger) *Store {
	return &Store{path: path, conv: conv, logger: logger}
}

func parseEntry(line string) Entry {
	if m := langPrefixPattern.FindStringSubmatch(line); m != nil {
		return Entry{Line: line, Name: strings.TrimSpace(m[2]), Lang: m[1]}
	}
	return Entry{Line: line, Name: line, Lang: "zh"}
}

func (s *Store) load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read watch list")
	}
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
}

func (s *Store) save(lines []string) error {
	out := strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	if err := os.WriteFile(s.path, []byte(out), 0o644); err != nil {
		return errors.Wrap(err, "failed to write watch list")
	}
	return nil
}

func isHeader(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "##")
}

func headerCategory(line string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "##")))
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "//")
}

func parseSections(lines []string) []Section {
	var sections []Section
	current := -1
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
		case isHeader(line):
			sections = append(sections, Section{Category: headerCategory(line)})
			current = len(sections) - 1
		case isComment(line):
			if current >= 0 {
				sections[current].Comments = append(sections[current].Comments, line)
			}
		default:
			if current >= 0 {
				sections[current].Entries = append(sections[current].Entries, parseEntry(line))
			}
		}
	}
	return sections
}

// Parse returns the category blocks in file order.
func (s *Store) Parse() ([]Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.load()
	if err != nil {
		return nil, err
	}
	return parseSections(lines), nil
}

// normalizedKeys builds the simplified-form dedup set over every entry.
func (s *Store) normalizedKeys(lines []string) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, sec := range parseSections(lines) {
		for _, e := range sec.Entries {
			keys[s.conv.NormalizeKey(e.Name)] = struct{}{}
		}
	}
	return keys
}

// AddTitle appends a title under the `## new` section unless its simplified
// form is already present anywhere in the file. Idempotent.
func (s *Store) AddTitle(title string) error {
	return s.AddTitles(title)
}

// AddTitles adds a batch, deduplicating internally and against the file.
func (s *Store) AddTitles(titles ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.load()
	if err != nil {
		return err
	}
	keys := s.normalizedKeys(lines)

	var fresh []string
	for _, title := range titles {
		name := zh.NormalizeTitle(title)
		if name == "" {
			continue
		}
		key := s.conv.NormalizeKey(name)
		if _, dup := keys[key]; dup {
			continue
		}
		keys[key] = struct{}{}
		fresh = append(fresh, name)
	}
	if len(fresh) == 0 {
		return nil
	}

	lines = insertUnderNew(lines, fresh)
	s.logger.Info("watch list extended", zap.Int("added", len(fresh)))
	return s.save(lines)
}

// insertUnderNew places names at the end of the `## new` block, creating the
// block at end of file when absent.
func insertUnderNew(lines []string, names []string) []string {
	start := -1
	for i, line := range lines {
		if isHeader(line) && headerCategory(line) == "new" {
			start = i
			break
		}
	}
	if start < 0 {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, "## new")
		return append(lines, names...)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if isHeader(lines[i]) {
			end = i
			break
		}
	}
	// keep the trailing blank lines of the block after the inserted names
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, 0, len(lines)+len(names))
	out = append(out, lines[:end]...)
	out = append(out, names...)
	return append(out, lines[end:]...)
}

// UpdateTitle rewrites the line holding oldTitle. When newTitle already
// exists elsewhere (simplified comparison) the old line is deleted instead.
func (s *Store) UpdateTitle(oldTitle, newTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.load()
	if err != nil {
		return err
	}

	oldKey := s.conv.NormalizeKey(zh.NormalizeTitle(oldTitle))
	newName := zh.NormalizeTitle(newTitle)
	newKey := s.conv.NormalizeKey(newName)

	newExists := false
	for _, sec := range parseSections(lines) {
		for _, e := range sec.Entries {
			if s.conv.NormalizeKey(e.Name) == newKey {
				newExists = true
			}
		}
	}

	changed := false
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHeader(trimmed) || isComment(trimmed) {
			out = append(out, line)
			continue
		}
		e := parseEntry(trimmed)
		if s.conv.NormalizeKey(e.Name) != oldKey {
			out = append(out, line)
			continue
		}
		changed = true
		if newExists {
			continue // dedup: drop the stale line
		}
		if e.Lang != "zh" {
			out = append(out, "("+e.Lang+") "+newName)
		} else {
			out = append(out, newName)
		}
		newExists = true
	}
	if !changed {
		return nil
	}
	return s.save(out)
}

// RemoveTitle deletes every line whose simplified form matches title.
func (s *Store) RemoveTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.load()
	if err != nil {
		return err
	}
	key := s.conv.NormalizeKey(zh.NormalizeTitle(title))

	changed := false
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !isHeader(trimmed) && !isComment(trimmed) &&
			s.conv.NormalizeKey(parseEntry(trimmed).Name) == key {
			changed = true
			continue
		}
		out = append(out, line)
	}
	if !changed {
		return nil
	}
	return s.save(out)
}

// RewriteSorted rewrites the file with each category's entries ordered by
// descending rank (typically average daily views), keeping headers and
// comments. Entries with equal rank sort by name for stability.
func (s *Store) RewriteSorted(rank func(name string) float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.load()
	if err != nil {
		return err
	}
	sections := parseSections(lines)

	var out []string
	for i, sec := range sections {
		if i > 0 {
			out = append(out, "")
		}
		out = append(out, "## "+sec.Category)
		out = append(out, sec.Comments...)

		entries := append([]Entry(nil), sec.Entries...)
		sort.SliceStable(entries, func(a, b int) bool {
			ra, rb := rank(entries[a].Name), rank(entries[b].Name)
			if ra != rb {
				return ra > rb
			}
			return entries[a].Name < entries[b].Name
		})
		for _, e := range entries {
			out = append(out, e.Line)
		}
	}
	return s.save(out)
}

// Item is one entry paired with its category, as consumed by the processor.
type Item struct {
	Name     string
	Category string
	Lang     string
}

// Items returns every entry in file order with its category.
func (s *Store) Items() ([]Item, error) {
	sections, err := s.Parse()
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, sec := range sections {
		for _, e := range sec.Entries {
			out = append(out, Item{Name: e.Name, Category: sec.Category, Lang: e.Lang})
		}
	}
	return out, nil
}

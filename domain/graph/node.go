// Package graph holds the master-graph domain model: typed nodes keyed by
// Wikidata Q-codes (or temporary fallback IDs), typed relationships with
// per-type endpoint rules, and the indexes used for identity resolution.
package graph

import (
	"regexp"
	"sort"
	"strings"
)

// NodeType classifies an entity in the graph.
type NodeType string

const (
	TypePerson       NodeType = "Person"
	TypeOrganization NodeType = "Organization"
	TypeMovement     NodeType = "Movement"
	TypeEvent        NodeType = "Event"
	TypeLocation     NodeType = "Location"
	TypeDocument     NodeType = "Document"
)

// AllNodeTypes is the closed set of valid node types.
var AllNodeTypes = []NodeType{
	TypePerson, TypeOrganization, TypeMovement,
	TypeEvent, TypeLocation, TypeDocument,
}

// ParseNodeType maps a watch-list category name (case-insensitive, singular)
// to a NodeType. ok is false for unknown categories such as "new".
func ParseNodeType(category string) (NodeType, bool) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "person":
		return TypePerson, true
	case "organization":
		return TypeOrganization, true
	case "movement":
		return TypeMovement, true
	case "event":
		return TypeEvent, true
	case "location":
		return TypeLocation, true
	case "document":
		return TypeDocument, true
	}
	return "", false
}

// IsValidNodeType reports whether t is in the closed node-type set.
func IsValidNodeType(t NodeType) bool {
	for _, v := range AllNodeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Temporary-ID prefixes for entities that exist only on fallback sources.
const (
	TempPrefixBaidu = "BAIDU:"
	TempPrefixCDT   = "CDT:"
)

var qcodePattern = regexp.MustCompile(`^Q\d+$`)

// IsQcode reports whether id is a Wikidata entity identifier.
func IsQcode(id string) bool {
	return qcodePattern.MatchString(id)
}

// IsTemporaryID reports whether id uses one of the fallback-source prefixes.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempPrefixBaidu) || strings.HasPrefix(id, TempPrefixCDT)
}

// TemporaryOriginalName strips the temp prefix, returning the entity name the
// ID was minted from. Names are stored verbatim, spaces included.
func TemporaryOriginalName(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Node is an entity in the master graph. Name maps a language key (zh-cn,
// en, ...) to an ordered list whose first element is the canonical name for
// that language; the rest are sorted aliases.
type Node struct {
	ID         string              `json:"id"`
	Type       NodeType            `json:"type"`
	Name       map[string][]string `json:"name"`
	Properties map[string]any      `json:"properties,omitempty"`
}

// PrimaryLang picks the node's leading language key with the preference
// zh-cn, then en, then the lexicographically first remaining key.
func (n *Node) PrimaryLang() string {
	if len(n.Name) == 0 {
		return ""
	}
	for _, lang := range []string{"zh-cn", "en"} {
		if len(n.Name[lang]) > 0 {
			return lang
		}
	}
	keys := make([]string, 0, len(n.Name))
	for k := range n.Name {
		if len(n.Name[k]) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// PrimaryName returns the canonical name in the given language, or "" when
// the language is absent.
func (n *Node) PrimaryName(lang string) string {
	if names := n.Name[lang]; len(names) > 0 {
		return names[0]
	}
	return ""
}

// DisplayName resolves a human-readable name with the standard language
// preference, falling back to the node ID.
func (n *Node) DisplayName() string {
	if lang := n.PrimaryLang(); lang != "" {
		return n.Name[lang][0]
	}
	return n.ID
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := &Node{ID: n.ID, Type: n.Type}
	if n.Name != nil {
		cp.Name = make(map[string][]string, len(n.Name))
		for lang, names := range n.Name {
			cp.Name[lang] = append([]string(nil), names...)
		}
	}
	cp.Properties = cloneAnyMap(n.Properties)
	return cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneAnyMap(t)
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}

// MergeNameLists combines existing and new multilingual name maps.
// For each language the canonical name is picked with the priority
// override > existing canonical > new primary; the final list is
// [canonical] followed by the remaining names sorted and deduplicated.
// The override applies to primaryLang only (it carries e.g. the
// simplified form of a simp/trad redirect target).
func MergeNameLists(existing, fresh map[string][]string, primaryLang, canonicalOverride string) map[string][]string {
	merged := make(map[string][]string, len(existing)+len(fresh))
	langs := make(map[string]struct{}, len(existing)+len(fresh))
	for lang := range existing {
		langs[lang] = struct{}{}
	}
	for lang := range fresh {
		langs[lang] = struct{}{}
	}

	for lang := range langs {
		existingNames := existing[lang]
		newNames := fresh[lang]

		var canonical string
		switch {
		case lang == primaryLang && canonicalOverride != "":
			canonical = canonicalOverride
		case len(existingNames) > 0:
			canonical = existingNames[0]
		case len(newNames) > 0:
			canonical = newNames[0]
		}

		set := make(map[string]struct{}, len(existingNames)+len(newNames)+1)
		for _, name := range existingNames {
			if name != "" {
				set[name] = struct{}{}
			}
		}
		for _, name := range newNames {
			if name != "" {
				set[name] = struct{}{}
			}
		}
		if canonical != "" {
			set[canonical] = struct{}{}
			delete(set, canonical)
			aliases := make([]string, 0, len(set))
			for name := range set {
				aliases = append(aliases, name)
			}
			sort.Strings(aliases)
			merged[lang] = append([]string{canonical}, aliases...)
		} else if len(set) > 0 {
			names := make([]string, 0, len(set))
			for name := range set {
				names = append(names, name)
			}
			sort.Strings(names)
			merged[lang] = names
		}
	}
	return merged
}

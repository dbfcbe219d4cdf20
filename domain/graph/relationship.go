package graph

// RelType names a relationship in the fixed vocabulary.
type RelType string

const (
	RelSpouseOf      RelType = "SPOUSE_OF"
	RelChildOf       RelType = "CHILD_OF"
	RelSiblingOf     RelType = "SIBLING_OF"
	RelLoverOf       RelType = "LOVER_OF"
	RelRelativeOf    RelType = "RELATIVE_OF"
	RelMetWith       RelType = "MET_WITH"
	RelBornIn        RelType = "BORN_IN"
	RelAlumnusOf     RelType = "ALUMNUS_OF"
	RelMemberOf      RelType = "MEMBER_OF"
	RelSubordinateOf RelType = "SUBORDINATE_OF"
	RelFriendOf      RelType = "FRIEND_OF"
	RelEnemyOf       RelType = "ENEMY_OF"
	RelFounded       RelType = "FOUNDED"
	RelPushed        RelType = "PUSHED"
	RelBlocked       RelType = "BLOCKED"
	RelInfluenced    RelType = "INFLUENCED"
)

// undirectedTypes holds the symmetric subset; their canonical key sorts the
// endpoints so A→B and B→A collapse to one relationship.
var undirectedTypes = map[RelType]struct{}{
	RelSpouseOf:   {},
	RelSiblingOf:  {},
	RelLoverOf:    {},
	RelRelativeOf: {},
	RelFriendOf:   {},
	RelEnemyOf:    {},
	RelMetWith:    {},
}

// IsUndirected reports whether t is in the symmetric subset.
func IsUndirected(t RelType) bool {
	_, ok := undirectedTypes[t]
	return ok
}

// Relationship is a typed edge between two node IDs.
type Relationship struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       RelType        `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	return &Relationship{
		Source:     r.Source,
		Target:     r.Target,
		Type:       r.Type,
		Properties: cloneAnyMap(r.Properties),
	}
}

// RelKey is the canonical dedup key: endpoint order is normalized for
// undirected types.
type RelKey struct {
	A    string
	B    string
	Type RelType
}

// Key computes the canonical key for the relationship.
func (r *Relationship) Key() RelKey {
	return CanonicalKey(r.Source, r.Target, r.Type)
}

// CanonicalKey builds the dedup key for the given endpoints and type.
func CanonicalKey(source, target string, t RelType) RelKey {
	if IsUndirected(t) && source > target {
		source, target = target, source
	}
	return RelKey{A: source, B: target, Type: t}
}

// String renders the key in the "source-target-type" form the
// false-relations cache is keyed by.
func (k RelKey) String() string {
	return k.A + "-" + k.B + "-" + string(k.Type)
}

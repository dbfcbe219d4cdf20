package graph

// TypeRule constrains the node types allowed at each end of a relationship.
type TypeRule struct {
	Source []NodeType
	Target []NodeType
}

func (r TypeRule) allows(side []NodeType, t NodeType) bool {
	for _, v := range side {
		if v == t {
			return true
		}
	}
	return false
}

// Allows reports whether the endpoint types satisfy the rule.
func (r TypeRule) Allows(source, target NodeType) bool {
	return r.allows(r.Source, source) && r.allows(r.Target, target)
}

var anyActor = []NodeType{TypePerson, TypeOrganization, TypeEvent, TypeMovement, TypeDocument}

// RelationshipTypeRules is the fixed rule table: a relationship whose
// endpoint types fall outside its rule is invalid and gets pruned by
// maintenance.
var RelationshipTypeRules = map[RelType]TypeRule{
	RelSpouseOf:   {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},
	RelChildOf:    {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},
	RelSiblingOf:  {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},
	RelLoverOf:    {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},
	RelRelativeOf: {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},
	RelMetWith:    {Source: []NodeType{TypePerson}, Target: []NodeType{TypePerson}},

	RelBornIn: {Source: []NodeType{TypePerson}, Target: []NodeType{TypeLocation}},

	RelAlumnusOf: {Source: []NodeType{TypePerson}, Target: []NodeType{TypeOrganization}},
	RelMemberOf: {
		Source: []NodeType{TypePerson, TypeOrganization},
		Target: []NodeType{TypeOrganization},
	},
	RelSubordinateOf: {
		Source: []NodeType{TypePerson, TypeOrganization},
		Target: []NodeType{TypePerson, TypeOrganization},
	},
	RelFriendOf: {
		Source: []NodeType{TypePerson, TypeOrganization},
		Target: []NodeType{TypePerson, TypeOrganization},
	},
	RelEnemyOf: {
		Source: []NodeType{TypePerson, TypeOrganization},
		Target: []NodeType{TypePerson, TypeOrganization},
	},
	RelFounded: {
		Source: []NodeType{TypePerson, TypeOrganization},
		Target: []NodeType{TypeOrganization, TypeMovement},
	},

	RelPushed:  {Source: anyActor, Target: anyActor},
	RelBlocked: {Source: anyActor, Target: anyActor},
	RelInfluenced: {
		Source: anyActor,
		Target: []NodeType{TypePerson, TypeOrganization, TypeEvent, TypeMovement, TypeDocument, TypeLocation},
	},
}

// IsValidRelType reports whether t has a rule, which doubles as membership
// in the fixed vocabulary.
func IsValidRelType(t RelType) bool {
	_, ok := RelationshipTypeRules[t]
	return ok
}

// personProperties and entityProperties are the recognized property keys per
// node kind; the schema validator strips everything else.
var personProperties = map[string]struct{}{
	"lifetime":    {},
	"gender":      {},
	"birth_place": {},
	"death_place": {},
	"description": {},
}

var entityProperties = map[string]struct{}{
	"period":      {},
	"location":    {},
	"description": {},
}

// relationshipProperties is the recognized key set for relationships.
var relationshipProperties = map[string]struct{}{
	"start_date":  {},
	"end_date":    {},
	"position":    {},
	"degree":      {},
	"description": {},
}

// AllowedNodeProperties returns the whitelist for the given node type.
func AllowedNodeProperties(t NodeType) map[string]struct{} {
	if t == TypePerson {
		return personProperties
	}
	return entityProperties
}

// AllowedRelationshipProperties returns the relationship whitelist.
func AllowedRelationshipProperties() map[string]struct{} {
	return relationshipProperties
}

// DescriptionPresent reports whether a properties map carries a non-empty
// description: a map of language to non-blank text. Absent, empty or
// all-blank descriptions count as missing.
func DescriptionPresent(props map[string]any) bool {
	if props == nil {
		return false
	}
	desc, ok := props["description"]
	if !ok {
		return false
	}
	switch d := desc.(type) {
	case string:
		return trimNonEmpty(d)
	case map[string]any:
		for _, v := range d {
			if s, ok := v.(string); ok && trimNonEmpty(s) {
				return true
			}
		}
		return false
	case map[string]string:
		for _, v := range d {
			if trimNonEmpty(v) {
				return true
			}
		}
		return false
	}
	return false
}

func trimNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

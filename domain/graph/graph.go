package graph

import (
	"sort"
)

// Document is the persisted master-graph shape.
type Document struct {
	Nodes         []*Node         `json:"nodes"`
	Relationships []*Relationship `json:"relationships"`
}

// Graph is the in-memory aggregate over the master graph: node map, a
// name→ID index spanning every name in every language, and the relationship
// index keyed by canonical key. It is single-writer; fan-out steps read it
// and write back sequentially.
type Graph struct {
	nodes    map[string]*Node
	nameToID map[string]string
	rels     map[RelKey]*Relationship

	// insertion order, so persisted output is stable across runs
	nodeOrder []string
	relOrder  []RelKey
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		nameToID: make(map[string]string),
		rels:     make(map[RelKey]*Relationship),
	}
}

// FromDocument indexes a loaded document. Nodes without IDs are skipped;
// duplicate relationship keys collapse to the first occurrence.
func FromDocument(doc *Document) *Graph {
	g := New()
	if doc == nil {
		return g
	}
	for _, n := range doc.Nodes {
		if n == nil || n.ID == "" {
			continue
		}
		g.AddNode(n)
	}
	for _, r := range doc.Relationships {
		if r == nil || r.Source == "" || r.Target == "" || r.Type == "" {
			continue
		}
		g.PutRelationship(r)
	}
	return g
}

// ToDocument flattens the graph back to its persisted shape in insertion
// order.
func (g *Graph) ToDocument() *Document {
	doc := &Document{
		Nodes:         make([]*Node, 0, len(g.nodes)),
		Relationships: make([]*Relationship, 0, len(g.rels)),
	}
	for _, id := range g.nodeOrder {
		if n, ok := g.nodes[id]; ok {
			doc.Nodes = append(doc.Nodes, n)
		}
	}
	for _, key := range g.relOrder {
		if r, ok := g.rels[key]; ok {
			doc.Relationships = append(doc.Relationships, r)
		}
	}
	return doc
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// RelationshipCount returns the number of relationships.
func (g *Graph) RelationshipCount() int { return len(g.rels) }

// Node looks a node up by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes iterates node IDs in insertion order, skipping removed ones.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range g.nodeOrder {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Relationships returns the relationships in insertion order.
func (g *Graph) Relationships() []*Relationship {
	out := make([]*Relationship, 0, len(g.rels))
	for _, key := range g.relOrder {
		if r, ok := g.rels[key]; ok {
			out = append(out, r)
		}
	}
	return out
}

// AddNode inserts or replaces a node and indexes all of its names.
func (g *Graph) AddNode(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	g.nodes[n.ID] = n
	g.RegisterNames(n)
}

// RegisterNames adds every name of the node to the name index without
// clobbering earlier owners: the first node to claim a name keeps it.
func (g *Graph) RegisterNames(n *Node) {
	for _, names := range n.Name {
		for _, name := range names {
			if name == "" {
				continue
			}
			if _, taken := g.nameToID[name]; !taken {
				g.nameToID[name] = n.ID
			}
		}
	}
}

// ResolveName maps a name in any language to a node ID.
func (g *Graph) ResolveName(name string) (string, bool) {
	id, ok := g.nameToID[name]
	return id, ok
}

// RemoveNode deletes a node, its name-index entries and every relationship
// touching it. It returns the number of relationships removed.
func (g *Graph) RemoveNode(id string) int {
	if _, ok := g.nodes[id]; !ok {
		return 0
	}
	delete(g.nodes, id)
	for name, owner := range g.nameToID {
		if owner == id {
			delete(g.nameToID, name)
		}
	}
	removed := 0
	for key, r := range g.rels {
		if r.Source == id || r.Target == id {
			delete(g.rels, key)
			removed++
		}
	}
	return removed
}

// PutRelationship inserts the relationship unless its canonical key is
// already present; the return values are the resident relationship and
// whether the insert happened.
func (g *Graph) PutRelationship(r *Relationship) (*Relationship, bool) {
	key := r.Key()
	if existing, ok := g.rels[key]; ok {
		return existing, false
	}
	g.rels[key] = r
	g.relOrder = append(g.relOrder, key)
	return r, true
}

// ReplaceRelationship overwrites the entry at the relationship's canonical
// key, preserving its position.
func (g *Graph) ReplaceRelationship(r *Relationship) {
	key := r.Key()
	if _, ok := g.rels[key]; !ok {
		g.relOrder = append(g.relOrder, key)
	}
	g.rels[key] = r
}

// DeleteRelationship removes the entry at the given canonical key.
func (g *Graph) DeleteRelationship(key RelKey) bool {
	if _, ok := g.rels[key]; !ok {
		return false
	}
	delete(g.rels, key)
	return true
}

// RemapID rewrites every relationship endpoint from oldID to newID,
// re-keying entries as needed. Collisions with an existing canonical key
// keep the resident entry and drop the remapped one.
func (g *Graph) RemapID(oldID, newID string) {
	for _, key := range append([]RelKey(nil), g.relOrder...) {
		r, ok := g.rels[key]
		if !ok || (r.Source != oldID && r.Target != oldID) {
			continue
		}
		delete(g.rels, key)
		if r.Source == oldID {
			r.Source = newID
		}
		if r.Target == oldID {
			r.Target = newID
		}
		newKey := r.Key()
		if _, taken := g.rels[newKey]; !taken {
			g.rels[newKey] = r
			g.relOrder = append(g.relOrder, newKey)
		}
	}
	for name, owner := range g.nameToID {
		if owner == oldID {
			g.nameToID[name] = newID
		}
	}
}

// IDToDisplayName builds the id→readable-name map handed to the LLM when a
// relationship needs human context.
func (g *Graph) IDToDisplayName() map[string]string {
	out := make(map[string]string, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n.DisplayName()
	}
	return out
}

// SortedNodeIDs returns all node IDs sorted, for deterministic iteration in
// maintenance fan-outs.
func (g *Graph) SortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

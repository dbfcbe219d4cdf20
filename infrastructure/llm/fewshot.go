package llm

import (
	"encoding/json"
	"math/rand"

	"graphweaver/domain/graph"
)

// BuildFewShot samples real nodes and relationships from the master graph
// and renders them as a JSON example block for the parser prompt.
// Relationship endpoints are rewritten from Q-codes to display names so the
// example matches what the parser is expected to emit for fresh articles.
func BuildFewShot(g *graph.Graph, nodeSamples, relSamples int, rng *rand.Rand) string {
	if g == nil || g.NodeCount() == 0 {
		return ""
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	nodes := g.Nodes()
	rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	if len(nodes) > nodeSamples {
		nodes = nodes[:nodeSamples]
	}

	type exampleNode struct {
		Type       string              `json:"type"`
		Name       map[string][]string `json:"name"`
		Properties map[string]any      `json:"properties,omitempty"`
	}
	type exampleRel struct {
		Source     string         `json:"source"`
		Target     string         `json:"target"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties,omitempty"`
	}

	example := struct {
		Nodes         []exampleNode `json:"nodes"`
		Relationships []exampleRel  `json:"relationships"`
	}{}

	for _, n := range nodes {
		example.Nodes = append(example.Nodes, exampleNode{
			Type:       string(n.Type),
			Name:       n.Name,
			Properties: n.Properties,
		})
	}

	rels := g.Relationships()
	rng.Shuffle(len(rels), func(i, j int) { rels[i], rels[j] = rels[j], rels[i] })
	names := g.IDToDisplayName()
	count := 0
	for _, r := range rels {
		if count >= relSamples {
			break
		}
		source, okS := names[r.Source]
		target, okT := names[r.Target]
		if !okS || !okT {
			continue
		}
		example.Relationships = append(example.Relationships, exampleRel{
			Source:     source,
			Target:     target,
			Type:       string(r.Type),
			Properties: r.Properties,
		})
		count++
	}

	out, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target string
		relT   RelType
		want   RelKey
	}{
		{
			name:   "undirected endpoints sorted",
			source: "Q9", target: "Q1", relT: RelSpouseOf,
			want: RelKey{A: "Q1", B: "Q9", Type: RelSpouseOf},
		},
		{
			name:   "undirected already ordered",
			source: "Q1", target: "Q9", relT: RelFriendOf,
			want: RelKey{A: "Q1", B: "Q9", Type: RelFriendOf},
		},
		{
			name:   "directed preserves order",
			source: "Q9", target: "Q1", relT: RelChildOf,
			want: RelKey{A: "Q9", B: "Q1", Type: RelChildOf},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.source, tt.target, tt.relT))
		})
	}
}

func TestCanonicalKeyCollapsesReversedUndirected(t *testing.T) {
	ab := &Relationship{Source: "Q100", Target: "Q200", Type: RelSpouseOf}
	ba := &Relationship{Source: "Q200", Target: "Q100", Type: RelSpouseOf}
	assert.Equal(t, ab.Key(), ba.Key())

	// directed pairs stay distinct in both orientations
	fwd := &Relationship{Source: "Q100", Target: "Q200", Type: RelSubordinateOf}
	rev := &Relationship{Source: "Q200", Target: "Q100", Type: RelSubordinateOf}
	assert.NotEqual(t, fwd.Key(), rev.Key())
}

func TestRelKeyString(t *testing.T) {
	k := CanonicalKey("Q2", "Q1", RelSiblingOf)
	assert.Equal(t, "Q1-Q2-SIBLING_OF", k.String())
}

func TestIsUndirected(t *testing.T) {
	for _, rt := range []RelType{RelSpouseOf, RelSiblingOf, RelLoverOf, RelRelativeOf, RelFriendOf, RelEnemyOf, RelMetWith} {
		assert.True(t, IsUndirected(rt), string(rt))
	}
	for _, rt := range []RelType{RelChildOf, RelBornIn, RelMemberOf, RelInfluenced} {
		assert.False(t, IsUndirected(rt), string(rt))
	}
}

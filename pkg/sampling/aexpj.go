// Package sampling implements A-ExpJ weighted reservoir sampling, used to
// pick which watch-list entries and relationships get refreshed on a run.
package sampling

import (
	"container/heap"
	"math"
	"math/rand"
)

// Weighted pairs an arbitrary item with its sampling weight.
type Weighted[T any] struct {
	Item   T
	Weight float64
}

// RankWeights holds the knobs of the rank-based weight curve:
//
//	w = min + (max-min) * (1 - rank/n)^exponent
//
// Rank 0 is the hottest item.
type RankWeights struct {
	Min      float64
	Max      float64
	Exponent float64
}

// WeightForRank computes the weight of the item at the given rank out of n.
func (rw RankWeights) WeightForRank(rank, n int) float64 {
	if n <= 0 {
		return rw.Min
	}
	frac := 1.0 - float64(rank)/float64(n)
	if frac < 0 {
		frac = 0
	}
	w := rw.Min + (rw.Max-rw.Min)*math.Pow(frac, rw.Exponent)
	if w <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return w
}

type keyedItem[T any] struct {
	item T
	key  float64
}

// keyHeap is a min-heap on key, so the root is the weakest survivor.
type keyHeap[T any] []keyedItem[T]

func (h keyHeap[T]) Len() int            { return len(h) }
func (h keyHeap[T]) Less(i, j int) bool  { return h[i].key < h[j].key }
func (h keyHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap[T]) Push(x any)         { *h = append(*h, x.(keyedItem[T])) }
func (h *keyHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Sample draws up to k items without replacement using the A-ExpJ algorithm
// (Efraimidis & Spirakis): each item gets the key u^(1/w) for uniform u and
// only the k largest keys survive. The exponential-jump formulation skips
// runs of items that cannot displace the current reservoir minimum, so a
// single pass over a large candidate pool stays cheap.
func Sample[T any](rng *rand.Rand, items []Weighted[T], k int) []T {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k >= len(items) {
		out := make([]T, len(items))
		for i, it := range items {
			out[i] = it.Item
		}
		return out
	}

	h := make(keyHeap[T], 0, k)
	i := 0

	// Fill the reservoir.
	for ; i < len(items) && h.Len() < k; i++ {
		w := items[i].Weight
		if w <= 0 {
			continue
		}
		key := math.Pow(rng.Float64(), 1.0/w)
		heap.Push(&h, keyedItem[T]{item: items[i].Item, key: key})
	}
	if h.Len() < k {
		out := make([]T, h.Len())
		for j, it := range h {
			out[j] = it.item
		}
		return out
	}

	// Exponential jumps over the remainder.
	xw := math.Log(rng.Float64()) / math.Log(h[0].key)
	for ; i < len(items); i++ {
		w := items[i].Weight
		if w <= 0 {
			continue
		}
		xw -= w
		if xw > 0 {
			continue
		}
		// This item displaces the minimum; draw its key in the
		// surviving range (t, 1].
		t := math.Pow(h[0].key, w)
		u := t + (1-t)*rng.Float64()
		key := math.Pow(u, 1.0/w)

		heap.Pop(&h)
		heap.Push(&h, keyedItem[T]{item: items[i].Item, key: key})
		xw = math.Log(rng.Float64()) / math.Log(h[0].key)
	}

	out := make([]T, h.Len())
	for j, it := range h {
		out[j] = it.item
	}
	return out
}

// SampleRanked weights a pre-ranked slice (hottest first) with the given
// curve and draws up to k items.
func SampleRanked[T any](rng *rand.Rand, ranked []T, rw RankWeights, k int) []T {
	weighted := make([]Weighted[T], len(ranked))
	for i, item := range ranked {
		weighted[i] = Weighted[T]{Item: item, Weight: rw.WeightForRank(i, len(ranked))}
	}
	return Sample(rng, weighted, k)
}

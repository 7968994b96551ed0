// Package revtree implements the sharded content tree: a persistent,
// copy-on-write map from names to entries, split into 256-way hash buckets
// once it grows past a threshold.
//
// Two thresholds govern the shape of a tree. NormalizationThreshold is the
// most entries a leaf node may hold while still answering iteration and
// diffs directly. SplitThreshold is the number of pending direct writes a
// MutableTree accepts before Put flushes them into buckets. Between the two
// a MutableTree is legal but not normalized, and iterating it fails.
package revtree

import (
	"sort"

	"geotig/internal/object"
)

const (
	DefaultNormalizationThreshold = 512
	DefaultSplitThreshold         = 32768

	// maxDepth is the number of bucket levels a name hash can address.
	maxDepth = object.IDSize
)

type Options struct {
	NormalizationThreshold int
	SplitThreshold         int
}

func DefaultOptions() Options {
	return Options{
		NormalizationThreshold: DefaultNormalizationThreshold,
		SplitThreshold:         DefaultSplitThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.NormalizationThreshold <= 0 {
		o.NormalizationThreshold = DefaultNormalizationThreshold
	}
	if o.SplitThreshold <= o.NormalizationThreshold {
		o.SplitThreshold = DefaultSplitThreshold
		if o.SplitThreshold <= o.NormalizationThreshold {
			o.SplitThreshold = o.NormalizationThreshold * 64
		}
	}
	return o
}

// Filter selects entries during iteration. A nil Filter accepts everything.
type Filter func(object.Entry) bool

func bucketIndex(name string, depth int) uint8 {
	h := object.NameHash(name)
	return h[depth]
}

// sortEntries orders entries canonically by name hash.
func sortEntries(entries []object.Entry) {
	type keyed struct {
		hash object.ContentId
		e    object.Entry
	}
	ks := make([]keyed, len(entries))
	for i, e := range entries {
		ks[i] = keyed{object.NameHash(e.Name), e}
	}
	sort.Slice(ks, func(i, j int) bool {
		if c := ks[i].hash.Compare(ks[j].hash); c != 0 {
			return c < 0
		}
		return ks[i].e.Name < ks[j].e.Name
	})
	for i := range ks {
		entries[i] = ks[i].e
	}
}

func nodeNormalized(n *object.Node, depth int, opts Options) bool {
	if n.IsSplit() {
		return len(n.Entries) == 0
	}
	return len(n.Entries) <= opts.NormalizationThreshold || depth >= maxDepth
}

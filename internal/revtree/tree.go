package revtree

import (
	"fmt"
	"sort"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/safe"
)

// Tree is a read-only view of a persisted node.
type Tree struct {
	id    object.ContentId
	node  *object.Node
	depth int
	store safe.Reader
	opts  Options
}

// Open loads the tree stored under id. The null id opens an empty tree.
func Open(store safe.Reader, id object.ContentId) (*Tree, error) {
	return OpenWith(store, id, DefaultOptions())
}

func OpenWith(store safe.Reader, id object.ContentId, opts Options) (*Tree, error) {
	return openAt(store, id, 0, opts.withDefaults())
}

func openAt(store safe.Reader, id object.ContentId, depth int, opts Options) (*Tree, error) {
	if id.IsNull() {
		return &Tree{node: object.EmptyTree(), depth: depth, store: store, opts: opts}, nil
	}
	node, err := safe.ReadNode(store, id)
	if err != nil {
		return nil, fmt.Errorf("opening tree %s: %w", id, err)
	}
	return &Tree{id: id, node: node, depth: depth, store: store, opts: opts}, nil
}

func (t *Tree) ID() object.ContentId { return t.id }

func (t *Tree) Node() *object.Node { return t.node }

// Size is the number of entries reachable from this node.
func (t *Tree) Size() uint64 { return t.node.Size }

func (t *Tree) IsNormalized() bool {
	return nodeNormalized(t.node, t.depth, t.opts)
}

// Get finds the entry called name, descending through buckets as needed.
func (t *Tree) Get(name string) (object.Entry, bool, error) {
	return getFrom(t.store, t.node, t.depth, name)
}

func getFrom(store safe.Reader, node *object.Node, depth int, name string) (object.Entry, bool, error) {
	for {
		if !node.IsSplit() {
			e, ok := searchEntries(node.Entries, name)
			return e, ok, nil
		}
		if depth >= maxDepth {
			return object.Entry{}, false, errors.InvariantViolation("split node below the maximum tree depth")
		}
		b, ok := findBucket(node.Buckets, bucketIndex(name, depth))
		if !ok {
			return object.Entry{}, false, nil
		}
		child, err := safe.ReadNode(store, b.Target)
		if err != nil {
			return object.Entry{}, false, fmt.Errorf("loading bucket %d at depth %d: %w", b.Index, depth, err)
		}
		node = child
		depth++
	}
}

func searchEntries(entries []object.Entry, name string) (object.Entry, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return object.CompareNames(entries[i].Name, name) >= 0
	})
	if i < len(entries) && entries[i].Name == name {
		return entries[i], true
	}
	return object.Entry{}, false
}

func findBucket(buckets []object.Bucket, idx uint8) (object.Bucket, bool) {
	i := sort.Search(len(buckets), func(i int) bool { return buckets[i].Index >= idx })
	if i < len(buckets) && buckets[i].Index == idx {
		return buckets[i], true
	}
	return object.Bucket{}, false
}

// Iterate streams every entry in canonical order. It fails if the tree is
// not normalized.
func (t *Tree) Iterate(filter Filter) (*Iterator, error) {
	if !t.IsNormalized() {
		return nil, errors.InvariantViolation(fmt.Sprintf("tree %s is not normalized", t.id))
	}
	return newIterator(t.store, t.node, t.depth, t.opts, filter), nil
}

package revtree

import (
	"fmt"
	"sort"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/safe"
)

const sizeUnknown = -1

// MutableTree buffers writes against a node. Direct entries shadow whatever
// the buckets hold; a nil entry is a tombstone for a name some bucket owns.
// Nothing reaches the store until Normalize or Write.
type MutableTree struct {
	store   safe.Store
	opts    Options
	depth   int
	buckets map[uint8]object.Bucket
	entries map[string]*object.Entry
	size    int64
}

func NewMutable(store safe.Store, opts Options) *MutableTree {
	return newMutableAt(store, 0, opts.withDefaults())
}

func newMutableAt(store safe.Store, depth int, opts Options) *MutableTree {
	return &MutableTree{
		store:   store,
		opts:    opts,
		depth:   depth,
		buckets: make(map[uint8]object.Bucket),
		entries: make(map[string]*object.Entry),
	}
}

// OpenMutable starts a mutable copy of the tree stored under id. The null
// id yields an empty tree.
func OpenMutable(store safe.Store, id object.ContentId, opts Options) (*MutableTree, error) {
	return openMutableAt(store, id, 0, opts.withDefaults())
}

func openMutableAt(store safe.Store, id object.ContentId, depth int, opts Options) (*MutableTree, error) {
	m := newMutableAt(store, depth, opts)
	if id.IsNull() {
		return m, nil
	}
	node, err := safe.ReadNode(store, id)
	if err != nil {
		return nil, fmt.Errorf("opening tree %s: %w", id, err)
	}
	if node.IsSplit() {
		for _, b := range node.Buckets {
			m.buckets[b.Index] = b
		}
		m.size = int64(node.Size)
		return m, nil
	}
	for i := range node.Entries {
		e := node.Entries[i]
		m.entries[e.Name] = &e
	}
	m.size = int64(len(node.Entries))
	return m, nil
}

func (m *MutableTree) Depth() int { return m.depth }

// Get consults pending writes first and then the owning bucket.
func (m *MutableTree) Get(name string) (object.Entry, bool, error) {
	if e, ok := m.entries[name]; ok {
		if e == nil {
			return object.Entry{}, false, nil
		}
		return *e, true, nil
	}
	if len(m.buckets) == 0 {
		return object.Entry{}, false, nil
	}
	b, ok := m.buckets[bucketIndex(name, m.depth)]
	if !ok {
		return object.Entry{}, false, nil
	}
	node, err := safe.ReadNode(m.store, b.Target)
	if err != nil {
		return object.Entry{}, false, fmt.Errorf("loading bucket %d at depth %d: %w", b.Index, m.depth, err)
	}
	return getFrom(m.store, node, m.depth+1, name)
}

// Put inserts or replaces e. Reaching the split threshold flushes pending
// writes into buckets.
func (m *MutableTree) Put(e object.Entry) error {
	if e.Name == "" {
		return errors.ValidationError("entry name cannot be empty", nil)
	}
	if old, ok := m.entries[e.Name]; ok && old != nil {
		m.entries[e.Name] = &e
		return nil
	}

	if len(m.buckets) == 0 {
		if m.size >= 0 {
			m.size++
		}
	} else {
		m.size = sizeUnknown
	}
	m.entries[e.Name] = &e

	if len(m.entries) >= m.opts.SplitThreshold {
		return m.Normalize()
	}
	return nil
}

// Remove deletes name. Removing an absent name is a no-op.
func (m *MutableTree) Remove(name string) {
	if len(m.buckets) > 0 {
		if _, owned := m.buckets[bucketIndex(name, m.depth)]; owned {
			m.entries[name] = nil
			m.size = sizeUnknown
			return
		}
	}
	if old, ok := m.entries[name]; ok && old != nil {
		delete(m.entries, name)
		if m.size > 0 {
			m.size--
		}
	}
}

// IsNormalized reports whether the tree is in its canonical shape: either a
// leaf within the normalization threshold, or buckets with nothing pending.
func (m *MutableTree) IsNormalized() bool {
	if len(m.buckets) == 0 {
		return len(m.entries) <= m.opts.NormalizationThreshold || m.depth >= maxDepth
	}
	return len(m.entries) == 0
}

// Size is the exact number of entries. It normalizes when the count is not
// known.
func (m *MutableTree) Size() (uint64, error) {
	if m.size < 0 {
		if err := m.Normalize(); err != nil {
			return 0, err
		}
	}
	return uint64(m.size), nil
}

// Normalize flushes pending writes into buckets, splitting an oversized leaf
// or collapsing a split node that has shrunk below the threshold.
func (m *MutableTree) Normalize() error {
	if m.IsNormalized() {
		if m.size < 0 {
			if len(m.buckets) == 0 {
				m.size = int64(len(m.entries))
			} else {
				m.size = m.bucketTotal()
			}
		}
		return nil
	}

	parts := make(map[uint8][]string)
	for name := range m.entries {
		idx := bucketIndex(name, m.depth)
		parts[idx] = append(parts[idx], name)
	}
	indexes := make([]int, 0, len(parts))
	for idx := range parts {
		indexes = append(indexes, int(idx))
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		idx := uint8(i)
		child, err := m.child(idx)
		if err != nil {
			return err
		}
		names := parts[idx]
		sort.Strings(names)
		for _, name := range names {
			if e := m.entries[name]; e != nil {
				if err := child.Put(*e); err != nil {
					return err
				}
			} else {
				child.Remove(name)
			}
		}
		if err := child.Normalize(); err != nil {
			return err
		}

		if child.size == 0 {
			delete(m.buckets, idx)
			continue
		}
		node := child.snapshot()
		id, err := safe.WriteObject(m.store, node)
		if err != nil {
			return fmt.Errorf("writing bucket %d at depth %d: %w", idx, m.depth, err)
		}
		m.buckets[idx] = object.Bucket{Index: idx, Target: id, Size: uint64(child.size)}
	}

	m.entries = make(map[string]*object.Entry)
	m.size = m.bucketTotal()

	if m.size <= int64(m.opts.NormalizationThreshold) {
		return m.collapse()
	}
	return nil
}

func (m *MutableTree) child(idx uint8) (*MutableTree, error) {
	if b, ok := m.buckets[idx]; ok {
		return openMutableAt(m.store, b.Target, m.depth+1, m.opts)
	}
	return newMutableAt(m.store, m.depth+1, m.opts), nil
}

func (m *MutableTree) bucketTotal() int64 {
	var total int64
	for _, b := range m.buckets {
		total += int64(b.Size)
	}
	return total
}

func (m *MutableTree) sortedBuckets() []object.Bucket {
	out := make([]object.Bucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// collapse pulls every entry up out of the buckets into a single leaf.
func (m *MutableTree) collapse() error {
	entries := make(map[string]*object.Entry, m.size)
	for _, b := range m.sortedBuckets() {
		node, err := safe.ReadNode(m.store, b.Target)
		if err != nil {
			return fmt.Errorf("collapsing bucket %d at depth %d: %w", b.Index, m.depth, err)
		}
		it := newIterator(m.store, node, m.depth+1, m.opts, nil)
		for it.Next() {
			e := it.Entry()
			entries[e.Name] = &e
		}
		if err := it.Err(); err != nil {
			return err
		}
	}
	m.buckets = make(map[uint8]object.Bucket)
	m.entries = entries
	m.size = int64(len(entries))
	return nil
}

// snapshot renders a normalized tree as a node.
func (m *MutableTree) snapshot() *object.Node {
	if len(m.buckets) > 0 {
		buckets := m.sortedBuckets()
		var size uint64
		for _, b := range buckets {
			size += b.Size
		}
		return &object.Node{Size: size, Buckets: buckets}
	}
	entries := make([]object.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	sortEntries(entries)
	return &object.Node{Size: uint64(len(entries)), Entries: entries}
}

// Build normalizes and returns the resulting node without storing it.
func (m *MutableTree) Build() (*object.Node, error) {
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	return m.snapshot(), nil
}

// Write normalizes, stores the root node and returns its id.
func (m *MutableTree) Write() (object.ContentId, error) {
	node, err := m.Build()
	if err != nil {
		return object.NullId, err
	}
	id, err := safe.WriteObject(m.store, node)
	if err != nil {
		return object.NullId, fmt.Errorf("writing tree: %w", err)
	}
	return id, nil
}

// Iterate streams the entries of a normalized tree in canonical order.
func (m *MutableTree) Iterate(filter Filter) (*Iterator, error) {
	if !m.IsNormalized() {
		return nil, errors.InvariantViolation("cannot iterate a tree that is not normalized")
	}
	return newIterator(m.store, m.snapshot(), m.depth, m.opts, filter), nil
}

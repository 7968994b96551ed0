package revtree

import (
	"fmt"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/safe"
)

type iterFrame struct {
	node  *object.Node
	depth int
	pos   int
}

// Iterator walks a normalized tree lazily: bucket children are loaded only
// when the walk reaches them. It is single pass and cannot be restarted.
type Iterator struct {
	store  safe.Reader
	opts   Options
	filter Filter
	frames []*iterFrame
	pushed []object.Entry
	cur    object.Entry
	err    error
}

func newIterator(store safe.Reader, node *object.Node, depth int, opts Options, filter Filter) *Iterator {
	return &Iterator{
		store:  store,
		opts:   opts,
		filter: filter,
		frames: []*iterFrame{{node: node, depth: depth}},
	}
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if n := len(it.pushed); n > 0 {
		it.cur = it.pushed[n-1]
		it.pushed = it.pushed[:n-1]
		return true
	}

	for len(it.frames) > 0 {
		f := it.frames[len(it.frames)-1]

		if f.node.IsSplit() {
			if f.pos >= len(f.node.Buckets) {
				it.frames = it.frames[:len(it.frames)-1]
				continue
			}
			b := f.node.Buckets[f.pos]
			f.pos++

			child, err := safe.ReadNode(it.store, b.Target)
			if err != nil {
				it.err = fmt.Errorf("loading bucket %d at depth %d: %w", b.Index, f.depth, err)
				return false
			}
			if !nodeNormalized(child, f.depth+1, it.opts) {
				it.err = errors.InvariantViolation(fmt.Sprintf("bucket %d at depth %d is not normalized", b.Index, f.depth))
				return false
			}
			it.frames = append(it.frames, &iterFrame{node: child, depth: f.depth + 1})
			continue
		}

		if f.pos >= len(f.node.Entries) {
			it.frames = it.frames[:len(it.frames)-1]
			continue
		}
		e := f.node.Entries[f.pos]
		f.pos++
		if it.filter != nil && !it.filter(e) {
			continue
		}
		it.cur = e
		return true
	}
	return false
}

// Entry returns the entry Next moved to.
func (it *Iterator) Entry() object.Entry { return it.cur }

func (it *Iterator) Err() error { return it.err }

// Unread pushes e back so the following Next returns it again.
func (it *Iterator) Unread(e object.Entry) {
	it.pushed = append(it.pushed, e)
}

// Collect drains the iterator.
func (it *Iterator) Collect() ([]object.Entry, error) {
	var out []object.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

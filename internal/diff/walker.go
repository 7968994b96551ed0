package diff

import (
	"fmt"

	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
)

// Options scope a diff. Path limits it to one subtree or leaf. Target limits
// it to wherever an entry pointing at that id lives; it wins over Path.
type Options struct {
	Path   []string
	Target object.ContentId
	Tree   revtree.Options
}

// Walker compares trees held in one object store. It keeps no mutable
// state and may be shared.
type Walker struct {
	store safe.Reader
	opts  Options
}

func NewWalker(store safe.Reader, opts Options) *Walker {
	return &Walker{store: store, opts: opts}
}

// Diff starts a lazy comparison of the trees rooted at from and to.
func (w *Walker) Diff(from, to object.ContentId) (*ChangeIterator, error) {
	it := &ChangeIterator{store: w.store, treeOpts: w.opts.Tree, from: from, to: to}
	if from == to {
		return it, nil
	}

	path := w.opts.Path
	if !w.opts.Target.IsNull() {
		found, err := w.locate(from, to, w.opts.Target)
		if err != nil || found == nil {
			return it, err
		}
		path = found
	}

	if len(path) == 0 {
		if err := it.pushMerge(nil, from, to); err != nil {
			return nil, err
		}
		return it, nil
	}
	if err := it.start(path); err != nil {
		return nil, err
	}
	return it, nil
}

// locate finds the path of target, preferring the old tree.
func (w *Walker) locate(from, to, target object.ContentId) ([]string, error) {
	for _, root := range []object.ContentId{from, to} {
		res, err := revtree.FindByTarget(w.store, root, target, w.opts.Tree)
		if err != nil {
			return nil, err
		}
		if res.Found {
			return res.Path, nil
		}
	}
	return nil, nil
}

type frame struct {
	path []string
	// A frame with one nil side drains the other: everything on the old
	// side is deleted, everything on the new side is added.
	old, new *revtree.Iterator
}

// ChangeIterator yields changes depth-first. It is single pass.
type ChangeIterator struct {
	store    safe.Reader
	treeOpts revtree.Options
	from, to object.ContentId

	stack   []*frame
	pending []Change
	cur     Change
	err     error
}

func (it *ChangeIterator) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if len(it.pending) > 0 {
			it.cur = it.pending[0]
			it.pending = it.pending[1:]
			return true
		}
		if len(it.stack) == 0 {
			return false
		}
		if err := it.step(); err != nil {
			it.err = err
		}
	}
}

func (it *ChangeIterator) Change() Change { return it.cur }

func (it *ChangeIterator) Err() error { return it.err }

// Collect drains the iterator into a slice.
func (it *ChangeIterator) Collect() ([]Change, error) {
	var out []Change
	for it.Next() {
		out = append(out, it.Change())
	}
	return out, it.Err()
}

// start resolves path on both sides with point lookups.
func (it *ChangeIterator) start(path []string) error {
	oldE, oldOk, err := revtree.Lookup(it.store, it.from, path)
	if err != nil {
		return fmt.Errorf("resolving %v in %s: %w", path, it.from.Short(), err)
	}
	newE, newOk, err := revtree.Lookup(it.store, it.to, path)
	if err != nil {
		return fmt.Errorf("resolving %v in %s: %w", path, it.to.Short(), err)
	}

	parent, name := path[:len(path)-1], path[len(path)-1]
	var oldP, newP *object.Entry
	if oldOk {
		oldP = &oldE
	}
	if newOk {
		newP = &newE
	}
	if oldP == nil && newP == nil {
		return nil
	}
	if oldP != nil && newP != nil && oldP.Equal(*newP) {
		return nil
	}
	return it.compare(parent, name, oldP, newP)
}

// compare handles two entries sharing a name (either may be nil).
func (it *ChangeIterator) compare(parent []string, name string, old, new *object.Entry) error {
	path := childPath(parent, name)
	oldTree := old != nil && old.IsTree()
	newTree := new != nil && new.IsTree()

	switch {
	case oldTree && newTree:
		return it.pushMerge(path, old.Target, new.Target)
	case oldTree:
		if new != nil {
			if err := it.emit(nil, new, path); err != nil {
				return err
			}
		}
		return it.pushDrain(path, old.Target, true)
	case newTree:
		if old != nil {
			if err := it.emit(old, nil, path); err != nil {
				return err
			}
		}
		return it.pushDrain(path, new.Target, false)
	default:
		return it.emit(old, new, path)
	}
}

func (it *ChangeIterator) emit(old, new *object.Entry, path []string) error {
	c, err := NewChange(old, new, path, it.from, it.to)
	if err != nil {
		return err
	}
	it.pending = append(it.pending, c)
	return nil
}

func (it *ChangeIterator) open(id object.ContentId) (*revtree.Iterator, error) {
	t, err := revtree.OpenWith(it.store, id, it.treeOpts)
	if err != nil {
		return nil, err
	}
	return t.Iterate(nil)
}

func (it *ChangeIterator) pushMerge(path []string, old, new object.ContentId) error {
	oldIt, err := it.open(old)
	if err != nil {
		return err
	}
	newIt, err := it.open(new)
	if err != nil {
		return err
	}
	it.stack = append(it.stack, &frame{path: path, old: oldIt, new: newIt})
	return nil
}

func (it *ChangeIterator) pushDrain(path []string, id object.ContentId, oldSide bool) error {
	src, err := it.open(id)
	if err != nil {
		return err
	}
	f := &frame{path: path}
	if oldSide {
		f.old = src
	} else {
		f.new = src
	}
	it.stack = append(it.stack, f)
	return nil
}

func (it *ChangeIterator) pop() {
	it.stack = it.stack[:len(it.stack)-1]
}

// step advances the top frame by one element.
func (it *ChangeIterator) step() error {
	f := it.stack[len(it.stack)-1]

	if f.old == nil || f.new == nil {
		src, oldSide := f.new, false
		if f.old != nil {
			src, oldSide = f.old, true
		}
		if !src.Next() {
			it.pop()
			return src.Err()
		}
		e := src.Entry()
		if oldSide {
			return it.compare(f.path, e.Name, &e, nil)
		}
		return it.compare(f.path, e.Name, nil, &e)
	}

	oldOk := f.old.Next()
	if err := f.old.Err(); err != nil {
		return err
	}
	newOk := f.new.Next()
	if err := f.new.Err(); err != nil {
		return err
	}

	switch {
	case !oldOk && !newOk:
		it.pop()
		return nil
	case !oldOk:
		f.new.Unread(f.new.Entry())
		f.old = nil
		return nil
	case !newOk:
		f.old.Unread(f.old.Entry())
		f.new = nil
		return nil
	}

	oldE, newE := f.old.Entry(), f.new.Entry()
	if oldE.Name == newE.Name {
		if oldE.Equal(newE) {
			return nil
		}
		return it.compare(f.path, oldE.Name, &oldE, &newE)
	}

	if object.CompareNames(oldE.Name, newE.Name) < 0 {
		f.new.Unread(newE)
		return it.compare(f.path, oldE.Name, &oldE, nil)
	}
	f.old.Unread(oldE)
	return it.compare(f.path, newE.Name, nil, &newE)
}

func childPath(parent []string, name string) []string {
	out := make([]string, len(parent)+1)
	copy(out, parent)
	out[len(parent)] = name
	return out
}

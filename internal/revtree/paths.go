package revtree

import (
	"fmt"
	"strings"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/safe"
)

// Lookup resolves a path of names from root. Every segment but the last
// must name a tree.
func Lookup(store safe.Reader, root object.ContentId, path []string) (object.Entry, bool, error) {
	if len(path) == 0 {
		return object.Entry{}, false, errors.ValidationError("lookup path cannot be empty", nil)
	}
	cur := root
	for i, name := range path {
		t, err := Open(store, cur)
		if err != nil {
			return object.Entry{}, false, err
		}
		e, ok, err := t.Get(name)
		if err != nil || !ok {
			return object.Entry{}, false, err
		}
		if i == len(path)-1 {
			return e, true, nil
		}
		if !e.IsTree() {
			return object.Entry{}, false, errors.InvariantViolation(
				fmt.Sprintf("%s is a %s, not a tree", strings.Join(path[:i+1], "/"), e.Kind))
		}
		cur = e.Target
	}
	return object.Entry{}, false, nil
}

// SearchResult is the outcome of FindByTarget. Path includes the entry's
// own name.
type SearchResult struct {
	Path  []string
	Entry object.Entry
	Found bool
}

type searchFrame struct {
	path []string
	it   *Iterator
}

// FindByTarget searches depth-first for the first entry pointing at target.
func FindByTarget(store safe.Reader, root object.ContentId, target object.ContentId, opts Options) (SearchResult, error) {
	t, err := OpenWith(store, root, opts)
	if err != nil {
		return SearchResult{}, err
	}
	it, err := t.Iterate(nil)
	if err != nil {
		return SearchResult{}, err
	}

	stack := []searchFrame{{it: it}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.it.Next() {
			if err := top.it.Err(); err != nil {
				return SearchResult{}, err
			}
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.it.Entry()
		path := appendPath(top.path, e.Name)
		if e.Target == target {
			return SearchResult{Path: path, Entry: e, Found: true}, nil
		}
		if e.IsTree() {
			sub, err := OpenWith(store, e.Target, opts)
			if err != nil {
				return SearchResult{}, err
			}
			subIt, err := sub.Iterate(nil)
			if err != nil {
				return SearchResult{}, err
			}
			stack = append(stack, searchFrame{path: path, it: subIt})
		}
	}
	return SearchResult{}, nil
}

// WriteBack replaces the subtree at path with subtree and rewrites every
// ancestor up to a new root. Missing intermediate trees are created.
func WriteBack(store safe.Store, root object.ContentId, path []string, subtree object.ContentId, opts Options) (object.ContentId, error) {
	if len(path) == 0 {
		return subtree, nil
	}

	levels := make([]*MutableTree, len(path))
	cur := root
	for i, name := range path {
		mt, err := OpenMutable(store, cur, opts)
		if err != nil {
			return object.NullId, err
		}
		levels[i] = mt

		e, ok, err := mt.Get(name)
		if err != nil {
			return object.NullId, err
		}
		switch {
		case !ok:
			cur = object.NullId
		case e.IsTree():
			cur = e.Target
		default:
			return object.NullId, errors.InvariantViolation(
				fmt.Sprintf("%s is a %s, not a tree", strings.Join(path[:i+1], "/"), e.Kind))
		}
	}

	child := subtree
	for i := len(path) - 1; i >= 0; i-- {
		if err := levels[i].Put(object.Entry{Name: path[i], Target: child, Kind: object.KindTree}); err != nil {
			return object.NullId, err
		}
		id, err := levels[i].Write()
		if err != nil {
			return object.NullId, err
		}
		child = id
	}
	return child, nil
}

// Walk visits every entry below root depth-first, in canonical order within
// each tree. Returning an error from fn stops the walk.
func Walk(store safe.Reader, root object.ContentId, opts Options, fn func(path []string, e object.Entry) error) error {
	t, err := OpenWith(store, root, opts)
	if err != nil {
		return err
	}
	it, err := t.Iterate(nil)
	if err != nil {
		return err
	}

	stack := []searchFrame{{it: it}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.it.Next() {
			if err := top.it.Err(); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.it.Entry()
		path := appendPath(top.path, e.Name)
		if err := fn(path, e); err != nil {
			return err
		}
		if e.IsTree() {
			sub, err := OpenWith(store, e.Target, opts)
			if err != nil {
				return err
			}
			subIt, err := sub.Iterate(nil)
			if err != nil {
				return err
			}
			stack = append(stack, searchFrame{path: path, it: subIt})
		}
	}
	return nil
}

func appendPath(parent []string, name string) []string {
	out := make([]string, len(parent)+1)
	copy(out, parent)
	out[len(parent)] = name
	return out
}

package repository

import (
	"fmt"

	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/revtree"
)

// TreeItem is one entry of a tree listing with its full path.
type TreeItem struct {
	Path  []string
	Entry object.Entry
}

// ListTree lists the tree at path below ref. Without recursive only direct
// children are listed; with it every descendant is, trees included. A path
// naming a leaf lists just that leaf.
func (r *Repository) ListTree(ref string, path []string, recursive bool) ([]TreeItem, error) {
	root, err := r.ResolveTree(ref)
	if err != nil {
		return nil, err
	}
	if len(path) > 0 {
		e, found, err := revtree.Lookup(r.Safe, root, path)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.NotFound(fmt.Sprintf("path %q not found", diff.Change{Path: path}.Key()))
		}
		if !e.IsTree() {
			return []TreeItem{{Path: path, Entry: e}}, nil
		}
		root = e.Target
	}

	opts := r.TreeOptions()
	var items []TreeItem
	if recursive {
		err := revtree.Walk(r.Safe, root, opts, func(p []string, e object.Entry) error {
			items = append(items, TreeItem{Path: append(append([]string{}, path...), p...), Entry: e})
			return nil
		})
		return items, err
	}

	t, err := revtree.OpenWith(r.Safe, root, opts)
	if err != nil {
		return nil, err
	}
	it, err := t.Iterate(nil)
	if err != nil {
		return nil, err
	}
	entries, err := it.Collect()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		p := append(append([]string{}, path...), e.Name)
		items = append(items, TreeItem{Path: p, Entry: e})
	}
	return items, nil
}

// Patch renders the line diff between the features on both sides of c.
// Changes to trees yield nil.
func (r *Repository) Patch(engine *diff.Engine, c diff.Change) (*diff.Patch, error) {
	if latest := c.Latest(); latest == nil || latest.IsTree() {
		return nil, nil
	}
	read := func(e *object.Entry) (*object.Feature, error) {
		if e == nil || e.IsTree() {
			return nil, nil
		}
		return r.ReadFeature(e.Target)
	}
	old, err := read(c.Old)
	if err != nil {
		return nil, err
	}
	cur, err := read(c.New)
	if err != nil {
		return nil, err
	}
	return engine.DiffFeatures(old, cur), nil
}

package staging

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
)

// ResolveTree turns target into a tree id. Commits resolve to their tree and
// the null id to the empty tree.
func (a *Area) ResolveTree(target object.ContentId) (object.ContentId, error) {
	if target.IsNull() {
		return object.NullId, nil
	}
	kind, err := safe.ReadKind(a.main, target)
	if errors.Is(err, errors.ErrorTypeNotFound) {
		return object.NullId, errors.PreconditionFailed(fmt.Sprintf("cannot resolve %s", target.Short())).Wrap(err)
	}
	if err != nil {
		return object.NullId, err
	}
	switch kind {
	case object.KindTree:
		return target, nil
	case object.KindCommit:
		c, err := safe.ReadCommit(a.main, target)
		if err != nil {
			return object.NullId, err
		}
		return c.Tree, nil
	default:
		return object.NullId, errors.PreconditionFailed(fmt.Sprintf("%s is a %s, not a tree or commit", target.Short(), kind))
	}
}

type parentTree struct {
	path []string
	tree *revtree.MutableTree
}

// WriteTree applies every staged change on top of target and returns the new
// root with the union of the changed bounds. Staged objects are promoted to
// the main store and the staged space is cleared.
func (a *Area) WriteTree(target object.ContentId) (object.ContentId, *object.BoundingBox, error) {
	root, bounds, err := a.BuildTree(target)
	if err != nil {
		return object.NullId, nil, err
	}
	if err := a.ClearStaged(); err != nil {
		return object.NullId, nil, err
	}
	return root, bounds, nil
}

// ClearStaged drops every staged record.
func (a *Area) ClearStaged() error {
	if err := a.staged.Clear(); err != nil {
		return fmt.Errorf("clearing staged changes: %w", err)
	}
	return nil
}

// BuildTree is WriteTree without clearing the staged space, for callers that
// must persist the result before the records go away. Building twice from the
// same records yields the same root.
func (a *Area) BuildTree(target object.ContentId) (object.ContentId, *object.BoundingBox, error) {
	root, err := a.ResolveTree(target)
	if err != nil {
		return object.NullId, nil, err
	}

	recs, err := scanRecords(a.staged, nil)
	if err != nil {
		return object.NullId, nil, err
	}
	if len(recs) == 0 {
		return root, nil, nil
	}
	recs = supersede(recs)

	// Shallow first, so every parent is opened from the state its own
	// ancestors' changes left behind.
	sort.Slice(recs, func(i, j int) bool {
		if len(recs[i].Path) != len(recs[j].Path) {
			return len(recs[i].Path) < len(recs[j].Path)
		}
		return recs[i].Key() < recs[j].Key()
	})

	rootTree, err := revtree.OpenMutable(a.main, root, a.treeOpts)
	if err != nil {
		return object.NullId, nil, err
	}
	parents := map[string]*parentTree{"": {tree: rootTree}}

	var bounds *object.BoundingBox
	for _, c := range recs {
		parentPath := c.Path[:len(c.Path)-1]
		pt, err := a.parent(parents, parentPath)
		if err != nil {
			return object.NullId, nil, err
		}
		name := c.Path[len(c.Path)-1]

		switch c.Type {
		case diff.Delete:
			pt.tree.Remove(name)
		case diff.Add, diff.Modify:
			if err := a.promote(c.New.Target); err != nil {
				return object.NullId, nil, fmt.Errorf("promoting %s: %w", c.Key(), err)
			}
			if err := pt.tree.Put(*c.New); err != nil {
				return object.NullId, nil, err
			}
		}
		bounds = bounds.Union(c.Bounds)
	}

	ordered := make([]*parentTree, 0, len(parents))
	for _, pt := range parents {
		if len(pt.path) > 0 {
			ordered = append(ordered, pt)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i].path) != len(ordered[j].path) {
			return len(ordered[i].path) > len(ordered[j].path)
		}
		return pathKey(ordered[i].path) < pathKey(ordered[j].path)
	})

	// Deepest first: each subtree is written into its parent before the
	// parent itself is written.
	for _, pt := range ordered {
		sub, err := pt.tree.Write()
		if err != nil {
			return object.NullId, nil, fmt.Errorf("writing %s: %w", pathKey(pt.path), err)
		}
		up := parents[pathKey(pt.path[:len(pt.path)-1])]
		entry := object.Entry{Name: pt.path[len(pt.path)-1], Target: sub, Kind: object.KindTree}
		if err := up.tree.Put(entry); err != nil {
			return object.NullId, nil, fmt.Errorf("writing back %s: %w", pathKey(pt.path), err)
		}
	}
	root, err = rootTree.Write()
	if err != nil {
		return object.NullId, nil, fmt.Errorf("writing root: %w", err)
	}

	a.logger.Info("Wrote tree",
		zap.String("root", root.String()),
		zap.Int("changes", len(recs)),
		zap.Stringer("bounds", bounds))
	return root, bounds, nil
}

// supersede drops every record that an ancestor record made later replaces:
// a delete or replacement of a subtree discards the edits staged under it
// before it, and keeps those staged after.
func supersede(recs []record) []record {
	seqs := make(map[string]uint64, len(recs))
	for _, r := range recs {
		seqs[r.Key()] = r.Seq
	}
	out := recs[:0]
	for _, r := range recs {
		if !shadowed(r, seqs) {
			out = append(out, r)
		}
	}
	return out
}

func shadowed(r record, seqs map[string]uint64) bool {
	for i := len(r.Path) - 1; i > 0; i-- {
		if s, ok := seqs[pathKey(r.Path[:i])]; ok && s > r.Seq {
			return true
		}
	}
	return false
}

// parent returns the mutable tree at path, opening it from the entry its own
// parent currently holds. A missing entry opens an empty tree.
func (a *Area) parent(parents map[string]*parentTree, path []string) (*parentTree, error) {
	key := pathKey(path)
	if pt, ok := parents[key]; ok {
		return pt, nil
	}

	up, err := a.parent(parents, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	e, ok, err := up.tree.Get(path[len(path)-1])
	if err != nil {
		return nil, err
	}
	id := object.NullId
	switch {
	case !ok:
	case e.IsTree():
		id = e.Target
	default:
		return nil, errors.InvariantViolation(fmt.Sprintf("%s is a %s, not a tree", key, e.Kind))
	}

	mt, err := revtree.OpenMutable(a.main, id, a.treeOpts)
	if err != nil {
		return nil, err
	}
	pt := &parentTree{path: append([]string(nil), path...), tree: mt}
	parents[key] = pt
	return pt, nil
}

// promote copies id and everything reachable from it out of the staging
// layer into the main store, deleting the staging copies.
func (a *Area) promote(id object.ContentId) error {
	stack := []object.ContentId{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		data, err := a.top.Get(cur)
		if errors.Is(err, errors.ErrorTypeNotFound) {
			// Already in the main store.
			continue
		}
		if err != nil {
			return err
		}
		if err := a.main.Insert(cur, data); err != nil {
			return err
		}

		kind, err := object.PeekKind(data)
		if err != nil {
			return err
		}
		if kind == object.KindTree {
			obj, err := object.Decode(a.main.Codec(), data)
			if err != nil {
				return err
			}
			node := obj.(*object.Node)
			for _, b := range node.Buckets {
				stack = append(stack, b.Target)
			}
			for _, e := range node.Entries {
				stack = append(stack, e.Target)
			}
		}

		if err := a.top.Delete(cur); err != nil {
			return err
		}
	}
	return nil
}

package diff

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
)

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)

	return db, func() { db.Close() }
}

func newTestStore(t *testing.T) *safe.Safe {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	s, err := safe.New(db, safe.Options{CacheSize: 128})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func blob(t *testing.T, s safe.Store, content string) object.ContentId {
	id, err := s.Put(append([]byte{byte(object.KindBlob)}, content...))
	require.NoError(t, err)
	return id
}

// buildTree writes a tree from slash-separated paths to blob contents.
func buildTree(t *testing.T, s safe.Store, opts revtree.Options, leaves map[string]string) object.ContentId {
	t.Helper()
	m := revtree.NewMutable(s, opts)
	groups := make(map[string]map[string]string)
	for p, content := range leaves {
		head, rest, nested := strings.Cut(p, "/")
		if !nested {
			require.NoError(t, m.Put(object.Entry{Name: head, Target: blob(t, s, content), Kind: object.KindBlob}))
			continue
		}
		if groups[head] == nil {
			groups[head] = make(map[string]string)
		}
		groups[head][rest] = content
	}
	for head, sub := range groups {
		id := buildTree(t, s, opts, sub)
		require.NoError(t, m.Put(object.Entry{Name: head, Target: id, Kind: object.KindTree}))
	}
	id, err := m.Write()
	require.NoError(t, err)
	return id
}

func collect(t *testing.T, w *Walker, from, to object.ContentId) []Change {
	t.Helper()
	it, err := w.Diff(from, to)
	require.NoError(t, err)
	changes, err := it.Collect()
	require.NoError(t, err)
	return changes
}

func keyed(changes []Change) map[string]ChangeType {
	out := make(map[string]ChangeType, len(changes))
	for _, c := range changes {
		out[c.Key()] = c.Type
	}
	return out
}

func TestNewChange(t *testing.T) {
	old := &object.Entry{Name: "a", Target: object.HashBytes([]byte("1")), Kind: object.KindBlob,
		Bounds: object.NewBoundingBox("EPSG:4326", 0, 0, 1, 1)}
	new := &object.Entry{Name: "a", Target: object.HashBytes([]byte("2")), Kind: object.KindBlob,
		Bounds: object.NewBoundingBox("EPSG:4326", 2, 2, 3, 3)}

	c, err := NewChange(old, new, []string{"ns", "a"}, object.NullId, object.NullId)
	require.NoError(t, err)
	assert.Equal(t, Modify, c.Type)
	assert.Equal(t, object.NewBoundingBox("EPSG:4326", 0, 0, 3, 3), c.Bounds)

	c, err = NewChange(nil, new, []string{"a"}, object.NullId, object.NullId)
	require.NoError(t, err)
	assert.Equal(t, Add, c.Type)

	nullSide := &object.Entry{Name: "a"}
	c, err = NewChange(old, nullSide, []string{"a"}, object.NullId, object.NullId)
	require.NoError(t, err)
	assert.Equal(t, Delete, c.Type)
	assert.Nil(t, c.New)

	_, err = NewChange(nil, nullSide, []string{"a"}, object.NullId, object.NullId)
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
}

func TestChangeTypeText(t *testing.T) {
	text, err := Delete.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DELETE", string(text))

	var ct ChangeType
	require.NoError(t, ct.UnmarshalText([]byte("MODIFY")))
	assert.Equal(t, Modify, ct)
	assert.Error(t, ct.UnmarshalText([]byte("RENAME")))
}

func TestWalker_Identity(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, s, revtree.DefaultOptions(), map[string]string{
		"ns/t/1": "one", "ns/t/2": "two", "ns/u/1": "three",
	})

	w := NewWalker(s, Options{})
	assert.Empty(t, collect(t, w, root, root))
}

func TestWalker_PathFilter(t *testing.T) {
	s := newTestStore(t)
	opts := revtree.DefaultOptions()
	a := buildTree(t, s, opts, map[string]string{"ns/t/1": "one", "ns/t/2": "two"})
	b := buildTree(t, s, opts, map[string]string{"ns/t/1": "one"})

	changes := collect(t, NewWalker(s, Options{}), a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, Delete, changes[0].Type)
	assert.Equal(t, []string{"ns", "t", "2"}, changes[0].Path)
	assert.Equal(t, a, changes[0].FromRoot)
	assert.Equal(t, b, changes[0].ToRoot)

	filtered := collect(t, NewWalker(s, Options{Path: []string{"ns", "t", "1"}}), a, b)
	assert.Empty(t, filtered)

	scoped := collect(t, NewWalker(s, Options{Path: []string{"ns", "t"}}), a, b)
	require.Len(t, scoped, 1)
	assert.Equal(t, "ns/t/2", scoped[0].Key())
}

func TestWalker_Symmetry(t *testing.T) {
	s := newTestStore(t)
	opts := revtree.DefaultOptions()
	a := buildTree(t, s, opts, map[string]string{
		"ns/t/1": "one", "ns/t/2": "two", "ns/t/3": "three", "ns/gone/1": "x", "ns/gone/2": "y",
	})
	b := buildTree(t, s, opts, map[string]string{
		"ns/t/1": "one", "ns/t/2": "TWO", "ns/t/4": "four", "ns/fresh/9": "z",
	})

	forward := keyed(collect(t, NewWalker(s, Options{}), a, b))
	backward := keyed(collect(t, NewWalker(s, Options{}), b, a))

	assert.Equal(t, map[string]ChangeType{
		"ns/t/2":     Modify,
		"ns/t/3":     Delete,
		"ns/t/4":     Add,
		"ns/gone/1":  Delete,
		"ns/gone/2":  Delete,
		"ns/fresh/9": Add,
	}, forward)

	require.Len(t, backward, len(forward))
	for key, ct := range forward {
		switch ct {
		case Add:
			assert.Equal(t, Delete, backward[key], key)
		case Delete:
			assert.Equal(t, Add, backward[key], key)
		default:
			assert.Equal(t, Modify, backward[key], key)
		}
	}
}

func TestWalker_TreeReplacedByLeaf(t *testing.T) {
	s := newTestStore(t)
	opts := revtree.DefaultOptions()
	a := buildTree(t, s, opts, map[string]string{"ns/x/1": "one", "ns/x/2": "two"})
	b := buildTree(t, s, opts, map[string]string{"ns/x": "flat"})

	got := keyed(collect(t, NewWalker(s, Options{}), a, b))
	assert.Equal(t, map[string]ChangeType{
		"ns/x":   Add,
		"ns/x/1": Delete,
		"ns/x/2": Delete,
	}, got)
}

func TestWalker_TargetFilter(t *testing.T) {
	s := newTestStore(t)
	opts := revtree.DefaultOptions()
	a := buildTree(t, s, opts, map[string]string{"ns/t/1": "one", "ns/t/2": "two", "ns/t/3": "three"})
	b := buildTree(t, s, opts, map[string]string{"ns/t/1": "ONE", "ns/t/3": "three"})

	changes := collect(t, NewWalker(s, Options{Target: blob(t, s, "two")}), a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, "ns/t/2", changes[0].Key())
	assert.Equal(t, Delete, changes[0].Type)

	// Found only on the new side.
	changes = collect(t, NewWalker(s, Options{Target: blob(t, s, "ONE")}), a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, "ns/t/1", changes[0].Key())
	assert.Equal(t, Modify, changes[0].Type)

	changes = collect(t, NewWalker(s, Options{Target: blob(t, s, "absent")}), a, b)
	assert.Empty(t, changes)
}

func TestWalker_SplitTrees(t *testing.T) {
	s := newTestStore(t)
	opts := revtree.Options{NormalizationThreshold: 4, SplitThreshold: 16}

	before := make(map[string]string)
	for i := 0; i < 80; i++ {
		before[fmt.Sprintf("ns/t/%02d", i)] = fmt.Sprintf("v%d", i)
	}
	after := make(map[string]string, len(before))
	for k, v := range before {
		after[k] = v
	}
	delete(after, "ns/t/05")
	after["ns/t/17"] = "changed"
	after["ns/t/99"] = "new"

	a := buildTree(t, s, opts, before)
	b := buildTree(t, s, opts, after)

	changes := collect(t, NewWalker(s, Options{Tree: opts}), a, b)
	assert.Equal(t, map[string]ChangeType{
		"ns/t/05": Delete,
		"ns/t/17": Modify,
		"ns/t/99": Add,
	}, keyed(changes))

	// Changes come out in canonical order within the directory.
	var names []string
	for _, c := range changes {
		names = append(names, c.Path[2])
	}
	assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool {
		return object.CompareNames(names[i], names[j]) < 0
	}))
}

func TestWalker_RejectsNonNormalizedTree(t *testing.T) {
	s := newTestStore(t)
	var entries []object.Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, object.Entry{Name: fmt.Sprint(i), Target: blob(t, s, fmt.Sprint(i)), Kind: object.KindBlob})
	}
	sort.Slice(entries, func(i, j int) bool { return object.CompareEntries(entries[i], entries[j]) < 0 })
	bad, err := safe.WriteObject(s, &object.Node{Size: 10, Entries: entries})
	require.NoError(t, err)

	w := NewWalker(s, Options{Tree: revtree.Options{NormalizationThreshold: 4, SplitThreshold: 16}})
	_, err = w.Diff(bad, object.NullId)
	assert.True(t, errors.Is(err, errors.ErrorTypeInvariantViolation))
}

func TestSummarize(t *testing.T) {
	bbox := object.NewBoundingBox("EPSG:4326", 0, 0, 1, 1)
	changes := []Change{
		{Type: Add, Bounds: bbox},
		{Type: Add},
		{Type: Delete, Bounds: object.NewBoundingBox("EPSG:4326", 5, 5, 6, 6)},
	}
	s := Summarize(changes)
	assert.Equal(t, 2, s.Added)
	assert.Equal(t, 1, s.Deleted)
	assert.Equal(t, 3, s.Total())
	assert.Equal(t, object.NewBoundingBox("EPSG:4326", 0, 0, 6, 6), s.Bounds)
}

func TestEngine_DiffFeatures(t *testing.T) {
	e := NewEngine(1)
	old := &object.Feature{Geometry: "POINT (1 2)", Properties: map[string]string{"name": "a", "use": "park", "zone": "r1"}}
	new := &object.Feature{Geometry: "POINT (1 2)", Properties: map[string]string{"name": "b", "use": "park", "zone": "r1"}}

	p := e.DiffFeatures(old, new)
	assert.Equal(t, 1, p.Additions)
	assert.Equal(t, 1, p.Deletions)
	require.Len(t, p.Hunks, 1)

	out := p.Format()
	assert.Contains(t, out, "- name: a\n")
	assert.Contains(t, out, "+ name: b\n")
	assert.Contains(t, out, "  geometry: POINT (1 2)\n")
	assert.NotContains(t, out, "zone")

	assert.True(t, e.DiffFeatures(old, old).Empty())

	added := e.DiffFeatures(nil, new)
	assert.Equal(t, 4, added.Additions)
	assert.Equal(t, 0, added.Hunks[0].OldStart)
}

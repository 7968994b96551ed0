package staging

import (
	"context"
	"iter"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
)

type testRepo struct {
	main *safe.Safe
	area *Area
	head object.ContentId
}

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)

	return db, func() { db.Close() }
}

func newTestRepo(t *testing.T) *testRepo {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	main, err := safe.New(db, safe.Options{CacheSize: 64})
	require.NoError(t, err)
	t.Cleanup(main.Close)

	r := &testRepo{main: main}
	area, err := New(db, main, Options{
		CacheSize: 64,
		Head:      func() (object.ContentId, error) { return r.head, nil },
	})
	require.NoError(t, err)
	t.Cleanup(area.Close)
	r.area = area
	return r
}

// commit stages everything and makes the result the committed tree.
func (r *testRepo) commit(t *testing.T) object.ContentId {
	t.Helper()
	_, err := r.area.Stage(nil, nil)
	require.NoError(t, err)
	root, _, err := r.area.WriteTree(r.head)
	require.NoError(t, err)
	r.head = root
	return root
}

func insert(t *testing.T, a *Area, content string, path ...string) object.Entry {
	t.Helper()
	e, err := a.RecordInsert([]byte(content), nil, path)
	require.NoError(t, err)
	return e
}

func TestArea_RoundTrip(t *testing.T) {
	r := newTestRepo(t)
	bbox := object.NewBoundingBox("EPSG:4326", 1, 1, 2, 2)

	e1, err := r.area.RecordInsert([]byte("one"), bbox, []string{"ns", "t", "1"})
	require.NoError(t, err)
	insert(t, r.area, "two", "ns", "t", "2")

	unstaged, staged, err := r.area.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, unstaged)
	assert.Equal(t, 0, staged)

	var ticks []int
	n, err := r.area.Stage(nil, func(done, total int) { ticks = append(ticks, done*10+total) })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{12, 22}, ticks)

	root, bounds, err := r.area.WriteTree(object.NullId)
	require.NoError(t, err)
	assert.Equal(t, bbox, bounds)

	got, ok, err := revtree.Lookup(r.main, root, []string{"ns", "t", "1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(e1))
	assert.Equal(t, bbox, got.Bounds)

	blob, err := safe.ReadBlob(r.main, e1.Target)
	require.NoError(t, err)
	assert.Equal(t, "one", string(blob.Data))

	layerObjects, err := r.area.top.Len()
	require.NoError(t, err)
	assert.Zero(t, layerObjects, "promoted objects leave the staging layer")

	_, staged, err = r.area.Counts()
	require.NoError(t, err)
	assert.Zero(t, staged)
}

func TestArea_WriteTreeWithoutStagedChanges(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "one", "ns", "t", "1")
	root := r.commit(t)

	same, bounds, err := r.area.WriteTree(root)
	require.NoError(t, err)
	assert.Equal(t, root, same)
	assert.Nil(t, bounds)

	commitID, err := safe.WriteObject(r.main, &object.Commit{Tree: root, Author: "test"})
	require.NoError(t, err)
	resolved, _, err := r.area.WriteTree(commitID)
	require.NoError(t, err)
	assert.Equal(t, root, resolved)

	_, _, err = r.area.WriteTree(object.HashBytes([]byte("nothing")))
	assert.True(t, errors.Is(err, errors.ErrorTypePreconditionFailed))
}

func TestArea_RecordCreate(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "one", "ns", "t", "1")
	r.commit(t)

	err := r.area.RecordCreate([]string{"ns", "t"})
	assert.True(t, errors.Is(err, errors.ErrorTypePreconditionFailed), "committed path")

	require.NoError(t, r.area.RecordCreate([]string{"ns", "u"}))
	_, err = r.area.Stage(nil, nil)
	require.NoError(t, err)
	err = r.area.RecordCreate([]string{"ns", "u"})
	assert.True(t, errors.Is(err, errors.ErrorTypePreconditionFailed), "staged path")

	// A staged delete frees the path.
	deleted, err := r.area.RecordDelete([]string{"ns", "t"})
	require.NoError(t, err)
	require.True(t, deleted)
	_, err = r.area.Stage([]string{"ns", "t"}, nil)
	require.NoError(t, err)
	assert.NoError(t, r.area.RecordCreate([]string{"ns", "t"}))

	assert.True(t, errors.Is(r.area.RecordCreate(nil), errors.ErrorTypeValidation))
}

func TestArea_RecordDelete(t *testing.T) {
	r := newTestRepo(t)
	committed := insert(t, r.area, "one", "ns", "t", "1")
	r.commit(t)

	ok, err := r.area.RecordDelete([]string{"ns", "t", "missing"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Falls back to the committed tree.
	ok, err = r.area.RecordDelete([]string{"ns", "t", "1"})
	require.NoError(t, err)
	require.True(t, ok)
	recs, err := r.area.Unstaged([]string{"ns", "t", "1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, diff.Delete, recs[0].Type)
	assert.True(t, recs[0].Old.Equal(committed))

	ok, err = r.area.RecordDelete([]string{"ns", "t", "1"})
	require.NoError(t, err)
	assert.False(t, ok, "already deleted")

	// An add followed by a delete stays a recorded delete.
	added := insert(t, r.area, "two", "ns", "t", "2")
	ok, err = r.area.RecordDelete([]string{"ns", "t", "2"})
	require.NoError(t, err)
	require.True(t, ok)
	recs, err = r.area.Unstaged([]string{"ns", "t", "2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, diff.Delete, recs[0].Type)
	assert.True(t, recs[0].Old.Equal(added))

	// Staged records are consulted when nothing is unstaged.
	staged := insert(t, r.area, "three", "ns", "t", "3")
	_, err = r.area.Stage([]string{"ns", "t", "3"}, nil)
	require.NoError(t, err)
	ok, err = r.area.RecordDelete([]string{"ns", "t", "3"})
	require.NoError(t, err)
	require.True(t, ok)
	recs, err = r.area.Unstaged([]string{"ns", "t", "3"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Old.Equal(staged))
}

func insertions(paths ...string) iter.Seq[Insertion] {
	return func(yield func(Insertion) bool) {
		for _, p := range paths {
			if !yield(Insertion{Data: []byte(p), Path: []string{"ns", "t", p}}) {
				return
			}
		}
	}
}

func TestArea_InsertAll(t *testing.T) {
	r := newTestRepo(t)

	var pct []float64
	entries, err := r.area.InsertAll(context.Background(), insertions("a", "b", "c", "d"), 4,
		func(p float64) { pct = append(pct, p) })
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, []float64{25, 50, 75, 100}, pct)

	pct = nil
	_, err = r.area.InsertAll(context.Background(), insertions("e", "f"), 0,
		func(p float64) { pct = append(pct, p) })
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1}, pct)
}

func TestArea_InsertAllCanceled(t *testing.T) {
	r := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())

	seen := 0
	entries, err := r.area.InsertAll(ctx, insertions("a", "b", "c", "d"), 4, func(float64) {
		seen++
		if seen == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 2, seen)
}

func TestArea_StagePrefix(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "a", "1")
	insert(t, r.area, "2", "ns", "ab", "1")
	insert(t, r.area, "3", "ns", "b", "1")

	n, err := r.area.Stage([]string{"ns", "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	staged, err := r.area.Staged(nil)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "ns/a/1", staged[0].Key())

	dropped, err := r.area.Discard([]string{"ns", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	unstaged, err := r.area.Unstaged(nil)
	require.NoError(t, err)
	require.Len(t, unstaged, 1)
	assert.Equal(t, "ns/ab/1", unstaged[0].Key())
}

func TestArea_WriteTreeNestedAndDisjoint(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "keep", "ns", "old", "1")
	base := r.commit(t)

	require.NoError(t, r.area.RecordCreate([]string{"ns", "t"}))
	insert(t, r.area, "nested", "ns", "t", "1")
	insert(t, r.area, "elsewhere", "other", "x", "9")
	root := r.commit(t)

	for _, p := range [][]string{
		{"ns", "old", "1"},
		{"ns", "t", "1"},
		{"other", "x", "9"},
	} {
		_, ok, err := revtree.Lookup(r.main, root, p)
		require.NoError(t, err)
		assert.True(t, ok, "%v", p)
	}

	it, err := diff.NewWalker(r.main, diff.Options{}).Diff(base, root)
	require.NoError(t, err)
	changes, err := it.Collect()
	require.NoError(t, err)
	keys := make(map[string]diff.ChangeType)
	for _, c := range changes {
		keys[c.Key()] = c.Type
	}
	assert.Equal(t, map[string]diff.ChangeType{
		"ns/t/1":    diff.Add,
		"other/x/9": diff.Add,
	}, keys)
}

func TestArea_WriteTreeIsOrderIndependent(t *testing.T) {
	build := func(order [][]string) object.ContentId {
		r := newTestRepo(t)
		for _, p := range order {
			insert(t, r.area, p[len(p)-1], p...)
		}
		return r.commit(t)
	}

	a := build([][]string{{"ns", "a", "1"}, {"ns", "b", "2"}, {"z", "c", "3"}})
	b := build([][]string{{"z", "c", "3"}, {"ns", "b", "2"}, {"ns", "a", "1"}})
	assert.Equal(t, a, b)
}

func TestArea_WriteTreeAppliesDeletes(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "t", "1")
	insert(t, r.area, "2", "ns", "t", "2")
	base := r.commit(t)

	ok, err := r.area.RecordDelete([]string{"ns", "t", "2"})
	require.NoError(t, err)
	require.True(t, ok)
	root := r.commit(t)

	it, err := diff.NewWalker(r.main, diff.Options{}).Diff(base, root)
	require.NoError(t, err)
	changes, err := it.Collect()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, diff.Delete, changes[0].Type)
	assert.Equal(t, "ns/t/2", changes[0].Key())
}

func lookup(t *testing.T, r *testRepo, root object.ContentId, path ...string) bool {
	t.Helper()
	_, ok, err := revtree.Lookup(r.main, root, path)
	require.NoError(t, err)
	return ok
}

func TestArea_WriteTreeInsertAfterSubtreeDelete(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "t", "1")
	insert(t, r.area, "2", "ns", "t", "2")
	r.commit(t)

	ok, err := r.area.RecordDelete([]string{"ns", "t"})
	require.NoError(t, err)
	require.True(t, ok)
	insert(t, r.area, "9", "ns", "t", "9")
	root := r.commit(t)

	assert.False(t, lookup(t, r, root, "ns", "t", "1"))
	assert.False(t, lookup(t, r, root, "ns", "t", "2"))
	assert.True(t, lookup(t, r, root, "ns", "t", "9"))
}

func TestArea_WriteTreeSubtreeDeleteAfterInsert(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "t", "1")
	insert(t, r.area, "keep", "ns", "u", "1")
	r.commit(t)

	insert(t, r.area, "9", "ns", "t", "9")
	ok, err := r.area.RecordDelete([]string{"ns", "t"})
	require.NoError(t, err)
	require.True(t, ok)
	root := r.commit(t)

	assert.False(t, lookup(t, r, root, "ns", "t"))
	assert.False(t, lookup(t, r, root, "ns", "t", "9"))
	assert.True(t, lookup(t, r, root, "ns", "u", "1"))
}

func TestArea_WriteTreeSubtreeReplacedAcrossStages(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "t", "1")
	r.commit(t)

	insert(t, r.area, "5", "ns", "t", "5")
	_, err := r.area.RecordDelete([]string{"ns", "t"})
	require.NoError(t, err)
	_, err = r.area.Stage(nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.area.RecordCreate([]string{"ns", "t"}))
	insert(t, r.area, "6", "ns", "t", "6")
	root := r.commit(t)

	for _, name := range []string{"1", "5"} {
		assert.False(t, lookup(t, r, root, "ns", "t", name), name)
	}
	assert.True(t, lookup(t, r, root, "ns", "t", "6"))

	e, ok, err := revtree.Lookup(r.main, root, []string{"ns", "t"})
	require.NoError(t, err)
	require.True(t, ok)
	tree, err := revtree.Open(r.main, e.Target)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tree.Size())
}

func TestArea_BuildTreeKeepsStagedRecords(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r.area, "1", "ns", "t", "1")
	_, err := r.area.Stage(nil, nil)
	require.NoError(t, err)

	first, _, err := r.area.BuildTree(object.NullId)
	require.NoError(t, err)
	_, staged, err := r.area.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, staged)

	again, _, err := r.area.BuildTree(object.NullId)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, r.area.ClearStaged())
	_, staged, err = r.area.Counts()
	require.NoError(t, err)
	assert.Zero(t, staged)
}

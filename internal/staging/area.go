// Package staging accumulates uncommitted changes in two keyspaces,
// unstaged and staged, each mapping a path to its latest change record.
// Objects written while staging live in a separate object layer until
// WriteTree promotes them into the main store.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/logging"
	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
	"geotig/internal/storage"
)

const (
	unstagedPrefix = "unstaged"
	stagedPrefix   = "staged"
	layerPrefix    = "stageobj"
	seqKey         = "stageseq"
)

// HeadFunc returns the root tree of the last commit, or the null id when
// nothing has been committed.
type HeadFunc func() (object.ContentId, error)

type Options struct {
	Tree      revtree.Options
	Head      HeadFunc
	CacheSize int
	Logger    *zap.Logger
}

// Insertion is one element of a batch insert.
type Insertion struct {
	Data   []byte
	Bounds *object.BoundingBox
	Path   []string
}

// Area is the staging area of a repository. It expects a single writer.
type Area struct {
	main     safe.Store
	top      *safe.Safe
	layer    *safe.Layered
	unstaged *storage.BadgerStore
	staged   *storage.BadgerStore
	seq      *badger.Sequence
	head     HeadFunc
	treeOpts revtree.Options
	logger   *zap.Logger
}

func New(db *badger.DB, main safe.Store, opts Options) (*Area, error) {
	if db == nil || main == nil {
		return nil, fmt.Errorf("staging area needs a database and an object store")
	}
	top, err := safe.New(db, safe.Options{
		Prefix:    layerPrefix,
		CacheSize: opts.CacheSize,
		Codec:     main.Codec(),
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating staging layer: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 256)
	if err != nil {
		top.Close()
		return nil, fmt.Errorf("opening staging sequence: %w", err)
	}

	head := opts.Head
	if head == nil {
		head = func() (object.ContentId, error) { return object.NullId, nil }
	}

	return &Area{
		main:     main,
		top:      top,
		layer:    safe.NewLayered(top, main),
		unstaged: storage.NewBadgerStore(db, unstagedPrefix),
		staged:   storage.NewBadgerStore(db, stagedPrefix),
		seq:      seq,
		head:     head,
		treeOpts: opts.Tree,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

func (a *Area) Close() {
	if err := a.seq.Release(); err != nil {
		a.logger.Warn("Failed to release staging sequence", zap.Error(err))
	}
	a.top.Close()
}

// Layer is the object view used while staging: staging objects over the
// main store.
func (a *Area) Layer() safe.Reader { return a.layer }

func validatePath(path []string) error {
	if len(path) == 0 {
		return errors.ValidationError("path cannot be empty", nil)
	}
	for _, seg := range path {
		if seg == "" || strings.Contains(seg, "/") {
			return errors.ValidationError(fmt.Sprintf("invalid path segment %q", seg), map[string]any{"path": path})
		}
	}
	return nil
}

func pathKey(path []string) string {
	return strings.Join(path, "/")
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// record is the stored form of a change. Seq orders records across both
// keyspaces; a later record at an ancestor path supersedes earlier ones below
// it.
type record struct {
	diff.Change
	Seq uint64 `json:"seq"`
}

func (a *Area) putRecord(kv *storage.BadgerStore, c diff.Change) error {
	n, err := a.seq.Next()
	if err != nil {
		return fmt.Errorf("allocating record sequence: %w", err)
	}
	data, err := json.Marshal(record{Change: c, Seq: n})
	if err != nil {
		return fmt.Errorf("encoding change record: %w", err)
	}
	return kv.Put(c.Key(), data)
}

func getRecord(kv *storage.BadgerStore, key string) (diff.Change, bool, error) {
	data, err := kv.Get(key)
	if errors.Is(err, errors.ErrorTypeNotFound) {
		return diff.Change{}, false, nil
	}
	if err != nil {
		return diff.Change{}, false, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return diff.Change{}, false, fmt.Errorf("decoding change record %s: %w", key, err)
	}
	return r.Change, true, nil
}

func scanRecords(kv *storage.BadgerStore, prefix []string) ([]record, error) {
	var out []record
	err := kv.Scan(pathKey(prefix), func(key string, value []byte) error {
		var r record
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decoding change record %s: %w", key, err)
		}
		if hasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func listRecords(kv *storage.BadgerStore, prefix []string) ([]diff.Change, error) {
	recs, err := scanRecords(kv, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]diff.Change, len(recs))
	for i, r := range recs {
		out[i] = r.Change
	}
	return out, nil
}

func (a *Area) committed(path []string) (object.Entry, bool, error) {
	root, err := a.head()
	if err != nil {
		return object.Entry{}, false, fmt.Errorf("resolving committed tree: %w", err)
	}
	return revtree.Lookup(a.main, root, path)
}

// RecordCreate records a new empty subtree at path. It fails if the path is
// occupied in the staged space or the committed tree, unless the staged
// record there is a delete.
func (a *Area) RecordCreate(path []string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	key := pathKey(path)

	rec, ok, err := getRecord(a.staged, key)
	if err != nil {
		return err
	}
	if ok && rec.Type != diff.Delete {
		return errors.PreconditionFailed(fmt.Sprintf("%s is already staged", key))
	}
	if !ok {
		_, exists, err := a.committed(path)
		if err != nil {
			return err
		}
		if exists {
			return errors.PreconditionFailed(fmt.Sprintf("%s already exists", key))
		}
	}

	id, err := safe.WriteObject(a.layer, object.EmptyTree())
	if err != nil {
		return fmt.Errorf("writing empty tree: %w", err)
	}
	entry := object.Entry{Name: path[len(path)-1], Target: id, Kind: object.KindTree}
	c, err := diff.NewChange(nil, &entry, path, object.NullId, object.NullId)
	if err != nil {
		return err
	}
	a.logger.Debug("Recorded create", zap.String("path", key))
	return a.putRecord(a.unstaged, c)
}

// RecordDelete records the removal of path and reports whether there was
// anything to remove.
func (a *Area) RecordDelete(path []string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	key := pathKey(path)

	var latest *object.Entry
	found := false
	for _, kv := range []*storage.BadgerStore{a.unstaged, a.staged} {
		rec, ok, err := getRecord(kv, key)
		if err != nil {
			return false, err
		}
		if ok {
			found = true
			if rec.Type == diff.Delete {
				return false, nil
			}
			latest = rec.New
			break
		}
	}
	if !found {
		e, ok, err := a.committed(path)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		latest = &e
	}

	c, err := diff.NewChange(latest, nil, path, object.NullId, object.NullId)
	if err != nil {
		return false, err
	}
	if err := a.putRecord(a.unstaged, c); err != nil {
		return false, err
	}
	a.logger.Debug("Recorded delete", zap.String("path", key))
	return true, nil
}

// RecordInsert stores data as a blob in the staging layer and records it at
// path. The recorded change never carries an old side.
func (a *Area) RecordInsert(data []byte, bounds *object.BoundingBox, path []string) (object.Entry, error) {
	if err := validatePath(path); err != nil {
		return object.Entry{}, err
	}
	id, err := safe.WriteObject(a.layer, &object.Blob{Data: data})
	if err != nil {
		return object.Entry{}, fmt.Errorf("writing %s: %w", pathKey(path), err)
	}
	entry := object.Entry{
		Name:   path[len(path)-1],
		Target: id,
		Kind:   object.KindBlob,
		Bounds: bounds.Clone(),
	}
	c, err := diff.NewChange(nil, &entry, path, object.NullId, object.NullId)
	if err != nil {
		return object.Entry{}, err
	}
	if err := a.putRecord(a.unstaged, c); err != nil {
		return object.Entry{}, err
	}
	return entry, nil
}

// InsertAll records every insertion from seq. progress receives a
// percentage, or -1 when total is unknown (zero or less). If ctx is
// canceled between elements the batch stops and the result is empty.
func (a *Area) InsertAll(ctx context.Context, seq iter.Seq[Insertion], total int, progress func(float64)) ([]object.Entry, error) {
	var out []object.Entry
	done := 0
	for ins := range seq {
		if ctx.Err() != nil {
			a.logger.Info("Batch insert canceled", zap.Int("inserted", done))
			return nil, nil
		}
		e, err := a.RecordInsert(ins.Data, ins.Bounds, ins.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		done++
		if progress != nil {
			if total > 0 {
				progress(float64(done) * 100 / float64(total))
			} else {
				progress(-1)
			}
		}
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	return out, nil
}

// Stage moves every unstaged record under prefix into the staged space and
// returns how many moved.
func (a *Area) Stage(prefix []string, progress func(done, total int)) (int, error) {
	type rec struct {
		key   string
		value []byte
	}
	var recs []rec
	err := a.unstaged.Scan(pathKey(prefix), func(key string, value []byte) error {
		if !hasPrefix(strings.Split(key, "/"), prefix) {
			return nil
		}
		recs = append(recs, rec{key: key, value: append([]byte(nil), value...)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("listing unstaged changes: %w", err)
	}

	for i, r := range recs {
		if err := storage.Move(a.unstaged, a.staged, r.key, r.value); err != nil {
			return i, fmt.Errorf("staging %s: %w", r.key, err)
		}
		if progress != nil {
			progress(i+1, len(recs))
		}
	}
	a.logger.Info("Staged changes", zap.Int("count", len(recs)), zap.Strings("prefix", prefix))
	return len(recs), nil
}

func (a *Area) Unstaged(prefix []string) ([]diff.Change, error) {
	return listRecords(a.unstaged, prefix)
}

func (a *Area) Staged(prefix []string) ([]diff.Change, error) {
	return listRecords(a.staged, prefix)
}

// Discard drops unstaged records under prefix.
func (a *Area) Discard(prefix []string) (int, error) {
	recs, err := listRecords(a.unstaged, prefix)
	if err != nil {
		return 0, err
	}
	for _, c := range recs {
		if err := a.unstaged.Delete(c.Key()); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// Counts returns the number of unstaged and staged records.
func (a *Area) Counts() (unstaged, staged int, err error) {
	if unstaged, err = a.unstaged.Count(); err != nil {
		return 0, 0, err
	}
	if staged, err = a.staged.Count(); err != nil {
		return 0, 0, err
	}
	return unstaged, staged, nil
}

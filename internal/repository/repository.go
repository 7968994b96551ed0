// Package repository ties the object store, the staging area and the ref
// keyspace of one .geotig directory together.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"geotig/internal/config"
	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/logging"
	"geotig/internal/object"
	"geotig/internal/revtree"
	"geotig/internal/safe"
	"geotig/internal/staging"
	"geotig/internal/storage"
)

type Repository struct {
	Root    string
	DB      *badger.DB
	Safe    *safe.Safe
	Staging *staging.Area
	Config  *config.Config
	Logger  *zap.Logger

	refs *storage.BadgerStore
	meta *storage.BadgerStore
}

// Initialize creates the .geotig directory under root with a default
// config file, leaving an existing config alone.
func Initialize(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(filepath.Join(dir, "db"), 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", DirName, err)
	}

	cfgPath := filepath.Join(dir, ConfigName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Save(cfgPath, config.Default()); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

// Find walks up from dir to the nearest directory holding .geotig.
func Find(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("getting absolute path for %s: %w", dir, err)
	}
	for {
		if info, err := os.Stat(filepath.Join(abs, DirName)); err == nil && info.IsDir() {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", errors.NotFound(fmt.Sprintf("no %s directory found above %s", DirName, dir))
		}
		abs = parent
	}
}

// Open opens the repository at root. cfg may be nil, in which case
// .geotig/config.toml is loaded (or defaults used).
func Open(root string, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if cfg == nil {
		cfg, err = config.LoadOrDefault(filepath.Join(absPath, DirName, ConfigName))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	var db *badger.DB
	if cfg.Database.InMemory {
		db, err = badger.Open(inMemoryOptions())
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
	} else {
		if err := Initialize(absPath); err != nil {
			return nil, fmt.Errorf("initializing directories: %w", err)
		}
		dbPath := cfg.Database.Path
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(absPath, dbPath)
		}
		if db, err = openDB(dbPath); err != nil {
			return nil, err
		}
	}

	r, err := newRepository(absPath, db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// OpenInMemory opens a repository that lives only as long as the process.
func OpenInMemory(cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	c.Database.InMemory = true
	return Open(".", &c, logger)
}

func newRepository(root string, db *badger.DB, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	logger = logging.OrNop(logger)

	codec, err := object.CodecByName(cfg.Store.Codec)
	if err != nil {
		return nil, err
	}
	store, err := safe.New(db, safe.Options{
		CacheSize: cfg.Store.CacheSize,
		Codec:     codec,
		Compression: safe.CompressionOptions{
			MinSize: cfg.Store.Compression.MinSize,
			Level:   cfg.Store.Compression.Level,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing object store: %w", err)
	}

	r := &Repository{
		Root:   root,
		DB:     db,
		Safe:   store,
		Config: cfg,
		Logger: logger,
		refs:   storage.NewBadgerStore(db, "ref"),
		meta:   storage.NewBadgerStore(db, "meta"),
	}

	area, err := staging.New(db, store, staging.Options{
		Tree:      r.TreeOptions(),
		Head:      r.HeadTree,
		CacheSize: cfg.Store.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing staging area: %w", err)
	}
	r.Staging = area

	if _, err := r.Metadata(); errors.Is(err, errors.ErrorTypeNotFound) {
		md := &Metadata{Version: version, Created: time.Now().UTC(), Root: root}
		if err := r.meta.PutEntity(md); err != nil {
			r.Close()
			return nil, fmt.Errorf("writing repository metadata: %w", err)
		}
	} else if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) TreeOptions() revtree.Options {
	return revtree.Options{
		NormalizationThreshold: r.Config.Tree.NormalizationThreshold,
		SplitThreshold:         r.Config.Tree.SplitThreshold,
	}
}

func (r *Repository) Metadata() (*Metadata, error) {
	var md Metadata
	if err := r.meta.GetEntity(metadataID, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// HeadTree is the root tree of HEAD, or the null id before the first commit.
func (r *Repository) HeadTree() (object.ContentId, error) {
	return r.ResolveTree(HeadRef)
}

// ResolveTree resolves ref to a tree id, reading through commits.
func (r *Repository) ResolveTree(ref string) (object.ContentId, error) {
	id, err := r.ResolveRef(ref)
	if err != nil {
		return object.NullId, err
	}
	return r.Staging.ResolveTree(id)
}

// WriteTree applies the staged changes on top of ref.
func (r *Repository) WriteTree(ref string) (object.ContentId, *object.BoundingBox, error) {
	target, err := r.ResolveRef(ref)
	if err != nil {
		return object.NullId, nil, errors.PreconditionFailed(fmt.Sprintf("cannot resolve %q", ref)).Wrap(err)
	}
	return r.Staging.WriteTree(target)
}

// Commit writes the staged changes as a new commit on HEAD.
func (r *Repository) Commit(author, message string) (*CommitResult, error) {
	_, staged, err := r.Staging.Counts()
	if err != nil {
		return nil, err
	}
	if staged == 0 {
		return nil, errors.PreconditionFailed("nothing staged to commit")
	}

	parent, err := r.ResolveRef(HeadRef)
	if err != nil {
		return nil, err
	}
	tree, bounds, err := r.Staging.BuildTree(parent)
	if err != nil {
		return nil, err
	}

	c := &object.Commit{
		Tree:      tree,
		Author:    author,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
	if !parent.IsNull() {
		c.Parents = []object.ContentId{parent}
	}
	id, err := safe.WriteObject(r.Safe, c)
	if err != nil {
		return nil, fmt.Errorf("writing commit: %w", err)
	}
	if err := r.SetRef(HeadRef, id); err != nil {
		return nil, fmt.Errorf("updating %s: %w", HeadRef, err)
	}
	// Cleared only once HEAD points at the new commit.
	if err := r.Staging.ClearStaged(); err != nil {
		return nil, err
	}

	if md, err := r.Metadata(); err == nil {
		md.LastCommit = time.Unix(c.Timestamp, 0).UTC()
		if err := r.meta.PutEntity(md); err != nil {
			r.Logger.Warn("Failed to update repository metadata", zap.Error(err))
		}
	}

	r.Logger.Info("Committed",
		zap.String("commit", id.Short()),
		zap.String("tree", tree.Short()),
		zap.String("author", author))
	return &CommitResult{ID: id, Tree: tree, Parent: parent, Bounds: bounds}, nil
}

// Log lists commits from ref backwards along first parents. A limit of zero
// or less means no limit.
func (r *Repository) Log(ref string, limit int) ([]LogEntry, error) {
	id, err := r.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for !id.IsNull() && (limit <= 0 || len(out) < limit) {
		c, err := safe.ReadCommit(r.Safe, id)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{ID: id, Commit: c})
		if len(c.Parents) == 0 {
			break
		}
		id = c.Parents[0]
	}
	return out, nil
}

// Diff compares the trees behind two refs.
func (r *Repository) Diff(from, to string, opts diff.Options) (*diff.ChangeIterator, error) {
	fromTree, err := r.ResolveTree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.ResolveTree(to)
	if err != nil {
		return nil, err
	}
	opts.Tree = r.TreeOptions()
	return diff.NewWalker(r.Safe, opts).Diff(fromTree, toTree)
}

// Lookup finds the entry at path in the tree behind ref.
func (r *Repository) Lookup(ref string, path []string) (object.Entry, bool, error) {
	tree, err := r.ResolveTree(ref)
	if err != nil {
		return object.Entry{}, false, err
	}
	return revtree.Lookup(r.Safe, tree, path)
}

// ReadFeature decodes the feature stored under id, looking through the
// staging layer as well.
func (r *Repository) ReadFeature(id object.ContentId) (*object.Feature, error) {
	return safe.ReadFeature(r.Staging.Layer(), id)
}

func (r *Repository) Status() (*Status, error) {
	head, err := r.ResolveRef(HeadRef)
	if err != nil {
		return nil, err
	}
	tree, err := r.Staging.ResolveTree(head)
	if err != nil {
		return nil, err
	}
	unstaged, staged, err := r.Staging.Counts()
	if err != nil {
		return nil, err
	}
	return &Status{Head: head, Tree: tree, Unstaged: unstaged, Staged: staged}, nil
}

// Close ensures proper cleanup of resources
func (r *Repository) Close() error {
	if r == nil {
		return nil
	}

	if r.Staging != nil {
		r.Staging.Close()
	}
	if r.Safe != nil {
		r.Safe.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
	}
	return nil
}

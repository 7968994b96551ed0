// internal/safe/safe.go
package safe

import (
	"fmt"
	"math"
	"runtime/debug"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"geotig/internal/errors"
	"geotig/internal/logging"
	"geotig/internal/object"
	"geotig/internal/storage"
)

var ErrInvalidHash = errors.ValidationError("content does not match its id", nil)

// Reader is the read side of an object store.
type Reader interface {
	Get(id object.ContentId) ([]byte, error)
	Exists(id object.ContentId) (bool, error)
	Codec() object.Codec
}

// Store is a content-addressed object store. Ids are always derived from the
// bytes; Insert only accepts an id that matches.
type Store interface {
	Reader
	Put(data []byte) (object.ContentId, error)
	Insert(id object.ContentId, data []byte) error
	Delete(id object.ContentId) error
}

// Safe stores immutable objects in a badger keyspace behind an LRU cache.
type Safe struct {
	kv     *storage.BadgerStore
	cache  *lru.Cache[object.ContentId, []byte]
	codec  object.Codec
	cm     *compressionManager
	logger *zap.Logger
}

var _ Store = (*Safe)(nil)

// Options configures Safe behavior
type Options struct {
	Prefix      string // Keyspace prefix, "obj" by default
	CacheSize   int    // Number of objects to cache; 0 scales with the memory limit
	Codec       object.Codec
	Compression CompressionOptions
	Logger      *zap.Logger
}

// New creates a new Safe instance
func New(db *badger.DB, opts Options) (*Safe, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if opts.Prefix == "" {
		opts.Prefix = "obj"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize()
	}
	if opts.Codec == nil {
		opts.Codec = object.DefaultCodec()
	}
	if opts.Compression == (CompressionOptions{}) {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[object.ContentId, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression manager: %w", err)
	}

	return &Safe{
		kv:     storage.NewBadgerStore(db, opts.Prefix),
		cache:  cache,
		codec:  opts.Codec,
		cm:     cm,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// defaultCacheSize budgets a sixteenth of the Go memory limit for cached
// objects, assuming 4KiB per object.
func defaultCacheSize() int {
	const (
		minEntries = 256
		maxEntries = 1 << 20
		fallback   = 4096
	)
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return fallback
	}
	n := limit / 16 / 4096
	switch {
	case n < minEntries:
		return minEntries
	case n > maxEntries:
		return maxEntries
	}
	return int(n)
}

func (s *Safe) Codec() object.Codec { return s.codec }

// Put stores data and returns its id. Storing identical bytes twice is a no-op.
func (s *Safe) Put(data []byte) (object.ContentId, error) {
	id := object.HashBytes(data)
	if err := s.insert(id, data); err != nil {
		return object.NullId, err
	}
	return id, nil
}

// Insert stores data under a known id, as received from a transfer.
func (s *Safe) Insert(id object.ContentId, data []byte) error {
	if object.HashBytes(data) != id {
		return ErrInvalidHash.Wrap(fmt.Errorf("object %s", id))
	}
	return s.insert(id, data)
}

func (s *Safe) insert(id object.ContentId, data []byte) error {
	if s.cache.Contains(id) {
		return nil
	}

	stored, err := s.cm.compress(data)
	if err != nil {
		return fmt.Errorf("compressing object %s: %w", id, err)
	}

	written, err := s.kv.PutIfAbsent(id.String(), stored)
	if err != nil {
		return fmt.Errorf("storing object %s: %w", id, err)
	}
	if written {
		s.logger.Debug("stored object",
			zap.Stringer("id", id),
			zap.Int("size", len(data)),
			zap.Int("stored", len(stored)))
	}

	s.cache.Add(id, data)
	return nil
}

// Get retrieves object bytes by id
func (s *Safe) Get(id object.ContentId) ([]byte, error) {
	if content, ok := s.cache.Get(id); ok {
		return content, nil
	}

	stored, err := s.kv.Get(id.String())
	if err != nil {
		if errors.Is(err, errors.ErrorTypeNotFound) {
			return nil, errors.NotFound(fmt.Sprintf("object not found: %s", id))
		}
		return nil, fmt.Errorf("reading object %s: %w", id, err)
	}

	content, err := s.cm.decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("decompressing object %s: %w", id, err)
	}

	if object.HashBytes(content) != id {
		return nil, ErrInvalidHash.Wrap(fmt.Errorf("object %s is corrupt", id))
	}

	s.cache.Add(id, content)
	return content, nil
}

// Exists checks if an object exists
func (s *Safe) Exists(id object.ContentId) (bool, error) {
	if s.cache.Contains(id) {
		return true, nil
	}
	return s.kv.Has(id.String())
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *Safe) Delete(id object.ContentId) error {
	s.cache.Remove(id)
	return s.kv.Delete(id.String())
}

// Len counts stored objects.
func (s *Safe) Len() (int, error) {
	return s.kv.Count()
}

// IDs lists every stored object id.
func (s *Safe) IDs() ([]object.ContentId, error) {
	keys, err := s.kv.Keys("")
	if err != nil {
		return nil, err
	}
	ids := make([]object.ContentId, 0, len(keys))
	for _, k := range keys {
		id, err := object.ParseContentId(k)
		if err != nil {
			return nil, fmt.Errorf("corrupt object key %q: %w", k, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Purge drops every object and empties the cache.
func (s *Safe) Purge() error {
	s.cache.Purge()
	return s.kv.Clear()
}

func (s *Safe) Close() {
	s.cm.close()
}

package repository

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// inMemoryOptions returns BadgerDB options for throwaway repositories.
// Durability is traded for speed, which suits tests and the in-memory
// server mode.
func inMemoryOptions() badger.Options {
	return badger.DefaultOptions("").
		WithInMemory(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
}

// openDB opens (creating if needed) the on-disk database at path.
func openDB(path string) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// Package badger provides a storage.StateStore backed by an embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"solana-hype-trader/internal/storage"
)

// Options configures the state store.
type Options struct {
	Path     string // directory; ignored when InMemory
	InMemory bool
	ReadOnly bool
}

// StateStore implements storage.StateStore using Badger.
type StateStore struct {
	db *badger.DB
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// Open opens (or creates) the Badger database.
func Open(opts Options) (*StateStore, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("badger: path is required")
	}

	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Close closes the database.
func (s *StateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save atomically replaces the value stored under key.
func (s *StateStore) Save(_ context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return storage.ErrInvalidInput
	}
	v := append([]byte(nil), value...)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), v)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load retrieves the value stored under key. Returns ErrNotFound if not exists.
func (s *StateStore) Load(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return out, nil
}

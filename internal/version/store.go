package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/yourorg/unfreeze/internal/model"
)

const keyPrefix = "version/"

// Store persists resolved versions keyed by target identity. Entries are only
// removed by Reset or ResetAll.
type Store interface {
	Get(identity string) (model.RuntimeVersion, bool, error)
	Put(identity string, v model.RuntimeVersion) error
	Reset(identity string) error
	ResetAll() error
}

type record struct {
	Major      int              `json:"major"`
	Minor      int              `json:"minor"`
	Text       string           `json:"text"`
	Provenance model.Provenance `json:"provenance"`
	ResolvedAt time.Time        `json:"resolved_at"`
}

// BadgerStore is a Store backed by an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenStore opens (creating if needed) the store under dir.
func OpenStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("version store directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create version store directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenMemoryStore returns a store that lives only as long as the process.
func OpenMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory version store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func key(identity string) []byte { return []byte(keyPrefix + identity) }

func (s *BadgerStore) Get(identity string) (model.RuntimeVersion, bool, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(identity))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.RuntimeVersion{}, false, nil
	}
	if err != nil {
		return model.RuntimeVersion{}, false, fmt.Errorf("read persisted version: %w", err)
	}
	return model.RuntimeVersion{
		Major:      rec.Major,
		Minor:      rec.Minor,
		Text:       rec.Text,
		Provenance: rec.Provenance,
	}, true, nil
}

func (s *BadgerStore) Put(identity string, v model.RuntimeVersion) error {
	b, err := json.Marshal(record{
		Major:      v.Major,
		Minor:      v.Minor,
		Text:       v.Text,
		Provenance: v.Provenance,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(identity), b)
	}); err != nil {
		return fmt.Errorf("persist version: %w", err)
	}
	return nil
}

func (s *BadgerStore) Reset(identity string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(identity))
	})
}

func (s *BadgerStore) ResetAll() error {
	return s.db.DropPrefix([]byte(keyPrefix))
}

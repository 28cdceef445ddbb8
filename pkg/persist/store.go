// Package persist stores profile snapshots in BadgerDB.
//
// The analysis pipeline itself is in-memory; persistence happens only at
// the snapshot boundary. A Store maps userID -> serialized graph snapshot,
// written whole on save and read whole on load. Snapshots carry no event
// payloads, file contents, or code - only concept IDs, counters, and
// timestamps.
//
// Example Usage:
//
//	store, err := persist.Open("./data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.SaveProfile("alice", g.Export()); err != nil {
//		log.Fatal(err)
//	}
//	snap, err := store.LoadProfile("alice")
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orneryd/muninn/pkg/graph"
)

// ErrProfileNotFound is returned by LoadProfile for an unknown userID.
var ErrProfileNotFound = errors.New("persist: profile not found")

const profileKeyPrefix = "profile:"

// Store is a BadgerDB-backed snapshot store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a snapshot store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a library
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func profileKey(userID string) []byte {
	return []byte(profileKeyPrefix + userID)
}

// SaveProfile writes the snapshot for userID, replacing any previous one.
func (s *Store) SaveProfile(userID string, snap *graph.Snapshot) error {
	if userID == "" {
		return errors.New("persist: empty userID")
	}
	if snap == nil {
		return errors.New("persist: nil snapshot")
	}
	if snap.ExportedAt.IsZero() {
		snap.ExportedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", userID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(userID), data)
	})
	if err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}
	return nil
}

// LoadProfile reads the snapshot for userID.
func (s *Store) LoadProfile(userID string) (*graph.Snapshot, error) {
	var snap graph.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if err == badger.ErrKeyNotFound {
			return ErrProfileNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return &snap, nil
}

// DeleteProfile removes the snapshot for userID. Deleting an unknown
// profile is not an error.
func (s *Store) DeleteProfile(userID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(profileKey(userID))
	})
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", userID, err)
	}
	return nil
}

// ListProfiles returns the userIDs with stored snapshots, in key order.
func (s *Store) ListProfiles() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(profileKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ids, nil
}

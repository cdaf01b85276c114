/*
Package store persists document snapshots and the append-only operation log.

Layout: one bbolt file with a "snapshots" bucket (document id → latest
snapshot) and an "oplog" bucket holding one nested bucket per document, keyed
by big-endian version so a cursor walks the log in order. The engine never
touches the store directly; the hub writes through it after every applied
change and reads from it to answer resyncs across restarts.
*/
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketOplog     = []byte("oplog")
)

// ErrNoSnapshot is returned when a document was never persisted.
var ErrNoSnapshot = errors.New("no snapshot for document")

// Snapshot is the persisted content of a document at a version.
type Snapshot struct {
	Version int    `json:"version"`
	Content string `json:"content"`
}

// Store is a bbolt-backed snapshot and operation log.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOplog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the store file.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot overwrites the snapshot for a document.
func (s *Store) SaveSnapshot(docID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(docID), data)
	})
}

// LoadSnapshot returns the latest snapshot for a document.
func (s *Store) LoadSnapshot(docID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(docID))
		if data == nil {
			return fmt.Errorf("%s: %w", docID, ErrNoSnapshot)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// AppendChange appends one serialized change at the given version of the
// document's log.
func (s *Store) AppendChange(docID string, version int, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketOplog).CreateBucketIfNotExists([]byte(docID))
		if err != nil {
			return err
		}
		return b.Put(itob(version), data)
	})
}

// ChangesSince returns the serialized changes with version strictly greater
// than fromVersion, in version order.
func (s *Store) ChangesSince(docID string, fromVersion int) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOplog).Bucket([]byte(docID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(itob(fromVersion + 1)); k != nil; k, v = c.Next() {
			data := make([]byte, len(v))
			copy(data, v)
			out = append(out, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

package commandlog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/command"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketCommands = []byte("balancer_commands")

// Handle identifies one persisted record.
type Handle string

// Record is the durable shape of an in-flight command: everything needed to
// re-issue it byte-identically after a restart.
type Record struct {
	Namespace        string          `json:"namespace"`
	Target           types.ShardID   `json:"target"`
	Kind             command.Kind    `json:"kind"`
	RequiresDistLock bool            `json:"requiresDistLock"`
	Payload          json.RawMessage `json:"payload"`
}

// Entry pairs a scanned record with its handle.
type Entry struct {
	Handle Handle
	Record Record
}

// Log is the bbolt-backed write-ahead log of not-yet-completed balancer
// commands. It is only read at startup; during normal operation records are
// appended before dispatch and removed once the outcome is known.
type Log struct {
	db *bolt.DB
}

// Open opens (or creates) the command log inside dataDir.
func Open(dataDir string) (*Log, error) {
	dbPath := filepath.Join(dataDir, "balancer.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open command log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommands)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create command bucket: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append durably stores a record and returns its handle. The record is on
// disk before Append returns.
func (l *Log) Append(record Record) (Handle, error) {
	handle := Handle(uuid.New().String())
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(handle), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist command: %w", err)
	}
	return handle, nil
}

// Remove durably deletes a record. Removing an already-removed handle is
// not an error.
func (l *Log) Remove(handle Handle) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		return b.Delete([]byte(handle))
	})
}

// ScanAll returns every persisted record. Used only by the recovery pass at
// scheduler startup.
func (l *Log) ScanAll() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		return b.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("corrupt command record %s: %w", k, err)
			}
			entries = append(entries, Entry{Handle: Handle(k), Record: record})
			return nil
		})
	})
	return entries, err
}

// Count returns the number of persisted records.
func (l *Log) Count() (int, error) {
	var count int
	err := l.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketCommands).Stats().KeyN
		return nil
	})
	return count, err
}

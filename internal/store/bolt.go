// Package store persists grab history and the activity log in BoltDB.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketHistory  = []byte("history")
	bucketLogs     = []byte("logs")
	bucketSettings = []byte("settings")
)

// GrabRecord represents a completed (or failed) grab attempt.
type GrabRecord struct {
	Timestamp       time.Time     `json:"timestamp"`
	TeachingClassID string        `json:"teaching_class_id"`
	CourseName      string        `json:"course_name"`
	Teacher         string        `json:"teacher"`
	Outcome         string        `json:"outcome"` // "acquired", "conflict", "full", "failed", or "dangling"
	Detail          string        `json:"detail,omitempty"`
	SwappedOut      string        `json:"swapped_out,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Store wraps a BoltDB database for Sentinel persistence.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at the given path and ensures
// all required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHistory, bucketLogs, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendHistory appends a grab record to the history bucket.
// Keys are RFC3339Nano timestamps so the bucket stays chronological.
func (s *Store) AppendHistory(rec GrabRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal grab record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		key := []byte(rec.Timestamp.UTC().Format(time.RFC3339Nano))
		return b.Put(key, data)
	})
}

// ListHistory returns the most recent grab records, newest first, up to limit.
func (s *Store) ListHistory(limit int) ([]GrabRecord, error) {
	var records []GrabRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		c := b.Cursor()

		// Walk backwards from the end (newest first).
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec GrabRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// ListHistoryByClass returns grab records filtered by teaching class ID,
// newest first, up to limit.
func (s *Store) ListHistoryByClass(tcID string, limit int) ([]GrabRecord, error) {
	var records []GrabRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		c := b.Cursor()

		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec GrabRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.TeachingClassID == tcID {
				records = append(records, rec)
			}
		}
		return nil
	})
	return records, err
}

// LogEntry represents a timestamped event in the activity log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // availability, grab, swap, recovery, relogin
	Message   string    `json:"message"`
	Course    string    `json:"course,omitempty"`
}

// AppendLog writes a log entry to the logs bucket.
func (s *Store) AppendLog(entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		key := []byte(entry.Timestamp.Format(time.RFC3339Nano))
		return b.Put(key, data)
	})
}

// ListLogs returns the most recent log entries, newest first, up to limit.
func (s *Store) ListLogs(limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// SaveSetting stores a setting key-value pair in the settings bucket.
func (s *Store) SaveSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		return b.Put([]byte(key), []byte(value))
	})
}

// LoadSetting loads a setting by key from the settings bucket.
// Returns empty string if the key doesn't exist.
func (s *Store) LoadSetting(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		v := b.Get([]byte(key))
		if v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

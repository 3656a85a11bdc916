// Package storage provides the persistent audit log of the stacking service.
// It uses BoltDB as the underlying storage engine to record every served prediction
// and attribution together with the model version that produced it.
//
// Records are keyed by model version and timestamp, so history queries for one model
// version over a time range are a single cursor scan.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	predictionsBucket  = "predictions"  // Bucket name for prediction records
	attributionsBucket = "attributions" // Bucket name for attribution records

	dbFile = "stack-audit.db"
)

// Store provides persistent storage for audit records using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance in dataPath, creating the directory and buckets
// as needed.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{predictionsBucket, attributionsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// recordKey orders records by version, then time. The timestamp is zero-padded so that
// byte order matches time order.
func recordKey(version string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d", version, ts.UnixNano()))
}

func (s *Store) put(bucketName, version string, ts time.Time, record any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucketName, err)
		}

		key := recordKey(version, ts)
		// two records in the same nanosecond: bump until the key is free
		for b.Get(key) != nil {
			ts = ts.Add(time.Nanosecond)
			key = recordKey(version, ts)
		}
		return b.Put(key, data)
	})
}

// getRecordsInRange retrieves the records of one model version within an inclusive
// time range, oldest first. At most limit records are returned when limit > 0.
func getRecordsInRange[T any](s *Store, bucketName, version string, start, end time.Time, limit int) ([]T, error) {
	var records []T

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()

		prefix := []byte(version + "_")
		startKey := recordKey(version, start)
		endKey := recordKey(version, end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var record T
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
			if limit > 0 && len(records) >= limit {
				break
			}
		}

		return nil
	})

	return records, err
}

// Prune deletes every record older than before, across all versions. It returns the
// number of records removed.
func (s *Store) Prune(before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{predictionsBucket, attributionsBucket} {
			b := tx.Bucket([]byte(name))
			var stale [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var hdr struct {
					Timestamp time.Time `json:"timestamp"`
				}
				if err := json.Unmarshal(v, &hdr); err != nil || hdr.Timestamp.Before(before) {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			removed += len(stale)
		}
		return nil
	})
	return removed, err
}

// Counts returns the number of stored predictions and attributions.
func (s *Store) Counts() (predictions, attributions int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		predictions = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		attributions = tx.Bucket([]byte(attributionsBucket)).Stats().KeyN
		return nil
	})
	return predictions, attributions, err
}

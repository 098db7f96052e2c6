// Package history keeps finished runs in a local bbolt database so they can
// be listed and compared later.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/surgeload/internal/report"
)

const (
	bucketRuns = "runs"
	bucketIDs  = "ids"

	keyTimeFormat = "20060102T150405.000000000Z"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Entry is the one-line view of a stored run.
type Entry struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Requests  int64         `json:"requests"`
	Dropped   int64         `json:"dropped"`
	ErrorRate float64       `json:"errorRate"`
	P95Ms     float64       `json:"p95Ms"`
	Passed    bool          `json:"passed"`
}

// Store is a run history backed by a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// DefaultPath returns ~/.surgeload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".surgeload", "history.db"), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time.
func runKey(doc *report.Document) []byte {
	return []byte(doc.StartTime.UTC().Format(keyTimeFormat) + "_" + doc.RunID)
}

// Save stores a run. Saving the same run ID again replaces it.
func (s *Store) Save(doc *report.Document) error {
	if doc == nil || doc.RunID == "" {
		return errors.New("run has no ID")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs, ids := tx.Bucket([]byte(bucketRuns)), tx.Bucket([]byte(bucketIDs))

		if old := ids.Get([]byte(doc.RunID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(doc)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(doc.RunID), key)
	})
}

// Get returns the full document of one run.
func (s *Store) Get(runID string) (*report.Document, error) {
	var doc report.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(bucketIDs)).Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		v := tx.Bucket([]byte(bucketRuns)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
// Entries that fail to decode are skipped.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var doc report.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				continue
			}
			entries = append(entries, entryOf(&doc))
		}
		return nil
	})
	return entries, err
}

// Delete removes a run.
func (s *Store) Delete(runID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(bucketIDs))
		key := ids.Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		if err := tx.Bucket([]byte(bucketRuns)).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(runID))
	})
}

func entryOf(doc *report.Document) Entry {
	return Entry{
		RunID:     doc.RunID,
		Name:      doc.Name,
		BaseURL:   doc.BaseURL,
		StartTime: doc.StartTime,
		Duration:  time.Duration(doc.DurationSec * float64(time.Second)),
		Requests:  doc.Total.Requests,
		Dropped:   doc.Total.Dropped,
		ErrorRate: doc.Total.ErrorRate,
		P95Ms:     doc.Total.Latency.P95,
		Passed:    doc.Passed,
	}
}

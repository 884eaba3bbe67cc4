// Package history persists cleanup reports in a local bbolt database.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/sweep/internal/report"
)

// Bucket names in bbolt
var (
	bucketRuns    = []byte("runs")
	bucketReports = []byte("reports")
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

type runKey struct {
	finishedAt time.Time
	runID      string
}

func lessRun(a, b runKey) bool {
	if !a.finishedAt.Equal(b.finishedAt) {
		return a.finishedAt.Before(b.finishedAt)
	}
	return a.runID < b.runID
}

// Store keeps run summaries and full reports keyed by run id. An in-memory
// index orders runs by finish time.
type Store struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[runKey]
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketReports} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history buckets: %w", err)
	}

	s := &Store{db: db, index: btree.NewG[runKey](32, lessRun)}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var sum report.Summary
			if err := json.Unmarshal(v, &sum); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(runKey{finishedAt: sum.FinishedAt, runID: string(k)})
			return nil
		})
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the report and its summary.
func (s *Store) Save(r *report.Report) error {
	sum := r.Summary()
	sumJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	repJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(sum.RunID)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put(key, sumJSON); err != nil {
			return err
		}
		return tx.Bucket(bucketReports).Put(key, repJSON)
	})
	if err != nil {
		return fmt.Errorf("store run %s: %w", sum.RunID, err)
	}

	s.index.ReplaceOrInsert(runKey{finishedAt: sum.FinishedAt, runID: sum.RunID})
	return nil
}

// List returns up to limit summaries, newest first. A limit of zero or
// less returns all runs.
func (s *Store) List(limit int) ([]report.Summary, error) {
	s.mu.RLock()
	var ids []string
	s.index.Descend(func(k runKey) bool {
		ids = append(ids, k.runID)
		return limit <= 0 || len(ids) < limit
	})
	s.mu.RUnlock()

	out := make([]report.Summary, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}
			var sum report.Summary
			if err := json.Unmarshal(v, &sum); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the stored report document of a run.
func (s *Store) Get(runID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketReports).Get([]byte(runID))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

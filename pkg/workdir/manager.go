// Package workdir allocates and persists the on-disk state of one run:
// deterministic per-plan/per-step paths, atomic YAML writes, and the
// run registry that lets `--id` reuse a previous run directory.
package workdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// ErrRunLocked is returned by AllocRun when another process already
// holds the writer lock for the requested run ID.
var ErrRunLocked = errors.New("workdir: run is locked by another process")

// runRecord is what the registry stores per run ID.
type runRecord struct {
	CreatedAt time.Time `json:"created_at"`
	LastPlan  string    `json:"last_plan"`
	LockPID   int       `json:"lock_pid,omitempty"`
}

// Manager owns the run registry: a single bbolt database at
// <base>/.tmt-runs.db mapping run ID to its metadata, mirroring the
// teacher's NewBoltStore bucket-provisioning idiom. It is never the
// source of truth for step/result data — those are plain YAML files
// under the run directory — only the lookup/lock layer for `--id`.
type Manager struct {
	base string
	db   *bolt.DB
}

// NewManager opens (creating if needed) the run registry under base.
func NewManager(base string) (*Manager, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("workdir: create base dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(base, ".tmt-runs.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("workdir: open run registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("workdir: provision run registry: %w", err)
	}

	return &Manager{base: base, db: db}, nil
}

// Close releases the run registry.
func (m *Manager) Close() error {
	return m.db.Close()
}

// AllocRun implements spec §4.1's alloc_run: a non-empty id names the
// run directory, reused when it already exists (emptied first when
// scratch is true); an empty id allocates a fresh run-<ISO-ts>
// directory. The registry entry doubles as the advisory
// lock — acquiring it and writing the current PID happens inside the
// same bolt write transaction that creates/reuses the record, so two
// processes racing on the same id can't both proceed.
func (m *Manager) AllocRun(id string, scratch bool) (*Run, error) {
	reused := false

	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)

		if id != "" && !scratch {
			if data := b.Get([]byte(id)); data != nil {
				var rec runRecord
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("corrupt run record for %q: %w", id, err)
				}
				if rec.LockPID != 0 && processAlive(rec.LockPID) {
					return ErrRunLocked
				}
				reused = true
				rec.LockPID = os.Getpid()
				return putRecord(b, id, rec)
			}
		}

		if id == "" {
			id = "run-" + time.Now().UTC().Format("20060102T150405Z")
		}

		rec := runRecord{CreatedAt: time.Now().UTC(), LockPID: os.Getpid()}
		return putRecord(b, id, rec)
	})
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(m.base, id)
	if scratch {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("workdir: clear scratch run %q: %w", id, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workdir: create run dir: %w", err)
	}

	run := &Run{ID: id, Dir: dir, manager: m}
	if err := run.openLog(); err != nil {
		return nil, err
	}

	_ = reused
	return run, nil
}

// Release clears the lock PID so another process can reuse the run.
func (m *Manager) Release(id string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var rec runRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.LockPID = 0
		return putRecord(b, id, rec)
	})
}

func putRecord(b *bolt.Bucket, id string, rec runRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

// NewID generates a non-time-derived run ID, used when a caller wants
// an opaque identifier instead of the default run-<ISO-ts> scheme.
func NewID() string {
	return uuid.NewString()
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes existence
	// without affecting the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/log"
)

// Run is one allocated run directory plus its open log file.
type Run struct {
	ID      string
	Dir     string
	manager *Manager

	logMu   sync.Mutex
	logFile *os.File
	logger  zerolog.Logger
}

func (r *Run) openLog() error {
	f, err := os.OpenFile(filepath.Join(r.Dir, "log.txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("workdir: open log.txt: %w", err)
	}
	r.logFile = f
	r.logger = log.NewFileLogger(f, map[string]string{"run_id": r.ID})
	return nil
}

// Logger returns the run-scoped logger; every write also lands in
// this run's log.txt.
func (r *Run) Logger() zerolog.Logger {
	return r.logger
}

// Close releases the run's held resources (log file, registry lock).
func (r *Run) Close() error {
	r.logMu.Lock()
	defer r.logMu.Unlock()

	var errs []error
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.manager != nil {
		if err := r.manager.Release(r.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("workdir: close run: %v", errs)
	}
	return nil
}

// PlanDir translates a plan's "/"-rooted name into a directory under
// plans/, per spec §4.1.
func (r *Run) PlanDir(planName string) string {
	rel := strings.TrimPrefix(planName, "/")
	return filepath.Join(r.Dir, "plans", filepath.FromSlash(rel))
}

// StepDir is the directory for one plan's one step.
func (r *Run) StepDir(planName string, step string) string {
	return filepath.Join(r.PlanDir(planName), step)
}

// ExecuteDataDir is execute/data/guest/<guest>/<test-path-encoded>/,
// the per-test artifact directory spec §3's workdir layout names.
func (r *Run) ExecuteDataDir(planName, guestName, testPath string) string {
	return filepath.Join(r.StepDir(planName, "execute"), "data", "guest", guestName, encodeTestPath(testPath))
}

// encodeTestPath makes a test's "/"-rooted path safe as a single path
// segment sequence: leading "/" stripped, interior "/" kept as
// directory separators (matching the plan path translation above), so
// "/tests/basic" becomes tests/basic rather than a flattened name that
// would collide across differently-nested tests sharing a leaf name.
func encodeTestPath(p string) string {
	rel := strings.TrimPrefix(p, "/")
	return filepath.FromSlash(rel)
}

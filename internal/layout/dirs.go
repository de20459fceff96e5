// Package layout places staged shuffle data on local disk: it resolves
// the deterministic final path for every fetched spill and owns the
// per-session scratch tree underneath the configured root directories.
package layout

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// sessionDir is the subtree layout claims under each root. Everything
// in it belongs to the current task attempt and is removed by Scrub.
const sessionDir = "riffle-local"

// Dirs maps partition spills to final paths across one or more local
// root directories. The root for a spill is picked by hashing
// (partition, spill), never by size or load, so every fetch attempt for
// the same spill resolves to the same final path.
type Dirs struct {
	roots []string
	log   *zap.Logger
}

// NewDirs validates the given roots and binds the scratch layout to
// them. Each root must name an existing directory; relative roots are
// made absolute so later renames stay on one filesystem path form.
func NewDirs(roots []string, log *zap.Logger) (*Dirs, error) {
	if len(roots) == 0 {
		return nil, errors.New("layout: no local roots configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			return nil, errors.New("layout: empty local root")
		}
		a, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("layout: resolve root %s: %w", root, err)
		}
		info, err := os.Stat(a)
		if err != nil {
			return nil, fmt.Errorf("layout: stat root %s: %w", a, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("layout: root %s is not a directory", a)
		}
		abs = append(abs, a)
	}
	return &Dirs{roots: abs, log: log}, nil
}

// Roots returns the absolute root directories in configuration order.
func (d *Dirs) Roots() []string {
	out := make([]string, len(d.roots))
	copy(out, d.roots)
	return out
}

// FinalPath returns the destination a committed spill is promoted to
// and makes sure its parent directory exists. The same (partition,
// spill) always maps to the same path regardless of size or which
// worker asks, so duplicate and retried fetches converge on one
// destination.
func (d *Dirs) FinalPath(partition, spill int, size int64) (string, error) {
	root := d.roots[d.pick(partition, spill)]
	name := fmt.Sprintf("spill-%d.out", spill)
	if spill < 0 {
		name = "spill-final.out"
	}
	dir := filepath.Join(root, sessionDir, fmt.Sprintf("part-%d", partition))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("layout: create %s: %w", dir, err)
	}
	return filepath.Join(dir, name), nil
}

// pick hashes (partition, spill) onto a root index.
func (d *Dirs) pick(partition, spill int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%d", partition, spill)
	return int(h.Sum32() % uint32(len(d.roots)))
}

// Scrub removes the session subtree from every root. Failures on one
// root do not stop the others; everything that failed is reported in
// the returned error and logged.
func (d *Dirs) Scrub() error {
	var errs []error
	for _, root := range d.roots {
		dir := filepath.Join(root, sessionDir)
		if err := os.RemoveAll(dir); err != nil {
			d.log.Warn("scrub failed", zap.String("dir", dir), zap.Error(err))
			errs = append(errs, fmt.Errorf("scrub %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

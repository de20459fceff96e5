// Package allocator accounts the in-memory staging budget and routes
// committed artifacts to the merge staging area. It implements the
// collaborator contract artifacts call back into during commit and
// abort. Admission is plain accounting: a reservation is granted
// whenever it fits the budget and the single-artifact ceiling.
package allocator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"riffle/internal/artifact"
	"riffle/internal/feed"
)

// ErrAdmissionDenied is returned by Reserve when a capacity does not
// fit the current budget or exceeds the single-artifact ceiling.
// Callers fall back to disk staging.
var ErrAdmissionDenied = errors.New("memory admission denied")

// Intake receives committed artifacts on behalf of the merge stage.
type Intake interface {
	AddMemory(a *artifact.Artifact) error
	AddDisk(chunk artifact.FileChunk) error
}

// Config sizes the in-memory staging budget.
type Config struct {
	// Budget is the total number of bytes reservable for in-memory
	// artifacts at any one time.
	Budget int64

	// MaxSingle caps one artifact's in-memory capacity. Anything larger
	// stages to disk no matter how much budget is free.
	MaxSingle int64
}

// DefaultConfig stages up to 256 MiB in memory with a quarter of that
// as the single-artifact ceiling.
func DefaultConfig() Config {
	return Config{Budget: 256 << 20, MaxSingle: 64 << 20}
}

// MetricsSnapshot is a point-in-time copy of the manager's counters.
type MetricsSnapshot struct {
	UsedBytes       int64
	BudgetBytes     int64
	MaxSingleBytes  int64
	MemoryStaged    uint64
	DiskStaged      uint64
	Denied          uint64
	MemoryPublished uint64
	DiskPublished   uint64
	MemoryBytes     uint64
	DiskBytes       uint64
}

type Metrics struct {
	memoryStaged    atomic.Uint64
	diskStaged      atomic.Uint64
	denied          atomic.Uint64
	memoryPublished atomic.Uint64
	diskPublished   atomic.Uint64
	memoryBytes     atomic.Uint64
	diskBytes       atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		MemoryStaged:    m.memoryStaged.Load(),
		DiskStaged:      m.diskStaged.Load(),
		Denied:          m.denied.Load(),
		MemoryPublished: m.memoryPublished.Load(),
		DiskPublished:   m.diskPublished.Load(),
		MemoryBytes:     m.memoryBytes.Load(),
		DiskBytes:       m.diskBytes.Load(),
	}
}

// Manager implements artifact.Allocator for the whole task attempt. It
// is shared by every fetch worker and safe for concurrent use: the
// budget sits behind a mutex, the counters are atomics, and the intake
// and hub take care of their own synchronization.
type Manager struct {
	cfg    Config
	fs     artifact.FS
	paths  artifact.PathProvider
	intake Intake
	hub    *feed.Hub
	log    *zap.Logger

	mu   sync.Mutex
	used int64

	metrics Metrics
}

// NewManager wires the allocator to its filesystem, path provider,
// merge intake and event hub. hub may be nil when no console is
// attached. Non-positive config fields fall back to DefaultConfig
// values.
func NewManager(cfg Config, fs artifact.FS, paths artifact.PathProvider, intake Intake, hub *feed.Hub, log *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.MaxSingle <= 0 || cfg.MaxSingle > cfg.Budget {
		cfg.MaxSingle = cfg.Budget / 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, fs: fs, paths: paths, intake: intake, hub: hub, log: log}
}

// Reserve claims capacity bytes of the in-memory budget. It returns
// ErrAdmissionDenied when the capacity exceeds the single-artifact
// ceiling or would push usage past the budget.
func (m *Manager) Reserve(capacity int64) error {
	if capacity < 0 {
		return fmt.Errorf("reserve negative capacity %d", capacity)
	}
	if capacity > m.cfg.MaxSingle {
		m.metrics.denied.Add(1)
		return fmt.Errorf("capacity %d exceeds single-artifact ceiling %d: %w", capacity, m.cfg.MaxSingle, ErrAdmissionDenied)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+capacity > m.cfg.Budget {
		m.metrics.denied.Add(1)
		return fmt.Errorf("capacity %d does not fit budget (used %d of %d): %w", capacity, m.used, m.cfg.Budget, ErrAdmissionDenied)
	}
	m.used += capacity
	return nil
}

// Unreserve returns n bytes to the budget.
func (m *Manager) Unreserve(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
}

// Release returns a consumed in-memory artifact's reservation to the
// budget. The merge stage calls it after it is done with the buffer.
// Artifacts without a buffer release nothing.
func (m *Manager) Release(a *artifact.Artifact) {
	if buf := a.Buffer(); buf != nil {
		m.Unreserve(int64(buf.Cap()))
	}
}

// Used returns the bytes currently reserved.
func (m *Manager) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Stage makes the staging decision for one incoming spill and returns
// the artifact the fetch worker fills: in memory when the size is
// admitted, otherwise in a worker-private temp file on disk.
func (m *Manager) Stage(origin artifact.Origin, size int64, primary bool, workerID int) (*artifact.Artifact, error) {
	if size < 0 {
		return nil, fmt.Errorf("stage %s: negative size %d", origin, size)
	}
	err := m.Reserve(size)
	if err == nil {
		m.metrics.memoryStaged.Add(1)
		return artifact.NewMemory(origin, m, int(size), primary, m.log), nil
	}
	if !errors.Is(err, ErrAdmissionDenied) {
		return nil, err
	}
	a, err := artifact.NewDiskFetched(origin, m, m.paths, size, primary, workerID, m.log)
	if err != nil {
		return nil, err
	}
	m.metrics.diskStaged.Add(1)
	return a, nil
}

// PublishMemory hands a committed in-memory artifact to the merge
// intake and announces it on the hub.
func (m *Manager) PublishMemory(a *artifact.Artifact) error {
	if err := m.intake.AddMemory(a); err != nil {
		return fmt.Errorf("intake rejected artifact %s: %w", a.Origin(), err)
	}
	m.metrics.memoryPublished.Add(1)
	m.metrics.memoryBytes.Add(uint64(a.Size()))
	m.emit(feed.Event{
		Kind:    feed.KindCommitted,
		Origin:  a.Origin().String(),
		Variant: a.Variant().String(),
		Bytes:   a.Size(),
	})
	return nil
}

// PublishDisk hands a committed disk chunk to the merge intake and
// announces it on the hub.
func (m *Manager) PublishDisk(chunk artifact.FileChunk) error {
	if err := m.intake.AddDisk(chunk); err != nil {
		return fmt.Errorf("intake rejected chunk %s: %w", chunk.Origin, err)
	}
	m.metrics.diskPublished.Add(1)
	m.metrics.diskBytes.Add(uint64(chunk.Length))
	variant := artifact.VariantDiskFetched
	if chunk.Direct {
		variant = artifact.VariantDiskDirect
	}
	m.emit(feed.Event{
		Kind:    feed.KindCommitted,
		Origin:  chunk.Origin.String(),
		Variant: variant.String(),
		Bytes:   chunk.Length,
	})
	return nil
}

// FS returns the filesystem artifacts stage their temp files on.
func (m *Manager) FS() artifact.FS { return m.fs }

func (m *Manager) emit(ev feed.Event) {
	if m.hub != nil {
		m.hub.Publish(ev)
	}
}

// Metrics returns a snapshot of the manager's counters together with
// the current budget occupancy.
func (m *Manager) Metrics() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snap := m.metrics.snapshot()
	m.mu.Lock()
	snap.UsedBytes = m.used
	m.mu.Unlock()
	snap.BudgetBytes = m.cfg.Budget
	snap.MaxSingleBytes = m.cfg.MaxSingle
	return snap
}

// Package artifact models one fetched unit of shuffle output staged for
// merge: its variant (memory, fetched-to-disk, direct-disk, pending),
// its commit/abort lifecycle, and the smallest-first ordering the merge
// side consumes artifacts in.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrIllegalOp reports a lifecycle call the artifact's variant or state
// forbids: commit or abort on a pending artifact, or a second
// commit/abort on one that already reached a terminal state.
var ErrIllegalOp = errors.New("illegal artifact operation")

// lastID backs the process-wide id sequence. Add(1) gives every
// artifact a distinct, strictly increasing id no matter how many fetch
// workers construct concurrently.
var lastID atomic.Uint64

// Variant tells how an artifact's bytes are staged. It is fixed at
// construction and implied by the payload type.
type Variant uint8

const (
	// VariantPending is a bookkeeping placeholder created before any
	// staging decision is made. It carries no data and can only be
	// superseded, never committed or aborted.
	VariantPending Variant = iota

	// VariantMemory stages bytes in a capacity-bounded buffer counted
	// against the allocator's memory budget.
	VariantMemory

	// VariantDiskFetched stages bytes in a worker-private temp file
	// that commit promotes to its final path.
	VariantDiskFetched

	// VariantDiskDirect wraps bytes that already sit at their final
	// local location. The artifact never owns the file.
	VariantDiskDirect
)

func (v Variant) String() string {
	switch v {
	case VariantPending:
		return "pending"
	case VariantMemory:
		return "memory"
	case VariantDiskFetched:
		return "disk"
	case VariantDiskDirect:
		return "disk-direct"
	default:
		return "unknown"
	}
}

// State is the artifact lifecycle position. Open transitions once to
// Committed or Abandoned; both are terminal.
type State uint8

const (
	StateOpen State = iota
	StateCommitted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Payload is the variant-specific data an artifact carries. Exactly one
// implementation is populated per artifact, chosen at construction. The
// interface is sealed so a type switch over Memory, DiskFetched,
// DiskDirect and Pending covers every case.
type Payload interface {
	variant() Variant
}

// Memory backs an in-memory artifact with its reserved buffer.
type Memory struct {
	Buf *Buffer
}

// DiskFetched backs an artifact being written to a worker-private temp
// file. Writer streams into TmpPath; the caller closes it before
// commit. Final is the descriptor the chunk is published under once
// the temp file is renamed into place.
type DiskFetched struct {
	TmpPath string
	Writer  io.WriteCloser
	Final   FileChunk
}

// DiskDirect backs an artifact whose bytes already live at their final
// local path.
type DiskDirect struct {
	Final FileChunk
}

// Pending is the empty payload of a placeholder artifact.
type Pending struct{}

func (Memory) variant() Variant      { return VariantMemory }
func (DiskFetched) variant() Variant { return VariantDiskFetched }
func (DiskDirect) variant() Variant  { return VariantDiskDirect }
func (Pending) variant() Variant     { return VariantPending }

// Artifact is one fetched shuffle output. Identity is the id alone; two
// artifacts are never the same even when they reference the same bytes.
// All mutable state belongs to the single fetch worker that created the
// artifact, so no locking happens here. Handing an artifact to another
// goroutine requires external synchronization.
type Artifact struct {
	id      uint64
	origin  Origin
	primary bool
	state   State
	payload Payload
	alloc   Allocator
	log     *zap.Logger
}

func newArtifact(origin Origin, alloc Allocator, payload Payload, primary bool, log *zap.Logger) *Artifact {
	if log == nil {
		log = zap.NewNop()
	}
	return &Artifact{
		id:      lastID.Add(1),
		origin:  origin,
		primary: primary,
		state:   StateOpen,
		payload: payload,
		alloc:   alloc,
		log:     log,
	}
}

// NewMemory creates an in-memory artifact with a buffer of exactly
// capacity bytes. The caller reserves that capacity with the allocator
// first; the artifact releases it on abort and publishes the buffer on
// commit.
func NewMemory(origin Origin, alloc Allocator, capacity int, primary bool, log *zap.Logger) *Artifact {
	return newArtifact(origin, alloc, Memory{Buf: NewBuffer(capacity)}, primary, log)
}

// NewDiskFetched creates a disk-staged artifact for a spill of the
// given size. The final path comes from paths; the temp path is the
// final path suffixed with the fetch worker's id, so concurrent workers
// staging data for the same final destination never share a temp file.
// The temp file is created immediately; a creation failure aborts
// construction and no artifact escapes.
func NewDiskFetched(origin Origin, alloc Allocator, paths PathProvider, size int64, primary bool, workerID int, log *zap.Logger) (*Artifact, error) {
	final, err := paths.FinalPath(origin.Partition, origin.Spill, size)
	if err != nil {
		return nil, fmt.Errorf("resolve final path for %s: %w", origin, err)
	}
	tmp := final + strconv.Itoa(workerID)
	w, err := alloc.FS().Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create temp spill %s: %w", tmp, err)
	}
	p := DiskFetched{
		TmpPath: tmp,
		Writer:  w,
		Final:   FileChunk{Path: final, Length: size, Origin: origin},
	}
	return newArtifact(origin, alloc, p, primary, log), nil
}

// NewDiskDirect wraps size bytes at offset of an existing local file.
// No file is created, opened, or ever deleted for this variant.
func NewDiskDirect(origin Origin, alloc Allocator, path string, offset, size int64, primary bool, log *zap.Logger) *Artifact {
	p := DiskDirect{
		Final: FileChunk{Path: path, Offset: offset, Length: size, Direct: true, Origin: origin},
	}
	return newArtifact(origin, alloc, p, primary, log)
}

// NewPending creates a placeholder recording that a fetch for origin is
// outstanding before any resources are committed to it.
func NewPending(origin Origin) *Artifact {
	return newArtifact(origin, nil, Pending{}, false, nil)
}

// ID returns the process-wide unique artifact id.
func (a *Artifact) ID() uint64 { return a.id }

// Origin returns the producer output this artifact carries.
func (a *Artifact) Origin() Origin { return a.origin }

// Primary reports whether this artifact is the authoritative copy of
// its partition's output, as opposed to a duplicate from a speculative
// or retried attempt.
func (a *Artifact) Primary() bool { return a.primary }

// Variant returns the staging variant fixed at construction.
func (a *Artifact) Variant() Variant { return a.payload.variant() }

// State returns the current lifecycle state.
func (a *Artifact) State() State { return a.state }

// Payload returns the variant payload for type-switch dispatch.
func (a *Artifact) Payload() Payload { return a.payload }

// Same reports whether b is this exact artifact. Identity is by id
// only.
func (a *Artifact) Same(b *Artifact) bool { return b != nil && a.id == b.id }

// Size returns the artifact's current data size: bytes written so far
// for the memory variant, the fixed length supplied at construction for
// the disk variants, and -1 for pending, which has no size.
func (a *Artifact) Size() int64 {
	switch p := a.payload.(type) {
	case Memory:
		return int64(p.Buf.Len())
	case DiskFetched:
		return p.Final.Length
	case DiskDirect:
		return p.Final.Length
	default:
		return -1
	}
}

// Buffer returns the memory variant's buffer, or nil for other
// variants.
func (a *Artifact) Buffer() *Buffer {
	if p, ok := a.payload.(Memory); ok {
		return p.Buf
	}
	return nil
}

// Chunk returns the final on-disk descriptor of a disk variant. ok is
// false for memory and pending artifacts.
func (a *Artifact) Chunk() (FileChunk, bool) {
	switch p := a.payload.(type) {
	case DiskFetched:
		return p.Final, true
	case DiskDirect:
		return p.Final, true
	default:
		return FileChunk{}, false
	}
}

// TempPath returns the worker-private temp path of a disk-fetched
// artifact. ok is false for every other variant.
func (a *Artifact) TempPath() (string, bool) {
	if p, ok := a.payload.(DiskFetched); ok {
		return p.TmpPath, true
	}
	return "", false
}

func (a *Artifact) String() string {
	return fmt.Sprintf("artifact(id=%d origin=%s variant=%s)", a.id, a.origin, a.payload.variant())
}

// Commit finishes a successfully fetched artifact and makes it visible
// to the merge side. Memory buffers are handed to the allocator as-is;
// a fetched temp file is first renamed to its final path; a direct
// chunk is published without touching the file. A failure anywhere
// leaves the artifact Open so the caller can retry or abort.
func (a *Artifact) Commit() error {
	if a.state != StateOpen {
		return fmt.Errorf("commit %s artifact %d: %w", a.state, a.id, ErrIllegalOp)
	}
	switch p := a.payload.(type) {
	case Memory:
		if err := a.alloc.PublishMemory(a); err != nil {
			return fmt.Errorf("publish in-memory artifact %s: %w", a.origin, err)
		}
	case DiskFetched:
		if err := a.alloc.FS().Rename(p.TmpPath, p.Final.Path); err != nil {
			return fmt.Errorf("promote %s to %s: %w", p.TmpPath, p.Final.Path, err)
		}
		if err := a.alloc.PublishDisk(p.Final); err != nil {
			return fmt.Errorf("publish disk artifact %s: %w", a.origin, err)
		}
	case DiskDirect:
		if err := a.alloc.PublishDisk(p.Final); err != nil {
			return fmt.Errorf("publish direct artifact %s: %w", a.origin, err)
		}
	case Pending:
		return fmt.Errorf("commit pending artifact %s: %w", a.origin, ErrIllegalOp)
	}
	a.state = StateCommitted
	return nil
}

// Abort releases whatever exclusive resource the artifact holds after a
// failed or cancelled fetch. A memory artifact returns its full
// reserved capacity to the allocator; a disk-fetched artifact deletes
// its temp file best-effort, logging a failed delete instead of
// propagating it; a direct artifact holds nothing to release. The
// artifact ends Abandoned even when cleanup fails. Only a pending or
// already-terminal artifact makes Abort return an error.
func (a *Artifact) Abort() error {
	if a.state != StateOpen {
		return fmt.Errorf("abort %s artifact %d: %w", a.state, a.id, ErrIllegalOp)
	}
	switch p := a.payload.(type) {
	case Memory:
		a.alloc.Unreserve(int64(p.Buf.Cap()))
	case DiskFetched:
		if err := a.discardTemp(p); err != nil {
			a.log.Warn("leaking temp spill after failed cleanup",
				zap.String("path", p.TmpPath),
				zap.Stringer("origin", a.origin),
				zap.Error(err))
		}
	case DiskDirect:
		// Source bytes are not ours.
	case Pending:
		return fmt.Errorf("abort pending artifact %s: %w", a.origin, ErrIllegalOp)
	}
	a.state = StateAbandoned
	return nil
}

// discardTemp closes the temp writer and removes the temp file,
// reporting the failure instead of swallowing it so Abort can surface
// it through the logger. A file already gone counts as cleaned up.
func (a *Artifact) discardTemp(p DiskFetched) error {
	if p.Writer != nil {
		_ = p.Writer.Close()
	}
	err := a.alloc.FS().Remove(p.TmpPath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Package merge holds committed artifacts for the merge stage: a
// smallest-first queue of in-memory artifacts and the set of on-disk
// chunks. The merge algorithm itself lives downstream; this package
// only guarantees the consumption order.
package merge

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"

	"riffle/internal/artifact"
)

// ErrClosed is returned once the staging area is closed and drained.
var ErrClosed = errors.New("merge staging closed")

type memoryHeap []*artifact.Artifact

func (h memoryHeap) Len() int           { return len(h) }
func (h memoryHeap) Less(i, j int) bool { return artifact.Compare(h[i], h[j]) < 0 }
func (h memoryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *memoryHeap) Push(x any) { *h = append(*h, x.(*artifact.Artifact)) }

func (h *memoryHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return a
}

// Staging collects committed artifacts until the merge stage consumes
// them. In-memory artifacts come out of NextMemory smallest first; disk
// chunks accumulate and are read in bulk. Safe for concurrent use by
// fetch workers and one or more consumers.
type Staging struct {
	mu     sync.Mutex
	heap   memoryHeap
	disk   []artifact.FileChunk
	closed bool

	// notify carries at most one pending wakeup for blocked consumers.
	notify chan struct{}
}

func NewStaging() *Staging {
	return &Staging{notify: make(chan struct{}, 1)}
}

// AddMemory queues a committed in-memory artifact for consumption.
func (s *Staging) AddMemory(a *artifact.Artifact) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	heap.Push(&s.heap, a)
	s.mu.Unlock()
	s.wake()
	return nil
}

// AddDisk records a committed on-disk chunk.
func (s *Staging) AddDisk(chunk artifact.FileChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.disk = append(s.disk, chunk)
	return nil
}

// NextMemory blocks until an in-memory artifact is available and
// returns the smallest one. It returns ctx.Err() when the context ends
// first and ErrClosed once the staging area is closed and empty.
func (s *Staging) NextMemory(ctx context.Context) (*artifact.Artifact, error) {
	for {
		s.mu.Lock()
		if s.heap.Len() > 0 {
			a := heap.Pop(&s.heap).(*artifact.Artifact)
			more := s.heap.Len() > 0
			s.mu.Unlock()
			if more {
				s.wake()
			}
			return a, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			s.wake()
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// DiskChunks returns a copy of the recorded disk chunks, smallest
// first with ties broken by path.
func (s *Staging) DiskChunks() []artifact.FileChunk {
	s.mu.Lock()
	out := make([]artifact.FileChunk, len(s.disk))
	copy(out, s.disk)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// MemoryLen returns how many in-memory artifacts are waiting.
func (s *Staging) MemoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// DiskLen returns how many disk chunks are recorded.
func (s *Staging) DiskLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.disk)
}

// Close stops accepting new artifacts. Queued in-memory artifacts can
// still be drained; once empty, NextMemory returns ErrClosed.
func (s *Staging) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Staging) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

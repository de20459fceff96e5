package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riffle/internal/allocator"
	"riffle/internal/artifact"
	"riffle/internal/feed"
)

// ErrBusy is returned by Announce when the fetch queue has no room.
// The caller may retry once workers have drained some requests.
var ErrBusy = errors.New("fetch queue full")

// slot identifies a logical piece of data independent of which attempt
// produced it. Once a primary artifact for a slot commits, later
// requests for the slot are duplicates.
type slot struct {
	partition int
	spill     int
}

// Config sizes the worker pool.
type Config struct {
	// Workers is the pool size; each worker's stable id suffixes its
	// temp spill files. Zero means 4.
	Workers int

	// QueueDepth bounds announced-but-unclaimed requests. Zero means
	// Workers * 16.
	QueueDepth int
}

// MetricsSnapshot is a point-in-time copy of fetch progress counters.
type MetricsSnapshot struct {
	Succeeded    uint64
	Failed       uint64
	Skipped      uint64
	FetchedBytes uint64
	Pending      int
	Queued       int
}

type metrics struct {
	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	bytes     atomic.Uint64
}

// Coordinator owns the fetch pipeline: Announce records a request and
// queues it, Run's workers claim requests, stage artifacts through the
// allocator, stream bytes from the source, and commit or abort. Every
// outstanding origin is tracked by a placeholder artifact until its
// fetch finishes one way or the other.
type Coordinator struct {
	cfg    Config
	alloc  *allocator.Manager
	source Source
	hub    *feed.Hub
	log    *zap.Logger

	queue chan Request

	mu      sync.Mutex
	pending map[artifact.Origin]*artifact.Artifact
	done    map[slot]bool

	metrics metrics
}

func NewCoordinator(cfg Config, alloc *allocator.Manager, source Source, hub *feed.Hub, log *zap.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		alloc:   alloc,
		source:  source,
		hub:     hub,
		log:     log,
		queue:   make(chan Request, cfg.QueueDepth),
		pending: make(map[artifact.Origin]*artifact.Artifact),
		done:    make(map[slot]bool),
	}
}

// Announce registers a spill for fetching. Requests for a slot whose
// primary already committed, or for an origin already outstanding, are
// skipped. A full queue returns ErrBusy without recording anything.
func (c *Coordinator) Announce(req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	key := slot{req.Origin.Partition, req.Origin.Spill}
	c.mu.Lock()
	if c.done[key] {
		c.mu.Unlock()
		c.skip(req, "slot already committed")
		return nil
	}
	if _, outstanding := c.pending[req.Origin]; outstanding {
		c.mu.Unlock()
		c.skip(req, "origin already outstanding")
		return nil
	}
	c.pending[req.Origin] = artifact.NewPending(req.Origin)
	c.mu.Unlock()

	select {
	case c.queue <- req:
		c.emit(feed.Event{Kind: feed.KindAnnounced, Origin: req.Origin.String(), Bytes: req.Size})
		return nil
	default:
		c.mu.Lock()
		delete(c.pending, req.Origin)
		c.mu.Unlock()
		return fmt.Errorf("announce %s: %w", req.Origin, ErrBusy)
	}
}

// Run operates the worker pool until ctx ends. It returns ctx's error,
// so a graceful shutdown surfaces as context.Canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 1; w <= c.cfg.Workers; w++ {
		id := w
		g.Go(func() error {
			return c.runWorker(ctx, id)
		})
	}
	return g.Wait()
}

func (c *Coordinator) runWorker(ctx context.Context, workerID int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.queue:
			c.process(ctx, workerID, req)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, workerID int, req Request) {
	if c.alreadyDone(req) {
		return
	}

	if req.Local != nil {
		a := artifact.NewDiskDirect(req.Origin, c.alloc, req.Local.Path, req.Local.Offset, req.Size, req.Primary, c.log)
		if err := a.Commit(); err != nil {
			c.fail(req, workerID, a, err)
			return
		}
		c.succeed(req, workerID, req.Size)
		return
	}

	size := req.Size
	if size == 0 {
		sizer, ok := c.source.(Sizer)
		if !ok {
			c.fail(req, workerID, nil, fmt.Errorf("size of %s unknown and source cannot stat", req.Origin))
			return
		}
		resolved, err := sizer.SpillSize(ctx, req)
		if err != nil {
			c.fail(req, workerID, nil, err)
			return
		}
		size = resolved
	}

	a, err := c.alloc.Stage(req.Origin, size, req.Primary, workerID)
	if err != nil {
		c.fail(req, workerID, nil, err)
		return
	}
	if err := c.transfer(ctx, a, req, size); err != nil {
		c.fail(req, workerID, a, err)
		return
	}
	if err := a.Commit(); err != nil {
		c.fail(req, workerID, a, err)
		return
	}
	c.succeed(req, workerID, size)
}

// transfer streams the spill into the staged artifact and verifies the
// byte count. The temp writer of a disk artifact is closed here so the
// file is complete before commit renames it.
func (c *Coordinator) transfer(ctx context.Context, a *artifact.Artifact, req Request, size int64) error {
	rc, err := c.source.Open(ctx, req)
	if err != nil {
		return err
	}
	defer rc.Close()

	var n int64
	switch p := a.Payload().(type) {
	case artifact.Memory:
		n, err = io.Copy(p.Buf, rc)
	case artifact.DiskFetched:
		n, err = io.Copy(p.Writer, rc)
		if cerr := p.Writer.Close(); err == nil && cerr != nil {
			err = cerr
		}
	default:
		return fmt.Errorf("cannot stream into %s artifact %s", a.Variant(), req.Origin)
	}
	if err != nil {
		return fmt.Errorf("stream %s: %w", req.Origin, err)
	}
	if n != size {
		return fmt.Errorf("stream %s: truncated, got %d of %d bytes", req.Origin, n, size)
	}
	return nil
}

func (c *Coordinator) alreadyDone(req Request) bool {
	key := slot{req.Origin.Partition, req.Origin.Spill}
	c.mu.Lock()
	if !c.done[key] {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, req.Origin)
	c.mu.Unlock()
	c.skip(req, "slot committed while queued")
	return true
}

func (c *Coordinator) succeed(req Request, workerID int, size int64) {
	key := slot{req.Origin.Partition, req.Origin.Spill}
	c.mu.Lock()
	delete(c.pending, req.Origin)
	if req.Primary {
		c.done[key] = true
	}
	c.mu.Unlock()
	c.metrics.succeeded.Add(1)
	c.metrics.bytes.Add(uint64(size))
	c.log.Debug("fetched spill",
		zap.Stringer("origin", req.Origin),
		zap.Int("worker", workerID),
		zap.Int64("bytes", size))
}

func (c *Coordinator) fail(req Request, workerID int, a *artifact.Artifact, cause error) {
	if a != nil {
		if err := a.Abort(); err != nil {
			c.log.Warn("abort after failed fetch", zap.Stringer("origin", req.Origin), zap.Error(err))
		}
	}
	c.mu.Lock()
	delete(c.pending, req.Origin)
	c.mu.Unlock()
	c.metrics.failed.Add(1)
	c.log.Warn("fetch failed",
		zap.Stringer("origin", req.Origin),
		zap.Int("worker", workerID),
		zap.Error(cause))
	c.emit(feed.Event{Kind: feed.KindFailed, Origin: req.Origin.String(), Worker: workerID, Err: cause.Error()})
}

func (c *Coordinator) skip(req Request, why string) {
	c.metrics.skipped.Add(1)
	c.log.Debug("skipping duplicate spill", zap.Stringer("origin", req.Origin), zap.String("reason", why))
	c.emit(feed.Event{Kind: feed.KindSkipped, Origin: req.Origin.String()})
}

func (c *Coordinator) emit(ev feed.Event) {
	if c.hub != nil {
		c.hub.Publish(ev)
	}
}

// Pending returns the origins whose fetches are announced but not yet
// finished.
func (c *Coordinator) Pending() []artifact.Origin {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]artifact.Origin, 0, len(c.pending))
	for origin := range c.pending {
		out = append(out, origin)
	}
	return out
}

// Metrics returns a snapshot of fetch progress.
func (c *Coordinator) Metrics() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{}
	}
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	return MetricsSnapshot{
		Succeeded:    c.metrics.succeeded.Load(),
		Failed:       c.metrics.failed.Load(),
		Skipped:      c.metrics.skipped.Load(),
		FetchedBytes: c.metrics.bytes.Load(),
		Pending:      pending,
		Queued:       len(c.queue),
	}
}

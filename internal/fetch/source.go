// Package fetch pulls producer spills into staged artifacts: a
// coordinator hands announced requests to a pool of workers, each
// worker stages an artifact through the allocator, streams the bytes
// from a source, and commits or aborts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"riffle/internal/artifact"
)

// ErrNoSuchSpill is returned by sources when the requested spill does
// not exist at the producer.
var ErrNoSuchSpill = errors.New("spill not found at source")

// LocalSpill points at producer output that already lives on this
// host's filesystem, letting the fetch short-circuit the copy.
type LocalSpill struct {
	Path   string
	Offset int64
}

// Request names one spill to fetch. Size may be zero when the caller
// does not know it; the coordinator then asks the source. Key overrides
// the source's default locator for the origin. Local switches the
// request to the direct-disk path.
type Request struct {
	Origin  artifact.Origin `json:"origin"`
	Size    int64           `json:"size"`
	Primary bool            `json:"primary"`
	Key     string          `json:"key,omitempty"`
	Local   *LocalSpill     `json:"local,omitempty"`
}

func (r Request) validate() error {
	if r.Size < 0 {
		return fmt.Errorf("request %s: negative size %d", r.Origin, r.Size)
	}
	if r.Local != nil && r.Local.Path == "" {
		return fmt.Errorf("request %s: local spill without a path", r.Origin)
	}
	return nil
}

// Source opens the byte stream for a requested spill.
type Source interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Sizer is implemented by sources that can report a spill's length
// without transferring it. The coordinator uses it to resolve requests
// announced with an unknown size.
type Sizer interface {
	SpillSize(ctx context.Context, req Request) (int64, error)
}

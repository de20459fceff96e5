package artifact

import "io"

// Allocator is the memory-and-placement collaborator an artifact calls
// back into during its lifecycle. Reservation happens before an
// artifact exists; the artifact itself only ever releases what was
// reserved for it and hands over finished product.
type Allocator interface {
	// Unreserve returns n bytes of reserved memory budget. Called when
	// an in-memory artifact is abandoned without being committed.
	Unreserve(n int64)

	// PublishMemory hands a committed in-memory artifact to the merge
	// side. The artifact's buffer holds its final content.
	PublishMemory(a *Artifact) error

	// PublishDisk hands a committed on-disk artifact's file chunk to
	// the merge side.
	PublishDisk(chunk FileChunk) error

	// FS returns the filesystem the allocator places spill files on.
	FS() FS
}

// FS is the slice of filesystem behavior artifacts need: creating a
// temp spill file, promoting it with an atomic rename, and removing it
// again on abort.
type FS interface {
	Create(path string) (io.WriteCloser, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
}

// PathProvider resolves the final local path a fetched spill is
// promoted to on commit. Implementations pick a disk root and build a
// deterministic name from the partition and spill indices; size lets
// them weigh placement across roots.
type PathProvider interface {
	FinalPath(partition, spill int, size int64) (string, error)
}

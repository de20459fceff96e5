package layout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"riffle/internal/artifact"
)

func TestNewDirsValidation(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := NewDirs(nil, log)
	require.Error(t, err)

	_, err = NewDirs([]string{""}, log)
	require.Error(t, err)

	_, err = NewDirs([]string{filepath.Join(t.TempDir(), "missing")}, log)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewDirs([]string{file}, log)
	require.Error(t, err)
}

func TestFinalPathDeterministic(t *testing.T) {
	d, err := NewDirs([]string{t.TempDir(), t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)

	p1, err := d.FinalPath(3, 7, 1024)
	require.NoError(t, err)
	p2, err := d.FinalPath(3, 7, 999999)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "size must not influence placement")
	assert.True(t, strings.HasSuffix(p1, filepath.Join("part-3", "spill-7.out")), "got %s", p1)

	info, err := os.Stat(filepath.Dir(p1))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	whole, err := d.FinalPath(3, -1, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(whole, "spill-final.out"), "got %s", whole)
	assert.NotEqual(t, p1, whole)
}

func TestFinalPathSpreadsAcrossRoots(t *testing.T) {
	roots := []string{t.TempDir(), t.TempDir()}
	d, err := NewDirs(roots, zaptest.NewLogger(t))
	require.NoError(t, err)

	used := make(map[string]bool)
	for part := 0; part < 32; part++ {
		p, err := d.FinalPath(part, 0, 0)
		require.NoError(t, err)
		for _, root := range d.Roots() {
			if strings.HasPrefix(p, root+string(os.PathSeparator)) {
				used[root] = true
			}
		}
	}
	assert.Len(t, used, 2, "32 partitions should land on both roots")
}

func TestDiskFSCreateRenameRemove(t *testing.T) {
	root := t.TempDir()
	var fsys DiskFS

	tmp := filepath.Join(root, "nested", "dir", "spill-0.out1")
	w, err := fsys.Create(tmp)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	final := filepath.Join(root, "nested", "dir", "spill-0.out")
	require.NoError(t, fsys.Rename(tmp, final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, fsys.Remove(final))
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestScrubRemovesSessionTree(t *testing.T) {
	roots := []string{t.TempDir(), t.TempDir()}
	d, err := NewDirs(roots, zaptest.NewLogger(t))
	require.NoError(t, err)

	for part := 0; part < 8; part++ {
		p, err := d.FinalPath(part, 0, 0)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	require.NoError(t, d.Scrub())
	for _, root := range roots {
		_, err := os.Stat(filepath.Join(root, sessionDir))
		assert.True(t, os.IsNotExist(err), "session tree under %s must be gone", root)
		_, err = os.Stat(root)
		assert.NoError(t, err, "root itself must survive")
	}
}

type publishRecorder struct {
	fs     artifact.FS
	chunks []artifact.FileChunk
}

func (p *publishRecorder) Unreserve(int64) {}

func (p *publishRecorder) PublishMemory(*artifact.Artifact) error { return nil }

func (p *publishRecorder) PublishDisk(chunk artifact.FileChunk) error {
	p.chunks = append(p.chunks, chunk)
	return nil
}

func (p *publishRecorder) FS() artifact.FS { return p.fs }

func TestDiskFetchedLifecycleOnRealDisk(t *testing.T) {
	d, err := NewDirs([]string{t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	alloc := &publishRecorder{fs: DiskFS{}}
	origin := artifact.Origin{Partition: 2, Attempt: 0, Spill: 4}

	a, err := artifact.NewDiskFetched(origin, alloc, d, 7, true, 5, zaptest.NewLogger(t))
	require.NoError(t, err)

	p, ok := a.Payload().(artifact.DiskFetched)
	require.True(t, ok)
	_, err = p.Writer.Write([]byte("shuffle"))
	require.NoError(t, err)
	require.NoError(t, p.Writer.Close())

	tmp, _ := a.TempPath()
	_, err = os.Stat(tmp)
	require.NoError(t, err, "temp file must exist before commit")

	require.NoError(t, a.Commit())

	chunk, _ := a.Chunk()
	data, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("shuffle"), data)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
	require.Len(t, alloc.chunks, 1)
	assert.Equal(t, chunk, alloc.chunks[0])
}

func TestAbortRemovesRealTempFile(t *testing.T) {
	d, err := NewDirs([]string{t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	alloc := &publishRecorder{fs: DiskFS{}}

	a, err := artifact.NewDiskFetched(artifact.Origin{Partition: 1, Attempt: 0, Spill: 0}, alloc, d, 7, true, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	tmp, _ := a.TempPath()

	require.NoError(t, a.Abort())
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

package syncengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanFolder_PopulatesTrackedFilesAndSkipsVersionStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".swarm-versions", "blobs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".swarm-versions", "blobs", "x"), []byte("ignored"), 0o644))

	e := newTestEngine(t, root)
	require.NoError(t, e.scanFolder())

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.tracked[trackKey("a.txt")]
	require.True(t, ok)
	_, ok = e.tracked[trackKey(filepath.Join("sub", "b.txt"))]
	require.True(t, ok)
	for key := range e.tracked {
		require.NotContains(t, key, ".swarm-versions")
	}
}

func TestScanFolder_ExcludedPathsAreSkipped(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("b"), 0o644))

	e := newTestEngine(t, root)
	e.folder.ExcludedPaths = []string{"*.tmp"}
	require.NoError(t, e.scanFolder())

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tracked[trackKey("keep.txt")]
	require.True(t, ok)
	_, ok = e.tracked[trackKey("skip.tmp")]
	require.False(t, ok)
}

func TestCachedUnchanged_SkipsRehashWhenSizeAndModTimeMatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	e := newTestEngine(t, root)
	require.NoError(t, e.scanFolder())

	e.mu.RLock()
	first := e.tracked[trackKey("a.txt")]
	e.mu.RUnlock()
	require.NotEmpty(t, first.ContentHash)

	info, err := os.Stat(path)
	require.NoError(t, err)
	_, cached := e.cachedUnchanged("a.txt", info)
	require.True(t, cached)

	require.NoError(t, e.scanFolder())
	e.mu.RLock()
	second := e.tracked[trackKey("a.txt")]
	e.mu.RUnlock()
	require.Equal(t, first.ContentHash, second.ContentHash)
}

func TestHashFile_DeterministicForSameContent(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "one")
	p2 := filepath.Join(dir, "two")
	require.NoError(t, os.WriteFile(p1, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("same bytes"), 0o644))

	h1, err := hashFile(p1)
	require.NoError(t, err)
	h2, err := hashFile(p2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

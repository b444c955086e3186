package syncengine

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swarmsync/pkg/config"
	"swarmsync/pkg/wire"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestHandleRemoteFileChanged_WritesNewFile(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)

	header := wire.FileDescriptor{RelPath: "new.txt", ModifiedUnix: time.Now().UnixNano()}
	data := []byte("payload")
	hash := sha256Hex(data)
	header.ContentHash = hash

	require.NoError(t, e.handleRemoteFileChanged(nil, "peer-1", header, data))

	written, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, data, written)

	e.mu.RLock()
	tracked, ok := e.tracked[trackKey("new.txt")]
	e.mu.RUnlock()
	require.True(t, ok)
	require.Equal(t, hash, tracked.ContentHash)
}

func TestHandleRemoteFileChanged_KeepBothWritesConflictSideFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared.txt"), []byte("local content"), 0o644))

	e := newTestEngine(t, root)
	e.folder.ConflictMode = config.ConflictKeepBoth
	require.NoError(t, e.scanFolder())

	header := wire.FileDescriptor{RelPath: "shared.txt", ContentHash: "remote-hash", ModifiedUnix: time.Now().UnixNano()}
	require.NoError(t, e.handleRemoteFileChanged(nil, "peer-1", header, []byte("remote content")))

	// Local copy must be untouched.
	local, err := os.ReadFile(filepath.Join(root, "shared.txt"))
	require.NoError(t, err)
	require.Equal(t, "local content", string(local))

	matches, _ := filepath.Glob(filepath.Join(root, "shared.conflict-*"))
	require.Len(t, matches, 1)
}

func TestHandleRemoteDelete_RemovesFileAndTombstones(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	e := newTestEngine(t, root)
	require.NoError(t, e.scanFolder())

	require.NoError(t, e.handleRemoteDelete("gone.txt", false))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.True(t, e.isTombstoned("gone.txt"))

	e.mu.RLock()
	_, ok := e.tracked[trackKey("gone.txt")]
	e.mu.RUnlock()
	require.False(t, ok)
}

func TestHandleRemoteDirCreated_CreatesDirectory(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)

	require.NoError(t, e.handleRemoteDirCreated("nested/dir"))

	info, err := os.Stat(filepath.Join(root, "nested", "dir"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestHandleRemoteRename_MovesFileAndUpdatesTrackedMap(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("data"), 0o644))

	e := newTestEngine(t, root)
	require.NoError(t, e.scanFolder())

	require.NoError(t, e.handleRemoteRename("old.txt", "new.txt"))

	_, err := os.Stat(filepath.Join(root, "old.txt"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "new.txt"))
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, oldPresent := e.tracked[trackKey("old.txt")]
	_, newPresent := e.tracked[trackKey("new.txt")]
	require.False(t, oldPresent)
	require.True(t, newPresent)
}

package syncengine

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"swarmsync/pkg/config"
	"swarmsync/pkg/discovery"
	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
	"swarmsync/pkg/pool"
	"swarmsync/pkg/watcher"
)

func newTestEngine(t *testing.T, root string) *Engine {
	t.Helper()
	keys, err := identity.LoadOrGenerate(filepath.Join(t.TempDir(), "identity.pem"), nil)
	require.NoError(t, err)

	p := pool.New(keys, func(pub ed25519.PublicKey) error { return nil }, log.NewBasicLogger(log.ErrorLevel))
	t.Cleanup(p.Close)

	table := discovery.NewTable(0, log.NewBasicLogger(log.ErrorLevel))
	t.Cleanup(table.Stop)

	w, err := watcher.New(root, nil, log.NewBasicLogger(log.ErrorLevel))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	e, err := New(Options{
		FolderName: "main",
		Folder: config.FolderConfig{
			Path: root,
		},
		Keys:    keys,
		Pool:    p,
		Table:   table,
		Watcher: w,
		Logger:  log.NewBasicLogger(log.ErrorLevel),
	})
	require.NoError(t, err)
	return e
}

func TestNew_RequiresFolderNameAndPath(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{FolderName: "main"})
	require.Error(t, err)
}

func TestNew_DefaultsConflictModeAndTombstoneTTL(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.Equal(t, config.ConflictAutoNewest, e.folder.ConflictMode)
	require.Equal(t, DefaultTombstoneTTL, e.folder.TombstoneTTL)
}

func TestTrackKey_CaseAndSlashInsensitive(t *testing.T) {
	require.Equal(t, trackKey("Docs/Readme.MD"), trackKey("docs\\README.md"))
}

func TestLockPath_ReturnsSameMutexForSameKey(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	a := e.lockPath("Foo/Bar.txt")
	b := e.lockPath("foo/bar.txt")
	require.Same(t, a, b)
}

func TestIsTrusted_RejectsUnknownAndMismatchedPeers(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	peer := discovery.Peer{DeviceID: "dev-1"}
	require.False(t, e.isTrusted(peer))

	e.trustedPeers["dev-1"] = "deadbeef"
	require.False(t, e.isTrusted(peer)) // table never observed this device, so TrustedKey lookup misses
}

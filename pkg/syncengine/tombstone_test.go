package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTombstone_RecordAndLookup(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.False(t, e.isTombstoned("a.txt"))

	e.recordTombstone("a.txt")
	require.True(t, e.isTombstoned("A.TXT"))
}

func TestTombstone_ExpiresPastTTL(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	e.folder.TombstoneTTL = time.Millisecond

	e.recordTombstone("a.txt")
	time.Sleep(5 * time.Millisecond)
	require.False(t, e.isTombstoned("a.txt"))
}

func TestExpireTombstones_RemovesOnlyExpiredEntries(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	e.folder.TombstoneTTL = 50 * time.Millisecond

	e.recordTombstone("old.txt")
	time.Sleep(60 * time.Millisecond)
	e.recordTombstone("fresh.txt")

	e.expireTombstones()

	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	_, oldStillThere := e.tombstones[trackKey("old.txt")]
	_, freshStillThere := e.tombstones[trackKey("fresh.txt")]
	require.False(t, oldStillThere)
	require.True(t, freshStillThere)
}

package versioning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/helper/log"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(root, log.NewBasicLogger(log.ErrorLevel))
	require.NoError(t, err)
	return s, root
}

func TestCreateAndListNewestFirst(t *testing.T) {
	s, root := newStore(t)

	path := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	e1, err := s.Create("notes.txt", path, ReasonBeforeSync, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	e2, err := s.Create("notes.txt", path, ReasonConflict, "peerB")
	require.NoError(t, err)

	versions := s.List("notes.txt")
	require.Len(t, versions, 2)
	assert.Equal(t, e2.VersionID, versions[0].VersionID)
	assert.Equal(t, e1.VersionID, versions[1].VersionID)
}

func TestCreateDeduplicatesIdenticalContent(t *testing.T) {
	s, root := newStore(t)

	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("same"), 0o644))

	e1, err := s.Create("a.txt", path, ReasonManual, "")
	require.NoError(t, err)
	e2, err := s.Create("a.txt", path, ReasonManual, "")
	require.NoError(t, err)

	assert.Equal(t, e1.Digest, e2.Digest)
	assert.NotEqual(t, e1.VersionID, e2.VersionID)
}

func TestRestoreIsIdempotent(t *testing.T) {
	s, root := newStore(t)

	path := filepath.Join(root, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	entry, err := s.Create("doc.txt", path, ReasonBeforeDelete, "")
	require.NoError(t, err)

	target := filepath.Join(root, "restored.txt")
	require.NoError(t, s.Restore("doc.txt", entry.VersionID, target))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	// Restoring again onto the same target reproduces identical content.
	require.NoError(t, s.Restore("doc.txt", entry.VersionID, target))
	got2, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, got, got2)
}

func TestRestoreUnknownVersionFails(t *testing.T) {
	s, root := newStore(t)
	target := filepath.Join(root, "out.txt")
	err := s.Restore("missing.txt", 12345, target)
	assert.Error(t, err)
}

func TestPruneKeepsNewestAndRespectsMaxVersions(t *testing.T) {
	s, root := newStore(t)
	path := filepath.Join(root, "f.txt")

	var ids []int64
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))
		e, err := s.Create("f.txt", path, ReasonBeforeSync, "")
		require.NoError(t, err)
		ids = append(ids, e.VersionID)
	}

	removed, err := s.Prune(RetentionPolicy{MaxVersionsPerFile: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	versions := s.List("f.txt")
	require.Len(t, versions, 2)
	assert.Equal(t, ids[len(ids)-1], versions[0].VersionID)
}

func TestPruneByAgeNeverDropsNewest(t *testing.T) {
	s, root := newStore(t)
	path := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	e, err := s.Create("old.txt", path, ReasonManual, "")
	require.NoError(t, err)

	// Force the single version to look ancient; it must still survive
	// because the newest version of a file is never pruned.
	s.mu.Lock()
	entries := s.index["old.txt"]
	entries[0].CreatedAt = time.Now().Add(-365 * 24 * time.Hour)
	s.index["old.txt"] = entries
	s.mu.Unlock()

	removed, err := s.Prune(RetentionPolicy{MaxAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	versions := s.List("old.txt")
	require.Len(t, versions, 1)
	assert.Equal(t, e.VersionID, versions[0].VersionID)
}

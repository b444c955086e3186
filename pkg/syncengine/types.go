// Package syncengine ties discovery, the connection pool, the delta
// engine, and the version store together into the daemon's core loop:
// it watches a folder for local changes, fans them out to trusted
// peers, applies the changes peers send back, and reconciles the two
// sides' manifests on a schedule.
package syncengine

import (
	"time"

	"swarmsync/pkg/wire"
)

// TrackedFile is the engine's view of one file or directory inside a
// synced folder. Keys into Engine.tracked are lower-cased relative
// paths so two peers on case-insensitive and case-sensitive
// filesystems agree on identity.
type TrackedFile struct {
	RelPath     string
	ContentHash string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	Deleted     bool
}

// Descriptor converts the tracked entry to its wire representation.
func (f TrackedFile) Descriptor(origin string) wire.FileDescriptor {
	return wire.FileDescriptor{
		RelPath:      f.RelPath,
		ContentHash:  f.ContentHash,
		Size:         f.Size,
		ModifiedUnix: f.ModTime.UnixNano(),
		IsDir:        f.IsDir,
		Origin:       origin,
	}
}

// fromDescriptor builds a TrackedFile from a wire descriptor received
// from a peer.
func fromDescriptor(d wire.FileDescriptor) TrackedFile {
	return TrackedFile{
		RelPath:     d.RelPath,
		ContentHash: d.ContentHash,
		Size:        d.Size,
		ModTime:     d.ModTime(),
		IsDir:       d.IsDir,
	}
}

// tombstone records a deletion so a manifest reconciliation against a
// peer that never saw the delete message does not resurrect the file.
type tombstone struct {
	RelPath   string
	DeletedAt time.Time
}

func (t tombstone) expired(ttl time.Duration) bool {
	return time.Since(t.DeletedAt) > ttl
}

// DefaultTombstoneTTL is the grace window a deletion is remembered for
// when a folder's configuration does not override it.
const DefaultTombstoneTTL = 24 * time.Hour

// pendingTransfer records a resend requested after a post-write content
// hash mismatch. Engine.transfers holds it under the file's track key, so
// a second mismatch for the same file fails instead of being retried.
type pendingTransfer struct {
	ID       string
	RelPath  string
	PeerAddr string
	Started  time.Time
}

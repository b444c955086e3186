package syncengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"swarmsync/pkg/config"
	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/versioning"
	"swarmsync/pkg/wire"
)

// conflictOutcome describes what resolveConflict decided to do.
type conflictOutcome int

const (
	conflictApplyRemote conflictOutcome = iota
	conflictKeepLocal
	conflictKeepBoth
	conflictDeferred
)

// resolveConflict decides how to reconcile a local tracked file against
// an incoming remote FileChanged/DeltaData header describing the same
// relative path, per the folder's configured conflict mode.
//
// AutoNewest compares modification time; on an exact tie the
// lexicographically larger content hash wins, so both sides of the
// comparison converge on the same winner without coordination.
func (e *Engine) resolveConflict(local TrackedFile, remote wire.FileDescriptor, peerID string) conflictOutcome {
	switch e.folder.ConflictMode {
	case config.ConflictAlwaysLocal:
		return conflictKeepLocal
	case config.ConflictAlwaysRemote:
		return conflictApplyRemote
	case config.ConflictKeepBoth:
		return conflictKeepBoth
	case config.ConflictAskUser:
		e.logger.WithFields(map[string]interface{}{
			"rel_path": local.RelPath,
			"peer":     peerID,
		}).Warn("conflicting edit detected, awaiting manual resolution")
		return conflictDeferred
	case config.ConflictAutoNewest:
		fallthrough
	default:
		remoteModTime := remote.ModTime()
		if remoteModTime.After(local.ModTime) {
			return conflictApplyRemote
		}
		if local.ModTime.After(remoteModTime) {
			return conflictKeepLocal
		}
		if remote.ContentHash > local.ContentHash {
			return conflictApplyRemote
		}
		return conflictKeepLocal
	}
}

// conflictSidePath returns the path the remote copy is written to under
// KeepBoth: <dir>/<name>.conflict-<peer>-<unixnano><ext>.
func conflictSidePath(relPath, peerID string, at time.Time) string {
	ext := filepath.Ext(relPath)
	base := strings.TrimSuffix(relPath, ext)
	tag := peerID
	if tag == "" {
		tag = "unknown"
	}
	return fmt.Sprintf("%s.conflict-%s-%d%s", base, sanitizeTag(tag), at.UnixNano(), ext)
}

func sanitizeTag(tag string) string {
	b := []byte(tag)
	for i, c := range b {
		if c == '/' || c == '\\' || c == ':' {
			b[i] = '_'
		}
	}
	return string(b)
}

// captureConflictVersion records the local copy before a remote update
// overwrites it, so the displaced local content is recoverable from the
// version store when enabled. Nothing is captured when the local side wins.
func (e *Engine) captureConflictVersion(relPath, absPath string) {
	if e.store == nil {
		return
	}
	if _, err := os.Stat(absPath); err != nil {
		return
	}
	if _, err := e.store.Create(relPath, absPath, versioning.ReasonConflict, ""); err != nil {
		if e.versioningRequired {
			e.logger.Error("dropping conflicting update, versioning required but failed", errors.Wrap(err, "version capture for %s", relPath))
		} else {
			e.logger.WithError(err).Warn("failed to capture conflict version, continuing")
		}
		return
	}
	if e.metrics != nil {
		e.metrics.RecordVersionCreated()
	}
}

package syncengine

import "time"

// recordTombstone remembers that relPath was deleted locally, so a later
// manifest reconciliation against a peer that missed the FileDeleted
// message does not resurrect it by treating the peer's stale entry as
// new content.
func (e *Engine) recordTombstone(relPath string) {
	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	e.tombstones[trackKey(relPath)] = tombstone{RelPath: relPath, DeletedAt: time.Now()}
}

// isTombstoned reports whether relPath was deleted locally within the
// folder's tombstone grace window.
func (e *Engine) isTombstoned(relPath string) bool {
	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	t, ok := e.tombstones[trackKey(relPath)]
	if !ok {
		return false
	}
	if t.expired(e.folder.TombstoneTTL) {
		delete(e.tombstones, trackKey(relPath))
		return false
	}
	return true
}

// expireTombstones drops tombstones past their grace window. Called
// opportunistically from the reconciliation cron tick rather than its
// own timer, since both run at folder-configured cadence.
func (e *Engine) expireTombstones() {
	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	for key, t := range e.tombstones {
		if t.expired(e.folder.TombstoneTTL) {
			delete(e.tombstones, key)
		}
	}
}

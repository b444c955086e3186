package syncengine

import (
	"context"

	"swarmsync/pkg/discovery"
	"swarmsync/pkg/wire"
)

// reconcileAllPeers sends this folder's current manifest to every
// trusted peer; it does not request the peer's manifest, so files the
// peer holds are pulled here only when that peer's own reconciliation
// sends its manifest. It is the periodic safety net
// behind the event-driven path: a peer that was offline when a change
// happened, or a watcher overflow that may have dropped events, is
// caught up here instead of silently drifting.
func (e *Engine) reconcileAllPeers(ctx context.Context) {
	e.expireTombstones()

	manifest := e.localManifest()
	err := e.dispatchToTrustedPeers(ctx, func(ctx context.Context, peer discovery.Peer) error {
		address := e.peerAddress(peer)
		ch, err := e.pool.Acquire(ctx, address)
		if err != nil {
			return err
		}
		if err := ch.Stream.WriteMessage(wire.EncodeManifest(manifest)); err != nil {
			e.pool.Release(address, ch, err)
			return err
		}
		e.pool.Release(address, ch, nil)
		return nil
	})
	if err != nil {
		e.logger.WithError(err).Warn("manifest reconciliation encountered errors")
	}
}

func (e *Engine) localManifest() []wire.FileDescriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	files := make([]wire.FileDescriptor, 0, len(e.tracked))
	for _, f := range e.tracked {
		if f.Deleted {
			continue
		}
		files = append(files, f.Descriptor(""))
	}
	return files
}

// handleRemoteManifest reconciles an incoming peer manifest against
// local state: files the peer has that are newer or unknown locally are
// pulled; files only known locally (and not tombstoned on the peer's
// side) are left for the peer's own reconciliation pass to pull back.
func (e *Engine) handleRemoteManifest(ctx context.Context, peerID, address string, remoteFiles []wire.FileDescriptor) error {
	for _, rf := range remoteFiles {
		if rf.IsDir {
			continue
		}
		if e.isTombstoned(rf.RelPath) {
			continue
		}

		e.mu.RLock()
		local, existed := e.tracked[trackKey(rf.RelPath)]
		e.mu.RUnlock()

		if existed && !local.Deleted && local.ContentHash == rf.ContentHash {
			continue // already in sync
		}

		pull := !existed
		if existed && !local.Deleted {
			outcome := e.resolveConflict(local, rf, peerID)
			pull = outcome == conflictApplyRemote
		}
		if !pull {
			continue
		}

		if err := e.pullFile(ctx, peerID, address, rf.RelPath); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"peer":     peerID,
				"rel_path": rf.RelPath,
			}).Warn("failed to pull file during reconciliation")
		}
	}
	return nil
}

func (e *Engine) pullFile(ctx context.Context, peerID, address, relPath string) error {
	ch, err := e.pool.Acquire(ctx, address)
	if err != nil {
		return err
	}
	if err := ch.Stream.WriteMessage(wire.EncodeRequestFile(relPath)); err != nil {
		e.pool.Release(address, ch, err)
		return err
	}
	reply, err := ch.Stream.ReadMessage()
	if err != nil {
		e.pool.Release(address, ch, err)
		return err
	}
	e.pool.Release(address, ch, nil)

	_, body, err := wire.DecodeHeader(reply)
	if err != nil {
		return err
	}
	header, data, err := wire.DecodeFileChanged(body)
	if err != nil {
		return err
	}
	return e.handleRemoteFileChanged(ch, peerID, header, data)
}

// pruneVersions applies the folder's versioning retention policy. Run
// once a day from the reconciliation scheduler.
func (e *Engine) pruneVersions() {
	if e.store == nil {
		return
	}
	removed, err := e.store.Prune(e.retentionPolicy)
	if err != nil {
		e.logger.WithError(err).Warn("version pruning failed")
		return
	}
	if removed > 0 && e.metrics != nil {
		e.metrics.RecordVersionsPruned(removed)
	}
}

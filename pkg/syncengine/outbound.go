package syncengine

import (
	"context"
	"os"
	"path/filepath"

	"swarmsync/pkg/delta"
	"swarmsync/pkg/discovery"
	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/versioning"
	"swarmsync/pkg/watcher"
	"swarmsync/pkg/wire"
)

// DefaultDeltaThreshold is the file size above which the engine attempts
// the delta path instead of sending a file whole, when a matching base
// copy is known to be held by the peer.
const DefaultDeltaThreshold = 1 << 20 // 1 MiB

// handleLocalEvent translates one coalesced watcher event into the
// matching outbound sync message and fans it out to every trusted,
// sync-enabled peer for this folder.
func (e *Engine) handleLocalEvent(ctx context.Context, ev watcher.Event) error {
	lock := e.lockPath(ev.RelPath)
	lock.Lock()
	defer lock.Unlock()

	switch ev.Kind {
	case watcher.EventCreated, watcher.EventModified:
		return e.handleLocalWrite(ctx, ev.RelPath)
	case watcher.EventDeleted:
		return e.handleLocalDelete(ctx, ev.RelPath, false)
	case watcher.EventDirCreated:
		return e.handleLocalDirCreated(ctx, ev.RelPath)
	case watcher.EventDirDeleted:
		return e.handleLocalDelete(ctx, ev.RelPath, true)
	case watcher.EventRenamed:
		return e.handleLocalRename(ctx, ev.OldPath, ev.RelPath)
	}
	return nil
}

func (e *Engine) handleLocalWrite(ctx context.Context, relPath string) error {
	absPath := filepath.Join(e.folder.Path, relPath)
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The watcher coalesced a write with a later delete; nothing to send.
			return nil
		}
		return errors.Wrap(err, "failed to stat %s", relPath)
	}

	hash, err := hashFile(absPath)
	if err != nil {
		return errors.Wrap(err, "failed to hash %s", relPath)
	}

	e.mu.RLock()
	prev, existed := e.tracked[trackKey(relPath)]
	e.mu.RUnlock()
	if existed && !prev.Deleted && prev.ContentHash == hash {
		return nil // no actual content change, e.g. a touch
	}

	if existed && !prev.IsDir && e.store != nil {
		if _, verr := e.store.Create(relPath, absPath, versioning.ReasonBeforeSync, ""); verr != nil {
			if e.versioningRequired {
				return errors.Wrap(verr, "versioning is required but failed to capture prior version of %s", relPath)
			}
			e.logger.WithError(verr).Warn("failed to capture version before overwrite, continuing without it")
		} else if e.metrics != nil {
			e.metrics.RecordVersionCreated()
		}
	}

	tracked := TrackedFile{RelPath: relPath, ContentHash: hash, Size: info.Size(), ModTime: info.ModTime()}
	e.mu.Lock()
	e.tracked[trackKey(relPath)] = tracked
	e.mu.Unlock()

	baseHash := ""
	if existed && !prev.IsDir {
		baseHash = prev.ContentHash
	}

	return e.dispatchToTrustedPeers(ctx, func(ctx context.Context, peer discovery.Peer) error {
		return e.sendFileUpdate(ctx, peer, tracked, absPath, baseHash)
	})
}

// sendFileUpdate sends relPath's current content to peer, using the
// delta path when the file is large enough and the peer is known (from
// a prior successful exchange) to hold a matching base copy.
func (e *Engine) sendFileUpdate(ctx context.Context, peer discovery.Peer, file TrackedFile, absPath, baseHash string) error {
	address := e.peerAddress(peer)
	ch, err := e.pool.Acquire(ctx, address)
	if err != nil {
		return errors.Wrap(err, "failed to acquire channel to %s", peer.DeviceID)
	}

	useDelta := baseHash != "" && file.Size >= int64(e.deltaThreshold()) && e.peerHasBase(address, file.RelPath, baseHash)

	if !useDelta {
		data, err := os.ReadFile(absPath)
		if err != nil {
			e.pool.Release(address, ch, err)
			return errors.Wrap(err, "failed to read %s", absPath)
		}
		msg := wire.EncodeFileChanged(file.Descriptor(""), data)
		if err := ch.Stream.WriteMessage(msg); err != nil {
			e.pool.Release(address, ch, err)
			return errors.Wrap(err, "failed to send FileChanged for %s to %s", file.RelPath, peer.DeviceID)
		}
		e.pool.Release(address, ch, nil)
		e.rememberSent(address, file.RelPath, file.ContentHash)
		e.recordTransfer("outbound", peer.DeviceID, file.Size, "full")
		return nil
	}

	if err := ch.Stream.WriteMessage(wire.EncodeRequestSignatures(file.RelPath)); err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "failed to request signatures for %s from %s", file.RelPath, peer.DeviceID)
	}
	reply, err := ch.Stream.ReadMessage()
	if err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "failed to read BlockSignatures reply for %s from %s", file.RelPath, peer.DeviceID)
	}
	_, body, err := wire.DecodeHeader(reply)
	if err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "malformed BlockSignatures reply for %s", file.RelPath)
	}
	_, sigs, err := wire.DecodeBlockSignatures(body)
	if err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "failed to decode BlockSignatures for %s", file.RelPath)
	}

	instructions, err := delta.ComputeDelta(absPath, sigs)
	if err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "failed to compute delta for %s", file.RelPath)
	}
	if err := ch.Stream.WriteMessage(wire.EncodeDeltaData(file.RelPath, instructions)); err != nil {
		e.pool.Release(address, ch, err)
		return errors.Wrap(err, "failed to send DeltaData for %s to %s", file.RelPath, peer.DeviceID)
	}
	e.pool.Release(address, ch, nil)
	e.rememberSent(address, file.RelPath, file.ContentHash)
	e.recordTransfer("outbound", peer.DeviceID, deltaWireSize(instructions), "delta")
	return nil
}

func deltaWireSize(instructions []wire.DeltaInstruction) int64 {
	var n int64
	for _, ins := range instructions {
		if ins.Kind == wire.DeltaInsert {
			n += int64(len(ins.Bytes))
		}
	}
	return n
}

func (e *Engine) recordTransfer(direction, peer string, bytes int64, mode string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordFileSynced(direction, peer, bytes)
	e.metrics.RecordTransferMode(mode)
}

func (e *Engine) deltaThreshold() int {
	return DefaultDeltaThreshold
}

// peerHasBase reports whether the last content this engine successfully
// sent to address for relPath matches baseHash, which is the precondition
// spec'd for attempting the delta path at all.
func (e *Engine) peerHasBase(address, relPath, baseHash string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sent, ok := e.lastSent[lastSentKey(address, relPath)]
	return ok && sent == baseHash
}

func (e *Engine) rememberSent(address, relPath, hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSent == nil {
		e.lastSent = make(map[string]string)
	}
	e.lastSent[lastSentKey(address, relPath)] = hash
}

func lastSentKey(address, relPath string) string {
	return address + "|" + trackKey(relPath)
}

func (e *Engine) handleLocalDelete(ctx context.Context, relPath string, isDir bool) error {
	e.mu.Lock()
	prev, existed := e.tracked[trackKey(relPath)]
	if existed {
		prev.Deleted = true
		e.tracked[trackKey(relPath)] = prev
	}
	e.mu.Unlock()

	if existed && !isDir && e.store != nil {
		absPath := filepath.Join(e.folder.Path, relPath)
		if _, verr := e.store.Create(relPath, absPath, versioning.ReasonBeforeDelete, ""); verr != nil && e.versioningRequired {
			e.logger.WithError(verr).Warn("failed to capture version before delete")
		}
	}

	e.recordTombstone(relPath)

	return e.dispatchToTrustedPeers(ctx, func(ctx context.Context, peer discovery.Peer) error {
		address := e.peerAddress(peer)
		ch, err := e.pool.Acquire(ctx, address)
		if err != nil {
			return err
		}
		err = ch.Stream.WriteMessage(wire.EncodeFileDeleted(relPath, isDir))
		e.pool.Release(address, ch, err)
		return err
	})
}

func (e *Engine) handleLocalDirCreated(ctx context.Context, relPath string) error {
	e.mu.Lock()
	e.tracked[trackKey(relPath)] = TrackedFile{RelPath: relPath, IsDir: true}
	e.mu.Unlock()

	return e.dispatchToTrustedPeers(ctx, func(ctx context.Context, peer discovery.Peer) error {
		address := e.peerAddress(peer)
		ch, err := e.pool.Acquire(ctx, address)
		if err != nil {
			return err
		}
		err = ch.Stream.WriteMessage(wire.EncodeDirCreated(relPath))
		e.pool.Release(address, ch, err)
		return err
	})
}

func (e *Engine) handleLocalRename(ctx context.Context, oldPath, newPath string) error {
	e.mu.Lock()
	if prev, ok := e.tracked[trackKey(oldPath)]; ok {
		delete(e.tracked, trackKey(oldPath))
		prev.RelPath = newPath
		e.tracked[trackKey(newPath)] = prev
	}
	e.mu.Unlock()

	return e.dispatchToTrustedPeers(ctx, func(ctx context.Context, peer discovery.Peer) error {
		address := e.peerAddress(peer)
		ch, err := e.pool.Acquire(ctx, address)
		if err != nil {
			return err
		}
		err = ch.Stream.WriteMessage(wire.EncodeFileRenamed(oldPath, newPath))
		e.pool.Release(address, ch, err)
		return err
	})
}

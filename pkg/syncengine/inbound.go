package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"swarmsync/pkg/delta"
	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/pool"
	"swarmsync/pkg/versioning"
	"swarmsync/pkg/wire"
)

// ServeInbound reads sync messages from ch until the connection closes
// or ctx is cancelled, dispatching each by type. peerID is the peer's
// identity fingerprint; when it matches no trusted peer's pinned
// fingerprint, every message is read and dropped. It is the inbound
// counterpart of the outbound per-peer sends issued from handleLocalEvent;
// the caller (the daemon's connection listener) is responsible for
// accepting the connection and completing the handshake beforehand.
func (e *Engine) ServeInbound(ctx context.Context, peerID, address string, ch *pool.Channel) error {
	trusted := false
	for _, fingerprint := range e.trustedPeers {
		if fingerprint == peerID {
			trusted = true
			break
		}
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record, err := ch.Stream.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "inbound stream from %s closed", peerID)
		}
		if !trusted {
			e.logger.WithField("peer", peerID).Debug("dropping message from untrusted peer")
			continue
		}
		msgType, body, err := wire.DecodeHeader(record)
		if err != nil {
			// A corrupt frame invalidates the whole stream's framing;
			// close rather than try to resynchronize.
			return errors.Wrap(err, "malformed frame from %s", peerID)
		}
		if err := e.dispatchInbound(ctx, peerID, address, ch, msgType, body); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"peer": peerID,
				"type": msgType.String(),
			}).Warn("failed to handle inbound message")
		}
	}
}

func (e *Engine) dispatchInbound(ctx context.Context, peerID, address string, ch *pool.Channel, msgType wire.MessageType, body []byte) error {
	switch msgType {
	case wire.MessageManifest:
		files, err := wire.DecodeManifest(body)
		if err != nil {
			return err
		}
		return e.handleRemoteManifest(ctx, peerID, address, files)

	case wire.MessageFileChanged:
		header, data, err := wire.DecodeFileChanged(body)
		if err != nil {
			return err
		}
		return e.handleRemoteFileChanged(ch, peerID, header, data)

	case wire.MessageFileDeleted, wire.MessageDirDeleted:
		relPath, isDir, err := wire.DecodeFileDeleted(body)
		if err != nil {
			return err
		}
		return e.handleRemoteDelete(relPath, isDir)

	case wire.MessageDirCreated:
		relPath, err := wire.DecodeDirCreated(body)
		if err != nil {
			return err
		}
		return e.handleRemoteDirCreated(relPath)

	case wire.MessageFileRenamed:
		oldPath, newPath, err := wire.DecodeFileRenamed(body)
		if err != nil {
			return err
		}
		return e.handleRemoteRename(oldPath, newPath)

	case wire.MessageRequestFile:
		relPath, err := wire.DecodeRequestFile(body)
		if err != nil {
			return err
		}
		return e.handleRequestFile(ch, relPath)

	case wire.MessageRequestSignatures:
		relPath, err := wire.DecodeRequestSignatures(body)
		if err != nil {
			return err
		}
		return e.handleRequestSignatures(ch, relPath)

	case wire.MessageBlockSignatures:
		// Outbound sends read their own BlockSignatures reply inline
		// (sendFileUpdate); one arriving through this loop instead
		// means the matching RequestSignatures was not this engine's,
		// so there is nothing to feed it to.
		return nil

	case wire.MessageDeltaData:
		relPath, instructions, err := wire.DecodeDeltaData(body)
		if err != nil {
			return err
		}
		return e.handleRemoteDeltaData(peerID, relPath, instructions)

	default:
		return errors.ProtocolViolationf("unknown message type %v from %s", msgType, peerID)
	}
}

func (e *Engine) handleRemoteFileChanged(ch *pool.Channel, peerID string, header wire.FileDescriptor, data []byte) error {
	lock := e.lockPath(header.RelPath)
	lock.Lock()
	defer lock.Unlock()

	if e.isTombstoned(header.RelPath) {
		e.logger.WithField("rel_path", header.RelPath).Debug("ignoring update for a tombstoned path")
		return nil
	}

	absPath := filepath.Join(e.folder.Path, header.RelPath)

	e.mu.RLock()
	local, existed := e.tracked[trackKey(header.RelPath)]
	e.mu.RUnlock()

	if existed && !local.Deleted && local.ContentHash != "" && local.ContentHash != header.ContentHash {
		outcome := e.resolveConflict(local, header, peerID)
		if e.metrics != nil && outcome != conflictApplyRemote {
			e.metrics.RecordConflict(string(e.folder.ConflictMode))
		}
		switch outcome {
		case conflictKeepLocal:
			return nil
		case conflictDeferred:
			return nil
		case conflictKeepBoth:
			sidePath := filepath.Join(e.folder.Path, conflictSidePath(header.RelPath, peerID, header.ModTime()))
			if err := writeFileBytes(sidePath, data); err != nil {
				return errors.Wrap(err, "failed to write conflict copy for %s", header.RelPath)
			}
			hash, _ := hashFile(sidePath)
			e.mu.Lock()
			e.tracked[trackKey(conflictSidePath(header.RelPath, peerID, header.ModTime()))] = TrackedFile{
				RelPath: conflictSidePath(header.RelPath, peerID, header.ModTime()), ContentHash: hash, Size: int64(len(data)),
			}
			e.mu.Unlock()
			return nil
		case conflictApplyRemote:
			e.captureConflictVersion(header.RelPath, absPath)
		}
	} else if existed && !local.IsDir {
		e.captureConflictVersion(header.RelPath, absPath)
	}

	if err := writeFileBytes(absPath, data); err != nil {
		return errors.Wrap(err, "failed to write %s", header.RelPath)
	}
	e.watch.IgnoreSelfWrite(header.RelPath)

	if writtenHash, herr := hashFile(absPath); herr == nil && header.ContentHash != "" && writtenHash != header.ContentHash {
		return e.handleHashMismatch(ch, absPath, header.RelPath)
	}

	e.mu.Lock()
	e.tracked[trackKey(header.RelPath)] = fromDescriptor(header)
	e.mu.Unlock()

	e.transferMu.Lock()
	delete(e.transfers, trackKey(header.RelPath))
	e.transferMu.Unlock()

	e.recordTransfer("inbound", peerID, int64(len(data)), "full")
	return nil
}

// handleHashMismatch implements the spec's drop-and-resend-once policy:
// the corrupted write is discarded, the file is requested fresh exactly
// one time, and a second mismatch is surfaced as a failed transfer
// rather than retried indefinitely.
func (e *Engine) handleHashMismatch(ch *pool.Channel, absPath, relPath string) error {
	os.Remove(absPath)
	key := trackKey(relPath)
	e.transferMu.Lock()
	_, alreadyRetried := e.transfers[key]
	if !alreadyRetried {
		e.transfers[key] = pendingTransfer{ID: newTransferID(), RelPath: relPath, Started: time.Now()}
	}
	e.transferMu.Unlock()

	if alreadyRetried {
		e.transferMu.Lock()
		delete(e.transfers, key)
		e.transferMu.Unlock()
		return errors.HashMismatchf("content hash mismatch for %s after resend, giving up (TransferFailed)", relPath)
	}

	if err := ch.Stream.WriteMessage(wire.EncodeRequestFile(relPath)); err != nil {
		return errors.Wrap(err, "failed to request resend of %s after hash mismatch", relPath)
	}
	return nil
}

func writeFileBytes(absPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	tmp := absPath + ".swarmsync-tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, absPath)
}

func (e *Engine) handleRemoteDelete(relPath string, isDir bool) error {
	lock := e.lockPath(relPath)
	lock.Lock()
	defer lock.Unlock()

	absPath := filepath.Join(e.folder.Path, relPath)

	e.mu.RLock()
	_, existed := e.tracked[trackKey(relPath)]
	e.mu.RUnlock()

	if existed && !isDir && e.store != nil {
		if _, err := e.store.Create(relPath, absPath, versioning.ReasonBeforeDelete, ""); err != nil {
			e.logger.WithError(err).Warn("failed to capture version before remote delete")
		}
	}

	if isDir {
		if err := os.RemoveAll(absPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove directory %s", relPath)
		}
	} else {
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove %s", relPath)
		}
	}
	e.watch.IgnoreSelfWrite(relPath)

	e.mu.Lock()
	delete(e.tracked, trackKey(relPath))
	e.mu.Unlock()
	e.recordTombstone(relPath)
	return nil
}

func (e *Engine) handleRemoteDirCreated(relPath string) error {
	absPath := filepath.Join(e.folder.Path, relPath)
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return errors.Wrap(err, "failed to create directory %s", relPath)
	}
	e.watch.IgnoreSelfWrite(relPath)
	e.mu.Lock()
	e.tracked[trackKey(relPath)] = TrackedFile{RelPath: relPath, IsDir: true}
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleRemoteRename(oldPath, newPath string) error {
	oldAbs := filepath.Join(e.folder.Path, oldPath)
	newAbs := filepath.Join(e.folder.Path, newPath)
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return errors.Wrap(err, "failed to create parent directory for rename target %s", newPath)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return errors.Wrap(err, "failed to rename %s to %s", oldPath, newPath)
	}
	e.watch.IgnoreSelfWrite(oldPath)
	e.watch.IgnoreSelfWrite(newPath)

	e.mu.Lock()
	if prev, ok := e.tracked[trackKey(oldPath)]; ok {
		delete(e.tracked, trackKey(oldPath))
		prev.RelPath = newPath
		e.tracked[trackKey(newPath)] = prev
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleRequestFile(ch *pool.Channel, relPath string) error {
	absPath := filepath.Join(e.folder.Path, relPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		return errors.Wrap(err, "failed to read requested file %s", relPath)
	}
	hash, err := hashFile(absPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	header := wire.FileDescriptor{RelPath: relPath, ContentHash: hash, Size: info.Size(), ModifiedUnix: info.ModTime().UnixNano()}
	return ch.Stream.WriteMessage(wire.EncodeFileChanged(header, data))
}

func (e *Engine) handleRequestSignatures(ch *pool.Channel, relPath string) error {
	absPath := filepath.Join(e.folder.Path, relPath)
	sigs, err := delta.ComputeSignatures(absPath)
	if err != nil {
		return errors.Wrap(err, "failed to compute signatures for %s", relPath)
	}
	hash, err := hashFile(absPath)
	if err != nil {
		return err
	}
	return ch.Stream.WriteMessage(wire.EncodeBlockSignatures(hash, sigs))
}

// handleRemoteDeltaData applies a delta against the current local copy,
// which is treated as the base per spec: the prior version is captured
// first when versioning is enabled, then the delta is applied in place.
func (e *Engine) handleRemoteDeltaData(peerID, relPath string, instructions []wire.DeltaInstruction) error {
	lock := e.lockPath(relPath)
	lock.Lock()
	defer lock.Unlock()

	absPath := filepath.Join(e.folder.Path, relPath)
	if e.store != nil {
		if _, err := e.store.Create(relPath, absPath, versioning.ReasonBeforeSync, ""); err != nil {
			if e.versioningRequired {
				return errors.Wrap(err, "versioning required but failed before applying delta to %s", relPath)
			}
			e.logger.WithError(err).Warn("failed to capture version before delta apply")
		}
	}

	tmp := absPath + ".swarmsync-delta-tmp"
	if err := delta.ApplyDelta(absPath, tmp, instructions); err != nil {
		return errors.Wrap(err, "failed to apply delta to %s", relPath)
	}

	newHash, err := hashFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to finalize delta apply for %s", relPath)
	}
	e.watch.IgnoreSelfWrite(relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.tracked[trackKey(relPath)] = TrackedFile{RelPath: relPath, ContentHash: newHash, Size: info.Size(), ModTime: info.ModTime()}
	e.mu.Unlock()

	e.recordTransfer("inbound", peerID, deltaWireSize(instructions), "delta")
	return nil
}

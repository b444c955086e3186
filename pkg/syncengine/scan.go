package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"swarmsync/pkg/helper/errors"
)

// scanFolder walks the folder's root and populates the tracked-file map.
// A file whose size and modification time match the entry an earlier
// scan in this process recorded is assumed unchanged and is not
// rehashed; everything else
// is hashed from disk. Hidden version-store directories are skipped.
func (e *Engine) scanFolder() error {
	root := e.folder.Path
	tracked := make(map[string]TrackedFile)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if isVersionStorePath(rel) || e.isExcluded(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			tracked[trackKey(rel)] = TrackedFile{RelPath: rel, IsDir: true, ModTime: info.ModTime()}
			return nil
		}

		cached, ok := e.cachedUnchanged(rel, info)
		if ok {
			tracked[trackKey(rel)] = cached
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			return errors.Wrap(err, "failed to hash %s during startup scan", rel)
		}
		tracked[trackKey(rel)] = TrackedFile{
			RelPath:     rel,
			ContentHash: hash,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	e.mu.Lock()
	e.tracked = tracked
	e.mu.Unlock()
	return nil
}

// cachedUnchanged reports whether rel's previously recorded size and
// modification time still match disk, letting the scan skip a rehash.
// The tracked map is not persisted, so a cold start hashes every file;
// this only helps later scans in the same process, such as the rescan
// triggered after a watcher overflow.
func (e *Engine) cachedUnchanged(rel string, info os.FileInfo) (TrackedFile, bool) {
	e.mu.RLock()
	prev, ok := e.tracked[trackKey(rel)]
	e.mu.RUnlock()
	if !ok || prev.IsDir || prev.Deleted {
		return TrackedFile{}, false
	}
	if prev.Size == info.Size() && prev.ModTime.Equal(info.ModTime()) {
		return prev, true
	}
	return TrackedFile{}, false
}

func (e *Engine) isExcluded(rel string) bool {
	for _, pattern := range e.folder.ExcludedPaths {
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func isVersionStorePath(rel string) bool {
	first := rel
	if idx := indexByte(rel, filepath.Separator); idx >= 0 {
		first = rel[:idx]
	}
	return first == ".swarm-versions"
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// handleRescan is invoked when the watcher reports buffer overflow: the
// per-path event stream can no longer be trusted, so the engine falls
// back to a full rescan followed by a manifest exchange with every
// currently known peer, rather than trying to reconcile individual
// missed events.
func (e *Engine) handleRescan(ctx context.Context) {
	e.logger.Warn("watcher overflow, falling back to full rescan")
	if err := e.scanFolder(); err != nil {
		e.logger.WithError(err).Error("rescan after watcher overflow failed", err)
		return
	}
	e.reconcileAllPeers(ctx)
}

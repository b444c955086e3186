// Package versioning implements the content-addressed local archive that
// keeps prior copies of files before they are overwritten, deleted, or
// replaced by a conflicting remote edit.
package versioning

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
)

// DirName is the name of the hidden directory that holds the version
// archive, created inside the root of every synced folder.
const DirName = ".swarm-versions"

// indexFileName holds the JSON-encoded version index alongside the blob
// store, so a `swarmd versions`/`restore` invocation started after the
// daemon that wrote them exits still sees prior captures.
const indexFileName = "index.json"

// Reason tags why a version was captured.
type Reason string

const (
	ReasonConflict     Reason = "conflict"
	ReasonBeforeSync   Reason = "before_sync"
	ReasonManual       Reason = "manual"
	ReasonBeforeDelete Reason = "before_delete"
)

// Entry is one captured version of a tracked file.
type Entry struct {
	RelPath    string
	VersionID  int64 // monotonic capture timestamp, unix nanos
	CreatedAt  time.Time
	Size       int64
	Digest     digest.Digest
	Reason     Reason
	SourcePeer string // empty for locally originated versions
}

// RetentionPolicy bounds how many versions of a file, and how old, the
// store keeps per relative path. Zero means unlimited for that axis.
type RetentionPolicy struct {
	MaxVersionsPerFile int
	MaxAge             time.Duration
}

// Store is a content-addressed archive of file versions rooted at
// <syncRoot>/.swarm-versions. Blob content is deduplicated by digest;
// the index tracks per-relpath version history separately from blob
// storage so two files with identical content share one blob.
type Store struct {
	root   string
	blobs  string
	logger log.Logger

	mu    sync.RWMutex
	index map[string][]Entry // relPath -> versions, oldest first
}

// Open creates (if needed) the version directory layout under syncRoot
// and returns a Store ready for use, loading the persisted index written
// by a prior process if one exists.
func Open(syncRoot string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	root := filepath.Join(syncRoot, DirName)
	blobs := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create version store at %s", root)
	}
	s := &Store{
		root:   root,
		blobs:  blobs,
		logger: logger.WithField("component", "versioning"),
		index:  make(map[string][]Entry),
	}
	if err := s.loadIndex(); err != nil {
		return nil, errors.Wrap(err, "failed to load version index at %s", root)
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.index)
}

// saveIndexLocked persists the in-memory index. Callers must hold s.mu.
func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.indexPath(), data)
}

func blobPath(blobsDir string, d digest.Digest) string {
	algo := d.Algorithm().String()
	hex := d.Encoded()
	return filepath.Join(blobsDir, algo, hex[:2], hex)
}

// Create captures the current content at absPath as a new version of
// relPath. If a blob with identical content already exists, the store
// deduplicates and only records a new index entry.
func (s *Store) Create(relPath, absPath string, reason Reason, sourcePeer string) (Entry, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Entry{}, errors.Wrap(err, "failed to read %s for versioning", absPath)
	}

	d := digest.FromBytes(data)
	dst := blobPath(s.blobs, d)

	if _, err := os.Stat(dst); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Entry{}, errors.Wrap(err, "failed to create blob directory for %s", relPath)
		}
		if err := writeFileAtomic(dst, data); err != nil {
			return Entry{}, errors.Wrap(err, "failed to write version blob for %s", relPath)
		}
	} else if err != nil {
		return Entry{}, errors.Wrap(err, "failed to stat version blob for %s", relPath)
	}

	entry := Entry{
		RelPath:    relPath,
		VersionID:  captureClock(),
		CreatedAt:  time.Now(),
		Size:       int64(len(data)),
		Digest:     d,
		Reason:     reason,
		SourcePeer: sourcePeer,
	}

	s.mu.Lock()
	s.index[relPath] = append(s.index[relPath], entry)
	saveErr := s.saveIndexLocked()
	s.mu.Unlock()
	if saveErr != nil {
		return Entry{}, errors.Wrap(saveErr, "failed to persist version index for %s", relPath)
	}

	s.logger.WithFields(map[string]interface{}{
		"rel_path": relPath,
		"digest":   d.String(),
		"reason":   string(reason),
	}).Debug("captured file version")

	return entry, nil
}

// captureClock returns a monotonically increasing version identifier
// even when called twice within the same nanosecond by serializing
// through a package-level counter seeded from the wall clock.
var (
	clockMu   sync.Mutex
	clockLast int64
)

func captureClock() int64 {
	clockMu.Lock()
	defer clockMu.Unlock()
	now := time.Now().UnixNano()
	if now <= clockLast {
		now = clockLast + 1
	}
	clockLast = now
	return now
}

func writeFileAtomic(dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// List returns relPath's captured versions, newest first.
func (s *Store) List(relPath string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.index[relPath]
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionID > out[j].VersionID })
	return out
}

// Restore writes the version identified by versionID back to targetPath.
// Restoring a version whose content already matches targetPath's current
// content is a no-op beyond the write itself: ApplyDelta-free scenarios
// always compare equal after the copy, so restore is naturally idempotent.
func (s *Store) Restore(relPath string, versionID int64, targetPath string) error {
	s.mu.RLock()
	entries := s.index[relPath]
	s.mu.RUnlock()

	var found *Entry
	for i := range entries {
		if entries[i].VersionID == versionID {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		return errors.NotFoundf("no version %d recorded for %s", versionID, relPath)
	}

	src := blobPath(s.blobs, found.Digest)
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open version blob for %s", relPath)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create parent directory for restore of %s", relPath)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return errors.Wrap(err, "failed to create restore target for %s", relPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "failed to restore version %d of %s", versionID, relPath)
	}

	s.logger.WithFields(map[string]interface{}{
		"rel_path":   relPath,
		"version_id": versionID,
	}).Info("restored file version")
	return nil
}

// Prune removes versions beyond policy's bounds across every tracked
// relative path and returns how many entries were removed. The newest
// version of a file is never pruned, even if it exceeds MaxAge, so a
// file always has at least one recoverable version.
func (s *Store) Prune(policy RetentionPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := time.Now()

	for relPath, entries := range s.index {
		sorted := append([]Entry(nil), entries...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].VersionID > sorted[j].VersionID })

		keep := make([]Entry, 0, len(sorted))
		for i, e := range sorted {
			if i == 0 {
				keep = append(keep, e)
				continue
			}
			if policy.MaxVersionsPerFile > 0 && i >= policy.MaxVersionsPerFile {
				removed++
				continue
			}
			if policy.MaxAge > 0 && now.Sub(e.CreatedAt) > policy.MaxAge {
				removed++
				continue
			}
			keep = append(keep, e)
		}
		s.index[relPath] = keep
	}

	if err := s.saveIndexLocked(); err != nil {
		return removed, errors.Wrap(err, "failed to persist version index after prune")
	}
	if err := s.collectUnreferencedBlobs(); err != nil {
		return removed, err
	}
	return removed, nil
}

// collectUnreferencedBlobs deletes blob files no longer referenced by any
// index entry across all tracked paths.
func (s *Store) collectUnreferencedBlobs() error {
	live := make(map[string]struct{})
	for _, entries := range s.index {
		for _, e := range entries {
			live[blobPath(s.blobs, e.Digest)] = struct{}{}
		}
	}

	return filepath.Walk(s.blobs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return os.Remove(path)
		}
		if _, ok := live[path]; !ok {
			return os.Remove(path)
		}
		return nil
	})
}

// String implements fmt.Stringer for Entry, mainly for log lines and the
// CLI's version listing output.
func (e Entry) String() string {
	return fmt.Sprintf("%s@%d (%s, %d bytes, %s)", e.RelPath, e.VersionID, e.Reason, e.Size, e.Digest)
}

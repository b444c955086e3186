package syncengine

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"swarmsync/pkg/config"
	"swarmsync/pkg/discovery"
	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
	"swarmsync/pkg/metrics"
	"swarmsync/pkg/pool"
	"swarmsync/pkg/versioning"
	"swarmsync/pkg/watcher"
)

// Options configures a new Engine. FolderName, Folder.Path, Keys, Pool
// and Table are required; everything else falls back to a safe default
// when the zero value is passed, mirroring the rest of the daemon's
// Options-struct constructors.
type Options struct {
	FolderName string
	Folder     config.FolderConfig

	Keys     *identity.Keys
	Pool     *pool.Pool
	Table    *discovery.Table
	Store    *versioning.Store
	Watcher  *watcher.Watcher
	Metrics  *metrics.Registry
	Logger   log.Logger

	// TrustedPeers maps device ID to its pinned fingerprint, as loaded
	// from the daemon configuration. A device ID absent from this map
	// is never sent local changes and its messages are ignored.
	TrustedPeers map[string]string

	VersioningRequired bool
	RetentionPolicy    versioning.RetentionPolicy
}

// Engine is the sync engine for a single configured folder: it owns the
// tracked-file map, dispatches watcher events to peers, applies inbound
// peer messages, and reconciles manifests on a schedule. One Engine runs
// per folder; the daemon holds one per configured folder name.
type Engine struct {
	folderName string
	folder     config.FolderConfig

	keys    *identity.Keys
	pool    *pool.Pool
	table   *discovery.Table
	store   *versioning.Store
	watch   *watcher.Watcher
	metrics *metrics.Registry
	logger  log.Logger

	trustedPeers       map[string]string
	versioningRequired bool
	retentionPolicy    versioning.RetentionPolicy

	mu      sync.RWMutex
	tracked map[string]TrackedFile

	// lastSent records, per "address|relPath", the content hash this
	// engine last successfully delivered to that peer. The delta path
	// is only attempted when this matches the file's pre-write hash,
	// since that is the only evidence the peer holds a usable base copy.
	lastSent map[string]string

	pathLocks sync.Map // string -> *sync.Mutex, one per relPath

	tombMu     sync.Mutex
	tombstones map[string]tombstone

	transferMu sync.Mutex
	transfers  map[string]pendingTransfer

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New constructs an Engine. It does not start the startup scan or any
// background loop; call Start for that.
func New(opts Options) (*Engine, error) {
	if opts.FolderName == "" {
		return nil, errors.InvalidInputf("syncengine: folder name is required")
	}
	if opts.Folder.Path == "" {
		return nil, errors.InvalidInputf("syncengine: folder path is required")
	}
	if opts.Keys == nil || opts.Pool == nil || opts.Table == nil {
		return nil, errors.InvalidInputf("syncengine: keys, pool, and peer table are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	if opts.Folder.ConflictMode == "" {
		opts.Folder.ConflictMode = config.ConflictAutoNewest
	}
	if opts.Folder.TombstoneTTL <= 0 {
		opts.Folder.TombstoneTTL = DefaultTombstoneTTL
	}
	if opts.Folder.ReconcileEvery <= 0 {
		opts.Folder.ReconcileEvery = 5 * time.Minute
	}

	e := &Engine{
		folderName:         opts.FolderName,
		folder:             opts.Folder,
		keys:               opts.Keys,
		pool:               opts.Pool,
		table:              opts.Table,
		store:              opts.Store,
		watch:              opts.Watcher,
		metrics:            opts.Metrics,
		logger:             logger.WithField("folder", opts.FolderName),
		trustedPeers:       opts.TrustedPeers,
		versioningRequired: opts.VersioningRequired,
		retentionPolicy:    opts.RetentionPolicy,
		tracked:            make(map[string]TrackedFile),
		lastSent:           make(map[string]string),
		tombstones:         make(map[string]tombstone),
		transfers:          make(map[string]pendingTransfer),
	}
	if e.trustedPeers == nil {
		e.trustedPeers = map[string]string{}
	}
	return e, nil
}

// lockPath returns the per-relPath mutex used to serialize local and
// remote mutations of the same file, so a delta applied from a peer
// cannot race a local write the watcher has not yet reported.
func (e *Engine) lockPath(relPath string) *sync.Mutex {
	key := trackKey(relPath)
	val, _ := e.pathLocks.LoadOrStore(key, &sync.Mutex{})
	return val.(*sync.Mutex)
}

func trackKey(relPath string) string {
	return normalizeSlashes(lower(relPath))
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func normalizeSlashes(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '\\' {
			b[i] = '/'
		}
	}
	return string(b)
}

// Start runs the startup scan, launches the watcher-event and
// reconciliation loops, and returns once both are running. Stop (or
// cancelling ctx) tears everything down.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scanFolder(); err != nil {
		return errors.Wrap(err, "syncengine: startup scan of %s failed", e.folder.Path)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.cron = cron.New()
	spec := fmt.Sprintf("@every %s", e.folder.ReconcileEvery)
	if _, err := e.cron.AddFunc(spec, func() { e.reconcileAllPeers(runCtx) }); err != nil {
		cancel()
		return errors.Wrap(err, "syncengine: failed to schedule manifest reconciliation")
	}
	if _, err := e.cron.AddFunc("@daily", func() { e.pruneVersions() }); err != nil {
		cancel()
		return errors.Wrap(err, "syncengine: failed to schedule version pruning")
	}
	e.cron.Start()

	if e.watch != nil {
		go e.watch.Start()
		go e.watchLoop(runCtx)
	}

	e.logger.Info("sync engine started")
	return nil
}

// Stop halts the reconciliation scheduler, waiting for a scheduled job
// that is already running, then cancels the watcher-event loop and stops
// the watcher. A local-event dispatch already in progress is not awaited.
func (e *Engine) Stop() error {
	if e.cron != nil {
		stopCtx := e.cron.Stop()
		<-stopCtx.Done()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.watch != nil {
		return e.watch.Stop()
	}
	return nil
}

func (e *Engine) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.watch.Events():
			if !ok {
				return
			}
			if ev.Kind == watcher.EventRescanRequested {
				e.handleRescan(ctx)
				continue
			}
			if e.metrics != nil {
				e.metrics.RecordWatcherEvent(ev.Kind.String())
			}
			if err := e.handleLocalEvent(ctx, ev); err != nil {
				e.logger.WithError(err).WithField("rel_path", ev.RelPath).Warn("failed to handle local change")
			}
		}
	}
}

// dispatchToTrustedPeers runs fn for every peer this folder is allowed
// to sync with, fanning out concurrently and waiting for every peer's
// send to complete. A peer's error is logged rather than returned, so
// the result is always nil.
func (e *Engine) dispatchToTrustedPeers(ctx context.Context, fn func(ctx context.Context, peer discovery.Peer) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range e.table.List() {
		peer := peer
		if !e.isTrusted(peer) {
			continue
		}
		g.Go(func() error {
			if err := fn(gctx, peer); err != nil {
				e.logger.WithError(err).WithField("peer", peer.DeviceID).Warn("peer dispatch failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// isTrusted reports whether peer's device ID is present in this
// folder's trusted-peer map and whether its currently pinned public key
// matches the fingerprint recorded in configuration.
func (e *Engine) isTrusted(peer discovery.Peer) bool {
	fingerprint, ok := e.trustedPeers[peer.DeviceID]
	if !ok {
		return false
	}
	pinned, ok := e.table.TrustedKey(peer.DeviceID)
	if !ok {
		return false
	}
	return identity.Fingerprint(pinned) == fingerprint
}

func (e *Engine) peerAddress(peer discovery.Peer) string {
	return fmt.Sprintf("%s:%d", peer.Address, peer.Port)
}

func newTransferID() string {
	return uuid.NewString()
}

func (e *Engine) verifyPeerKey(deviceID string) func(pub ed25519.PublicKey) error {
	return func(pub ed25519.PublicKey) error {
		fingerprint, ok := e.trustedPeers[deviceID]
		if !ok {
			return errors.UntrustedPeerf("device %s is not in the trusted peer list", deviceID)
		}
		if identity.Fingerprint(pub) != fingerprint {
			return errors.TrustConflictf("device %s presented a key not matching its pinned fingerprint", deviceID)
		}
		return nil
	}
}

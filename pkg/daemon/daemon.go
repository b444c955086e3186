// Package daemon wires identity, discovery, the connection pool, the
// watcher, the version store, and the sync engine into one running
// process for a single configured folder, and accepts inbound peer
// connections on the device's service port. It plays the role the
// teacher's pkg/server played for its replication HTTP server, adapted
// to a long-lived peer-to-peer listener instead of a request server.
package daemon

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swarmsync/pkg/config"
	"swarmsync/pkg/discovery"
	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
	"swarmsync/pkg/metrics"
	"swarmsync/pkg/pool"
	"swarmsync/pkg/syncengine"
	"swarmsync/pkg/versioning"
	"swarmsync/pkg/watcher"
)

// Daemon owns every long-lived component for one synced folder: the
// signing identity, the connection pool, the peer table and discoverer,
// the version store, the file watcher, the sync engine, the inbound
// TCP listener, and (optionally) the Prometheus exposition server.
type Daemon struct {
	cfg        *config.Config
	folderName string
	folder     config.FolderConfig
	logger     log.Logger

	keys    *identity.Keys
	pool    *pool.Pool
	table   *discovery.Table
	discov  *discovery.Discoverer
	store   *versioning.Store
	watch   *watcher.Watcher
	metrics *metrics.Registry
	engine  *syncengine.Engine

	listener net.Listener
	httpSrv  *http.Server

	wg sync.WaitGroup
}

// New constructs every component but starts nothing; call Run to bring
// the daemon up.
func New(cfg *config.Config, folderName string, folder config.FolderConfig, logger log.Logger) (*Daemon, error) {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	logger = logger.WithField("folder", folderName)

	keyPath := config.ExpandHomeDir(cfg.Device.IdentityKeyPath)
	keys, err := identity.LoadOrGenerate(keyPath, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load or generate device identity")
	}

	// The transport handshake never rejects a peer on identity alone;
	// trust is enforced by the sync engine when it decides whether to
	// dispatch to or act on messages from a given device ID.
	verifyPeer := func(ed25519.PublicKey) error { return nil }
	connPool := pool.New(keys, verifyPeer, logger)

	table := discovery.NewTable(cfg.Discovery.PeerTTL, logger)

	deviceID := identity.Fingerprint(keys.PublicKey)
	discoverer := discovery.New(keys, deviceID, cfg.Device.Name, cfg.Device.ServicePort, table, logger)

	var store *versioning.Store
	if cfg.Versioning.Enabled {
		store, err = versioning.Open(folder.Path, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open version store for folder %s", folderName)
		}
	}

	ignore := watcher.DefaultIgnore(versioning.DirName, filepathBase(cfg.Device.StateDBPath), folder.ExcludedPaths)
	watch, err := watcher.New(folder.Path, ignore, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start watcher for folder %s", folderName)
	}

	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.NewRegistry(cfg.Metrics.Namespace)
	}

	retention := versioning.RetentionPolicy{
		MaxVersionsPerFile: cfg.Versioning.MaxVersionsPerFile,
		MaxAge:             daysToDuration(cfg.Versioning.MaxAgeDays),
	}

	engine, err := syncengine.New(syncengine.Options{
		FolderName:         folderName,
		Folder:             folder,
		Keys:               keys,
		Pool:               connPool,
		Table:              table,
		Store:              store,
		Watcher:            watch,
		Metrics:            metricsRegistry,
		Logger:             logger,
		TrustedPeers:       cfg.TrustedPeers,
		VersioningRequired: false,
		RetentionPolicy:    retention,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct sync engine for folder %s", folderName)
	}

	return &Daemon{
		cfg:        cfg,
		folderName: folderName,
		folder:     folder,
		logger:     logger,
		keys:       keys,
		pool:       connPool,
		table:      table,
		discov:     discoverer,
		store:      store,
		watch:      watch,
		metrics:    metricsRegistry,
		engine:     engine,
	}, nil
}

// Run starts every background component and blocks until ctx is
// cancelled, then tears everything down in reverse order. It returns
// the first fatal startup error, or nil after a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.engine.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start sync engine")
	}
	defer d.engine.Stop()

	if d.cfg.Discovery.Enabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.discov.Run(ctx); err != nil && ctx.Err() == nil {
				d.logger.WithError(err).Error("discovery stopped unexpectedly", err)
			}
		}()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.Device.ServicePort))
	if err != nil {
		return errors.Wrap(err, "failed to listen on port %d", d.cfg.Device.ServicePort)
	}
	d.listener = listener
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.acceptLoop(ctx)
	}()

	if d.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(d.cfg.Metrics.Path, promhttp.HandlerFor(d.metrics.GetRegistry(), promhttp.HandlerOpts{}))
		d.httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", d.cfg.Metrics.Port), Handler: mux}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.WithError(err).Error("metrics server stopped unexpectedly", err)
			}
		}()
	}

	d.logger.WithFields(map[string]interface{}{
		"device_id": identity.Fingerprint(d.keys.PublicKey),
		"port":      d.cfg.Device.ServicePort,
	}).Info("daemon started")

	<-ctx.Done()
	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	d.logger.Info("shutting down")
	if d.listener != nil {
		d.listener.Close()
	}
	if d.httpSrv != nil {
		_ = d.httpSrv.Close()
	}
	d.table.Stop()
	d.pool.Close()
	d.wg.Wait()
}

// acceptLoop accepts inbound peer connections, completes the responder
// side of the handshake, registers the resulting channel in the pool,
// and serves it through the sync engine until it closes or ctx ends.
func (d *Daemon) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.WithError(err).Warn("failed to accept inbound connection")
			continue
		}

		go d.handleConn(ctx, conn)
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	verify := func(ed25519.PublicKey) error { return nil }
	ch, err := pool.HandshakeInbound(conn, d.keys, verify)
	if err != nil {
		d.logger.WithError(err).Warn("inbound handshake failed")
		conn.Close()
		return
	}

	address := conn.RemoteAddr().String()
	peerID := identity.Fingerprint(ch.PeerIdentity)
	d.pool.Accept(address, ch)

	if err := d.engine.ServeInbound(ctx, peerID, address, ch); err != nil && ctx.Err() == nil {
		d.logger.WithError(err).WithField("peer", peerID).Info("inbound connection closed")
	}
}

func filepathBase(path string) string {
	if path == "" {
		return ""
	}
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}

func daysToDuration(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

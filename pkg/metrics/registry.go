package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a Prometheus registry with the daemon's own metrics.
type Registry struct {
	registry *prometheus.Registry

	// Sync engine metrics
	filesSyncedTotal     *prometheus.CounterVec
	bytesTransferredTotal *prometheus.CounterVec
	conflictsTotal        *prometheus.CounterVec
	deltaVsFullTotal       *prometheus.CounterVec

	// Discovery metrics
	peersKnown        prometheus.Gauge
	presenceSentTotal prometheus.Counter
	trustConflicts    prometheus.Counter

	// Connection pool metrics
	poolActiveChannels prometheus.Gauge
	poolDialAttempts   prometheus.Counter
	poolDialFailures   prometheus.Counter
	poolHandshakeFails prometheus.Counter
	poolReuses         prometheus.Counter

	// Watcher metrics
	watcherEventsTotal *prometheus.CounterVec

	// Versioning metrics
	versionsCreatedTotal prometheus.Counter
	versionsPrunedTotal  prometheus.Counter
}

// NewRegistry creates a metrics registry with every daemon metric
// pre-registered under the given namespace (e.g. "swarmsync").
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		filesSyncedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_synced_total",
				Help:      "Total number of files synced to or from a peer",
			},
			[]string{"direction", "peer"},
		),
		bytesTransferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Total bytes transferred to or from a peer",
			},
			[]string{"direction", "peer"},
		),
		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_resolved_total",
				Help:      "Total number of conflict resolutions by method",
			},
			[]string{"method"},
		),
		deltaVsFullTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of transfers by transport mode",
			},
			[]string{"mode"}, // "delta" or "full"
		),

		peersKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "discovery_peers_known",
				Help:      "Number of peers currently live in the peer table",
			},
		),
		presenceSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_presence_sent_total",
				Help:      "Total number of presence broadcasts sent",
			},
		),
		trustConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_trust_conflicts_total",
				Help:      "Total number of rejected presence announcements due to a trust conflict",
			},
		),

		poolActiveChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_active_channels",
				Help:      "Number of currently pooled authenticated channels",
			},
		),
		poolDialAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_dial_attempts_total",
				Help:      "Total number of outbound dial attempts",
			},
		),
		poolDialFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_dial_failures_total",
				Help:      "Total number of failed outbound dial attempts",
			},
		),
		poolHandshakeFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_handshake_failures_total",
				Help:      "Total number of failed handshakes",
			},
		),
		poolReuses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_channel_reuses_total",
				Help:      "Total number of times a pooled channel was reused instead of redialed",
			},
		),

		watcherEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watcher_events_total",
				Help:      "Total number of filesystem change events observed, by kind",
			},
			[]string{"kind"},
		),

		versionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_created_total",
				Help:      "Total number of version archive entries created",
			},
		),
		versionsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_pruned_total",
				Help:      "Total number of version archive entries pruned",
			},
		),
	}

	r.registerMetrics()
	return r
}

func (r *Registry) registerMetrics() {
	collectors := []prometheus.Collector{
		r.filesSyncedTotal,
		r.bytesTransferredTotal,
		r.conflictsTotal,
		r.deltaVsFullTotal,
		r.peersKnown,
		r.presenceSentTotal,
		r.trustConflicts,
		r.poolActiveChannels,
		r.poolDialAttempts,
		r.poolDialFailures,
		r.poolHandshakeFails,
		r.poolReuses,
		r.watcherEventsTotal,
		r.versionsCreatedTotal,
		r.versionsPrunedTotal,
	}
	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
}

// GetRegistry returns the underlying Prometheus registry, for wiring into
// an HTTP exposition handler.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordFileSynced records one file transfer to or from peer.
func (r *Registry) RecordFileSynced(direction, peer string, bytes int64) {
	r.filesSyncedTotal.WithLabelValues(direction, peer).Inc()
	if bytes > 0 {
		r.bytesTransferredTotal.WithLabelValues(direction, peer).Add(float64(bytes))
	}
}

// RecordConflict records a conflict resolution by method (e.g. "auto_newest").
func (r *Registry) RecordConflict(method string) {
	r.conflictsTotal.WithLabelValues(method).Inc()
}

// RecordTransferMode records whether a file transfer used the delta path or
// sent the full file.
func (r *Registry) RecordTransferMode(mode string) {
	r.deltaVsFullTotal.WithLabelValues(mode).Inc()
}

// SetPeersKnown sets the current peer table size.
func (r *Registry) SetPeersKnown(n int) {
	r.peersKnown.Set(float64(n))
}

// RecordPresenceSent records a single presence broadcast.
func (r *Registry) RecordPresenceSent() {
	r.presenceSentTotal.Inc()
}

// RecordTrustConflict records a rejected presence announcement.
func (r *Registry) RecordTrustConflict() {
	r.trustConflicts.Inc()
}

// SetPoolActiveChannels sets the current pooled-channel count.
func (r *Registry) SetPoolActiveChannels(n int) {
	r.poolActiveChannels.Set(float64(n))
}

// RecordDialAttempt records one outbound dial attempt, and whether it failed.
func (r *Registry) RecordDialAttempt(failed bool) {
	r.poolDialAttempts.Inc()
	if failed {
		r.poolDialFailures.Inc()
	}
}

// RecordHandshakeFailure records one failed handshake.
func (r *Registry) RecordHandshakeFailure() {
	r.poolHandshakeFails.Inc()
}

// RecordChannelReuse records one pooled-channel reuse.
func (r *Registry) RecordChannelReuse() {
	r.poolReuses.Inc()
}

// RecordWatcherEvent records one filesystem change event by kind.
func (r *Registry) RecordWatcherEvent(kind string) {
	r.watcherEventsTotal.WithLabelValues(kind).Inc()
}

// RecordVersionCreated records one version archive entry created.
func (r *Registry) RecordVersionCreated() {
	r.versionsCreatedTotal.Inc()
}

// RecordVersionsPruned records n version archive entries pruned in one pass.
func (r *Registry) RecordVersionsPruned(n int) {
	if n > 0 {
		r.versionsPrunedTotal.Add(float64(n))
	}
}

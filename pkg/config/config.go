package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config represents the full daemon configuration.
type Config struct {
	// General configuration
	LogLevel string

	// Device identifies this installation to peers.
	Device DeviceConfig

	// Folders lists every synced folder by name.
	Folders map[string]FolderConfig

	// TrustedPeers maps a device ID to its pinned identity fingerprint,
	// populated either from prior `trust` commands or from this file.
	TrustedPeers map[string]string

	// Discovery configures presence broadcast/listen behavior.
	Discovery DiscoveryConfig

	// Pool configures the authenticated connection pool.
	Pool PoolConfig

	// Delta configures the block-matching delta engine.
	Delta DeltaConfig

	// Versioning configures the local version archive.
	Versioning VersioningConfig

	// Metrics configures the optional Prometheus exposition endpoint.
	Metrics MetricsConfig
}

// DeviceConfig identifies this installation and where its durable state
// lives on disk.
type DeviceConfig struct {
	Name            string
	IdentityKeyPath string
	StateDBPath     string
	ServicePort     int
}

// ConflictMode names how the sync engine resolves concurrent edits to the
// same file seen from two peers.
type ConflictMode string

const (
	// ConflictAutoNewest keeps whichever side's modification time is
	// later. A local copy overwritten by the remote side is archived in
	// the version store; a discarded remote copy is not kept.
	ConflictAutoNewest ConflictMode = "auto_newest"
	// ConflictKeepBoth leaves the local file unchanged and writes the
	// remote copy beside it under a conflict-suffixed name.
	ConflictKeepBoth ConflictMode = "keep_both"
	// ConflictAlwaysLocal never accepts a remote change that collides
	// with a pending local one.
	ConflictAlwaysLocal ConflictMode = "always_keep_local"
	// ConflictAlwaysRemote always accepts the remote change.
	ConflictAlwaysRemote ConflictMode = "always_keep_remote"
	// ConflictAskUser defers the decision to an operator-facing prompt.
	ConflictAskUser ConflictMode = "ask_user"
)

// FolderConfig configures one synced folder.
type FolderConfig struct {
	Path           string
	ConflictMode   ConflictMode
	ExcludedPaths  []string
	TombstoneTTL   time.Duration
	ReconcileEvery time.Duration
}

// DiscoveryConfig configures UDP presence broadcast and listening.
type DiscoveryConfig struct {
	Enabled           bool
	BroadcastInterval time.Duration
	PeerTTL           time.Duration
}

// PoolConfig holds the peer connection dial timeout. The value is only
// validated; the pool dials without a timeout and retries on its fixed
// RetryDelays schedule.
type PoolConfig struct {
	DialTimeout time.Duration
}

// DeltaConfig configures the block-matching delta engine.
type DeltaConfig struct {
	BlockSize int
	// FullFileThresholdSize is only validated; the sync engine sends
	// files below its fixed DefaultDeltaThreshold (1 MiB) whole instead
	// of as a computed delta.
	FullFileThresholdSize int64
}

// VersioningConfig configures the local version archive.
type VersioningConfig struct {
	Enabled            bool
	MaxVersionsPerFile int
	MaxAgeDays         int
}

// MetricsConfig holds metrics-specific configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"METRICS_ENABLED" default:"true"`
	Port      int    `yaml:"port" env:"METRICS_PORT" default:"9190"`
	Path      string `yaml:"path" env:"METRICS_PATH" default:"/metrics"`
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE" default:"swarmsync"`
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Name:            defaultDeviceName(),
			IdentityKeyPath: "~/.swarmsync/identity.pem",
			StateDBPath:     "~/.swarmsync/state.db",
			ServicePort:     4242,
		},
		Folders:      map[string]FolderConfig{},
		TrustedPeers: map[string]string{},
		Discovery: DiscoveryConfig{
			Enabled:           true,
			BroadcastInterval: 3 * time.Second,
			PeerTTL:           15 * time.Second,
		},
		Pool: PoolConfig{
			DialTimeout: 10 * time.Second,
		},
		Delta: DeltaConfig{
			BlockSize:             64 * 1024,
			FullFileThresholdSize: 256 * 1024,
		},
		Versioning: VersioningConfig{
			Enabled:            true,
			MaxVersionsPerFile: 10,
			MaxAgeDays:         30,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9190,
			Path:      "/metrics",
			Namespace: "swarmsync",
		},
	}
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "swarmsync-" + runtime.GOOS
}

// AddFlagsToCommand adds the daemon's configuration flags to a cobra
// command, mirroring whatever is already set on c (normally the result of
// NewDefaultConfig or LoadFromFile) as the flag defaults.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	cmd.PersistentFlags().StringVar(&c.Device.Name, "device-name", c.Device.Name, "Name this device announces to peers")
	cmd.PersistentFlags().StringVar(&c.Device.IdentityKeyPath, "identity-key", c.Device.IdentityKeyPath, "Path to this device's signing identity")
	cmd.PersistentFlags().StringVar(&c.Device.StateDBPath, "state-db", c.Device.StateDBPath, "Path to the local sync state database")
	cmd.PersistentFlags().IntVar(&c.Device.ServicePort, "port", c.Device.ServicePort, "TCP port this device listens on for peer connections")

	cmd.PersistentFlags().BoolVar(&c.Discovery.Enabled, "discovery-enabled", c.Discovery.Enabled, "Enable UDP presence broadcast and discovery")
	cmd.PersistentFlags().DurationVar(&c.Discovery.BroadcastInterval, "discovery-interval", c.Discovery.BroadcastInterval, "Interval between presence broadcasts (only validated; the discoverer uses its fixed 3s interval)")
	cmd.PersistentFlags().DurationVar(&c.Discovery.PeerTTL, "discovery-peer-ttl", c.Discovery.PeerTTL, "Time before an unseen peer is evicted from the peer table")

	cmd.PersistentFlags().IntVar(&c.Delta.BlockSize, "delta-block-size", c.Delta.BlockSize, "Delta block size in bytes (only validated; the delta engine uses its fixed 64 KiB blocks)")
	cmd.PersistentFlags().Int64Var(&c.Delta.FullFileThresholdSize, "delta-full-file-threshold", c.Delta.FullFileThresholdSize, "Size below which files sync whole (only validated; the sync engine uses its fixed 1 MiB threshold)")

	cmd.PersistentFlags().BoolVar(&c.Versioning.Enabled, "versioning-enabled", c.Versioning.Enabled, "Keep prior versions of overwritten or deleted files")
	cmd.PersistentFlags().IntVar(&c.Versioning.MaxVersionsPerFile, "versioning-max-per-file", c.Versioning.MaxVersionsPerFile, "Maximum retained versions per file")
	cmd.PersistentFlags().IntVar(&c.Versioning.MaxAgeDays, "versioning-max-age-days", c.Versioning.MaxAgeDays, "Maximum age in days of a retained version")

	cmd.PersistentFlags().BoolVar(&c.Metrics.Enabled, "metrics-enabled", c.Metrics.Enabled, "Expose a Prometheus metrics endpoint")
	cmd.PersistentFlags().IntVar(&c.Metrics.Port, "metrics-port", c.Metrics.Port, "Port for the Prometheus metrics endpoint")
}

// AddFolderFlags adds flags for registering a single folder to sync,
// used by the `swarmd start --folder` one-shot invocation.
func (c *Config) AddFolderFlags(cmd *cobra.Command, folder *FolderConfig) {
	cmd.Flags().StringVar(&folder.Path, "folder", folder.Path, "Path to the folder to sync")
	cmd.Flags().StringVar((*string)(&folder.ConflictMode), "conflict-mode", string(folder.ConflictMode), "Conflict resolution mode (auto_newest, keep_both, always_keep_local, always_keep_remote, ask_user)")
	cmd.Flags().StringSliceVar(&folder.ExcludedPaths, "exclude", folder.ExcludedPaths, "Relative subtree paths to exclude from sync")
	cmd.Flags().DurationVar(&folder.TombstoneTTL, "tombstone-ttl", folder.TombstoneTTL, "Grace period before a deletion tombstone is forgotten")
	cmd.Flags().DurationVar(&folder.ReconcileEvery, "reconcile-interval", folder.ReconcileEvery, "Interval between full manifest reconciliations")
}

// ExpandHomeDir expands a leading ~ or ${HOME} in path to the user's home
// directory.
func ExpandHomeDir(path string) string {
	if path == "" {
		return path
	}

	if strings.Contains(path, "${HOME}") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "${HOME}", homeDir)
		}
	}

	if strings.HasPrefix(path, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return path
}

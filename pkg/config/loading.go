package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"swarmsync/pkg/helper/errors"
)

// LoadFromFile loads configuration from a file, applying environment
// overrides on top and validating the result. An empty configPath returns
// the validated default configuration.
func LoadFromFile(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		expandedPath := ExpandHomeDir(configPath)

		if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
			return nil, errors.NotFoundf("configuration file not found: %s", expandedPath)
		}

		data, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse configuration file")
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromEnv overlays environment variables onto a loaded configuration.
func loadFromEnv(config *Config) error {
	envVars := map[string]*string{
		"SWARMSYNC_LOG_LEVEL":        &config.LogLevel,
		"SWARMSYNC_DEVICE_NAME":      &config.Device.Name,
		"SWARMSYNC_IDENTITY_KEY":     &config.Device.IdentityKeyPath,
		"SWARMSYNC_STATE_DB":         &config.Device.StateDBPath,
		"SWARMSYNC_METRICS_PATH":     &config.Metrics.Path,
		"SWARMSYNC_METRICS_NAMESPACE": &config.Metrics.Namespace,
	}

	for env, field := range envVars {
		if value, exists := os.LookupEnv(env); exists && value != "" {
			*field = value
		}
	}

	if value, exists := os.LookupEnv("SWARMSYNC_PORT"); exists {
		if n, err := strconv.Atoi(value); err == nil {
			config.Device.ServicePort = n
		}
	}

	if value, exists := os.LookupEnv("SWARMSYNC_DISCOVERY_ENABLED"); exists {
		config.Discovery.Enabled = strings.ToLower(value) == "true" || value == "1"
	}

	if value, exists := os.LookupEnv("SWARMSYNC_VERSIONING_ENABLED"); exists {
		config.Versioning.Enabled = strings.ToLower(value) == "true" || value == "1"
	}

	if value, exists := os.LookupEnv("SWARMSYNC_METRICS_ENABLED"); exists {
		config.Metrics.Enabled = strings.ToLower(value) == "true" || value == "1"
	}

	if value, exists := os.LookupEnv("SWARMSYNC_METRICS_PORT"); exists {
		if n, err := strconv.Atoi(value); err == nil {
			config.Metrics.Port = n
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) SaveToFile(filePath string) error {
	expandedPath := ExpandHomeDir(filePath)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	file, err := os.Create(expandedPath)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode configuration")
	}

	return nil
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	logLevel := strings.ToLower(c.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" && logLevel != "fatal" {
		return errors.InvalidInputf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", c.LogLevel)
	}

	if c.Device.Name == "" {
		return errors.InvalidInputf("device name must not be empty")
	}
	if c.Device.ServicePort < 0 || c.Device.ServicePort > 65535 {
		return errors.InvalidInputf("device port must be between 0 and 65535")
	}

	for name, folder := range c.Folders {
		if folder.Path == "" {
			return errors.InvalidInputf("folder %q: path must not be empty", name)
		}
		switch folder.ConflictMode {
		case ConflictAutoNewest, ConflictKeepBoth, ConflictAlwaysLocal, ConflictAlwaysRemote, ConflictAskUser:
		default:
			return errors.InvalidInputf("folder %q: invalid conflict mode %q", name, folder.ConflictMode)
		}
	}

	for deviceID, fingerprint := range c.TrustedPeers {
		if deviceID == "" || fingerprint == "" {
			return errors.InvalidInputf("trusted peer entries must have a non-empty device ID and fingerprint")
		}
	}

	if c.Discovery.BroadcastInterval <= 0 {
		return errors.InvalidInputf("discovery broadcast interval must be positive")
	}
	if c.Discovery.PeerTTL <= 0 {
		return errors.InvalidInputf("discovery peer TTL must be positive")
	}

	if c.Pool.DialTimeout <= 0 {
		return errors.InvalidInputf("pool dial timeout must be positive")
	}

	if c.Delta.BlockSize <= 0 {
		return errors.InvalidInputf("delta block size must be positive")
	}
	if c.Delta.FullFileThresholdSize < 0 {
		return errors.InvalidInputf("delta full file threshold must be non-negative")
	}

	if c.Versioning.Enabled {
		if c.Versioning.MaxVersionsPerFile < 1 {
			return errors.InvalidInputf("versioning max versions per file must be at least 1")
		}
		if c.Versioning.MaxAgeDays < 0 {
			return errors.InvalidInputf("versioning max age days must be non-negative")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return errors.InvalidInputf("metrics port must be between 0 and 65535")
	}

	return nil
}

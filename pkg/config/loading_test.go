package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantError bool
	}{
		{
			name: "valid config",
			content: `
loglevel: debug
device:
  name: laptop-1
  serviceport: 5000
`,
			wantError: false,
		},
		{
			name:      "empty file",
			content:   "",
			wantError: false,
		},
		{
			name: "invalid yaml",
			content: `
invalid: [yaml
  missing: bracket
`,
			wantError: true,
		},
		{
			name: "invalid log level",
			content: `
loglevel: noisy
`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadFromFile(configPath)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatal("expected a non-nil config")
			}
		})
	}
}

func TestLoadFromFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadFromFile_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SWARMSYNC_LOG_LEVEL", "warn")
	t.Setenv("SWARMSYNC_DEVICE_NAME", "env-device")
	t.Setenv("SWARMSYNC_PORT", "6000")
	t.Setenv("SWARMSYNC_DISCOVERY_ENABLED", "false")

	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level overridden to 'warn', got %q", cfg.LogLevel)
	}
	if cfg.Device.Name != "env-device" {
		t.Errorf("expected device name overridden, got %q", cfg.Device.Name)
	}
	if cfg.Device.ServicePort != 6000 {
		t.Errorf("expected port overridden to 6000, got %d", cfg.Device.ServicePort)
	}
	if cfg.Discovery.Enabled {
		t.Error("expected discovery disabled by env override")
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Device.Name = "roundtrip-device"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("unexpected error saving config: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error loading saved config: %v", err)
	}
	if loaded.Device.Name != "roundtrip-device" {
		t.Errorf("expected device name to round-trip, got %q", loaded.Device.Name)
	}
}

func TestValidate_RejectsInvalidFolder(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Folders["main"] = FolderConfig{Path: "", ConflictMode: ConflictAutoNewest}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a folder with an empty path")
	}
}

func TestValidate_RejectsUnknownConflictMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Folders["main"] = FolderConfig{Path: "/tmp/sync", ConflictMode: "not_a_real_mode"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown conflict mode")
	}
}

func TestValidate_RejectsZeroBlockSize(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Delta.BlockSize = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a zero delta block size")
	}
}

package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"swarmsync/pkg/config"
)

// pidFilePath derives the daemon's PID file location from the state DB
// path, since no dedicated field exists in DeviceConfig for it.
func pidFilePath(c *config.Config) string {
	dir := filepath.Dir(config.ExpandHomeDir(c.Device.StateDBPath))
	return filepath.Join(dir, "swarmd.pid")
}

func writePIDFile(path string, pid int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// pidAlive reports whether pid refers to a running process, using
// signal 0 which only probes for existence and permission.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

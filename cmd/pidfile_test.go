package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/config"
)

func TestWriteReadPIDFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "swarmd.pid")

	require.NoError(t, writePIDFile(path, 4242))

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadPIDFile_Missing(t *testing.T) {
	_, err := readPIDFile(filepath.Join(t.TempDir(), "does-not-exist.pid"))
	assert.Error(t, err)
}

func TestPidAlive(t *testing.T) {
	assert.True(t, pidAlive(os.Getpid()), "the current process should report itself as alive")

	// PID 1 is unreachable for an unprivileged test process on most
	// systems, but a PID far outside any plausible process table range
	// is a reliable negative.
	assert.False(t, pidAlive(999999999))
}

func TestPidFilePath_DerivesFromStateDBDir(t *testing.T) {
	active := config.NewDefaultConfig()
	active.Device.StateDBPath = "/var/lib/swarmsync/state.db"

	assert.Equal(t, "/var/lib/swarmsync/swarmd.pid", pidFilePath(active))
}

package health

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAliveSelf(t *testing.T) {
	assert.True(t, ProcessAlive(uint64(os.Getpid())))
	assert.Equal(t, uint64(os.Getpid()), CurrentPID())
}

func TestProcessAliveZero(t *testing.T) {
	assert.False(t, ProcessAlive(0))
}

func TestProcessAliveExited(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Start())
	pid := uint64(cmd.Process.Pid)
	require.NoError(t, cmd.Wait())
	// reaped, so the pid is gone unless the kernel reused it already
	assert.False(t, ProcessAlive(pid))
}

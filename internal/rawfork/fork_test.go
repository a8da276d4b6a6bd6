//go:build linux

package rawfork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestCloneChildExits forks a child with no namespace flags and checks
// the parent observes its exit status, exercising Clone's basic
// double-return contract without requiring any elevated privilege.
func TestCloneChildExits(t *testing.T) {
	pid, err := Clone(0)
	require.NoError(t, err)

	if pid == 0 {
		unix.Exit(42)
	}

	var ws unix.WaitStatus
	_, err = unix.Wait4(pid, &ws, 0, nil)
	require.NoError(t, err)
	assert.True(t, ws.Exited())
	assert.Equal(t, 42, ws.ExitStatus())
}

//go:build linux

package sandboxbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSentinelRoundTrip(t *testing.T) {
	r, w, err := newPipe()
	require.NoError(t, err)
	defer unix.Close(r)
	defer unix.Close(w)

	require.NoError(t, writeSentinel(w, "map?"))
	assert.NoError(t, readSentinel(r, "map?"))
}

func TestWriteSentinelRejectsWrongLength(t *testing.T) {
	_, w, err := newPipe()
	require.NoError(t, err)
	defer unix.Close(w)

	err = writeSentinel(w, "nope-too-long")
	assert.Error(t, err)
}

func TestReadSentinelRejectsMismatch(t *testing.T) {
	r, w, err := newPipe()
	require.NoError(t, err)
	defer unix.Close(r)
	defer unix.Close(w)

	require.NoError(t, writeSentinel(w, "map?"))
	err = readSentinel(r, "map!")
	assert.Error(t, err)
}

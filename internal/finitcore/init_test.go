//go:build linux

package finitcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePipeArgsValid(t *testing.T) {
	recv, send, err := ParsePipeArgs([]string{"/bin/finit", "7", "8"})
	require.NoError(t, err)
	assert.Equal(t, 7, recv)
	assert.Equal(t, 8, send)
}

func TestParsePipeArgsWrongCount(t *testing.T) {
	_, _, err := ParsePipeArgs([]string{"/bin/finit", "7"})
	require.Error(t, err)
}

func TestParsePipeArgsNotNumeric(t *testing.T) {
	_, _, err := ParsePipeArgs([]string{"/bin/finit", "seven", "8"})
	require.Error(t, err)
}

func TestAssertPidOneFailsUnderTestRunner(t *testing.T) {
	err := AssertPidOne()
	require.Error(t, err)
	var finitErr *Error
	require.ErrorAs(t, err, &finitErr)
	assert.Equal(t, SetupError, finitErr.Kind)
}

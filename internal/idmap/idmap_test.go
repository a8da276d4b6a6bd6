package idmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubidFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subid")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestFirstRangeFirstMatchWins(t *testing.T) {
	path := writeSubidFile(t, "alice:100000:65536\nbob:165536:65536\nalice:231072:65536\n")

	r, err := FirstRange(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), r.Start)
	assert.Equal(t, int64(65536), r.Length)
}

func TestFirstRangeSkipsBlankLines(t *testing.T) {
	path := writeSubidFile(t, "\n\nalice:100000:65536\n\n")

	r, err := FirstRange(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Owner)
}

func TestFirstRangeMissingEntry(t *testing.T) {
	path := writeSubidFile(t, "bob:165536:65536\n")

	_, err := FirstRange(path, "alice")
	require.Error(t, err)
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, MissingEntry, idErr.Kind)
}

func TestValidateRejectsShortRange(t *testing.T) {
	r := SubordinateRange{Owner: "alice", Start: 100000, Length: 1000}
	err := Validate(r, "/etc/subuid")
	require.Error(t, err)
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, RangeTooShort, idErr.Kind)
}

func TestValidateAcceptsMinimumLength(t *testing.T) {
	r := SubordinateRange{Owner: "alice", Start: 100000, Length: MinRangeLength}
	assert.NoError(t, Validate(r, "/etc/subuid"))
}

func TestFirstRangeMalformedLinesAreSkipped(t *testing.T) {
	path := writeSubidFile(t, "not-a-valid-line\nalice:bad:65536\nalice:100000:65536\n")

	r, err := FirstRange(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), r.Start)
}

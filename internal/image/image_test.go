package image

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeValidRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range requiredPaths {
		require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
	}
	return root
}

func TestValidateAcceptsCompleteRoot(t *testing.T) {
	root := makeValidRoot(t)
	assert.NoError(t, Validate(root))
}

func TestValidateRejectsMissingPath(t *testing.T) {
	root := makeValidRoot(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "dev")))

	err := Validate(root)
	require.Error(t, err)
	var imgErr *Error
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, MissingPath, imgErr.Kind)
	assert.Equal(t, "dev", imgErr.Path)
}

func TestValidateRejectsFileWhereDirExpected(t *testing.T) {
	root := makeValidRoot(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "tmp")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tmp"), []byte("x"), 0o644))

	err := Validate(root)
	require.Error(t, err)
}

func TestWriteFinitCopiesAndSetsMode(t *testing.T) {
	root := makeValidRoot(t)

	src := filepath.Join(t.TempDir(), "finit")
	require.NoError(t, os.WriteFile(src, []byte("fake binary contents"), 0o644))

	require.NoError(t, WriteFinit(root, src))

	dest := filepath.Join(root, "bin", "finit")
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	contents, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "fake binary contents", string(contents))
}

func TestWriteResolvConfDefaultsToStubResolver(t *testing.T) {
	root := makeValidRoot(t)
	require.NoError(t, WriteResolvConf(root, nil))

	contents, err := os.ReadFile(filepath.Join(root, "etc", "resolv.conf"))
	require.NoError(t, err)
	assert.Equal(t, "nameserver 127.0.0.53\n", string(contents))
}

func TestWriteResolvConfUsesGivenNameservers(t *testing.T) {
	root := makeValidRoot(t)
	require.NoError(t, WriteResolvConf(root, []string{"8.8.8.8", "1.1.1.1"}))

	contents, err := os.ReadFile(filepath.Join(root, "etc", "resolv.conf"))
	require.NoError(t, err)
	assert.Equal(t, "nameserver 8.8.8.8\nnameserver 1.1.1.1\n", string(contents))
}

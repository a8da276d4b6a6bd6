//go:build linux

package sandboxbuild

import (
	"os"

	"golang.org/x/sys/unix"
)

// oldRootDir is the name pivot_root leaves the former root mounted at,
// relative to the new root; it is unmounted and removed immediately.
const oldRootDir = "old"

// pivotRoot performs spec §4.3 phase 6. The caller must already have
// chdir'd into the sandbox root (setupMounts does this). pivot_root
// requires its new-root argument to be a mount point distinct from the
// one it's nested under, which setupMounts' self bind-mount guarantees.
func pivotRoot() error {
	if err := os.MkdirAll(oldRootDir, 0o755); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mkdir old root staging dir", Err: err}
	}

	if err := unix.PivotRoot(".", oldRootDir); err != nil {
		return &Error{Kind: NamespaceError, Phase: "pivot_root", Err: err}
	}

	if err := os.Chdir("/"); err != nil {
		return &Error{Kind: NamespaceError, Phase: "chdir / after pivot_root", Err: err}
	}

	if err := unix.Unmount(oldRootDir, unix.MNT_DETACH); err != nil {
		return &Error{Kind: NamespaceError, Phase: "detach old root", Err: err}
	}

	if err := os.Remove("/" + oldRootDir); err != nil {
		return &Error{Kind: NamespaceError, Phase: "remove old root staging dir", Err: err}
	}

	return nil
}

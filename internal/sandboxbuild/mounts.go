//go:build linux

package sandboxbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// setupMounts performs spec §4.3 phase 4, run by the first-fork child
// after barrier A clears: set recursive-private propagation on /, bind
// the sandbox root onto itself, chdir into it, bind the host's /proc
// onto .host-proc (needed so the kernel permits the later real "mount -t
// proc" once we're PID 1 in the new namespace), bind the host's /sys
// onto sys, and bind /dev/null onto a pre-created dev/null.
//
// Grounded on microbox's fs/fs.go setupRootfs/BindMount, narrowed to
// exactly the binds spec §4.3 names — no overlayfs, no devpts/shm/mqueue
// setup, since this spec has no general container filesystem scope.
func setupMounts(root string) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mount propagation on /", Err: err}
	}

	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC|unix.MS_NOSUID, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("bind mount %s onto itself", root), Err: err}
	}

	if err := os.Chdir(root); err != nil {
		return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("chdir %s", root), Err: err}
	}

	if err := os.MkdirAll(".host-proc", 0o755); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mkdir .host-proc", Err: err}
	}
	if err := unix.Mount("/proc", ".host-proc", "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: "bind host /proc onto .host-proc", Err: err}
	}

	if err := bindExisting("/sys", "sys"); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir("dev/null"), 0o755); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mkdir dev", Err: err}
	}
	if _, err := os.Stat("dev/null"); os.IsNotExist(err) {
		f, err := os.OpenFile("dev/null", os.O_CREATE, 0o666)
		if err != nil {
			return &Error{Kind: NamespaceError, Phase: "create dev/null placeholder", Err: err}
		}
		_ = f.Close()
	}
	if err := unix.Mount("/dev/null", "dev/null", "", unix.MS_BIND, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: "bind /dev/null onto dev/null", Err: err}
	}

	return nil
}

// bindExisting bind-mounts host path src onto relative target dest
// (relative to the current directory, already chdir'd into the sandbox
// root), creating dest as a directory first.
func bindExisting(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("mkdir %s", dest), Err: err}
	}
	if err := unix.Mount(src, dest, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("bind %s onto %s", src, dest), Err: err}
	}
	return nil
}

// finalizeMounts runs in the inner PID-1 child (after the second fork),
// per spec §4.3: remount /proc as a real procfs now that we're PID 1 in
// the new PID namespace, detach and remove the .host-proc staging bind,
// remount / to finalise MS_BIND|MS_NOSUID flags, and fix /tmp and
// /var/tmp permissions to 1777.
func finalizeMounts() error {
	// .host-proc must still be mounted when this runs: its presence is
	// what lets the kernel permit the "mount -t proc" below inside an
	// unprivileged user namespace. Mount the real proc first, then tear
	// .host-proc down.
	if err := os.MkdirAll("proc", 0o755); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mkdir proc", Err: err}
	}
	if err := unix.Mount("proc", "proc", "proc", unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: "mount proc", Err: err}
	}

	if err := unix.Unmount(".host-proc", unix.MNT_DETACH); err != nil {
		return &Error{Kind: NamespaceError, Phase: "detach .host-proc", Err: err}
	}
	if err := os.Remove(".host-proc"); err != nil {
		return &Error{Kind: NamespaceError, Phase: "remove .host-proc", Err: err}
	}

	if err := unix.Mount("", "/", "", unix.MS_BIND|unix.MS_NOSUID|unix.MS_REMOUNT, ""); err != nil {
		return &Error{Kind: NamespaceError, Phase: "remount / to finalise flags", Err: err}
	}

	for _, dir := range []string{"tmp", "var/tmp"} {
		if err := os.MkdirAll(dir, 0o1777); err != nil {
			return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("mkdir %s", dir), Err: err}
		}
		if err := os.Chmod(dir, 0o1777); err != nil {
			return &Error{Kind: NamespaceError, Phase: fmt.Sprintf("chmod %s", dir), Err: err}
		}
	}

	return nil
}

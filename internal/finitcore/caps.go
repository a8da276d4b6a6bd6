//go:build linux

package finitcore

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// securebits is PR_SET_SECUREBITS' argument: SECBIT_KEEP_CAPS_LOCKED |
// SECBIT_NO_SETUID_FIXUP | SECBIT_NO_SETUID_FIXUP_LOCKED | SECBIT_NOROOT |
// SECBIT_NOROOT_LOCKED. Locking these bits before dropping the bounding
// set means no later setuid(2) call in this process tree can regain the
// capabilities being dropped below.
const securebits = 0x2F

// capLastCapPath exposes the highest capability number this running
// kernel knows about; the bounding-set drop loop below must cover every
// value up to it, not a compiled-in constant, since capabilities are
// added across kernel versions.
const capLastCapPath = "/proc/sys/kernel/cap_last_cap"

// DropBoundingSet performs spec §5's capability-bounding-set drop: it
// locks the securebits first, then loops PR_CAPBSET_DROP over every
// capability number from 0 through cap_last_cap, ignoring EINVAL (a
// capability number the running kernel doesn't recognise). This is the
// literal testable algorithm the spec names; it is deliberately a raw
// prctl loop rather than a library call, so it behaves identically
// regardless of which capability constants a given library build knows
// about.
func DropBoundingSet(log *slog.Logger) error {
	before, _ := currentBoundingSet()
	if log != nil && before != nil {
		log.Debug("capability bounding set before drop", "caps", before)
	}

	if _, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_SET_SECUREBITS, securebits, 0); errno != 0 {
		return fmt.Errorf("finitcore: prctl PR_SET_SECUREBITS: %w", errno)
	}

	last, err := capLastCap()
	if err != nil {
		return fmt.Errorf("finitcore: read cap_last_cap: %w", err)
	}

	for capNum := 0; capNum <= last; capNum++ {
		_, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_CAPBSET_DROP, uintptr(capNum), 0)
		if errno != 0 && errno != unix.EINVAL {
			return fmt.Errorf("finitcore: prctl PR_CAPBSET_DROP(%d): %w", capNum, errno)
		}
	}

	after, _ := currentBoundingSet()
	if log != nil && after != nil {
		log.Debug("capability bounding set after drop", "caps", after)
	}

	return nil
}

// capLastCap reads the kernel's notion of the highest defined
// capability number.
func capLastCap() (int, error) {
	data, err := os.ReadFile(capLastCapPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// currentBoundingSet returns the names of the capabilities currently in
// this process's bounding set, for diagnostic logging only; it plays no
// part in the drop itself.
func currentBoundingSet() ([]string, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, err
	}
	if err := caps.Load(); err != nil {
		return nil, err
	}

	var names []string
	for _, c := range capability.ListKnown() {
		if caps.Get(capability.BOUNDING, c) {
			names = append(names, c.String())
		}
	}
	return names, nil
}

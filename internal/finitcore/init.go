//go:build linux

package finitcore

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/pkgjail/pkgjail/internal/protocol"
)

// maxSweptFD bounds the safety sweep below: every descriptor number from
// 0 up to (but not including) this value is closed unless explicitly
// allow-listed, independent of what /proc/self/fd reports. This catches
// descriptors a future caller might open before exec without updating
// the /proc enumeration (e.g. a descriptor opened but never linked into
// /proc due to a race), at the cost of a handful of guaranteed-EBADF
// close(2) calls on every boot.
const maxSweptFD = 20

// AssertPidOne verifies this process is PID 1 of its namespace, the
// precondition spec §5 places on every other finitcore operation: fd
// sanitisation, capability drop, and the double-fork protocol in
// internal/sandboxbuild all assume init is running as PID 1.
func AssertPidOne() error {
	if pid := os.Getpid(); pid != 1 {
		return &Error{Kind: SetupError, Err: fmt.Errorf("running as pid %d, not pid 1", pid)}
	}
	return nil
}

// ParsePipeArgs reads the two file descriptor numbers /bin/finit is
// exec'd with (see internal/sandboxbuild's childMain): args[1] is the
// fd init receives host commands on, args[2] is the fd it sends frames
// back to the host on.
func ParsePipeArgs(args []string) (recvFD, sendFD int, err error) {
	if len(args) != 3 {
		return 0, 0, &Error{Kind: SetupError, Err: fmt.Errorf("want 2 pipe fd arguments, got %d", len(args)-1)}
	}
	recvFD, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, &Error{Kind: SetupError, Err: fmt.Errorf("parse recv fd %q: %w", args[1], err)}
	}
	sendFD, err = strconv.Atoi(args[2])
	if err != nil {
		return 0, 0, &Error{Kind: SetupError, Err: fmt.Errorf("parse send fd %q: %w", args[2], err)}
	}
	return recvFD, sendFD, nil
}

// SanitizeFDs closes every open file descriptor except stdin, stdout,
// stderr, and the two protocol pipe ends, per spec §5's requirement
// that init not leak host descriptors into commands it later spawns.
// It enumerates /proc/self/fd for the descriptors actually open, then
// additionally sweeps 0..maxSweptFD for anything the enumeration might
// have missed. Each closed descriptor is reported via a DebugOutput
// frame before it's closed, since this runs before Ready and is the
// only chance to surface a leaked descriptor to the host.
func SanitizeFDs(conn *Conn, recvFD, sendFD int) error {
	keep := map[int]bool{0: true, 1: true, 2: true, recvFD: true, sendFD: true}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return &Error{Kind: SetupError, Err: fmt.Errorf("list /proc/self/fd: %w", err)}
	}

	seen := make(map[int]bool, len(entries))
	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		seen[fd] = true
		if keep[fd] {
			continue
		}
		reportLeakedFD(conn, fd)
		_ = unix.Close(fd)
	}

	for fd := 0; fd < maxSweptFD; fd++ {
		if keep[fd] || seen[fd] {
			continue
		}
		_ = unix.Close(fd)
	}

	return nil
}

// reportLeakedFD sends one DebugOutput frame and waits for the host's
// Ack, per the protocol's synchronous debug handshake; a failure here
// is not fatal to the sanitisation itself, only to the report of it.
func reportLeakedFD(conn *Conn, fd int) {
	if conn == nil {
		return
	}
	if err := conn.Send(protocol.DebugOutput, []byte(fmt.Sprintf("finit: closing leaked fd %d", fd))); err != nil {
		return
	}
	_, _, _ = conn.Recv()
}

// ReopenStdin replaces init's stdin with /dev/null. Init never reads
// interactive input of its own; this exists so a spawned shell that
// inherits fd 0 doesn't block waiting on whatever stdin finit happened
// to be exec'd with.
func ReopenStdin() error {
	devNull, err := os.OpenFile("/dev/null", os.O_RDONLY, 0)
	if err != nil {
		return &Error{Kind: SetupError, Err: fmt.Errorf("open /dev/null: %w", err)}
	}
	defer devNull.Close()

	if err := unix.Dup2(int(devNull.Fd()), 0); err != nil {
		return &Error{Kind: SetupError, Err: fmt.Errorf("dup2 /dev/null onto stdin: %w", err)}
	}
	return nil
}

// Conn is the child-side typed connection: init sends on ChildToHost
// and receives on HostToChild.
type Conn = protocol.Conn[protocol.ChildToHost, protocol.HostToChild]

//go:build linux

package sandboxbuild

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/pkgjail/pkgjail/internal/idmap"
	"github.com/pkgjail/pkgjail/internal/protocol"
	"github.com/pkgjail/pkgjail/internal/rawfork"
)

// exit codes used by the inner child when something fails before it can
// reach the framed protocol and report over it; the host only ever
// observes these through the wait4 status of its direct child.
const (
	exitUnexpectedWait = 66
	exitSetupFailure   = 67
)

const finitPath = "/bin/finit"

// unshareFlags is every namespace this sandbox isolates; no
// CLONE_NEWNET and no CLONE_NEWCGROUP, per spec Non-goals.
const unshareFlags = unix.CLONE_NEWUSER |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC

// BuildOptions configures one sandbox build, component C3's entry point.
type BuildOptions struct {
	// Root is the path to the unpacked package image on the host.
	Root string

	// Hostname is set via sethostname(2) inside the new UTS namespace.
	Hostname string

	// Logger receives diagnostic events from the build. A nil Logger
	// disables logging.
	Logger *slog.Logger
}

// ChildHandle is a live sandbox: the first-fork child's host-visible pid,
// its identifying UUID, and the framed connection component C1
// describes, already wired to the sandbox's two pipe ends.
type ChildHandle struct {
	ID   uuid.UUID
	PID  int
	Conn *protocol.Conn[protocol.HostToChild, protocol.ChildToHost]

	recvFile *os.File
	sendFile *os.File
}

// Close releases the host's pipe file descriptors. It does not touch
// the sandboxed process; callers that want to tear the sandbox down
// should send protocol.Die over Conn first.
func (h *ChildHandle) Close() error {
	err1 := h.recvFile.Close()
	err2 := h.sendFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Wait reaps the outer first-fork child — the process PID refers to —
// and returns its exit status. Call it after the protocol exchange is
// done (typically after sending protocol.Die and observing
// ShutdownSuccess/ShutdownError) so the host doesn't leave a zombie
// behind; the outer child's own exit status is always the PID-1
// grandchild's propagated status, per builder.go's waitAndExit.
func (h *ChildHandle) Wait() (int, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(h.PID, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("sandboxbuild: wait4 pid %d: %w", h.PID, err)
		}
		break
	}
	if ws.Exited() {
		return ws.ExitStatus(), nil
	}
	return -1, fmt.Errorf("sandboxbuild: pid %d did not exit cleanly (status %d)", h.PID, ws)
}

// Build runs spec §4.3 end to end: it forks, the first-fork child
// unshares every namespace and blocks on barrier A until the host has
// installed the uid/gid maps (component C2), then sets up mounts,
// drops identity, pivots root, double-forks so its own child becomes
// PID 1 in the new PID namespace, and execs /bin/finit in that child
// while the first-fork child reaps it and exits with its status.
//
// Build itself runs entirely in the host process and returns once the
// first-fork child's pid is known; it does not wait for /bin/finit to
// signal readiness; callers that want to block on spec's testable
// property #1 (Ready precedes any command) should call Conn.Recv until
// they observe protocol.Ready.
func Build(opts BuildOptions) (*ChildHandle, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	hostRecvR, hostRecvW, err := newPipe()
	if err != nil {
		return nil, &Error{Kind: NamespaceError, Phase: "create host-recv pipe", Err: err}
	}
	hostSendR, hostSendW, err := newPipe()
	if err != nil {
		return nil, &Error{Kind: NamespaceError, Phase: "create host-send pipe", Err: err}
	}

	barrierR, barrierW, err := newPipe()
	if err != nil {
		return nil, &Error{Kind: NamespaceError, Phase: "create barrier pipe", Err: err}
	}
	ackR, ackW, err := newPipe()
	if err != nil {
		return nil, &Error{Kind: NamespaceError, Phase: "create barrier ack pipe", Err: err}
	}

	id := uuid.New()

	log.Debug("forking sandbox builder child", "id", id, "root", opts.Root)

	pid, err := rawfork.Clone(0)
	if err != nil {
		return nil, &Error{Kind: NamespaceError, Phase: "clone first-fork child", Err: err}
	}

	if pid == 0 {
		// Child branch: never returns. unshare(2) leaves this process
		// outside the new PID namespace; its next child is PID 1 there.
		if err := unix.Unshare(unshareFlags); err != nil {
			unix.Exit(exitSetupFailure)
		}
		childMain(childParams{
			root:        opts.Root,
			hostname:    opts.Hostname,
			hostRecvW:   hostRecvW,
			hostSendR:   hostSendR,
			barrierW:    barrierW,
			ackR:        ackR,
			closeOnExec: []int{hostRecvR, hostSendW, barrierR, ackW},
		})
		panic("unreachable")
	}

	// Host (parent) branch. Close the ends that belong to the child.
	_ = unix.Close(hostRecvW)
	_ = unix.Close(hostSendR)
	_ = unix.Close(barrierW)
	_ = unix.Close(ackR)

	if err := readSentinel(barrierR, "map?"); err != nil {
		_ = waitAndDiscard(pid)
		return nil, &Error{Kind: NamespaceError, Phase: "await map? barrier", Err: err}
	}

	log.Debug("installing uid/gid maps", "id", id, "pid", pid)
	if err := idmap.MapIdentity(pid); err != nil {
		_ = waitAndDiscard(pid)
		return nil, &Error{Kind: IdentityError, Phase: "install uid/gid maps", Err: err}
	}

	if err := writeSentinel(ackW, "map!"); err != nil {
		_ = waitAndDiscard(pid)
		return nil, &Error{Kind: NamespaceError, Phase: "send map! barrier", Err: err}
	}

	recvFile := os.NewFile(uintptr(hostRecvR), "sandbox-recv")
	sendFile := os.NewFile(uintptr(hostSendW), "sandbox-send")
	conn := protocol.NewConn[protocol.HostToChild, protocol.ChildToHost](recvFile, sendFile)

	log.Debug("sandbox builder child running", "id", id, "pid", pid)

	return &ChildHandle{
		ID:       id,
		PID:      pid,
		Conn:     conn,
		recvFile: recvFile,
		sendFile: sendFile,
	}, nil
}

// waitAndDiscard reaps pid without caring about the exit status, used
// only on build-failure paths where the host has already decided to
// report its own error.
func waitAndDiscard(pid int) error {
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, 0, nil)
	return err
}

type childParams struct {
	root     string
	hostname string

	hostRecvW int
	hostSendR int
	barrierW  int
	ackR      int

	closeOnExec []int
}

// childMain is the first-fork child's entire body. It never returns:
// every path ends in unix.Exit or a successful exec of /bin/finit.
func childMain(p childParams) {
	for _, fd := range p.closeOnExec {
		_ = unix.Close(fd)
	}

	if err := writeSentinel(p.barrierW, "map?"); err != nil {
		unix.Exit(exitSetupFailure)
	}
	if err := readSentinel(p.ackR, "map!"); err != nil {
		unix.Exit(exitSetupFailure)
	}
	_ = unix.Close(p.barrierW)
	_ = unix.Close(p.ackR)

	if err := unix.Sethostname([]byte(p.hostname)); err != nil {
		unix.Exit(exitSetupFailure)
	}

	if err := setupMounts(p.root); err != nil {
		unix.Exit(exitSetupFailure)
	}

	if err := dropToRoot(); err != nil {
		unix.Exit(exitSetupFailure)
	}

	if err := pivotRoot(); err != nil {
		unix.Exit(exitSetupFailure)
	}

	// Phase 7: fork again. This process does NOT become PID 1 of the
	// new PID namespace — it entered it with unshare(2) in Build, which
	// moves only the caller's future children into the new namespace.
	// Its next child, created here, is PID 1.
	innerPID, err := rawfork.Clone(0)
	if err != nil {
		unix.Exit(exitSetupFailure)
	}

	if innerPID == 0 {
		// Grandchild branch: this is PID 1 in the new namespace.
		if err := finalizeMounts(); err != nil {
			unix.Exit(exitSetupFailure)
		}

		recvFD, sendFD := p.hostSendR, p.hostRecvW
		// Dup to fresh, non-CLOEXEC descriptors so they survive the
		// exec below at predictable numbers.
		newRecv, err := unix.Dup(recvFD)
		if err != nil {
			unix.Exit(exitSetupFailure)
		}
		newSend, err := unix.Dup(sendFD)
		if err != nil {
			unix.Exit(exitSetupFailure)
		}
		_ = unix.Close(recvFD)
		_ = unix.Close(sendFD)

		argv := []string{finitPath, fmt.Sprintf("%d", newRecv), fmt.Sprintf("%d", newSend)}
		if err := unix.Exec(finitPath, argv, os.Environ()); err != nil {
			unix.Exit(exitSetupFailure)
		}
		panic("unreachable")
	}

	// First-fork child branch again: wait for the PID-1 grandchild and
	// propagate its exit status, per spec §4.3 phase 7.
	waitAndExit(innerPID)
}

// waitAndExit blocks for pid's termination and exits this process with
// the same status (clamping signal deaths to a fixed sentinel, since
// there is no pid left above this process to observe a raw signal
// disposition).
func waitAndExit(pid int) {
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		unix.Exit(exitUnexpectedWait)
	}
	if ws.Exited() {
		unix.Exit(ws.ExitStatus())
	}
	unix.Exit(exitUnexpectedWait)
}

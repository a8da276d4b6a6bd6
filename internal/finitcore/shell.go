//go:build linux

package finitcore

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pkgjail/pkgjail/internal/protocol"
	"github.com/pkgjail/pkgjail/internal/rawfork"
)

// outputChunkSize is the maximum payload size of a single Output frame,
// per spec §5.
const outputChunkSize = 16 << 10

// unprivilegedUID is the fixed identity RunWithoutRoot commands drop to
// after the capability bounding-set drop, inside the sandbox's own user
// namespace (not the host's).
const unprivilegedUID = 212

// RunCommand implements spec §5's RunAsRoot/RunWithoutRoot handling: it
// spawns /bin/dash -c "/bin/bash 2>&1", writes payload to the shell's
// stdin and closes it, streams stdout back to conn as Output frames,
// waits for the shell to exit, and reports the result as a SubExited
// frame. asRoot selects whether the forked child drops capabilities and
// identity to unprivilegedUID before exec.
//
// Errors that happen after the shell is running (a read failure on its
// stdout, an unexpected wait4 failure) are reported as a DebugOutput
// line followed by SubExited carrying 255, per spec §7's "errors inside
// a command do not terminate the session" rule. RunCommand itself
// returns an error only when creating the pipes or forking fails, or
// when a frame cannot be sent to the host; an exec failure in the child
// shows up as SubExited carrying 127.
func RunCommand(conn *Conn, payload []byte, asRoot bool, log *slog.Logger) error {
	stdinR, stdinW, err := newOSPipe()
	if err != nil {
		return &Error{Kind: ShellError, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := newOSPipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return &Error{Kind: ShellError, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	pid, err := rawfork.Clone(0)
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return &Error{Kind: ShellError, Err: fmt.Errorf("fork shell: %w", err)}
	}

	if pid == 0 {
		runShellChild(stdinR, stdoutW, asRoot, log)
		panic("unreachable")
	}

	_ = stdinR.Close()
	_ = stdoutW.Close()
	defer stdinW.Close()
	defer stdoutR.Close()

	if _, err := stdinW.Write(payload); err != nil {
		log.Warn("write shell stdin failed", "error", err)
	}
	_ = stdinW.Close()

	var note string
	buf := make([]byte, outputChunkSize)
	for {
		n, err := stdoutR.Read(buf)
		if n > 0 {
			if sendErr := conn.Send(protocol.Output, buf[:n]); sendErr != nil {
				return &Error{Kind: ShellError, Err: fmt.Errorf("send output frame: %w", sendErr)}
			}
		}
		if err != nil {
			if err != io.EOF {
				note = fmt.Sprintf("finit: read shell stdout: %v", err)
			}
			break
		}
	}

	var ws unix.WaitStatus
	_, waitErr := unix.Wait4(pid, &ws, 0, nil)

	var status byte
	switch {
	case note != "":
		status = 255
	case waitErr != nil:
		status = 255
		note = fmt.Sprintf("finit: wait4 shell: %v", waitErr)
	case ws.Exited():
		status = byte(ws.ExitStatus())
	default:
		status = 255
	}

	if note != "" {
		if err := debugAck(conn, note); err != nil {
			return &Error{Kind: ShellError, Err: fmt.Errorf("report shell error: %w", err)}
		}
	}

	if err := conn.Send(protocol.SubExited, []byte{status}); err != nil {
		return &Error{Kind: ShellError, Err: fmt.Errorf("send sub-exited frame: %w", err)}
	}

	return nil
}

// runShellChild is the forked child's entire body. It never returns.
func runShellChild(stdin *os.File, stdout *os.File, asRoot bool, log *slog.Logger) {
	if err := unix.Dup2(int(stdin.Fd()), 0); err != nil {
		unix.Exit(127)
	}
	if err := unix.Dup2(int(stdout.Fd()), 1); err != nil {
		unix.Exit(127)
	}

	devNull, err := os.OpenFile("/dev/null", os.O_WRONLY, 0)
	if err == nil {
		_ = unix.Dup2(int(devNull.Fd()), 2)
	}

	if !asRoot {
		if err := DropBoundingSet(log); err != nil {
			unix.Exit(127)
		}
		if err := unix.Setgroups([]int{unprivilegedUID}); err != nil {
			unix.Exit(127)
		}
		if err := unix.Setresgid(unprivilegedUID, unprivilegedUID, unprivilegedUID); err != nil {
			unix.Exit(127)
		}
		if err := unix.Setresuid(unprivilegedUID, unprivilegedUID, unprivilegedUID); err != nil {
			unix.Exit(127)
		}
	}

	argv := []string{"/bin/dash", "-c", "/bin/bash 2>&1"}
	if err := unix.Exec("/bin/dash", argv, os.Environ()); err != nil {
		unix.Exit(127)
	}
}

// newOSPipe wraps unix.Pipe2 as *os.File ends, so the caller can use
// ordinary Read/Write/Close rather than raw fd numbers for the half of
// each pipe that never crosses into the shell. Both ends are O_CLOEXEC:
// only the copies runShellChild dup2's onto fds 0 and 1 survive its exec.
func newOSPipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "pipe-r"), os.NewFile(uintptr(fds[1]), "pipe-w"), nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

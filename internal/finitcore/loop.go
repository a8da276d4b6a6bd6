//go:build linux

package finitcore

import (
	"fmt"
	"log/slog"

	"github.com/pkgjail/pkgjail/internal/protocol"
)

// Run is /bin/finit's entire body after argument parsing and fd
// adoption: sanitise descriptors, reopen stdin, greet the host, emit
// Ready, then service RunAsRoot/RunWithoutRoot/Die frames until Die or
// an unrecoverable error. It returns the process exit code the caller
// should pass to os.Exit (0 on a clean Die, non-zero otherwise); Run
// itself never calls os.Exit, so callers in cmd/finit can flush logs
// first.
func Run(conn *Conn, recvFD, sendFD int, log *slog.Logger) int {
	if err := SanitizeFDs(conn, recvFD, sendFD); err != nil {
		return reportFatal(conn, err)
	}

	if err := ReopenStdin(); err != nil {
		return reportFatal(conn, err)
	}

	if err := Greet(conn); err != nil {
		return reportFatal(conn, err)
	}

	if err := conn.Send(protocol.Ready, nil); err != nil {
		return reportFatal(conn, err)
	}

	for {
		code, payload, err := conn.Recv()
		if err != nil {
			return reportFatal(conn, fmt.Errorf("recv: %w", err))
		}

		switch code {
		case protocol.RunAsRoot:
			if err := RunCommand(conn, payload, true, log); err != nil {
				return reportFatal(conn, err)
			}
		case protocol.RunWithoutRoot:
			if err := RunCommand(conn, payload, false, log); err != nil {
				return reportFatal(conn, err)
			}
		case protocol.Die:
			_ = conn.Send(protocol.ShutdownSuccess, nil)
			return 0
		default:
			return reportFatal(conn, fmt.Errorf("unexpected code %d in command loop", code))
		}
	}
}

// reportFatal sends a ShutdownError frame carrying err's text and
// returns the process exit code the caller should use.
func reportFatal(conn *Conn, err error) int {
	_ = conn.Send(protocol.ShutdownError, []byte(err.Error()))
	return 1
}

//go:build linux

package finitcore

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkgjail/pkgjail/internal/protocol"
)

// Greet implements spec §5's startup handshake: before init emits
// Ready, it sends one DebugOutput frame per process visible in its own
// /proc (which, this early, should be just itself and whatever the
// initial command spawns later), blocking for the host's Ack after
// each, then a final summary DebugOutput/Ack pair. This mirrors the
// process-table greeting the prototype this protocol is modeled on
// sends on every boot ("logs each one"), and doubles as the protocol's
// one request/reply round trip (spec's testable property #2).
func Greet(conn *Conn) error {
	procs, err := listProcesses()
	if err != nil {
		return &Error{Kind: SetupError, Err: err}
	}

	for _, p := range procs {
		if err := debugAck(conn, fmt.Sprintf("finit: process %d (%s)", p.pid, p.comm)); err != nil {
			return &Error{Kind: SetupError, Err: err}
		}
	}

	if err := debugAck(conn, fmt.Sprintf("finit: pid 1 up, %d process(es) visible", len(procs))); err != nil {
		return &Error{Kind: SetupError, Err: err}
	}

	return nil
}

// debugAck sends one DebugOutput frame and blocks for the host's Ack,
// per the protocol's synchronous debug handshake.
func debugAck(conn *Conn, msg string) error {
	if err := conn.Send(protocol.DebugOutput, []byte(msg)); err != nil {
		return fmt.Errorf("send debug output: %w", err)
	}
	code, _, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	if code != protocol.Ack {
		return fmt.Errorf("expected ack, got code %d", code)
	}
	return nil
}

type procInfo struct {
	pid  int
	comm string
}

// listProcesses returns every numeric /proc entry, sorted by pid, with
// its command name read from /proc/<pid>/comm. A process that exits
// between the readdir and the comm read is reported as "?" rather than
// failing the whole greeting.
func listProcesses() ([]procInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("list /proc: %w", err)
	}

	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if n, err := strconv.Atoi(entry.Name()); err == nil {
			pids = append(pids, n)
		}
	}
	sort.Ints(pids)

	procs := make([]procInfo, len(pids))
	for i, pid := range pids {
		comm := "?"
		if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
			comm = strings.TrimSpace(string(data))
		}
		procs[i] = procInfo{pid: pid, comm: comm}
	}
	return procs, nil
}

// Package protocol implements the length-prefixed binary message protocol
// exchanged between the host and the in-sandbox init over a pair of
// anonymous pipes. See the frame format in frame.go and the directional
// connection wrapper in conn.go.
package protocol

// Code is an operation code carried in a frame header. The child-to-host
// and host-to-child code spaces are disjoint; which space a given Code
// belongs to is decided by Space.Contains, not by the numeric value alone.
type Code uint64

// Child-to-host codes.
const (
	// DebugOutput carries a free-form diagnostic string. It is the one
	// handshake code in the protocol: the sender blocks until the host
	// replies with Ack, so debug text is never buffered unbounded in the
	// child.
	DebugOutput Code = 1

	// ShutdownSuccess reports a clean init exit. Fire-and-forget.
	ShutdownSuccess Code = 2

	// ShutdownError reports an init exit after an unrecoverable error;
	// the payload is the error text.
	ShutdownError Code = 3

	// Ready is emitted once after setup completes and before the command
	// loop starts accepting frames.
	Ready Code = 4

	// Output carries a chunk (up to 16 KiB) of a running command's
	// stdout.
	Output Code = 5

	// SubExited reports a finished command's exit status as a single
	// byte payload, clamped to 255 on signal death.
	SubExited Code = 6
)

// Host-to-child codes. Deliberately non-overlapping with the
// child-to-host range above. The source this protocol is modeled on
// carries multiple conflicting drafts for these values (Die appears as
// both 101 and 103, RunAsRoot as both 101 and 102); this table is the one
// fixed choice used throughout this implementation.
const (
	// Ack replies to a DebugOutput frame with an empty payload. It is
	// the only host-to-child code ever sent in direct reply to a
	// specific child frame.
	Ack Code = 100

	// RunAsRoot starts a command in the privileged shell; payload is the
	// shell command text.
	RunAsRoot Code = 101

	// RunWithoutRoot starts a command after dropping capabilities and
	// setuid/setgid/setgroups to the unprivileged sandbox identity;
	// payload is the shell command text.
	RunWithoutRoot Code = 102

	// Die asks the child to shut down; it replies ShutdownSuccess and
	// exits.
	Die Code = 103
)

// ChildToHost is the code space the child sends on and the host
// receives on.
type ChildToHost struct{}

// Contains reports whether c belongs to the child-to-host code space.
func (ChildToHost) Contains(c Code) bool {
	switch c {
	case DebugOutput, ShutdownSuccess, ShutdownError, Ready, Output, SubExited:
		return true
	default:
		return false
	}
}

// HostToChild is the code space the host sends on and the child
// receives on.
type HostToChild struct{}

// Contains reports whether c belongs to the host-to-child code space.
func (HostToChild) Contains(c Code) bool {
	switch c {
	case Ack, RunAsRoot, RunWithoutRoot, Die:
		return true
	default:
		return false
	}
}

// Space is implemented by ChildToHost and HostToChild. A Conn is
// parameterised over the Space it sends on and the Space it receives on,
// so a host Conn and a child Conn cannot be confused with one another at
// compile time, and a frame carrying a code from the wrong space is
// rejected at read time (see conn.go).
type Space interface {
	Contains(Code) bool
}

// knownCode reports whether c is defined in either code space at all,
// independent of which side is asking. Used to distinguish
// ProtocolError{Kind: UnknownCode} (the code is not defined anywhere)
// from ProtocolError{Kind: DirectionMismatch} (the code is defined, but
// on the other side's space).
func knownCode(c Code) bool {
	return (ChildToHost{}).Contains(c) || (HostToChild{}).Contains(c)
}

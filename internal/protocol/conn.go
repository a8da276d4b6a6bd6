package protocol

import "io"

// Conn is one side of the framed pipe protocol: it sends frames whose
// codes belong to the Send space and receives frames whose codes belong
// to the Recv space. The host instantiates Conn[HostToChild, ChildToHost];
// the child instantiates the dual, Conn[ChildToHost, HostToChild]. The two
// instantiations are distinct types, so a host Conn can never be handed a
// child Conn's pipe ends by mistake at compile time, and at run time
// Recv rejects any frame whose code isn't in the expected space.
type Conn[Send Space, Recv Space] struct {
	r io.Reader
	w io.Writer
}

// NewConn wraps the read half of the inbound pipe and the write half of
// the outbound pipe into a typed Conn.
func NewConn[Send Space, Recv Space](r io.Reader, w io.Writer) *Conn[Send, Recv] {
	return &Conn[Send, Recv]{r: r, w: w}
}

// Send writes a frame. It refuses to write a code outside this Conn's
// Send space, since doing so would desynchronise the receiver.
func (c *Conn[Send, Recv]) Send(code Code, payload []byte) error {
	var space Send
	if !space.Contains(code) {
		return &ProtocolError{Kind: DirectionMismatch, Code: code, Err: errWrongSendSpace}
	}
	return writeFrame(c.w, code, payload)
}

// Recv reads one frame and validates its code is in this Conn's Recv
// space. A code from the Send space (the sender's own vocabulary, read
// back at the receiver) is a DirectionMismatch; a code in neither space
// is UnknownCode.
func (c *Conn[Send, Recv]) Recv() (Code, []byte, error) {
	code, payload, err := readFrame(c.r)
	if err != nil {
		return 0, nil, err
	}

	var recv Recv
	if recv.Contains(code) {
		return code, payload, nil
	}
	if !knownCode(code) {
		return 0, nil, &ProtocolError{Kind: UnknownCode, Code: code}
	}
	return 0, nil, &ProtocolError{Kind: DirectionMismatch, Code: code}
}

var errWrongSendSpace = errWrongSpace{}

type errWrongSpace struct{}

func (errWrongSpace) Error() string { return "code does not belong to this connection's send space" }

package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		code    Code
		payload []byte
	}{
		{"empty payload", DebugOutput, []byte{}},
		{"short payload", Output, []byte("hello\n")},
		{"large-ish payload", Output, bytes.Repeat([]byte{0x42}, 16<<10)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeFrame(&buf, tc.code, tc.payload))

			gotCode, gotPayload, err := readFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.code, gotCode)
			assert.Equal(t, tc.payload, gotPayload)
		})
	}
}

func TestFrameLengthField(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("abcdef")
	require.NoError(t, writeFrame(&buf, Output, payload))

	raw := buf.Bytes()
	length := int(raw[0]) | int(raw[1])<<8 | int(raw[2])<<16 | int(raw[3])<<24
	assert.Equal(t, HeaderSize+len(payload), length)
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	buf := bytes.NewBufferString("short")
	_, _, err := readFrame(buf)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, TruncatedHeader, perr.Kind)
}

func TestReadFrameLengthBelowHeaderSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, DebugOutput, nil))
	raw := buf.Bytes()
	raw[0] = 4 // length field now smaller than HeaderSize

	_, _, err := readFrame(bytes.NewReader(raw))
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, TruncatedHeader, perr.Kind)
}

func TestConnDirectionSafety(t *testing.T) {
	// Simulate the host reading a frame the child wrote using a
	// host-to-child code; from the host's receiving side that code
	// belongs to its own Send space, not its Recv space.
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, RunAsRoot, []byte("echo hi")))

	hostConn := NewConn[HostToChild, ChildToHost](&wire, io.Discard)
	_, _, err := hostConn.Recv()
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, DirectionMismatch, perr.Kind)
}

func TestConnUnknownCode(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, Code(999), nil))

	hostConn := NewConn[HostToChild, ChildToHost](&wire, io.Discard)
	_, _, err := hostConn.Recv()
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, UnknownCode, perr.Kind)
}

func TestConnSendRejectsWrongSpace(t *testing.T) {
	var wire bytes.Buffer
	hostConn := NewConn[HostToChild, ChildToHost](io.NopCloser(&wire), &wire)

	// DebugOutput is a child-to-host code; the host must not be able to
	// send it.
	err := hostConn.Send(DebugOutput, nil)
	require.Error(t, err)
}

func TestConnHappyPathExchange(t *testing.T) {
	// Two buffers model the two unidirectional pipes.
	hostToChild := &bytes.Buffer{}
	childToHost := &bytes.Buffer{}

	host := NewConn[HostToChild, ChildToHost](childToHost, hostToChild)
	child := NewConn[ChildToHost, HostToChild](hostToChild, childToHost)

	require.NoError(t, child.Send(Ready, nil))
	code, payload, err := host.Recv()
	require.NoError(t, err)
	assert.Equal(t, Ready, code)
	assert.Empty(t, payload)

	require.NoError(t, host.Send(RunAsRoot, []byte("echo hello")))
	code, payload, err = child.Recv()
	require.NoError(t, err)
	assert.Equal(t, RunAsRoot, code)
	assert.Equal(t, "echo hello", string(payload))
}

func TestDebugHandshakeRequiresAck(t *testing.T) {
	hostToChild := &bytes.Buffer{}
	childToHost := &bytes.Buffer{}
	host := NewConn[HostToChild, ChildToHost](childToHost, hostToChild)
	child := NewConn[ChildToHost, HostToChild](hostToChild, childToHost)

	require.NoError(t, child.Send(DebugOutput, []byte("x")))

	code, payload, err := host.Recv()
	require.NoError(t, err)
	assert.Equal(t, DebugOutput, code)
	assert.Equal(t, "x", string(payload))

	// Child must not be able to read anything until the host acks —
	// here that just means the ack is the next and only frame on the
	// host-to-child pipe, matching the synchronous handshake contract.
	require.NoError(t, host.Send(Ack, nil))
	code, payload, err = child.Recv()
	require.NoError(t, err)
	assert.Equal(t, Ack, code)
	assert.Empty(t, payload)
}

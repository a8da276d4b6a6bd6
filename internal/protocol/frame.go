package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size, in bytes, of a frame header: an 8-byte
// little-endian length (header included) followed by an 8-byte
// little-endian code.
const HeaderSize = 16

// MaxPayloadSize bounds a single frame's payload. It exists only to stop
// a malformed length field from driving an enormous allocation; the wire
// format itself imposes no smaller limit.
const MaxPayloadSize = 64 << 20

// readFrame reads one frame from r: a 16-byte header, then exactly
// length-16 bytes of payload. It never returns a partial frame — either
// both reads succeed or an error is returned and the frame is discarded.
func readFrame(r io.Reader) (Code, []byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, &ProtocolError{Kind: TruncatedHeader, Err: err}
		}
		return 0, nil, fmt.Errorf("protocol: read header: %w", err)
	}

	// Decode from the first 8 bytes for length and the next 8 for code.
	// (A bug in an earlier draft of this protocol decoded length from
	// header[:9] — nine bytes, one too many. That bug is not reproduced
	// here.)
	length := binary.LittleEndian.Uint64(header[0:8])
	code := Code(binary.LittleEndian.Uint64(header[8:16]))

	if length < HeaderSize {
		return 0, nil, &ProtocolError{Kind: TruncatedHeader, Err: fmt.Errorf("length %d < header size %d", length, HeaderSize)}
	}
	payloadLen := length - HeaderSize
	if payloadLen > MaxPayloadSize {
		return 0, nil, &ProtocolError{Kind: TruncatedHeader, Err: fmt.Errorf("payload length %d exceeds limit", payloadLen)}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("protocol: read %d-byte payload: %w", payloadLen, err)
	}

	return code, payload, nil
}

// writeFrame encodes the header and payload into a single buffer and
// performs one Write call, so a frame is never split across two writes
// on the wire.
func writeFrame(w io.Writer, code Code, payload []byte) error {
	total := uint64(HeaderSize + len(payload))
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], total)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(code))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("protocol: short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

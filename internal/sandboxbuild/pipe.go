//go:build linux

package sandboxbuild

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newPipe creates an anonymous pipe with O_CLOEXEC set on both ends, so
// neither end leaks across the exec of /bin/finit unless explicitly
// dup'd to clear the flag first (see the dup before the exec in
// builder.go's childMain).
func newPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("sandboxbuild: create pipe: %w", err)
	}
	return fds[0], fds[1], nil
}

// writeSentinel writes exactly the 4 bytes of s to fd in a single write,
// used for barrier A's "map?"/"map!" exchange, which happens before the
// full framed protocol is established.
func writeSentinel(fd int, s string) error {
	if len(s) != 4 {
		return fmt.Errorf("sandboxbuild: sentinel %q is not 4 bytes", s)
	}
	n, err := unix.Write(fd, []byte(s))
	if err != nil {
		return fmt.Errorf("sandboxbuild: write sentinel %q: %w", s, err)
	}
	if n != 4 {
		return fmt.Errorf("sandboxbuild: short write of sentinel %q (%d of 4 bytes)", s, n)
	}
	return nil
}

// readSentinel reads exactly 4 bytes from fd and checks they equal want.
func readSentinel(fd int, want string) error {
	buf := make([]byte, 4)
	if err := readExact(fd, buf); err != nil {
		return fmt.Errorf("sandboxbuild: read sentinel (want %q): %w", want, err)
	}
	if string(buf) != want {
		return fmt.Errorf("sandboxbuild: unexpected sentinel %q, want %q", buf, want)
	}
	return nil
}

// readExact reads exactly len(buf) bytes from fd, retrying short reads.
func readExact(fd int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("unexpected EOF after %d of %d bytes", total, len(buf))
		}
		total += n
	}
	return nil
}

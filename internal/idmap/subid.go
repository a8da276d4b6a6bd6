// Package idmap resolves subordinate uid/gid ranges from /etc/subuid and
// /etc/subgid and installs them into a namespaced child's uid_map/gid_map
// via the newuidmap/newgidmap helpers (component C2 of the sandbox
// runtime).
package idmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MinRangeLength is the smallest subordinate range the sandbox can
// function with: sandbox ids 1..65535 must all map to something.
const MinRangeLength = 65536

// SubordinateRange is one parsed line of /etc/subuid or /etc/subgid:
// owner-name, start-id, length.
type SubordinateRange struct {
	Owner  string
	Start  int64
	Length int64
}

// Kind distinguishes the taxonomy of id-mapping failures (spec §7's
// IdMapError).
type Kind int

const (
	MissingEntry Kind = iota
	RangeTooShort
	HelperFailed
)

func (k Kind) String() string {
	switch k {
	case MissingEntry:
		return "missing subid entry"
	case RangeTooShort:
		return "subid range too short"
	case HelperFailed:
		return "newuidmap/newgidmap helper failed"
	default:
		return "id map error"
	}
}

// Error is returned for any failure in resolving or installing id
// mappings.
type Error struct {
	Kind Kind
	File string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("idmap: %s (%s): %v", e.Kind, e.File, e.Err)
	}
	return fmt.Sprintf("idmap: %s (%s)", e.Kind, e.File)
}

func (e *Error) Unwrap() error { return e.Err }

// FirstRange scans file (normally /etc/subuid or /etc/subgid), skipping
// blank lines, and returns the first record whose owner field equals
// name. It does not reject short ranges itself — callers that need the
// spec's 65536 minimum should call Validate.
func FirstRange(file, name string) (SubordinateRange, error) {
	f, err := os.Open(file)
	if err != nil {
		return SubordinateRange{}, &Error{Kind: MissingEntry, File: file, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] != name {
			continue
		}
		start, errStart := strconv.ParseInt(parts[1], 10, 64)
		length, errLen := strconv.ParseInt(parts[2], 10, 64)
		if errStart != nil || errLen != nil {
			continue
		}
		return SubordinateRange{Owner: name, Start: start, Length: length}, nil
	}
	if err := sc.Err(); err != nil {
		return SubordinateRange{}, &Error{Kind: MissingEntry, File: file, Err: err}
	}
	return SubordinateRange{}, &Error{
		Kind: MissingEntry,
		File: file,
		Err:  fmt.Errorf("no entry for %q in %s", name, filepath.Base(file)),
	}
}

// Validate enforces the spec §3 invariant that a subordinate range must
// be at least MinRangeLength long to be usable.
func Validate(r SubordinateRange, file string) error {
	if r.Length < MinRangeLength {
		return &Error{
			Kind: RangeTooShort,
			File: file,
			Err:  fmt.Errorf("range length %d < minimum %d", r.Length, MinRangeLength),
		}
	}
	return nil
}

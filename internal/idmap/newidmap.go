package idmap

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
)

// SubuidPath and SubgidPath are the well-known host files consulted to
// resolve the caller's subordinate ranges. Variables so tests can
// redirect them.
var (
	SubuidPath = "/etc/subuid"
	SubgidPath = "/etc/subgid"
)

// loginName resolves the host user's login name. spec §4.2 allows either
// a POSIX getlogin() lookup on the controlling terminal or an
// equivalent; os/user.Current is the idiomatic Go equivalent (getlogin()
// itself isn't exposed without cgo).
func loginName() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("idmap: resolve login name: %w", err)
	}
	return u.Username, nil
}

// MapIdentity installs uid and gid mappings for childPID into its
// subordinate range, following spec §4.2's algorithm: resolve the
// caller's login name, find the first matching /etc/subuid and
// /etc/subgid entries, reject ranges shorter than MinRangeLength, then
// invoke newuidmap/newgidmap to map sandbox id 0 to the real
// uid/gid (so the child appears root inside its own namespace) and
// sandbox ids 1..65535 to the allocated subordinate range.
//
// Must be called by the host after the first-fork child has unshared
// CLONE_NEWUSER and is blocked on barrier A, and before the host signals
// the barrier's release — see spec §4.3.
func MapIdentity(childPID int) error {
	name, err := loginName()
	if err != nil {
		return err
	}

	uidRange, err := FirstRange(SubuidPath, name)
	if err != nil {
		return err
	}
	if err := Validate(uidRange, SubuidPath); err != nil {
		return err
	}

	gidRange, err := FirstRange(SubgidPath, name)
	if err != nil {
		return err
	}
	if err := Validate(gidRange, SubgidPath); err != nil {
		return err
	}

	if err := runHelper("newuidmap", childPID, os.Geteuid(), uidRange.Start); err != nil {
		return err
	}
	if err := runHelper("newgidmap", childPID, os.Getegid(), gidRange.Start); err != nil {
		return err
	}
	return nil
}

// runHelper invokes newuidmap or newgidmap with the argument layout
// spec §4.2 specifies: "<pid> 0 <real_id> 1 1 <subrange_start> 65535".
// The first pair (0 -> real_id, length 1) maps sandbox id 0 to the host
// caller; the second pair (1 -> subrange_start, length 65535) maps the
// remainder of the sandbox id space to the allocated subordinate range.
func runHelper(name string, childPID, realID int, subrangeStart int64) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return &Error{Kind: HelperFailed, File: name, Err: err}
	}

	args := []string{
		strconv.Itoa(childPID),
		"0", strconv.Itoa(realID), "1",
		"1", strconv.FormatInt(subrangeStart, 10), "65535",
	}

	out, err := exec.Command(path, args...).CombinedOutput()
	if err != nil {
		return &Error{Kind: HelperFailed, File: name, Err: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

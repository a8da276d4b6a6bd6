//go:build linux

package sandboxbuild

import "golang.org/x/sys/unix"

// dropToRoot performs spec §4.3 phase 5: after the uid/gid maps have
// been installed by the host (component C2), the child's real/effective/
// saved ids are still whatever they were at clone time from the host's
// namespace perspective, mapped through to uid/gid 0 inside the new
// user namespace. setresuid/setresgid to 0/0/0 here makes that mapping
// the process's actual credentials, and Setgroups to the single
// supplementary group 0 discards any host supplementary groups that
// have no meaning inside the sandbox.
func dropToRoot() error {
	if err := unix.Setgroups([]int{0}); err != nil {
		return &Error{Kind: IdentityError, Phase: "setgroups", Err: err}
	}
	if err := unix.Setresgid(0, 0, 0); err != nil {
		return &Error{Kind: IdentityError, Phase: "setresgid", Err: err}
	}
	if err := unix.Setresuid(0, 0, 0); err != nil {
		return &Error{Kind: IdentityError, Phase: "setresuid", Err: err}
	}
	return nil
}

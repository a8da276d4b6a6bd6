//go:build linux

// Package rawfork provides the one branch primitive the sandbox builder
// and the in-sandbox init need: a raw clone(2) call that returns twice,
// like fork(2). Every setup phase in internal/sandboxbuild and
// internal/finitcore is a function that runs on one side of a Clone call
// and either execs or calls unix.Exit; there is no other control-flow
// construct for process creation anywhere in this repository.
package rawfork

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Clone performs clone(2) with SIGCHLD as the exit signal, ORing in the
// given namespace/clone flags. It returns pid == 0 in the child branch
// and the child's pid in the parent branch.
//
// The call locks the calling goroutine to its OS thread before cloning.
// In the parent branch the thread is unlocked again before returning. In
// the child branch the thread stays locked — a cloned child (without
// CLONE_VM/CLONE_THREAD) starts life as a single-threaded process
// containing only the calling thread's state, and the caller must
// perform any remaining setup and either exec or unix.Exit without ever
// returning control to the Go scheduler.
func Clone(flags uintptr) (pid int, err error) {
	unix.ForkLock.Lock()
	defer unix.ForkLock.Unlock()

	runtime.LockOSThread()

	r1, _, errno := unix.RawSyscall(unix.SYS_CLONE, flags|uintptr(unix.SIGCHLD), 0, 0)
	if errno != 0 {
		runtime.UnlockOSThread()
		return 0, errno
	}
	if r1 == 0 {
		return 0, nil
	}

	runtime.UnlockOSThread()
	return int(r1), nil
}

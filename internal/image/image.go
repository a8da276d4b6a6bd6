// Package image validates and finalises an unpacked package root before
// internal/sandboxbuild hands it to the fork chain. Unpacking the image
// itself (fetch, tar/gzip or zstd decompression) is out of scope for this
// component; by the time Validate runs, the directory tree already exists
// on disk.
package image

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// requiredPaths are the directories spec §4.2's "image requirements"
// list as preconditions for a sandbox build; their absence means the
// unpacked tree is not a usable root, not that a mount will later fail
// in some recoverable way.
var requiredPaths = []string{"bin", "etc", "proc", "sys", "dev", "tmp", "var/tmp"}

// Kind enumerates image validation failure categories.
type Kind int

const (
	// MissingPath reports a required directory absent from the root.
	MissingPath Kind = iota
	// MissingFinit reports a failure to copy the finit binary into
	// bin/finit in WriteFinit.
	MissingFinit
)

func (k Kind) String() string {
	switch k {
	case MissingPath:
		return "missing required path"
	case MissingFinit:
		return "missing finit binary"
	default:
		return "image error"
	}
}

// Error is the structured error this package returns.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image: %s (%s): %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("image: %s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

// Validate checks that root contains every directory spec §4.2 requires
// of a package image before a sandbox can be built from it.
func Validate(root string) error {
	for _, rel := range requiredPaths {
		p := filepath.Join(root, rel)
		info, err := os.Stat(p)
		if err != nil {
			return &Error{Kind: MissingPath, Path: rel, Err: err}
		}
		if !info.IsDir() {
			return &Error{Kind: MissingPath, Path: rel, Err: fmt.Errorf("exists but is not a directory")}
		}
	}
	return nil
}

// WriteFinit copies the finit binary found at finitSrc on the host into
// root's /bin/finit, mode 0755, so the sandbox builder's final exec in
// internal/sandboxbuild can find it after pivot_root.
func WriteFinit(root, finitSrc string) error {
	dest := filepath.Join(root, "bin", "finit")

	src, err := os.Open(finitSrc)
	if err != nil {
		return &Error{Kind: MissingFinit, Path: finitSrc, Err: err}
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return &Error{Kind: MissingFinit, Path: dest, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return &Error{Kind: MissingFinit, Path: dest, Err: err}
	}
	if err := out.Chmod(0o755); err != nil {
		return &Error{Kind: MissingFinit, Path: dest, Err: err}
	}

	return nil
}

// defaultNameserver is used when the caller names no nameservers of its
// own; it is the host's local stub resolver, appropriate here because
// no network namespace is created (spec Non-goal), so the sandboxed
// process shares the host's network stack and routes.
const defaultNameserver = "127.0.0.53"

// WriteResolvConf writes /etc/resolv.conf listing one "nameserver" line
// per entry in nameservers (in order), or defaultNameserver if
// nameservers is empty.
func WriteResolvConf(root string, nameservers []string) error {
	if len(nameservers) == 0 {
		nameservers = []string{defaultNameserver}
	}

	var contents strings.Builder
	for _, ns := range nameservers {
		contents.WriteString("nameserver ")
		contents.WriteString(ns)
		contents.WriteByte('\n')
	}

	path := filepath.Join(root, "etc", "resolv.conf")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Kind: MissingPath, Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, []byte(contents.String()), 0o644); err != nil {
		return &Error{Kind: MissingPath, Path: path, Err: err}
	}
	return nil
}

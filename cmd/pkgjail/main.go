//go:build linux

// Command pkgjail is the host front-end: it drives component C3 to
// build a sandbox from an already-unpacked package root, then drives
// component C1's protocol to run one command in it and print its
// output. Fetching and unpacking the package image itself is handled
// by an external build-orchestration layer; pkgjail only ever operates
// on a directory that already exists on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/urfave/cli/v3"

	"github.com/pkgjail/pkgjail/internal/version"
)

func main() {
	generator := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())

	cmd := &cli.Command{
		Name:    "pkgjail",
		Usage:   "Build Linux software packages in isolated, unprivileged sandboxes.",
		Version: version.Version(),
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run one command inside a sandbox built from an unpacked package root",
				ArgsUsage: "ROOT -- COMMAND",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "as-root",
						Value: false,
						Usage: "Run the command as root inside the sandbox instead of dropping to the unprivileged identity",
					},
					&cli.StringSliceFlag{
						Name:  "dns",
						Usage: "A DNS nameserver to record in the sandbox's resolv.conf",
					},
					&cli.StringFlag{
						Name:  "hostname",
						Value: generator.Generate(),
						Usage: "Hostname to set inside the sandbox",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Value: "info",
						Usage: "Log verbosity (debug|info|warn|error)",
					},
					&cli.StringFlag{
						Name:  "log-format",
						Value: "text",
						Usage: "Log format (text|json)",
					},
					&cli.StringFlag{
						Name:  "finit-binary",
						Value: "/bin/finit",
						Usage: "Path to the finit binary to install into the sandbox root",
					},
				},
				Action: runAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pkgjail:", err)
		code := 1
		if coder, ok := err.(cli.ExitCoder); ok {
			code = coder.ExitCode()
		}
		os.Exit(code)
	}
}

//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/pkgjail/pkgjail/internal/image"
	"github.com/pkgjail/pkgjail/internal/logging"
	"github.com/pkgjail/pkgjail/internal/protocol"
	"github.com/pkgjail/pkgjail/internal/sandboxbuild"
)

// runAction implements `pkgjail run`: validate the image, install the
// finit binary and resolv.conf, build the sandbox, wait for Ready, send
// exactly one command, drain output to stdout until SubExited, then
// send Die and reap the outer child, per spec §9's testable host usage
// pattern.
func runAction(ctx context.Context, c *cli.Command) error {
	level, err := logging.ParseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	format, err := logging.ParseLogFormat(c.String("log-format"))
	if err != nil {
		return err
	}
	log := logging.CreateLogger(&logging.LoggerOpts{LogLevel: level, LogFormat: format})

	args := c.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("usage: pkgjail run ROOT -- COMMAND")
	}
	root := args[0]
	command := strings.Join(args[1:], " ")

	if err := image.Validate(root); err != nil {
		return fmt.Errorf("validate image: %w", err)
	}
	if err := image.WriteFinit(root, c.String("finit-binary")); err != nil {
		return fmt.Errorf("install finit: %w", err)
	}
	if err := image.WriteResolvConf(root, c.StringSlice("dns")); err != nil {
		return fmt.Errorf("write resolv.conf: %w", err)
	}

	handle, err := sandboxbuild.Build(sandboxbuild.BuildOptions{
		Root:     root,
		Hostname: c.String("hostname"),
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("build sandbox: %w", err)
	}
	defer handle.Close()

	log.Info("sandbox running", "id", handle.ID, "pid", handle.PID)

	if err := awaitReady(handle.Conn, log); err != nil {
		return err
	}

	runCode := protocol.RunWithoutRoot
	if c.Bool("as-root") {
		runCode = protocol.RunAsRoot
	}
	if err := handle.Conn.Send(runCode, []byte(command)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	exitCode, err := driveUntilExit(handle.Conn, log)
	if err != nil {
		return err
	}

	if err := handle.Conn.Send(protocol.Die, nil); err != nil {
		log.Warn("send die failed", "error", err)
	}
	_, _, _ = handle.Conn.Recv() // ShutdownSuccess, best effort.

	if outerStatus, err := handle.Wait(); err != nil {
		log.Warn("reap sandbox outer process failed", "error", err)
	} else {
		log.Debug("sandbox outer process reaped", "status", outerStatus)
	}

	if exitCode != 0 {
		return cli.Exit(fmt.Sprintf("command exited with status %d", exitCode), exitCode)
	}
	return nil
}

// awaitReady drains DebugOutput/Ack handshakes until Ready arrives.
func awaitReady(conn *protocol.Conn[protocol.HostToChild, protocol.ChildToHost], log *slog.Logger) error {
	for {
		code, payload, err := conn.Recv()
		if err != nil {
			return fmt.Errorf("await ready: %w", err)
		}
		switch code {
		case protocol.DebugOutput:
			log.Debug("sandbox debug", "message", string(payload))
			if err := conn.Send(protocol.Ack, nil); err != nil {
				return fmt.Errorf("ack debug output: %w", err)
			}
		case protocol.Ready:
			return nil
		default:
			return fmt.Errorf("unexpected code %d while awaiting ready", code)
		}
	}
}

// driveUntilExit streams Output frames to stdout and DebugOutput frames
// to the log until SubExited or ShutdownError, returning the command's
// exit code.
func driveUntilExit(conn *protocol.Conn[protocol.HostToChild, protocol.ChildToHost], log *slog.Logger) (int, error) {
	for {
		code, payload, err := conn.Recv()
		if err != nil {
			return 0, fmt.Errorf("read frame: %w", err)
		}
		switch code {
		case protocol.Output:
			os.Stdout.Write(payload)
		case protocol.DebugOutput:
			log.Debug("sandbox debug", "message", string(payload))
			if err := conn.Send(protocol.Ack, nil); err != nil {
				return 0, fmt.Errorf("ack debug output: %w", err)
			}
		case protocol.SubExited:
			if len(payload) != 1 {
				return 0, fmt.Errorf("malformed sub-exited payload: %d bytes", len(payload))
			}
			return int(payload[0]), nil
		case protocol.ShutdownError:
			return 1, fmt.Errorf("sandbox reported fatal error: %s", payload)
		default:
			return 0, fmt.Errorf("unexpected code %d while running command", code)
		}
	}
}

//go:build linux

// Command finit is the binary component C3 execs as PID 1 inside a
// sandbox. It never runs on the host; internal/image.WriteFinit copies
// this binary into every package image's /bin/finit before the sandbox
// builder forks.
package main

import (
	"log/slog"
	"os"

	"github.com/pkgjail/pkgjail/internal/finitcore"
	"github.com/pkgjail/pkgjail/internal/logging"
	"github.com/pkgjail/pkgjail/internal/protocol"
)

func main() {
	log := logging.CreateLogger(&logging.LoggerOpts{
		LogLevel:  slog.LevelInfo,
		LogFormat: logging.LogText,
	})

	if err := finitcore.AssertPidOne(); err != nil {
		log.Error("not running as pid 1", "error", err)
		os.Exit(1)
	}

	recvFD, sendFD, err := finitcore.ParsePipeArgs(os.Args)
	if err != nil {
		log.Error("parse pipe arguments", "error", err)
		os.Exit(1)
	}

	recvFile := os.NewFile(uintptr(recvFD), "host-recv")
	sendFile := os.NewFile(uintptr(sendFD), "host-send")
	conn := protocol.NewConn[protocol.ChildToHost, protocol.HostToChild](recvFile, sendFile)

	os.Exit(finitcore.Run(conn, recvFD, sendFD, log))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitUnhealthy = 2
)

// errNotOK signals that the pass finished but at least one counter is
// unresolved (or drifted, for check).
var errNotOK = errors.New("site statistics are not consistent")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNotOK):
		return exitUnhealthy
	default:
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return exitError
	}
}

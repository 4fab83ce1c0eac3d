package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/importer"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitCritical = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case importer.IsCritical(err):
		return exitCritical
	default:
		return exitFailure
	}
}

// Gray Logic DALI - lighting bus commissioning service.
//
// The default command runs the service: the MQTT light bridge, the
// commissioning API and the event stream. The commission, scan and token
// subcommands are one-shot tools for installers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Process exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitPoolExhausted = 2
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so a run in progress still terminates
	// the bus before the process exits.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code.
// Separated from main for testability.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode distinguishes a full address pool from every other failure, so
// installer scripts can tell "bus is full" from "bus is broken".
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, commissioning.ErrPoolExhausted):
		return exitPoolExhausted
	default:
		return exitFailure
	}
}

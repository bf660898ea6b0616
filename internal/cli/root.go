// Package cli implements the stampede command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// ThresholdsFailedError is returned by the run command when the run
// completed but at least one threshold failed.
type ThresholdsFailedError struct {
	Failures []string
}

func (e *ThresholdsFailedError) Error() string {
	return fmt.Sprintf("%d threshold(s) failed: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var tf *ThresholdsFailedError
	if errors.As(err, &tf) {
		return ExitThresholdsFailed
	}
	return ExitError
}

// NewRootCommand builds the stampede command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "stampede",
		Short:   "A stage-driven HTTP load generator",
		Version: version,
		Long: `Stampede runs the checkout journey against a shop API with a ramping pool of
virtual users, aggregates latency and error metrics, and fails the run when a
threshold is crossed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// ExecuteArgs runs the command line with args and returns the exit status.
func ExecuteArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return ExitCode(err)
}

// Execute runs the command line with the process arguments. Interrupts
// drain the run instead of killing it.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ExecuteArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

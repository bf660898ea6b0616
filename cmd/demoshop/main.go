// Command demoshop serves the demo shop API that stampede targets.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/shop"
)

func newCommand() *cobra.Command {
	var (
		addr           string
		latencyScale   float64
		seed           int64
		unlimitedStock bool
		failureRate    float64
		logLevel       string
		logFormat      string
	)

	cmd := &cobra.Command{
		Use:           "demoshop",
		Short:         "Serve the demo shop API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Config{
				Level:  logLevel,
				Format: logFormat,
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts := shop.Options{
				LatencyScale:   latencyScale,
				Seed:           seed,
				UnlimitedStock: unlimitedStock,
				Logger:         logger,
			}
			if cmd.Flags().Changed("payment-failure-rate") {
				opts.PaymentFailureRate = &failureRate
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return shop.New(opts).Serve(cmd.Context(), ln)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8000", "listen address")
	f.Float64Var(&latencyScale, "latency-scale", 1, "multiplier for simulated processing time (0 disables it)")
	f.Int64Var(&seed, "seed", 0, "random seed (0 derives one from the clock)")
	f.BoolVar(&unlimitedStock, "unlimited-stock", false, "never run out of stock")
	f.Float64Var(&failureRate, "payment-failure-rate", shop.PaymentFailureRate, "share of orders whose payment fails")
	f.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", "console", "log format: console or json")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package main runs a search service that answers report queries from a
// YAML fixture. It speaks the same gRPC streaming protocol as the real
// service and can inject per-account failures, which makes it useful for
// local runs of the pipeline and for load experiments.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"go-report-pipeline/internal/searchsvc"
	"go-report-pipeline/pkg/logging"
)

type options struct {
	fixture   string
	listen    string
	logLevel  string
	logFormat string
}

func rootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "searchd",
		Short:         "Serve search streams from a fixture",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `searchd answers SearchStream calls with the rows of a YAML fixture.

Example fixture:
  page_size: 100
  page_delay: 10ms
  accounts:
    "1234567890":
      generate: 250
    "5551234567":
      generate: 40
      failure: {code: RESOURCE_EXHAUSTED, message: RATE_LIMITED, after: 20}

Example:
  searchd --fixture fixture.yaml --listen :50051`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewStderr(opts.logFormat, opts.logLevel)
			if err != nil {
				return err
			}
			f, err := searchsvc.LoadFixture(opts.fixture)
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", opts.listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", opts.listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, lis, f, logger)
		},
	}

	cmd.Flags().StringVarP(&opts.fixture, "fixture", "f", "", "Path to the fixture file (required)")
	cmd.Flags().StringVar(&opts.listen, "listen", ":50051", "Listen address")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "logfmt", "Log format: logfmt or json")
	_ = cmd.MarkFlagRequired("fixture")

	return cmd
}

// serve answers searches on lis until ctx ends, then lets open streams
// finish.
func serve(ctx context.Context, lis net.Listener, f *searchsvc.Fixture, logger log.Logger) error {
	srv := searchsvc.NewGRPCServer(searchsvc.NewServer(f, logger))
	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "search service started", "addr", lis.Addr(), "accounts", len(f.Accounts))
		errc <- srv.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	level.Info(logger).Log("msg", "search service stopping")
	srv.GracefulStop()
	return <-errc
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

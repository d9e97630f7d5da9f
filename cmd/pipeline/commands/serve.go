package commands

import (
	"github.com/spf13/cobra"

	"go-report-pipeline/cmd/pipeline/handlers"
)

// Serve returns the serve command.
func Serve() *cobra.Command {
	var opts handlers.ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API",
		Long: `Serve starts the HTTP API for report jobs.

Jobs are created with POST /api/v1/reports and run in the background.
Their status, summaries, errors and logs are kept in the sqlite database.
The API is documented under /swagger/ and prometheus metrics are served
on /metrics.

Example:
  pipeline serve -c report.yaml --addr :8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file")
	f.StringVar(&opts.Addr, "addr", "", "Listen address")
	f.StringVar(&opts.DB, "db", "", "Path of the sqlite database")
	f.StringVar(&opts.OutputDir, "output-dir", "", "Directory for job exports")
	f.StringVar(&opts.Endpoint, "endpoint", "", "Search service address")
	f.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFormat, "log-format", "", "Log format: logfmt or json")

	return cmd
}

package commands

import (
	"github.com/spf13/cobra"

	"go-report-pipeline/cmd/pipeline/handlers"
)

// Run returns the run command.
//
// The run command executes one report job in the foreground and prints a
// summary line per account and query. Flags override the config file.
func Run() *cobra.Command {
	var opts handlers.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a report job against the search service",
		Long: `Run sends every query to every account as a parallel search stream.

Queries run one after another; the streams of one query run concurrently.
A failing account never stops the others, its summary records the cause.
Interrupting the command stops the job and keeps what was collected.

Example:
  pipeline run -c report.yaml
  pipeline run -q "SELECT keyword_plan.id FROM keyword_plan" -a 1234567890 -a 555-123-4567
  pipeline run -c report.yaml --accounts-file accounts.csv --export outputs/report.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file")
	f.StringArrayVarP(&opts.Queries, "query", "q", nil, "Query to run (repeatable, replaces configured queries)")
	f.StringSliceVarP(&opts.Accounts, "account", "a", nil, "Account id (repeatable, replaces configured accounts)")
	f.StringVar(&opts.AccountsFile, "accounts-file", "", "CSV or JSON file with account ids, added to the accounts")
	f.StringVar(&opts.Endpoint, "endpoint", "", "Search service address")
	f.StringVar(&opts.Export, "export", "", "Write summaries to this file (.csv or .json)")
	f.StringVar(&opts.RowsExport, "rows-export", "", "Write keyword rows to this file (.csv or .json)")
	f.StringVar(&opts.Timeout, "timeout", "", "Job timeout, e.g. 5m")
	f.IntVar(&opts.Concurrency, "concurrency", 0, "Parallel stream submissions per query (0 submits all at once)")
	f.BoolVar(&opts.PrintRows, "print-rows", false, "Log every keyword row")
	f.StringVar(&opts.DB, "db", "", "Record the job in this sqlite database")
	f.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFormat, "log-format", "", "Log format: logfmt or json")

	return cmd
}

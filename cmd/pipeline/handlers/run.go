package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"go-report-pipeline/internal/config"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
)

// RunOptions are the flags of the run command. Zero values keep the
// configured setting.
type RunOptions struct {
	ConfigPath   string
	Queries      []string
	Accounts     []string
	AccountsFile string
	Endpoint     string
	Export       string
	RowsExport   string
	Timeout      string
	Concurrency  int
	PrintRows    bool
	DB           string
	LogLevel     string
	LogFormat    string
}

// apply overrides the configured report and search settings.
func (o RunOptions) apply(cfg *config.Config) error {
	if len(o.Queries) > 0 {
		cfg.Report.Queries = o.Queries
	}
	if len(o.Accounts) > 0 {
		cfg.Report.Accounts = o.Accounts
	}
	if o.AccountsFile != "" {
		ids, err := pipeline.LoadAccounts(o.AccountsFile)
		if err != nil {
			return err
		}
		cfg.Report.Accounts = append(cfg.Report.Accounts, ids...)
	}
	if o.Endpoint != "" {
		cfg.Search.Endpoint = o.Endpoint
	}
	if o.Timeout != "" {
		cfg.Report.Concurrency.JobTimeout = o.Timeout
	}
	if o.Concurrency > 0 {
		cfg.Report.Concurrency.DispatchConcurrency = o.Concurrency
	}
	if o.PrintRows {
		cfg.Report.PrintRows = true
	}
	if o.Export != "" || o.RowsExport != "" {
		exp := model.Export{}
		if cfg.Report.Export != nil {
			exp = *cfg.Report.Export
		}
		if o.Export != "" {
			exp.File = o.Export
		}
		if o.RowsExport != "" {
			exp.RowsFile = o.RowsExport
		}
		cfg.Report.Export = &exp
	}
	return nil
}

// Run handles the run command.
//
// It runs one report job and writes the console summary to out. An
// interrupt cancels the job; the summaries collected until then are still
// printed and exported.
func Run(ctx context.Context, opts RunOptions, out io.Writer) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}

	spec := cfg.Report
	if _, err := pipeline.ValidateJob(spec); err != nil {
		return err
	}

	jobID := uuid.New().String()
	persist := opts.DB != ""
	if persist {
		if err := store.InitDB(opts.DB); err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveJob(jobID, spec); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	tr, err := dialSearch(cfg.Search, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			level.Warn(logger).Log("msg", "failed to close search transport", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = pipeline.RunJob(ctx, jobID, spec, pipeline.Deps{
		Transport: tr,
		Logger:    logger,
		Persist:   persist,
		Out:       out,
	})
	return err
}

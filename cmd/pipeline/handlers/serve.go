package handlers

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-report-pipeline/internal/api"
	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/internal/collector"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/pkg/utils"
)

// ServeOptions are the flags of the serve command. Zero values keep the
// configured setting.
type ServeOptions struct {
	ConfigPath string
	Addr       string
	DB         string
	OutputDir  string
	Endpoint   string
	LogLevel   string
	LogFormat  string
}

// Serve handles the serve command.
//
// It serves the report API until ctx ends or the process is interrupted,
// then cancels the jobs still running and waits for them to record their
// partial results.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.DB != "" {
		cfg.Server.DB = opts.DB
	}
	if opts.OutputDir != "" {
		cfg.Server.OutputDir = opts.OutputDir
	}
	if opts.Endpoint != "" {
		cfg.Search.Endpoint = opts.Endpoint
	}
	logger, err := newLogger(cfg.Logging, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}

	if err := store.InitDB(cfg.Server.DB); err != nil {
		return err
	}
	defer store.Close()

	outputs := utils.NewOutputManager(cfg.Server.OutputDir)
	if err := outputs.EnsureOutputDirExists(); err != nil {
		return err
	}

	tr, err := dialSearch(cfg.Search, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	jobs := pipeline.NewRegistry()
	h := handler.New(tr, jobs, collector.NewMetrics(reg), outputs, logger)
	r := api.NewRouter(h, reg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level.Info(logger).Log("msg", "serving report API", "addr", cfg.Server.Addr, "search", cfg.Search.Endpoint, "db", cfg.Server.DB)
	err = r.Serve(ctx, cfg.Server.Addr)

	if running := jobs.Running(); len(running) > 0 {
		level.Info(logger).Log("msg", "cancelling running jobs", "jobs", len(running))
	}
	jobs.CancelAll()
	h.Wait()
	return err
}

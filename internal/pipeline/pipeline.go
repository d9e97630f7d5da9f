// Package pipeline runs report jobs: it validates a job, drives the
// collector over the job's queries and accounts, records progress and
// exports the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"go-report-pipeline/internal/collector"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/transport"
	"go-report-pipeline/pkg/utils"
)

// Deps are the collaborators of a job run.
type Deps struct {
	Transport transport.Transport
	Logger    log.Logger
	Metrics   *collector.Metrics
	Outputs   *utils.OutputManager
	// Tracker receives batch progress; RunJob creates one when nil.
	Tracker *RunTracker
	// Persist records status, logs, errors and summaries in the store.
	Persist bool
	// Out receives the console summary lines; nil discards them.
	Out io.Writer
}

// RunJob runs a report job to completion and returns its batches. When ctx
// ends or the job times out the batches collected so far are still exported
// and returned, together with the cancellation error.
func RunJob(ctx context.Context, jobID string, spec model.ReportJobSpec, deps Deps) (batches []model.BatchResult, err error) {
	start := time.Now()
	d := runner{Deps: deps, jobID: jobID}
	if d.Logger == nil {
		d.Logger = log.NewNopLogger()
	}
	d.Logger = log.With(d.Logger, "job", jobID)
	if d.Tracker == nil {
		d.Tracker = NewRunTracker(jobID, len(spec.Queries))
	}

	d.printf("🚀 Starting report job: %s\n", jobID)

	status := model.StatusFailed
	defer func() {
		d.Tracker.Finish(status)
		d.setStatus(status)
		if err != nil {
			d.saveError(err)
			level.Error(d.Logger).Log("msg", "report job ended", "status", status, "err", err)
		}
	}()

	job, err := ValidateJob(spec)
	if err != nil {
		d.printf("❌ Report job %s rejected: %v\n", jobID, err)
		return nil, err
	}

	d.setStatus(model.StatusRunning)
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	var rows *RowCollector
	if spec.Export != nil && spec.Export.RowsFile != "" {
		rows = NewRowCollector()
	}

	c := collector.New(d.Transport, collector.Config{
		DispatchConcurrency: spec.Concurrency.DispatchConcurrency,
		SinkFactory:         sinkFactory(spec, d.Logger, rows),
		Handler:             collector.Handlers(d.Tracker, &consolePrinter{out: d.Out, total: len(job.Queries)}, d.recorder()),
		Metrics:             d.Metrics,
	}, d.Logger)

	d.setStatus(model.StatusCollecting)
	d.log("collect", "info", "Starting collection", map[string]interface{}{
		"queries":  len(job.Queries),
		"accounts": len(job.Accounts),
		"timeout":  job.Timeout.String(),
	})
	batches, runErr := c.Run(ctx, job.Queries, job.Accounts)

	var exportErr error
	if spec.Export != nil {
		d.setStatus(model.StatusExporting)
		var keywordRows []KeywordRow
		if rows != nil {
			keywordRows = rows.Rows(batches)
		}
		exp := &Exporter{JobID: jobID, Spec: spec.Export, Outputs: d.Outputs, Out: d.Out}
		for _, res := range exp.Export(batches, keywordRows) {
			lvl := "info"
			if !res.Success {
				lvl = "error"
				exportErr = errors.Join(exportErr, fmt.Errorf("export %s to %s: %s", res.Type, res.Path, res.Error))
			}
			d.log("export", lvl, "Export finished", map[string]interface{}{
				"type":    res.Type,
				"path":    res.Path,
				"records": res.RecordCount,
				"bytes":   res.Bytes,
			})
		}
	}

	report := AggregateRun(batches)
	d.printf("🏁 Report job %s finished in %v: %d streams, %d failed, %d rows\n",
		jobID, time.Since(start).Round(time.Millisecond), report.Streams, report.Failed, report.TotalRows)

	switch {
	case runErr != nil:
		status = model.StatusCancelled
		if errors.Is(runErr, context.DeadlineExceeded) {
			status = model.StatusFailed
			runErr = fmt.Errorf("report job timed out after %v: %w", job.Timeout, runErr)
		}
		return batches, errors.Join(runErr, exportErr)
	case exportErr != nil:
		return batches, exportErr
	}
	status = model.StatusCompleted
	return batches, nil
}

// runner carries the per-run state of RunJob.
type runner struct {
	Deps
	jobID string
}

func (d *runner) printf(format string, args ...interface{}) {
	if d.Out != nil {
		fmt.Fprintf(d.Out, format, args...)
	}
}

func (d *runner) setStatus(status string) {
	d.Tracker.SetStatus(status)
	if !d.Persist {
		return
	}
	if err := store.UpdateJobStatus(d.jobID, status); err != nil {
		level.Warn(d.Logger).Log("msg", "failed to update job status", "status", status, "err", err)
	}
}

func (d *runner) saveError(err error) {
	if !d.Persist {
		return
	}
	if e := store.SaveJobError(d.jobID, err); e != nil {
		level.Warn(d.Logger).Log("msg", "failed to save job error", "err", e)
	}
}

func (d *runner) log(stage, lvl, msg string, details map[string]interface{}) {
	if !d.Persist {
		return
	}
	if err := store.SavePipelineLog(d.jobID, stage, lvl, msg, details); err != nil {
		level.Warn(d.Logger).Log("msg", "failed to save pipeline log", "err", err)
	}
}

func (d *runner) recorder() collector.BatchHandler {
	if !d.Persist {
		return nil
	}
	return &batchRecorder{r: d}
}

// batchRecorder persists each batch as soon as it is joined.
type batchRecorder struct {
	r *runner
}

func (b *batchRecorder) OnBatchStart(index int, query model.QueryText, accounts int) {
	b.r.log("collect", "info", "Dispatching query", map[string]interface{}{
		"index":    index,
		"query":    string(query),
		"accounts": accounts,
	})
}

func (b *batchRecorder) OnBatchEnd(batch model.BatchResult) {
	if err := store.SaveSummaries(b.r.jobID, batch); err != nil {
		level.Warn(b.r.Logger).Log("msg", "failed to save summaries", "index", batch.Index, "err", err)
	}
	for _, s := range batch.Summaries {
		if !s.Succeeded() {
			b.r.saveError(fmt.Errorf("query %d account %s: %s", batch.Index, s.AccountID, s.Error))
		}
	}

	rep := AggregateBatch(batch)
	lvl := "info"
	if rep.Failed > 0 {
		lvl = "warning"
	}
	b.r.log("collect", lvl, "Batch joined", map[string]interface{}{
		"index":       rep.Index,
		"succeeded":   rep.Succeeded,
		"failed":      rep.Failed,
		"cancelled":   rep.Cancelled,
		"rows":        rep.TotalRows,
		"duration_ms": rep.Duration.Milliseconds(),
	})
}

// consolePrinter prints one line per account summary, as batches complete.
type consolePrinter struct {
	out   io.Writer
	total int
}

func (p *consolePrinter) OnBatchStart(index int, query model.QueryText, accounts int) {
	if p.out == nil {
		return
	}
	fmt.Fprintf(p.out, "🔎 Query %d/%d on %d accounts: %s\n", index+1, p.total, accounts, query)
}

func (p *consolePrinter) OnBatchEnd(batch model.BatchResult) {
	if p.out == nil {
		return
	}
	for _, s := range batch.Summaries {
		mark := "✅"
		if !s.Succeeded() {
			mark = "❌"
		}
		fmt.Fprintf(p.out, "  %s %s\n", mark, s)
	}
	fmt.Fprintf(p.out, "📊 Query %d: %d succeeded, %d failed, %d rows in %v\n",
		batch.Index+1, batch.Succeeded(), batch.Failed(), batch.TotalRows(), batch.FinishedAt.Sub(batch.StartedAt).Round(time.Millisecond))
}

package collector

import (
	"context"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"go-report-pipeline/internal/model"
)

// DispatchBatch starts one stream per distinct account and returns the tasks
// in input order, duplicates collapsed to their first occurrence. Submissions
// run in parallel up to DispatchConcurrency. It returns once every stream is
// submitted or refused; refused streams are already resolved as failed.
func (c *Collector) DispatchBatch(ctx context.Context, query model.QueryText, accounts []model.AccountID) []*StreamTask {
	accounts = distinct(accounts)
	tasks := make([]*StreamTask, 0, len(accounts))
	for _, account := range accounts {
		tasks = append(tasks, NewStreamTask(account, query, c.sink(account, query), c.metrics, c.logger))
	}

	var g errgroup.Group
	if c.cfg.DispatchConcurrency > 0 {
		g.SetLimit(c.cfg.DispatchConcurrency)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := task.Start(ctx, c.transport); err != nil {
				level.Warn(c.logger).Log("msg", "search stream not submitted", "account", task.Account(), "query", query, "err", err)
			}
			// Submission failures live in the task's summary, never here.
			return nil
		})
	}
	_ = g.Wait()

	return tasks
}

// sink builds the stream's sink; without a factory every stream gets a
// CountingSink.
func (c *Collector) sink(account model.AccountID, query model.QueryText) RowSink {
	if c.cfg.SinkFactory == nil {
		return &CountingSink{}
	}
	return c.cfg.SinkFactory(account, query)
}

func distinct(accounts []model.AccountID) []model.AccountID {
	seen := make(map[model.AccountID]struct{}, len(accounts))
	out := make([]model.AccountID, 0, len(accounts))
	for _, a := range accounts {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

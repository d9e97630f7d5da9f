// Package collector runs report queries against many accounts in parallel.
//
// For every query a batch of streams is dispatched, one per account, and the
// batch is joined into per-account summaries before the next query starts.
// Accounts of one batch run concurrently; batches never overlap, so a single
// account never has two streams open at once.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/transport"
)

// BatchHandler observes batches as the sequencer runs them. Both methods are
// called from the goroutine calling Run.
type BatchHandler interface {
	OnBatchStart(index int, query model.QueryText, accounts int)
	OnBatchEnd(batch model.BatchResult)
}

// Config configures a Collector.
type Config struct {
	// DispatchConcurrency bounds parallel submissions within a batch; <= 0
	// submits every stream at once.
	DispatchConcurrency int
	// SinkFactory builds per-stream sinks; nil uses a CountingSink each.
	SinkFactory SinkFactory
	Handler     BatchHandler
	Metrics     *Metrics
}

// Collector dispatches, joins and sequences report batches.
type Collector struct {
	transport transport.Transport
	cfg       Config
	logger    log.Logger
	metrics   *Metrics
	handler   BatchHandler
}

// New returns a Collector that submits streams through tr.
func New(tr transport.Transport, cfg Config, logger log.Logger) *Collector {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Collector{
		transport: tr,
		cfg:       cfg,
		logger:    logger,
		metrics:   cfg.Metrics,
		handler:   cfg.Handler,
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.handler == nil {
		c.handler = nopHandler{}
	}
	return c
}

// Run executes the queries in order. Each query's batch is fully joined
// before the next one is dispatched.
//
// If ctx ends, no further batches are dispatched and Run returns every batch
// collected so far, including the partially joined one, with an error
// wrapping ErrCancelled. Per-account failures never make Run fail.
func (c *Collector) Run(ctx context.Context, queries []model.QueryText, accounts []model.AccountID) ([]model.BatchResult, error) {
	accounts = distinct(accounts)
	results := make([]model.BatchResult, 0, len(queries))
	for i, query := range queries {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%w before query %d: %w", ErrCancelled, i, err)
		}

		batch, err := c.runBatch(ctx, i, query, accounts)
		results = append(results, batch)
		if err != nil {
			return results, fmt.Errorf("query %d: %w", i, err)
		}
	}
	return results, nil
}

func (c *Collector) runBatch(ctx context.Context, index int, query model.QueryText, accounts []model.AccountID) (model.BatchResult, error) {
	start := time.Now()
	c.handler.OnBatchStart(index, query, len(accounts))
	level.Info(c.logger).Log("msg", "dispatching batch", "index", index, "query", query, "accounts", len(accounts))

	tasks := c.DispatchBatch(ctx, query, accounts)
	summaries, err := JoinBatch(ctx, tasks)

	batch := model.BatchResult{
		Index:      index,
		Query:      query,
		Summaries:  summaries,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}
	c.metrics.batchDuration.Observe(batch.FinishedAt.Sub(start).Seconds())

	logger := log.With(c.logger, "index", index, "succeeded", batch.Succeeded(), "failed", batch.Failed(), "rows", batch.TotalRows(), "duration", batch.FinishedAt.Sub(start))
	if err != nil {
		level.Warn(logger).Log("msg", "batch join cancelled", "err", err)
	} else {
		level.Info(logger).Log("msg", "batch joined")
	}

	c.handler.OnBatchEnd(batch)
	return batch, err
}

type nopHandler struct{}

func (nopHandler) OnBatchStart(int, model.QueryText, int) {}
func (nopHandler) OnBatchEnd(model.BatchResult)           {}

type multiHandler []BatchHandler

// Handlers combines handlers; each is called in order.
func Handlers(hs ...BatchHandler) BatchHandler {
	return multiHandler(hs)
}

func (m multiHandler) OnBatchStart(index int, query model.QueryText, accounts int) {
	for _, h := range m {
		if h != nil {
			h.OnBatchStart(index, query, accounts)
		}
	}
}

func (m multiHandler) OnBatchEnd(batch model.BatchResult) {
	for _, h := range m {
		if h != nil {
			h.OnBatchEnd(batch)
		}
	}
}

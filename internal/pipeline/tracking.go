package pipeline

import (
	"sync"
	"time"

	"go-report-pipeline/internal/model"
)

// RunTracker keeps live metrics of one report run. It is a batch handler of
// the collector and may be read concurrently through GetMetrics.
type RunTracker struct {
	mu      sync.RWMutex
	metrics model.RunMetrics
}

// NewRunTracker creates a tracker for a run of totalBatches queries.
func NewRunTracker(jobID string, totalBatches int) *RunTracker {
	return &RunTracker{
		metrics: model.RunMetrics{
			JobID:          jobID,
			Status:         model.StatusPending,
			StartTime:      time.Now(),
			TotalBatches:   totalBatches,
			Batches:        make([]model.BatchMetrics, 0, totalBatches),
			AccountMetrics: make(map[string]model.AccountMetrics),
		},
	}
}

// SetStatus records the run status.
func (rt *RunTracker) SetStatus(status string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.metrics.Status = status
}

// OnBatchStart marks a batch as running.
func (rt *RunTracker) OnBatchStart(index int, query model.QueryText, accounts int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.metrics.Batches = append(rt.metrics.Batches, model.BatchMetrics{
		Index:     index,
		Query:     string(query),
		StartTime: time.Now(),
		Accounts:  accounts,
		Status:    "running",
	})
}

// OnBatchEnd folds a joined batch into the run and account metrics.
func (rt *RunTracker) OnBatchEnd(batch model.BatchResult) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	bm := rt.batchLocked(batch)
	end := batch.FinishedAt
	bm.EndTime = &end
	bm.Duration = end.Sub(bm.StartTime)
	bm.Failed = batch.Failed()
	bm.Rows = batch.TotalRows()
	bm.Status = "completed"

	for _, s := range batch.Summaries {
		if s.Cancelled() {
			bm.Status = "cancelled"
		}
		am := rt.metrics.AccountMetrics[string(s.AccountID)]
		am.AccountID = string(s.AccountID)
		am.Streams++
		am.Rows += s.RowCount
		if !s.Succeeded() {
			am.Failed++
			am.LastError = s.Error
			rt.metrics.FailedStreams++
		}
		rt.metrics.AccountMetrics[string(s.AccountID)] = am
	}

	rt.metrics.Streams += int64(len(batch.Summaries))
	rt.metrics.TotalRows += bm.Rows
	rt.metrics.CompletedBatches++
}

// batchLocked finds the metrics entry of batch, adding one if the start was
// never seen.
func (rt *RunTracker) batchLocked(batch model.BatchResult) *model.BatchMetrics {
	for i := range rt.metrics.Batches {
		if rt.metrics.Batches[i].Index == batch.Index {
			return &rt.metrics.Batches[i]
		}
	}
	rt.metrics.Batches = append(rt.metrics.Batches, model.BatchMetrics{
		Index:     batch.Index,
		Query:     string(batch.Query),
		StartTime: batch.StartedAt,
		Accounts:  len(batch.Summaries),
	})
	return &rt.metrics.Batches[len(rt.metrics.Batches)-1]
}

// Finish stamps the end of the run.
func (rt *RunTracker) Finish(status string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	now := time.Now()
	rt.metrics.EndTime = &now
	rt.metrics.Status = status
}

// GetMetrics returns a snapshot of the current metrics.
func (rt *RunTracker) GetMetrics() model.RunMetrics {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	m := rt.metrics
	if m.EndTime != nil {
		m.Duration = m.EndTime.Sub(m.StartTime)
	} else {
		m.Duration = time.Since(m.StartTime)
	}
	if m.Duration > 0 {
		m.RowsPerSecond = float64(m.TotalRows) / m.Duration.Seconds()
	}

	m.Batches = append([]model.BatchMetrics(nil), rt.metrics.Batches...)
	m.AccountMetrics = make(map[string]model.AccountMetrics, len(rt.metrics.AccountMetrics))
	for k, v := range rt.metrics.AccountMetrics {
		m.AccountMetrics[k] = v
	}
	return m
}

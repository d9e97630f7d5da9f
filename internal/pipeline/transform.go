package pipeline

import (
	"sync"

	"github.com/go-kit/log"

	"go-report-pipeline/internal/collector"
	"go-report-pipeline/internal/model"
)

// KeywordRow is an extracted keyword row with the query it came from.
type KeywordRow struct {
	Query model.QueryText `json:"query"`
	collector.KeywordRecord
}

type streamKey struct {
	query   model.QueryText
	account model.AccountID
}

// RowCollector keeps the keyword rows of every stream of a run. Each stream
// appends to its own bucket, so rows of one stream stay in arrival order.
type RowCollector struct {
	mu      sync.Mutex
	buckets map[streamKey][]collector.KeywordRecord
}

// NewRowCollector returns an empty collector.
func NewRowCollector() *RowCollector {
	return &RowCollector{buckets: map[streamKey][]collector.KeywordRecord{}}
}

func (rc *RowCollector) add(query model.QueryText, rec collector.KeywordRecord) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	k := streamKey{query: query, account: rec.AccountID}
	rc.buckets[k] = append(rc.buckets[k], rec)
}

// Rows returns the rows behind the given summaries, in batch and summary
// order. Each stream contributes at most RowCount rows, so rows a cancelled
// stream delivered after its summary was taken are left out.
func (rc *RowCollector) Rows(batches []model.BatchResult) []KeywordRow {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var out []KeywordRow
	for _, b := range batches {
		for _, s := range b.Summaries {
			bucket := rc.buckets[streamKey{query: s.Query, account: s.AccountID}]
			if int64(len(bucket)) > s.RowCount {
				bucket = bucket[:s.RowCount]
			}
			for _, rec := range bucket {
				out = append(out, KeywordRow{Query: s.Query, KeywordRecord: rec})
			}
		}
	}
	return out
}

// teeSink hands each row to every sink in order.
type teeSink []collector.RowSink

func (t teeSink) Consume(row model.Row) {
	for _, s := range t {
		s.Consume(row)
	}
}

// sinkFactory builds the per-stream sinks a job asks for: keyword logging
// when rows are printed and keyword collection when rows are exported. It
// returns nil when the task's own row count is all that is needed.
func sinkFactory(spec model.ReportJobSpec, logger log.Logger, rows *RowCollector) collector.SinkFactory {
	var printing collector.SinkFactory
	if spec.PrintRows {
		printing = collector.LoggingKeywordSinks(logger)
	}
	if printing == nil && rows == nil {
		return nil
	}
	return func(account model.AccountID, query model.QueryText) collector.RowSink {
		var sinks teeSink
		if printing != nil {
			sinks = append(sinks, printing(account, query))
		}
		if rows != nil {
			sinks = append(sinks, &collector.KeywordSink{
				Account: account,
				Emit:    func(rec collector.KeywordRecord) { rows.add(query, rec) },
			})
		}
		if len(sinks) == 1 {
			return sinks[0]
		}
		return sinks
	}
}

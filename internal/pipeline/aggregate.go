package pipeline

import (
	"sort"
	"time"

	"go-report-pipeline/internal/model"
)

// BatchReport condenses one joined batch.
type BatchReport struct {
	Index            int               `json:"index"`
	Query            model.QueryText   `json:"query"`
	Accounts         int               `json:"accounts"`
	Succeeded        int               `json:"succeeded"`
	Failed           int               `json:"failed"`
	Cancelled        int               `json:"cancelled"`
	TotalRows        int64             `json:"total_rows"`
	FailedAccounts   []model.AccountID `json:"failed_accounts,omitempty"`
	FailureCauses    map[string]int    `json:"failure_causes,omitempty"`
	Duration         time.Duration     `json:"duration"`
	SlowestAccount   model.AccountID   `json:"slowest_account,omitempty"`
	SlowestStreamDur time.Duration     `json:"slowest_stream_duration"`
}

// RunReport condenses every batch of a run.
type RunReport struct {
	Batches       []BatchReport             `json:"batches"`
	Streams       int                       `json:"streams"`
	Failed        int                       `json:"failed"`
	Cancelled     int                       `json:"cancelled"`
	TotalRows     int64                     `json:"total_rows"`
	RowsByAccount map[model.AccountID]int64 `json:"rows_by_account"`
	FailedPairs   map[model.AccountID][]int `json:"failed_pairs,omitempty"` // batch indexes per account
}

// AggregateBatch summarises a batch. Failure causes are counted by their
// error text.
func AggregateBatch(batch model.BatchResult) BatchReport {
	r := BatchReport{
		Index:     batch.Index,
		Query:     batch.Query,
		Accounts:  len(batch.Summaries),
		Succeeded: batch.Succeeded(),
		Failed:    batch.Failed(),
		TotalRows: batch.TotalRows(),
		Duration:  batch.FinishedAt.Sub(batch.StartedAt),
	}
	for _, s := range batch.Summaries {
		if d := s.FinishedAt.Sub(s.StartedAt); d > r.SlowestStreamDur {
			r.SlowestStreamDur = d
			r.SlowestAccount = s.AccountID
		}
		if s.Succeeded() {
			continue
		}
		if s.Cancelled() {
			r.Cancelled++
		}
		r.FailedAccounts = append(r.FailedAccounts, s.AccountID)
		if r.FailureCauses == nil {
			r.FailureCauses = map[string]int{}
		}
		r.FailureCauses[s.Error]++
	}
	return r
}

// AggregateRun summarises every batch of a run.
func AggregateRun(batches []model.BatchResult) RunReport {
	r := RunReport{
		Batches:       make([]BatchReport, 0, len(batches)),
		RowsByAccount: map[model.AccountID]int64{},
	}
	for _, b := range batches {
		br := AggregateBatch(b)
		r.Batches = append(r.Batches, br)
		r.Streams += br.Accounts
		r.Failed += br.Failed
		r.Cancelled += br.Cancelled
		r.TotalRows += br.TotalRows
		for _, s := range b.Summaries {
			r.RowsByAccount[s.AccountID] += s.RowCount
		}
		for _, a := range br.FailedAccounts {
			if r.FailedPairs == nil {
				r.FailedPairs = map[model.AccountID][]int{}
			}
			r.FailedPairs[a] = append(r.FailedPairs[a], b.Index)
		}
	}
	return r
}

// TopCauses returns the failure causes of r, most frequent first.
func (r BatchReport) TopCauses() []string {
	causes := make([]string, 0, len(r.FailureCauses))
	for c := range r.FailureCauses {
		causes = append(causes, c)
	}
	sort.Slice(causes, func(i, j int) bool {
		ci, cj := r.FailureCauses[causes[i]], r.FailureCauses[causes[j]]
		if ci != cj {
			return ci > cj
		}
		return causes[i] < causes[j]
	})
	return causes
}

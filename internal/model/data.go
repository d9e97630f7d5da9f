package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Row is a single streamed result row. Keys follow the remote service's
// dotted field names, e.g. "keyword_plan.id".
type Row map[string]interface{}

// String returns the field as a string, or "" when missing.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int returns the field as an int64. JSON numbers decode as float64 and ids
// are sometimes sent as strings, both are accepted.
func (r Row) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ResultSummary is the terminal outcome of one stream. It is a value; copies
// never change.
type ResultSummary struct {
	AccountID  AccountID `json:"account_id"`
	Query      QueryText `json:"query"`
	RowCount   int64     `json:"row_count"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Interrupted is set when the stream failed because the caller gave up.
	// It survives storage, unlike Err.
	Interrupted bool `json:"cancelled,omitempty"`
}

// NewSummary builds a summary; Error mirrors err.
func NewSummary(account AccountID, query QueryText, rows int64, err error, started, finished time.Time) ResultSummary {
	s := ResultSummary{
		AccountID:  account,
		Query:      query,
		RowCount:   rows,
		Err:        err,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		s.Error = err.Error()
		s.Interrupted = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	return s
}

// Succeeded reports whether the stream ended normally.
func (s ResultSummary) Succeeded() bool {
	return s.Err == nil && s.Error == ""
}

// Cancelled reports whether the summary failed because the caller gave up.
func (s ResultSummary) Cancelled() bool {
	return s.Interrupted || errors.Is(s.Err, context.Canceled) || errors.Is(s.Err, context.DeadlineExceeded)
}

func (s ResultSummary) String() string {
	if s.Succeeded() {
		return fmt.Sprintf("Account '%s' rows: %d success: yes", s.AccountID, s.RowCount)
	}
	return fmt.Sprintf("Account '%s' rows: %d success: no (%s)", s.AccountID, s.RowCount, s.Error)
}

// BatchResult holds every summary of one query, ordered like the input accounts.
type BatchResult struct {
	Index      int             `json:"index"`
	Query      QueryText       `json:"query"`
	Summaries  []ResultSummary `json:"summaries"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Succeeded counts successful summaries.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, s := range b.Summaries {
		if s.Succeeded() {
			n++
		}
	}
	return n
}

// Failed counts failed summaries.
func (b BatchResult) Failed() int {
	return len(b.Summaries) - b.Succeeded()
}

// TotalRows sums the row counts of all summaries, failed ones included.
func (b BatchResult) TotalRows() int64 {
	var n int64
	for _, s := range b.Summaries {
		n += s.RowCount
	}
	return n
}

// FailedAccounts lists the accounts whose summary failed, in batch order.
func (b BatchResult) FailedAccounts() []AccountID {
	var out []AccountID
	for _, s := range b.Summaries {
		if !s.Succeeded() {
			out = append(out, s.AccountID)
		}
	}
	return out
}

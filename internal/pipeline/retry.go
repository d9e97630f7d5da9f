package pipeline

import (
	"context"

	"go-report-pipeline/internal/model"
)

// FailedAccounts lists every account with at least one failed summary, in
// the order they first failed.
func FailedAccounts(batches []model.BatchResult) []model.AccountID {
	seen := map[model.AccountID]bool{}
	var out []model.AccountID
	for _, b := range batches {
		for _, a := range b.FailedAccounts() {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// RetrySpec derives the spec of a rerun: the queries that had failures,
// against the accounts that failed any of them. Pairs that already
// succeeded may run again when an account failed only some of the queries.
// ok is false when nothing failed.
func RetrySpec(spec model.ReportJobSpec, batches []model.BatchResult) (retry model.ReportJobSpec, ok bool) {
	var queries []string
	for _, b := range batches {
		if b.Failed() > 0 {
			queries = append(queries, string(b.Query))
		}
	}
	accounts := FailedAccounts(batches)
	if len(queries) == 0 || len(accounts) == 0 {
		return model.ReportJobSpec{}, false
	}

	retry = spec
	retry.Queries = queries
	retry.Accounts = make([]string, 0, len(accounts))
	for _, a := range accounts {
		retry.Accounts = append(retry.Accounts, string(a))
	}
	if spec.Export != nil {
		exp := *spec.Export
		retry.Export = &exp
	}
	return retry, true
}

// RetryFailed reruns the failed part of a finished job as a new job. There
// is no backoff; the caller decides when to call it. ok is false when the
// parent had no failures and nothing was run.
func RetryFailed(ctx context.Context, jobID string, parent model.ReportJobSpec, batches []model.BatchResult, deps Deps) (results []model.BatchResult, ok bool, err error) {
	spec, ok := RetrySpec(parent, batches)
	if !ok {
		return nil, false, nil
	}
	results, err = RunJob(ctx, jobID, spec, deps)
	return results, true, err
}

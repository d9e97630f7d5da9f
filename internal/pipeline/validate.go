package pipeline

import (
	"errors"
	"fmt"
	"time"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/pkg/utils"
)

// ErrInvalidJob is wrapped by every ValidateJob failure.
var ErrInvalidJob = errors.New("invalid report job")

// DefaultJobTimeout applies when a job sets no timeout.
const DefaultJobTimeout = 5 * time.Minute

// Job is a validated report job, ready to run.
type Job struct {
	Queries  []model.QueryText
	Accounts []model.AccountID
	Timeout  time.Duration
	Spec     model.ReportJobSpec
}

// ValidateJob checks a spec and parses its queries, accounts and timeout.
func ValidateJob(spec model.ReportJobSpec) (Job, error) {
	if len(spec.Queries) == 0 {
		return Job{}, fmt.Errorf("%w: at least one query is required", ErrInvalidJob)
	}
	if len(spec.Accounts) == 0 {
		return Job{}, fmt.Errorf("%w: at least one account is required", ErrInvalidJob)
	}

	queries := spec.QueryTexts()
	for i, q := range queries {
		if q == "" {
			return Job{}, fmt.Errorf("%w: query #%d is empty", ErrInvalidJob, i)
		}
	}

	accounts, err := model.ParseAccountIDs(spec.Accounts)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if spec.Concurrency.DispatchConcurrency < 0 {
		return Job{}, fmt.Errorf("%w: dispatch concurrency must not be negative", ErrInvalidJob)
	}

	timeout, err := utils.ParseDuration(spec.Concurrency.JobTimeout, DefaultJobTimeout)
	if err != nil {
		return Job{}, fmt.Errorf("%w: job timeout: %w", ErrInvalidJob, err)
	}

	if spec.Export != nil && spec.Export.File == "" && spec.Export.RowsFile == "" {
		return Job{}, fmt.Errorf("%w: export needs a file or rows_file", ErrInvalidJob)
	}

	return Job{Queries: queries, Accounts: accounts, Timeout: timeout, Spec: spec}, nil
}

package model

import (
	"errors"
	"fmt"
	"strings"
)

// AccountID names one remote account. It is opaque to the collector.
type AccountID string

// QueryText is the server-side query run for every account of a batch.
type QueryText string

// ErrEmptyAccountID is returned by ParseAccountID for blank input.
var ErrEmptyAccountID = errors.New("account id is empty")

// ParseAccountID normalizes a user supplied account id. Dash-grouped numeric
// ids ("123-456-7890") are collapsed to their digits; anything else is kept
// as-is after trimming.
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyAccountID
	}
	if digits := strings.ReplaceAll(s, "-", ""); digits != "" && isDigits(digits) {
		return AccountID(digits), nil
	}
	return AccountID(s), nil
}

// ParseAccountIDs parses every id and rejects duplicates.
func ParseAccountIDs(in []string) ([]AccountID, error) {
	out := make([]AccountID, 0, len(in))
	seen := make(map[AccountID]bool, len(in))
	for i, raw := range in {
		id, err := ParseAccountID(raw)
		if err != nil {
			return nil, fmt.Errorf("account #%d: %w", i, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate account id: %s", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Export defines export targets
type Export struct {
	File     string `json:"file" yaml:"file"`          // e.g., outputs/report.csv
	RowsFile string `json:"rowsFile" yaml:"rows_file"` // keyword rows, same formats as File
	Dir      string `json:"dir" yaml:"dir"`            // base directory for per-job output
}

// ConcurrencyConfig defines dispatch and job options
type ConcurrencyConfig struct {
	DispatchConcurrency int    `json:"dispatchConcurrency" yaml:"dispatch_concurrency"` // parallel submissions per batch
	JobTimeout          string `json:"jobTimeout" yaml:"job_timeout"`                   // e.g., "5m"
}

// ReportJobSpec defines one report collection run
type ReportJobSpec struct {
	Queries     []string          `json:"queries" yaml:"queries"`   // run in order, one batch each
	Accounts    []string          `json:"accounts" yaml:"accounts"` // every query runs against all of them
	Concurrency ConcurrencyConfig `json:"concurrency" yaml:"concurrency"`
	Export      *Export           `json:"export,omitempty" yaml:"export,omitempty"`
	PrintRows   bool              `json:"printRows" yaml:"print_rows"` // log every extracted keyword row
}

// QueryTexts converts the spec's queries.
func (s ReportJobSpec) QueryTexts() []QueryText {
	out := make([]QueryText, 0, len(s.Queries))
	for _, q := range s.Queries {
		out = append(out, QueryText(strings.TrimSpace(q)))
	}
	return out
}

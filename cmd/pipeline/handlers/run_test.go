package handlers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/config"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/transport/transporttest"
)

type closingTransport struct {
	*transporttest.Scripted
	closed bool
}

func (c *closingTransport) Close() error {
	c.closed = true
	return nil
}

// useScripted replaces the search dial for the duration of the test.
func useScripted(t *testing.T, scripts map[string]transporttest.Script) (*closingTransport, *config.SearchConfig) {
	t.Helper()
	tr := &closingTransport{Scripted: transporttest.New(scripts)}
	var dialed config.SearchConfig
	origDial, origOut := dialSearch, logOutput
	dialSearch = func(cfg config.SearchConfig, _ log.Logger) (searchTransport, error) {
		dialed = cfg
		return tr, nil
	}
	logOutput = &bytes.Buffer{}
	t.Cleanup(func() {
		dialSearch, logOutput = origDial, origOut
	})
	return tr, &dialed
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const runConfig = `
search:
  endpoint: search.internal:50051
report:
  queries:
    - SELECT keyword_plan.id FROM keyword_plan
  accounts: [100, "200"]
  concurrency:
    dispatch_concurrency: 2
`

func TestRun(t *testing.T) {
	tr, dialed := useScripted(t, map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(3)},
		"200": {Rows: transporttest.Rows(2), Err: transporttest.ErrRateLimited, FailAfter: 1},
	})

	var out bytes.Buffer
	err := Run(context.Background(), RunOptions{ConfigPath: writeFile(t, "report.yaml", runConfig)}, &out)
	require.NoError(t, err)

	assert.Equal(t, "search.internal:50051", dialed.Endpoint)
	assert.True(t, dialed.Insecure)
	assert.True(t, tr.closed)
	assert.Contains(t, out.String(), "✅ Account '100' rows: 3 success: yes")
	assert.Contains(t, out.String(), "❌ Account '200' rows: 1 success: no (RATE_LIMITED)")
}

func TestRun_FlagsOverrideConfig(t *testing.T) {
	tr, dialed := useScripted(t, map[string]transporttest.Script{
		"1234567890": {Rows: transporttest.Rows(1)},
		"300":        {Rows: transporttest.Rows(1)},
	})
	dir := t.TempDir()
	export := filepath.Join(dir, "report.json")

	var out bytes.Buffer
	err := Run(context.Background(), RunOptions{
		ConfigPath:   writeFile(t, "report.yaml", runConfig),
		Queries:      []string{"Q1", "Q2"},
		Accounts:     []string{"123-456-7890"},
		AccountsFile: writeFile(t, "accounts.csv", "account_id\n300\n"),
		Endpoint:     "localhost:6000",
		Export:       export,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6000", dialed.Endpoint)
	spans := tr.Spans()
	require.Len(t, spans, 4)
	for _, sp := range spans {
		assert.Contains(t, []model.AccountID{"1234567890", "300"}, sp.Account)
		assert.Contains(t, []model.QueryText{"Q1", "Q2"}, sp.Query)
	}
	assert.FileExists(t, export)
}

func TestRun_Persists(t *testing.T) {
	useScripted(t, map[string]transporttest.Script{"100": {Rows: transporttest.Rows(1)}})
	db := filepath.Join(t.TempDir(), "reports.db")

	err := Run(context.Background(), RunOptions{Queries: []string{"Q"}, Accounts: []string{"100"}, DB: db}, &bytes.Buffer{})
	require.NoError(t, err)

	require.NoError(t, store.InitDB(db))
	defer store.Close()
	jobs, err := store.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.StatusCompleted, jobs[0].Status)
}

func TestRun_Errors(t *testing.T) {
	useScripted(t, nil)

	tests := []struct {
		name string
		opts RunOptions
		want string
	}{
		{"no queries", RunOptions{Accounts: []string{"1"}}, "at least one query"},
		{"no accounts", RunOptions{Queries: []string{"Q"}}, "at least one account"},
		{"missing config", RunOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")}, "failed to read config file"},
		{"missing accounts file", RunOptions{Queries: []string{"Q"}, AccountsFile: "nope.csv"}, "open accounts file"},
		{"bad log level", RunOptions{Queries: []string{"Q"}, Accounts: []string{"1"}, LogLevel: "loud"}, "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(context.Background(), tt.opts, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.ErrorIs(t, Run(context.Background(), RunOptions{}, &bytes.Buffer{}), pipeline.ErrInvalidJob)
}

func TestRun_Cancelled(t *testing.T) {
	useScripted(t, map[string]transporttest.Script{"100": {Rows: transporttest.Rows(1)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, RunOptions{Queries: []string{"Q"}, Accounts: []string{"100"}}, &bytes.Buffer{})
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunOptions_ApplyKeepsExportDir(t *testing.T) {
	cfg := config.Default()
	cfg.Report.Export = &model.Export{Dir: "out", File: "a.csv"}
	require.NoError(t, RunOptions{RowsExport: "rows.csv", Concurrency: 3, PrintRows: true, Timeout: "1m"}.apply(cfg))
	assert.Equal(t, model.Export{Dir: "out", File: "a.csv", RowsFile: "rows.csv"}, *cfg.Report.Export)
	assert.Equal(t, 3, cfg.Report.Concurrency.DispatchConcurrency)
	assert.Equal(t, "1m", cfg.Report.Concurrency.JobTimeout)
	assert.True(t, cfg.Report.PrintRows)
}

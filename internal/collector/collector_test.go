package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/transport"
	"go-report-pipeline/internal/transport/transporttest"
)

type recordingHandler struct {
	mu     sync.Mutex
	starts []model.QueryText
	ends   []model.BatchResult
}

func (h *recordingHandler) OnBatchStart(_ int, query model.QueryText, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, query)
}

func (h *recordingHandler) OnBatchEnd(batch model.BatchResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, batch)
}

func accounts(ids ...string) []model.AccountID {
	out := make([]model.AccountID, len(ids))
	for i, id := range ids {
		out[i] = model.AccountID(id)
	}
	return out
}

func TestCollector_ProducesSummaryPerQueryAndAccount(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(4)},
		"200": {Rows: transporttest.Rows(2), RowDelay: time.Millisecond},
		"300": {Rows: transporttest.Rows(1)},
	})
	c := New(tr, Config{}, nil)

	queries := []model.QueryText{"Q1", "Q2"}
	got, err := c.Run(context.Background(), queries, accounts("100", "200", "300"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, batch := range got {
		assert.Equal(t, i, batch.Index)
		assert.Equal(t, queries[i], batch.Query)
		require.Len(t, batch.Summaries, 3)
		for j, s := range batch.Summaries {
			assert.Equal(t, accounts("100", "200", "300")[j], s.AccountID)
			assert.Equal(t, queries[i], s.Query)
			assert.True(t, s.Succeeded())
		}
		assert.Equal(t, int64(7), batch.TotalRows())
	}
}

func TestCollector_FailuresStayPerAccount(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(10)},
		"200": {Rows: transporttest.Rows(3), Err: transporttest.ErrRateLimited},
		"300": {Rows: transporttest.Rows(7)},
	})
	c := New(tr, Config{}, nil)

	got, err := c.Run(context.Background(), []model.QueryText{"Q"}, accounts("100", "200", "300"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	sums := got[0].Summaries
	require.Len(t, sums, 3)
	assert.Equal(t, "Account '100' rows: 10 success: yes", sums[0].String())
	assert.Equal(t, "Account '200' rows: 3 success: no (RATE_LIMITED)", sums[1].String())
	assert.Equal(t, "Account '300' rows: 7 success: yes", sums[2].String())
	assert.ErrorIs(t, sums[1].Err, transporttest.ErrRateLimited)
	assert.Equal(t, accounts("200"), got[0].FailedAccounts())
}

func TestCollector_BatchesNeverOverlap(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(3), Delay: 15 * time.Millisecond},
		"200": {Rows: transporttest.Rows(3), Delay: 5 * time.Millisecond},
		"300": {Rows: transporttest.Rows(3)},
	})
	c := New(tr, Config{}, nil)

	_, err := c.Run(context.Background(), []model.QueryText{"Q1", "Q2"}, accounts("100", "200", "300"))
	require.NoError(t, err)

	var lastQ1End, firstQ2Start time.Time
	for _, sp := range tr.Spans() {
		switch sp.Query {
		case "Q1":
			if sp.End.After(lastQ1End) {
				lastQ1End = sp.End
			}
		case "Q2":
			if firstQ2Start.IsZero() || sp.Start.Before(firstQ2Start) {
				firstQ2Start = sp.Start
			}
		}
	}
	require.False(t, lastQ1End.IsZero())
	require.False(t, firstQ2Start.IsZero())
	assert.False(t, firstQ2Start.Before(lastQ1End), "Q2 started before every Q1 stream ended")

	// No account ever has two streams open at once.
	byAccount := map[model.AccountID][]transporttest.Span{}
	for _, sp := range tr.Spans() {
		byAccount[sp.Account] = append(byAccount[sp.Account], sp)
	}
	for account, spans := range byAccount {
		require.Len(t, spans, 2, account)
		assert.False(t, spans[1].Start.Before(spans[0].End), account)
	}
}

func TestCollector_StreamsWithinBatchRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(1), Gate: gate},
		"200": {Rows: transporttest.Rows(1), Gate: gate},
		"300": {Rows: transporttest.Rows(1), Gate: gate},
	})
	c := New(tr, Config{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(context.Background(), []model.QueryText{"Q"}, accounts("100", "200", "300"))
	}()

	// Every stream is open before any of them may finish.
	require.Eventually(t, func() bool { return len(tr.Spans()) == 3 }, time.Second, time.Millisecond)
	close(gate)
	<-done
}

func TestCollector_CancelReturnsPartialResults(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	tr := transporttest.New(map[string]transporttest.Script{
		"1": {Rows: transporttest.Rows(2)},
		"2": {Rows: transporttest.Rows(2)},
		"3": {Rows: transporttest.Rows(2)},
		"4": {Rows: transporttest.Rows(1), Gate: gate},
		"5": {Rows: transporttest.Rows(1), Gate: gate},
	})
	c := New(tr, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		batches []model.BatchResult
		err     error
	}
	out := make(chan result, 1)
	go func() {
		b, err := c.Run(ctx, []model.QueryText{"Q1", "Q2"}, accounts("1", "2", "3", "4", "5"))
		out <- result{b, err}
	}()

	require.Eventually(t, func() bool { return tr.Settled() == 3 }, time.Second, time.Millisecond)
	cancel()

	var res result
	select {
	case res = <-out:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, ErrCancelled)
	assert.ErrorIs(t, res.err, context.Canceled)
	require.Len(t, res.batches, 1, "Q2 must not be dispatched")

	sums := res.batches[0].Summaries
	require.Len(t, sums, 5)
	for _, s := range sums[:3] {
		assert.True(t, s.Succeeded(), s.AccountID)
		assert.Equal(t, int64(2), s.RowCount)
	}
	for _, s := range sums[3:] {
		assert.False(t, s.Succeeded(), s.AccountID)
		assert.True(t, s.Cancelled(), s.AccountID)
	}
}

func TestCollector_CancelledBeforeRun(t *testing.T) {
	tr := transporttest.New(nil)
	c := New(tr, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := c.Run(ctx, []model.QueryText{"Q"}, accounts("100"))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, got)
	assert.Empty(t, tr.Spans())
}

func TestCollector_DuplicateAccountsCollapse(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(1)},
		"200": {Rows: transporttest.Rows(1)},
	})
	c := New(tr, Config{}, nil)

	got, err := c.Run(context.Background(), []model.QueryText{"Q"}, accounts("100", "200", "100"))
	require.NoError(t, err)
	require.Len(t, got[0].Summaries, 2)
	assert.Len(t, tr.Spans(), 2)
}

func TestCollector_EmptyInputs(t *testing.T) {
	c := New(transporttest.New(nil), Config{}, nil)

	got, err := c.Run(context.Background(), nil, accounts("100"))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.Run(context.Background(), []model.QueryText{"Q1", "Q2"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Empty(t, got[0].Summaries)
	assert.Empty(t, got[1].Summaries)
}

func TestCollector_SubmissionFailureIsASummary(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(2)},
		"200": {SubmitErr: transport.ErrTransportClosed},
	})
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)
	c := New(tr, Config{Metrics: m}, nil)

	got, err := c.Run(context.Background(), []model.QueryText{"Q"}, accounts("100", "200"))
	require.NoError(t, err)
	sums := got[0].Summaries
	assert.True(t, sums[0].Succeeded())
	assert.False(t, sums[1].Succeeded())
	assert.ErrorIs(t, sums[1].Err, ErrSubmission)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.streamsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.streamsFailed.WithLabelValues(reasonSubmission)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.rowsReceived))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.streamsInFlight))
}

func TestCollector_HandlerSeesBatchesInOrder(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{"100": {Rows: transporttest.Rows(1)}})
	h := &recordingHandler{}
	c := New(tr, Config{Handler: Handlers(h, nil)}, nil)

	_, err := c.Run(context.Background(), []model.QueryText{"A", "B", "C"}, accounts("100"))
	require.NoError(t, err)
	assert.Equal(t, []model.QueryText{"A", "B", "C"}, h.starts)
	require.Len(t, h.ends, 3)
	for i, b := range h.ends {
		assert.Equal(t, i, b.Index)
	}
}

func TestCollector_PerQueryScripts(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{"100": {Rows: transporttest.Rows(2)}})
	tr.SetQueryScript("Q2", "100", transporttest.Script{Err: errors.New("INVALID_QUERY")})
	c := New(tr, Config{}, nil)

	got, err := c.Run(context.Background(), []model.QueryText{"Q1", "Q2"}, accounts("100"))
	require.NoError(t, err)
	assert.True(t, got[0].Summaries[0].Succeeded())
	assert.Equal(t, "INVALID_QUERY", got[1].Summaries[0].Error)
}

func TestCollector_SinkPerAccountAndQuery(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(3)},
		"200": {Rows: transporttest.Rows(5)},
	})
	var mu sync.Mutex
	counts := map[string]*CountingSink{}
	factory := func(account model.AccountID, query model.QueryText) RowSink {
		mu.Lock()
		defer mu.Unlock()
		s := &CountingSink{}
		counts[string(query)+"/"+string(account)] = s
		return s
	}
	c := New(tr, Config{SinkFactory: factory}, nil)

	_, err := c.Run(context.Background(), []model.QueryText{"Q1", "Q2"}, accounts("100", "200"))
	require.NoError(t, err)
	require.Len(t, counts, 4)
	assert.Equal(t, int64(3), counts["Q1/100"].Count())
	assert.Equal(t, int64(5), counts["Q2/200"].Count())
}

// slowSubmit counts concurrent submissions.
type slowSubmit struct {
	inner    transport.Transport
	mu       sync.Mutex
	current  int
	maxSeen  int
	duration time.Duration
}

func (s *slowSubmit) SearchStream(ctx context.Context, req transport.SearchRequest, obs transport.Observer) error {
	s.mu.Lock()
	s.current++
	if s.current > s.maxSeen {
		s.maxSeen = s.current
	}
	s.mu.Unlock()

	time.Sleep(s.duration)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()
	return s.inner.SearchStream(ctx, req, obs)
}

func TestCollector_DispatchConcurrencyLimit(t *testing.T) {
	scripts := map[string]transporttest.Script{}
	ids := []string{"1", "2", "3", "4", "5", "6"}
	for _, id := range ids {
		scripts[id] = transporttest.Script{Rows: transporttest.Rows(1)}
	}
	tr := &slowSubmit{inner: transporttest.New(scripts), duration: 5 * time.Millisecond}
	c := New(tr, Config{DispatchConcurrency: 2}, nil)

	got, err := c.Run(context.Background(), []model.QueryText{"Q"}, accounts(ids...))
	require.NoError(t, err)
	assert.Equal(t, 6, got[0].Succeeded())
	assert.LessOrEqual(t, tr.maxSeen, 2)
}

func TestCollector_DefaultSinkCounts(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(3)},
		"200": {Rows: transporttest.Rows(2), Err: transporttest.ErrRateLimited},
	})
	c := New(tr, Config{}, nil)

	tasks := c.DispatchBatch(context.Background(), "Q1", accounts("100", "200"))
	sums, err := JoinBatch(context.Background(), tasks)
	require.NoError(t, err)

	for i, task := range tasks {
		sink, ok := task.Sink().(*CountingSink)
		require.True(t, ok, "account %s", task.Account())
		assert.Equal(t, sums[i].RowCount, sink.Count())
	}
	assert.Equal(t, int64(3), sums[0].RowCount)
	assert.Equal(t, int64(2), sums[1].RowCount)
}

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/internal/collector"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/transport/transporttest"
	"go-report-pipeline/pkg/router"
	"go-report-pipeline/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type testServer struct {
	t       *testing.T
	h       *handler.Handler
	r       *router.Router
	reg     *pipeline.Registry
	outputs string
}

func newTestServer(t *testing.T, tr *transporttest.Scripted) *testServer {
	t.Helper()
	require.NoError(t, store.InitDB(filepath.Join(t.TempDir(), "reports.db")))
	t.Cleanup(func() { _ = store.Close() })

	promReg := prometheus.NewRegistry()
	reg := pipeline.NewRegistry()
	outputs := t.TempDir()
	h := handler.New(tr, reg, collector.NewMetrics(promReg), utils.NewOutputManager(outputs), nil)
	t.Cleanup(func() {
		reg.CancelAll()
		h.Wait()
	})
	return &testServer{t: t, h: h, r: NewRouter(h, promReg, nil), reg: reg, outputs: outputs}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func (s *testServer) decode(rec *httptest.ResponseRecorder) map[string]interface{} {
	s.t.Helper()
	var out map[string]interface{}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) create(spec model.ReportJobSpec) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/reports", spec)
	require.Equal(s.t, http.StatusAccepted, rec.Code, rec.Body.String())
	id, _ := s.decode(rec)["jobID"].(string)
	require.NotEmpty(s.t, id)
	return id
}

func (s *testServer) job(id string) model.JobInfo {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/v1/reports/"+id, nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	var job model.JobInfo
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func scripted() *transporttest.Scripted {
	return transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(4)},
		"200": {Rows: transporttest.Rows(3), Err: transporttest.ErrRateLimited, FailAfter: 1},
		"300": {Rows: transporttest.Rows(2)},
	})
}

func reportSpec() model.ReportJobSpec {
	return model.ReportJobSpec{
		Queries:  []string{"Q1", "Q2"},
		Accounts: []string{"100", "200", "300"},
	}
}

func TestCreateReport(t *testing.T) {
	s := newTestServer(t, scripted())
	id := s.create(reportSpec())
	s.h.Wait()

	job := s.job(id)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, []string{"Q1", "Q2"}, job.Spec.Queries)

	rec := s.do(http.MethodGet, "/api/v1/reports/"+id+"/summaries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sums struct {
		Batches []model.BatchResult `json:"batches"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
	require.Equal(t, 2, sums.Count)
	require.Len(t, sums.Batches[0].Summaries, 3)
	assert.Equal(t, int64(1), sums.Batches[0].Summaries[1].RowCount)
	assert.Equal(t, "RATE_LIMITED", sums.Batches[0].Summaries[1].Error)

	errs := s.decode(s.do(http.MethodGet, "/api/v1/reports/"+id+"/errors", nil))
	assert.EqualValues(t, 2, errs["count"])

	logs := s.decode(s.do(http.MethodGet, "/api/v1/reports/"+id+"/logs?stage=collect", nil))
	assert.NotZero(t, logs["count"])

	rec = s.do(http.MethodGet, "/api/v1/reports/"+id+"/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m struct {
		Running bool               `json:"running"`
		Report  pipeline.RunReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.False(t, m.Running)
	assert.Equal(t, 6, m.Report.Streams)
	assert.Equal(t, 2, m.Report.Failed)
	assert.Equal(t, int64(14), m.Report.TotalRows)

	rec = s.do(http.MethodGet, "/api/v1/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []model.JobInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestCreateReport_Invalid(t *testing.T) {
	s := newTestServer(t, scripted())

	rec := s.do(http.MethodPost, "/api/v1/reports", model.ReportJobSpec{Queries: []string{"Q"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least one account")

	rec = httptest.NewRecorder()
	s.r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport_NotFound(t *testing.T) {
	s := newTestServer(t, scripted())
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/reports/missing"},
		{http.MethodGet, "/api/v1/reports/missing/summaries"},
		{http.MethodGet, "/api/v1/reports/missing/metrics"},
		{http.MethodPatch, "/api/v1/reports/missing/cancel"},
		{http.MethodPost, "/api/v1/reports/missing/retry"},
		{http.MethodDelete, "/api/v1/reports/missing"},
		{http.MethodGet, "/api/v1/download/missing/report.csv"},
	} {
		rec := s.do(req.method, req.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.method+" "+req.path)
	}
}

func TestCancelReport(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(2)},
		"200": {Rows: transporttest.Rows(1), Gate: gate},
	})
	s := newTestServer(t, tr)
	id := s.create(model.ReportJobSpec{Queries: []string{"Q1", "Q2"}, Accounts: []string{"100", "200"}})

	require.Eventually(t, func() bool { return len(tr.Spans()) == 2 && tr.Settled() == 1 }, time.Second, time.Millisecond)

	rec := s.do(http.MethodGet, "/api/v1/reports/"+id+"/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, s.decode(rec)["running"])

	rec = s.do(http.MethodPatch, "/api/v1/reports/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelling", s.decode(rec)["status"])

	s.h.Wait()
	assert.Equal(t, model.StatusCancelled, s.job(id).Status)
	assert.Empty(t, s.reg.Running())

	batches, err := store.GetSummaries(id)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].Summaries[0].Succeeded())
	assert.Equal(t, int64(2), batches[0].Summaries[0].RowCount)
	assert.NotEmpty(t, batches[0].Summaries[1].Error)
	assert.True(t, batches[0].Summaries[1].Cancelled())

	rec = s.do(http.MethodGet, "/api/v1/reports/"+id+"/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m struct {
		Running bool               `json:"running"`
		Report  pipeline.RunReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.False(t, m.Running)
	assert.Equal(t, 1, m.Report.Cancelled)
	assert.Equal(t, 1, m.Report.Failed)

	rec = s.do(http.MethodPatch, "/api/v1/reports/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateReport_SharedAccountStreamsDoNotOverlap(t *testing.T) {
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(1), Delay: 50 * time.Millisecond},
	})
	s := newTestServer(t, tr)
	spec := model.ReportJobSpec{Queries: []string{"Q1"}, Accounts: []string{"100"}}
	first, second := s.create(spec), s.create(spec)
	s.h.Wait()

	assert.Equal(t, model.StatusCompleted, s.job(first).Status)
	assert.Equal(t, model.StatusCompleted, s.job(second).Status)

	spans := tr.Spans()
	require.Len(t, spans, 2)
	assert.False(t, spans[1].Start.Before(spans[0].End),
		"account 100 streamed for two jobs at once: %v..%v and %v", spans[0].Start, spans[0].End, spans[1].Start)
}

func TestRetryAfterCancelWaitsForDrainingStream(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	tr := transporttest.New(map[string]transporttest.Script{
		"100": {Rows: transporttest.Rows(1), Gate: gate},
	})
	s := newTestServer(t, tr)
	spec := model.ReportJobSpec{Queries: []string{"Q1"}, Accounts: []string{"100"}}
	first := s.create(spec)
	require.Eventually(t, func() bool { return len(tr.Spans()) == 1 }, time.Second, time.Millisecond)

	second := s.create(spec)
	require.Eventually(t, func() bool { return len(s.reg.Running()) == 2 }, time.Second, time.Millisecond)
	assert.Len(t, tr.Spans(), 1)

	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, "/api/v1/reports/"+first+"/cancel", nil).Code)
	require.Eventually(t, func() bool { return len(tr.Spans()) == 2 }, time.Second, time.Millisecond)

	spans := tr.Spans()
	assert.False(t, spans[1].Start.Before(spans[0].End))
	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, "/api/v1/reports/"+second+"/cancel", nil).Code)
	s.h.Wait()
}

func TestCancelReport_NotRunningHere(t *testing.T) {
	s := newTestServer(t, scripted())
	require.NoError(t, store.SaveJob("stale", reportSpec()))

	rec := s.do(http.MethodPatch, "/api/v1/reports/stale/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusCancelled, s.decode(rec)["status"])
	assert.Equal(t, model.StatusCancelled, s.job("stale").Status)
}

func TestRetryReport(t *testing.T) {
	tr := scripted()
	s := newTestServer(t, tr)
	id := s.create(reportSpec())
	s.h.Wait()

	tr.SetQueryScript("Q1", "200", transporttest.Script{Rows: transporttest.Rows(3)})
	tr.SetQueryScript("Q2", "200", transporttest.Script{Rows: transporttest.Rows(3)})

	rec := s.do(http.MethodPost, "/api/v1/reports/"+id+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := s.decode(rec)
	assert.Equal(t, id, body["parent_id"])
	assert.Equal(t, []interface{}{"200"}, body["accounts"])
	retryID := body["job_id"].(string)
	s.h.Wait()

	retried := s.job(retryID)
	assert.Equal(t, model.StatusCompleted, retried.Status)
	assert.Equal(t, []string{"200"}, retried.Spec.Accounts)

	batches, err := store.GetSummaries(retryID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, b := range batches {
		require.Len(t, b.Summaries, 1)
		assert.True(t, b.Summaries[0].Succeeded())
	}

	rec = s.do(http.MethodPost, "/api/v1/reports/"+retryID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryReport_StillRunning(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	s := newTestServer(t, transporttest.New(map[string]transporttest.Script{"100": {Gate: gate}}))
	id := s.create(model.ReportJobSpec{Queries: []string{"Q"}, Accounts: []string{"100"}})
	require.Eventually(t, func() bool { return len(s.reg.Running()) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/reports/"+id+"/retry", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/v1/reports/"+id, nil).Code)
}

func TestDownloadAndDeleteReport(t *testing.T) {
	s := newTestServer(t, scripted())
	spec := reportSpec()
	spec.Export = &model.Export{File: "report.csv", RowsFile: "rows.json"}
	id := s.create(spec)
	s.h.Wait()
	require.Equal(t, model.StatusCompleted, s.job(id).Status)

	rec := s.do(http.MethodGet, "/api/v1/download/"+id+"/report.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")

	rec = s.do(http.MethodGet, "/api/v1/download/"+id+"/rows.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "export_info")

	rec = s.do(http.MethodDelete, "/api/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, s.decode(rec)["files_deleted"])
	assert.NoDirExists(t, filepath.Join(s.outputs, id))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/reports/"+id, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, scripted())
	s.create(reportSpec())
	s.h.Wait()

	rec := s.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", s.decode(rec)["status"])

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report_streams_started_total 6")
	assert.Contains(t, rec.Body.String(), `report_streams_failed_total{reason="stream"} 2`)
}

func TestSwaggerDoc(t *testing.T) {
	s := newTestServer(t, scripted())
	rec := s.do(http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/reports/{id}/cancel")
}

func TestSwaggerDoc_CoversRoutes(t *testing.T) {
	s := newTestServer(t, scripted())
	rec := s.do(http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Paths map[string]map[string]interface{} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	documented := map[string]bool{}
	for path, ops := range doc.Paths {
		segs := strings.Split(path, "/")
		for i, seg := range segs {
			if strings.HasPrefix(seg, "{") {
				segs[i] = "*"
			}
		}
		for method := range ops {
			documented[strings.ToUpper(method)+" /api/v1"+strings.Join(segs, "/")] = true
		}
	}
	for _, p := range s.r.Patterns() {
		assert.True(t, documented[p], "route %s missing from the swagger document", p)
	}
	assert.Len(t, documented, len(s.r.Patterns()))
}

// Package handler implements the report HTTP API.
package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"go-report-pipeline/internal/collector"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/transport"
	"go-report-pipeline/pkg/router"
	"go-report-pipeline/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler serves the report endpoints. Jobs it starts run in the
// background and are tracked in Registry. They share one exclusive
// transport, so an account never has streams of two jobs open at once.
type Handler struct {
	Transport transport.Transport
	Registry  *pipeline.Registry
	Metrics   *collector.Metrics
	Outputs   *utils.OutputManager
	Logger    log.Logger

	wg sync.WaitGroup
}

// New returns a handler submitting through transport.Exclusive(tr). A nil
// logger discards logs.
func New(tr transport.Transport, reg *pipeline.Registry, metrics *collector.Metrics, outputs *utils.OutputManager, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		Transport: transport.Exclusive(tr),
		Registry:  reg,
		Metrics:   metrics,
		Outputs:   outputs,
		Logger:    logger,
	}
}

// Wait blocks until every job started by the handler has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// start runs a saved job in the background.
func (h *Handler) start(jobID string, spec model.ReportJobSpec) {
	ctx, cancel := context.WithCancel(context.Background())
	tracker := pipeline.NewRunTracker(jobID, len(spec.Queries))
	h.Registry.Register(jobID, cancel, tracker)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.Registry.Remove(jobID)
		defer cancel()

		_, err := pipeline.RunJob(ctx, jobID, spec, pipeline.Deps{
			Transport: h.Transport,
			Logger:    h.Logger,
			Metrics:   h.Metrics,
			Outputs:   h.Outputs,
			Tracker:   tracker,
			Persist:   true,
		})
		if err != nil {
			level.Warn(h.Logger).Log("msg", "report job finished with error", "job", jobID, "err", err)
			return
		}
		level.Info(h.Logger).Log("msg", "report job completed", "job", jobID)
	}()
}

// CreateReport creates a new report job
// @Summary Create a new report job
// @Description Validate the job, store it and start collecting in the background
// @Tags reports
// @Accept json
// @Produce json
// @Param report body model.ReportJobSpec true "Report job configuration"
// @Success 202 {object} map[string]interface{} "Report job accepted"
// @Failure 400 {object} map[string]interface{} "Invalid request payload"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports [post]
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var spec model.ReportJobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if _, err := pipeline.ValidateJob(spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	if err := store.SaveJob(jobID, spec); err != nil {
		level.Error(h.Logger).Log("msg", "failed to save job", "job", jobID, "err", err)
		http.Error(w, "Failed to save job", http.StatusInternalServerError)
		return
	}
	h.start(jobID, spec)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "Report job created successfully!",
		"jobID":     jobID,
		"status":    model.StatusPending,
		"createdAt": time.Now().UTC(),
	})
}

// ListReports lists every report job
// @Summary List report jobs
// @Tags reports
// @Produce json
// @Success 200 {array} model.JobInfo "List of report jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports [get]
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	jobs, err := store.ListJobs()
	if err != nil {
		http.Error(w, "Failed to fetch reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetReport returns one report job
// @Summary Get report job
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} model.JobInfo "Report job"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Router /reports/{id} [get]
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetReportSummaries returns the per-account summaries of every joined batch
// @Summary Get report summaries
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} map[string]interface{} "Batches with their summaries"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id}/summaries [get]
func (h *Handler) GetReportSummaries(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	batches, err := store.GetSummaries(job.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve summaries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  job.ID,
		"batches": batches,
		"count":   len(batches),
	})
}

// GetReportErrors returns the errors recorded for a job
// @Summary Get report errors
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} map[string]interface{} "Report errors"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id}/errors [get]
func (h *Handler) GetReportErrors(w http.ResponseWriter, r *http.Request) {
	jobID := router.Wildcard(r, 0)
	errs, err := store.GetJobErrors(jobID)
	if err != nil {
		http.Error(w, "Failed to retrieve errors", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"errors": errs,
		"count":  len(errs),
	})
}

// GetReportLogs returns the stage logs of a job
// @Summary Get report logs
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Param stage query string false "Only logs of this stage (collect, export, ...)"
// @Success 200 {object} map[string]interface{} "Report logs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id}/logs [get]
func (h *Handler) GetReportLogs(w http.ResponseWriter, r *http.Request) {
	jobID := router.Wildcard(r, 0)
	stage := r.URL.Query().Get("stage")
	logs, err := store.GetPipelineLogs(jobID, stage)
	if err != nil {
		http.Error(w, "Failed to retrieve logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"stage":  stage,
		"logs":   logs,
		"count":  len(logs),
	})
}

// GetReportMetrics returns live metrics of a running job, or the aggregate
// of the stored summaries once it has finished
// @Summary Get report metrics
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} map[string]interface{} "Report metrics"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id}/metrics [get]
func (h *Handler) GetReportMetrics(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if tracker, running := h.Registry.Tracker(job.ID); running {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":  job.ID,
			"running": true,
			"metrics": tracker.GetMetrics(),
		})
		return
	}

	batches, err := store.GetSummaries(job.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  job.ID,
		"running": false,
		"status":  job.Status,
		"report":  pipeline.AggregateRun(batches),
	})
}

// CancelReport cancels a running report job
// @Summary Cancel report job
// @Description Cancel a running job. Summaries of streams that already finished are kept.
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} map[string]interface{} "Cancellation requested"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Failure 409 {object} map[string]interface{} "Report job already finished"
// @Router /reports/{id}/cancel [patch]
func (h *Handler) CancelReport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if model.Terminal(job.Status) {
		http.Error(w, fmt.Sprintf("Job is already %s and cannot be cancelled", job.Status), http.StatusConflict)
		return
	}

	status := "cancelling"
	if !h.Registry.Cancel(job.ID) {
		// Not running in this process, e.g. left over from a restart.
		if err := store.UpdateJobStatus(job.ID, model.StatusCancelled); err != nil {
			http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
			return
		}
		status = model.StatusCancelled
	}
	if err := store.SavePipelineLog(job.ID, "pipeline", "info", "Report job cancelled by user", map[string]interface{}{
		"cancelled_at":    time.Now().UTC(),
		"previous_status": job.Status,
	}); err != nil {
		level.Warn(h.Logger).Log("msg", "failed to save pipeline log", "job", job.ID, "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Report job cancellation requested",
		"job_id":  job.ID,
		"status":  status,
	})
}

// RetryReport reruns the failed accounts of a finished job as a new job
// @Summary Retry failed accounts
// @Description Start a new job running the queries that had failures against the accounts that failed
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 202 {object} map[string]interface{} "Retry started"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Failure 409 {object} map[string]interface{} "Report job still running or nothing to retry"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id}/retry [post]
func (h *Handler) RetryReport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if !model.Terminal(job.Status) {
		http.Error(w, fmt.Sprintf("Job is %s, retry once it has finished", job.Status), http.StatusConflict)
		return
	}
	batches, err := store.GetSummaries(job.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve summaries", http.StatusInternalServerError)
		return
	}
	spec, ok := pipeline.RetrySpec(job.Spec, batches)
	if !ok {
		http.Error(w, "No failed accounts to retry", http.StatusConflict)
		return
	}

	retryID := uuid.New().String()
	if err := store.SaveJob(retryID, spec); err != nil {
		http.Error(w, "Failed to save job", http.StatusInternalServerError)
		return
	}
	if err := store.SavePipelineLog(job.ID, "retry", "info", "Retry started", map[string]interface{}{
		"retry_job_id": retryID,
		"queries":      len(spec.Queries),
		"accounts":     spec.Accounts,
	}); err != nil {
		level.Warn(h.Logger).Log("msg", "failed to save pipeline log", "job", job.ID, "err", err)
	}
	h.start(retryID, spec)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "Retry initiated",
		"job_id":    retryID,
		"parent_id": job.ID,
		"queries":   spec.Queries,
		"accounts":  spec.Accounts,
		"status":    model.StatusPending,
	})
}

// DeleteReport deletes a finished job and its output files
// @Summary Delete report job
// @Tags reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} map[string]interface{} "Report job deleted"
// @Failure 404 {object} map[string]interface{} "Report job not found"
// @Failure 409 {object} map[string]interface{} "Report job still running"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /reports/{id} [delete]
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	jobID := router.Wildcard(r, 0)
	if _, running := h.Registry.Tracker(jobID); running {
		http.Error(w, "Job is running, cancel it first", http.StatusConflict)
		return
	}
	if err := store.DeleteJob(jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete job from database", http.StatusInternalServerError)
		return
	}

	filesDeleted := false
	if h.Outputs != nil {
		jobDir := filepath.Join(h.Outputs.BaseOutputDir, filepath.Base(jobID))
		if _, err := os.Stat(jobDir); err == nil {
			if err := os.RemoveAll(jobDir); err != nil {
				level.Warn(h.Logger).Log("msg", "failed to delete job directory", "dir", jobDir, "err", err)
			} else {
				filesDeleted = true
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Report job deleted successfully",
		"job_id":        jobID,
		"files_deleted": filesDeleted,
	})
}

// DownloadFile serves an output file of a job
// @Summary Download file
// @Description Download an export written for a report job
// @Tags files
// @Produce application/octet-stream
// @Param jobID path string true "Job ID"
// @Param filename path string true "File name"
// @Success 200 {file} file "File download"
// @Failure 404 {object} map[string]interface{} "File not found"
// @Router /download/{jobID}/{filename} [get]
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if h.Outputs == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	jobID, fileName := router.Wildcard(r, 0), router.Wildcard(r, 1)
	path, err := h.Outputs.LookupFile(jobID, fileName)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	contentType := "text/csv"
	if utils.GetFileType(fileName) == utils.FileTypeJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

// Health reports liveness and the number of running jobs.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": len(h.Registry.Running()),
	})
}

// lookupJob loads the job named by the first path wildcard, writing the
// error response itself when that fails.
func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request) (model.JobInfo, bool) {
	jobID := router.Wildcard(r, 0)
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return model.JobInfo{}, false
	}
	job, err := store.GetJob(jobID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return model.JobInfo{}, false
	}
	if err != nil {
		level.Error(h.Logger).Log("msg", "failed to load job", "job", jobID, "err", err)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return model.JobInfo{}, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

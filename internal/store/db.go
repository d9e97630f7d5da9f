package store

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"go-report-pipeline/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var db *sql.DB

// ErrNotInitialized is returned when InitDB has not been called.
var ErrNotInitialized = errors.New("store not initialized")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		spec TEXT,
		status TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS report_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT,
		error_message TEXT,
		created_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS report_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT,
		stage TEXT,
		level TEXT,
		message TEXT,
		details TEXT,
		created_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT,
		batch_index INTEGER,
		query TEXT,
		account_id TEXT,
		row_count INTEGER,
		error_message TEXT,
		cancelled INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		finished_at DATETIME
	);`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_job ON summaries (job_id, batch_index);`,
}

// Initialize DB connection
func InitDB(dbPath string) error {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", dbPath)
	}
	// sqlite allows one writer; batch handlers write from the run goroutine
	// while the API reads.
	conn.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return errors.Wrap(err, "create schema")
		}
	}
	db = conn
	return nil
}

// Close closes the DB connection
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

func handle() (*sql.DB, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db, nil
}

// SaveJob stores a new report job
func SaveJob(jobID string, spec model.ReportJobSpec) error {
	d, err := handle()
	if err != nil {
		return err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = d.Exec(`INSERT INTO reports (id, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, string(specJSON), model.StatusPending, now, now)
	return err
}

// SaveJobError records an error for a job
func SaveJobError(jobID string, err error) error {
	if err == nil {
		return nil
	}
	d, e := handle()
	if e != nil {
		return e
	}
	now := time.Now().UTC()
	_, e = d.Exec(`INSERT INTO report_errors (job_id, error_message, created_at) VALUES (?, ?, ?)`,
		jobID, err.Error(), now)
	return e
}

// GetJobErrors returns a job's errors, oldest first
func GetJobErrors(jobID string) ([]model.ErrorDetail, error) {
	d, err := handle()
	if err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT id, error_message, created_at FROM report_errors WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ErrorDetail{}
	for rows.Next() {
		e := model.ErrorDetail{JobID: jobID}
		if err := rows.Scan(&e.ID, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePipelineLog stores one log line of a job stage
func SavePipelineLog(jobID, stage, level, message string, details map[string]interface{}) error {
	d, err := handle()
	if err != nil {
		return err
	}
	var detailsJSON []byte
	if details != nil {
		if detailsJSON, err = json.Marshal(details); err != nil {
			return err
		}
	}
	_, err = d.Exec(`INSERT INTO report_logs (job_id, stage, level, message, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, stage, level, message, string(detailsJSON), time.Now().UTC())
	return err
}

// GetPipelineLogs returns a job's logs, oldest first. An empty stage matches
// every stage.
func GetPipelineLogs(jobID, stage string) ([]model.LogEntry, error) {
	d, err := handle()
	if err != nil {
		return nil, err
	}
	q := `SELECT id, stage, level, message, details, created_at FROM report_logs WHERE job_id = ?`
	args := []interface{}{jobID}
	if stage != "" {
		q += ` AND stage = ?`
		args = append(args, stage)
	}
	rows, err := d.Query(q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LogEntry{}
	for rows.Next() {
		var details string
		e := model.LogEntry{JobID: jobID}
		if err := rows.Scan(&e.ID, &e.Stage, &e.Level, &e.Message, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, errors.Wrapf(err, "log %d details", e.ID)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSummaries stores every summary of one batch in a single transaction
func SaveSummaries(jobID string, batch model.BatchResult) error {
	d, err := handle()
	if err != nil {
		return err
	}
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO summaries (job_id, batch_index, query, account_id, row_count, error_message, cancelled, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range batch.Summaries {
		if _, err := stmt.Exec(jobID, batch.Index, string(s.Query), string(s.AccountID), s.RowCount, s.Error, s.Cancelled(), s.StartedAt.UTC(), s.FinishedAt.UTC()); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "save summary of account %s", s.AccountID)
		}
	}
	return tx.Commit()
}

// GetSummaries returns a job's stored batches in query order. Stored
// summaries carry the error text and the cancelled flag, not Err.
func GetSummaries(jobID string) ([]model.BatchResult, error) {
	d, err := handle()
	if err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT batch_index, query, account_id, row_count, error_message, cancelled, started_at, finished_at
		FROM summaries WHERE job_id = ? ORDER BY batch_index, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.BatchResult{}
	for rows.Next() {
		var (
			index int
			s     model.ResultSummary
			query string
			acct  string
		)
		if err := rows.Scan(&index, &query, &acct, &s.RowCount, &s.Error, &s.Interrupted, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, err
		}
		s.Query = model.QueryText(query)
		s.AccountID = model.AccountID(acct)

		if n := len(out); n == 0 || out[n-1].Index != index {
			out = append(out, model.BatchResult{Index: index, Query: s.Query, StartedAt: s.StartedAt})
		}
		b := &out[len(out)-1]
		b.Summaries = append(b.Summaries, s)
		if s.StartedAt.Before(b.StartedAt) {
			b.StartedAt = s.StartedAt
		}
		if s.FinishedAt.After(b.FinishedAt) {
			b.FinishedAt = s.FinishedAt
		}
	}
	return out, rows.Err()
}

// ListJobs returns all jobs with basic info
func ListJobs() ([]model.JobInfo, error) {
	d, err := handle()
	if err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT id, status, created_at, updated_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []model.JobInfo{}
	for rows.Next() {
		var j model.JobInfo
		if err := rows.Scan(&j.ID, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJob fetches full job spec and status. A missing job returns
// sql.ErrNoRows.
func GetJob(jobID string) (model.JobInfo, error) {
	d, err := handle()
	if err != nil {
		return model.JobInfo{}, err
	}
	var specJSON string
	j := model.JobInfo{ID: jobID}
	err = d.QueryRow(`SELECT spec, status, created_at, updated_at FROM reports WHERE id = ?`, jobID).
		Scan(&specJSON, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return model.JobInfo{}, err
	}
	if err := json.Unmarshal([]byte(specJSON), &j.Spec); err != nil {
		return model.JobInfo{}, errors.Wrapf(err, "decode spec of job %s", jobID)
	}
	return j, nil
}

// UpdateJobStatus updates job status
func UpdateJobStatus(jobID string, status string) error {
	d, err := handle()
	if err != nil {
		return err
	}
	_, err = d.Exec(`UPDATE reports SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), jobID)
	return err
}

// DeleteJob removes a job and everything recorded for it
func DeleteJob(jobID string) error {
	d, err := handle()
	if err != nil {
		return err
	}
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	for _, table := range []string{"summaries", "report_logs", "report_errors"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE job_id = ?`, jobID); err != nil {
			tx.Rollback()
			return err
		}
	}
	res, err := tx.Exec(`DELETE FROM reports WHERE id = ?`, jobID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	return tx.Commit()
}

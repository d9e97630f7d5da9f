package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExportResult represents the result of an export operation
type ExportResult struct {
	Type        string    `json:"type"` // "summaries", "rows"
	Format      string    `json:"format"`
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	Bytes       int64     `json:"bytes"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ExportedAt  time.Time `json:"exported_at"`
}

// Exporter writes the results of one job to the files of its export spec.
type Exporter struct {
	JobID   string
	Spec    *model.Export
	Outputs *utils.OutputManager // nil writes to the spec paths as given
	Out     io.Writer            // console lines; nil discards them
}

var summaryHeader = []string{"batch_index", "query", "account_id", "row_count", "success", "error", "started_at", "finished_at"}

var rowHeader = []string{
	"query", "account_id",
	"keyword_plan_id", "keyword_plan_campaign_id", "keyword_plan_ad_group_id",
	"keyword_plan_ad_group_keyword_id", "keyword_plan_ad_group_keyword_text",
}

// Export writes summaries to Spec.File and rows to Spec.RowsFile, each when
// set. A failed export is reported in its result, never returned.
func (e *Exporter) Export(batches []model.BatchResult, rows []KeywordRow) []ExportResult {
	if e.Spec == nil {
		return nil
	}
	var results []ExportResult
	if e.Spec.File != "" {
		n := 0
		for _, b := range batches {
			n += len(b.Summaries)
		}
		results = append(results, e.exportFile("summaries", e.Spec.File, n,
			func(w io.Writer) error { return writeSummariesCSV(w, batches) },
			func() interface{} { return batches }))
	}
	if e.Spec.RowsFile != "" {
		results = append(results, e.exportFile("rows", e.Spec.RowsFile, len(rows),
			func(w io.Writer) error { return writeRowsCSV(w, rows) },
			func() interface{} { return rows }))
	}
	return results
}

func (e *Exporter) exportFile(kind, file string, count int, csvFn func(io.Writer) error, data func() interface{}) ExportResult {
	format := utils.GetFileType(file)
	result := ExportResult{
		Type:        kind,
		Format:      format,
		RecordCount: count,
		ExportedAt:  time.Now(),
	}

	path, err := e.resolvePath(file)
	if err == nil {
		result.Path = path
		switch format {
		case utils.FileTypeJSON:
			err = writeFile(path, func(w io.Writer) error { return e.writeJSON(w, kind, count, data()) })
		default:
			err = writeFile(path, csvFn)
		}
	}
	if err == nil {
		result.Bytes, err = utils.GetFileSize(path)
	}

	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		e.printf("❌ Export of %s failed: %v\n", kind, err)
	} else {
		e.printf("✅ Exported %d %s to %s (%s)\n", count, kind, path, format)
	}
	return result
}

func (e *Exporter) resolvePath(file string) (string, error) {
	om := e.Outputs
	if e.Spec.Dir != "" {
		om = utils.NewOutputManager(e.Spec.Dir)
	}
	if om != nil {
		return om.GetOutputFilePath(e.JobID, file)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return file, nil
}

func (e *Exporter) printf(format string, args ...interface{}) {
	if e.Out != nil {
		fmt.Fprintf(e.Out, format, args...)
	}
}

func writeFile(path string, fn func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (e *Exporter) writeJSON(w io.Writer, kind string, count int, data interface{}) error {
	exportData := map[string]interface{}{
		"export_info": map[string]interface{}{
			"job_id":       e.JobID,
			"exported_at":  time.Now().UTC(),
			"record_count": count,
			"export_type":  kind,
		},
		"data": data,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeSummariesCSV(w io.Writer, batches []model.BatchResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(summaryHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, b := range batches {
		for _, s := range b.Summaries {
			row := []string{
				strconv.Itoa(b.Index),
				string(s.Query),
				string(s.AccountID),
				strconv.FormatInt(s.RowCount, 10),
				strconv.FormatBool(s.Succeeded()),
				s.Error,
				s.StartedAt.UTC().Format(time.RFC3339Nano),
				s.FinishedAt.UTC().Format(time.RFC3339Nano),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeRowsCSV(w io.Writer, rows []KeywordRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(rowHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			string(r.Query),
			string(r.AccountID),
			strconv.FormatInt(r.PlanID, 10),
			strconv.FormatInt(r.CampaignID, 10),
			strconv.FormatInt(r.AdGroupID, 10),
			strconv.FormatInt(r.KeywordID, 10),
			r.Text,
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Export formats understood by GetFileType.
const (
	FileTypeCSV  = "csv"
	FileTypeJSON = "json"
)

// OutputManager places job outputs under one base directory, one
// subdirectory per job.
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{BaseOutputDir: baseOutputDir}
}

// CreateJobOutputDir creates the directory holding a job's outputs
func (om *OutputManager) CreateJobOutputDir(jobID string) (string, error) {
	jobDir := filepath.Join(om.BaseOutputDir, filepath.Base(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job output directory: %w", err)
	}
	return jobDir, nil
}

// GetOutputFilePath returns where fileName of jobID is written. Any
// directories in fileName are dropped.
func (om *OutputManager) GetOutputFilePath(jobID, fileName string) (string, error) {
	jobDir, err := om.CreateJobOutputDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(jobDir, filepath.Base(fileName)), nil
}

// LookupFile returns the path of an existing output file of jobID.
func (om *OutputManager) LookupFile(jobID, fileName string) (string, error) {
	path := filepath.Join(om.BaseOutputDir, filepath.Base(jobID), filepath.Base(fileName))
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

// GetDownloadURL generates the API download URL of an output file
func (om *OutputManager) GetDownloadURL(jobID, fileName string) string {
	return fmt.Sprintf("/api/v1/download/%s/%s", jobID, filepath.Base(fileName))
}

// GetFileType determines the export format from the extension. Anything
// that is not JSON is written as CSV.
func GetFileType(fileName string) string {
	if strings.ToLower(filepath.Ext(fileName)) == ".json" {
		return FileTypeJSON
	}
	return FileTypeCSV
}

// GetFileSize returns the size of a file in bytes
func GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// EnsureOutputDirExists ensures the base output directory exists
func (om *OutputManager) EnsureOutputDirExists() error {
	return os.MkdirAll(om.BaseOutputDir, 0o755)
}

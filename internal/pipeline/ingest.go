package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// accountHeaders are first-row cells that mark a CSV header.
var accountHeaders = map[string]bool{
	"account_id":  true,
	"account":     true,
	"customer_id": true,
}

// LoadAccounts reads account ids from a file. JSON files hold an array of
// ids; anything else is read as CSV whose first column is the id, with an
// optional header row. Blank lines and lines starting with '#' are skipped.
func LoadAccounts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeAccountsJSON(f)
	}
	return decodeAccountsCSV(f)
}

func decodeAccountsJSON(r io.Reader) ([]string, error) {
	var raw []interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode accounts JSON: %w", err)
	}
	out := make([]string, 0, len(raw))
	for i, v := range raw {
		switch id := v.(type) {
		case string:
			out = append(out, id)
		case float64:
			out = append(out, fmt.Sprintf("%.0f", id))
		default:
			return nil, fmt.Errorf("account #%d: unsupported value %v", i, v)
		}
	}
	return out, nil
}

func decodeAccountsCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var out []string
	for line := 0; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read accounts CSV: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		cell := strings.TrimSpace(rec[0])
		if cell == "" {
			continue
		}
		if line == 0 && accountHeaders[strings.ToLower(cell)] {
			continue
		}
		out = append(out, cell)
	}
	return out, nil
}

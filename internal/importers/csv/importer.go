// Package csv implements the exchange CSV importer:
// a directory of files, schema-validated row by row, tagged with provider
// id "csv". No rate limiting, no network I/O.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/importers"
)

// ProviderID tags every record this importer emits.
const ProviderID = "csv"

// RequiredColumns is the minimal schema a row must satisfy to be emitted.
// Exchanges vary their export columns beyond this; unknown columns are
// carried through in Payload rather than rejected.
var RequiredColumns = []string{"timestamp", "type", "asset", "amount"}

// Importer reads every .csv file (extension matched case-insensitively)
// under a directory tree, in lexical path order.
type Importer struct {
	dir string
	log zerolog.Logger
}

// New constructs an Importer rooted at dir.
func New(dir string, log zerolog.Logger) *Importer {
	return &Importer{dir: dir, log: log.With().Str("component", "csv_importer").Logger()}
}

// Run reads every CSV file under dir and schema-validates each row. A row
// that fails validation is dropped with a diagnostic rather than
// aborting the whole import.
func (imp *Importer) Run() (importers.Result, error) {
	paths, err := listCSVFiles(imp.dir)
	if err != nil {
		return importers.Result{}, fmt.Errorf("csv importer: %w", err)
	}

	var result importers.Result
	recordIndex := 0
	for _, path := range paths {
		if err := imp.readFile(path, &result, &recordIndex); err != nil {
			return importers.Result{}, fmt.Errorf("csv importer: reading %s: %w", path, err)
		}
	}
	return result, nil
}

func listCSVFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (imp *Importer) readFile(path string, result *importers.Result, recordIndex *int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("empty or unreadable header: %w", err)
	}
	columnIndex := make(map[string]int, len(header))
	for i, col := range header {
		columnIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Malformed rows are collected, not fatal.
			result.Issues = append(result.Issues, importers.ValidationIssue{RecordIndex: *recordIndex, Reason: err.Error()})
			*recordIndex++
			continue
		}

		if missing := missingColumns(columnIndex, RequiredColumns); len(missing) > 0 {
			result.Issues = append(result.Issues, importers.ValidationIssue{
				RecordIndex: *recordIndex,
				Reason:      fmt.Sprintf("missing required columns: %v", missing),
			})
			*recordIndex++
			continue
		}

		payload := make(map[string]any, len(header))
		for col, idx := range columnIndex {
			if idx < len(row) {
				payload[col] = row[idx]
			}
		}
		result.Records = append(result.Records, importers.RawRecord{
			ProviderID: ProviderID,
			Payload:    payload,
		})
		*recordIndex++
	}
	return nil
}

func missingColumns(have map[string]int, required []string) []string {
	var missing []string
	for _, col := range required {
		if _, ok := have[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// Package dataset provides the read_dataset tool: it loads a CSV or XLSX
// file and returns a structured profile — shape, per-column types and
// samples, missing-value ratio, and a short preview. Profiling is
// idempotent and read-only.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	analyst "github.com/nevindra/analyst"
)

const (
	previewRows   = 5
	maxCellSample = 40
)

// Tool implements the read_dataset tool and the analyst.DatasetProfiler
// used by strategies for the initial exploration pass.
type Tool struct{}

// compile-time checks
var (
	_ analyst.Tool            = (*Tool)(nil)
	_ analyst.DatasetProfiler = (*Tool)(nil)
)

// New creates the dataset tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Definitions() []analyst.ToolDefinition {
	return []analyst.ToolDefinition{
		{
			Name:        "read_dataset",
			Description: "Read the session dataset and return a structured summary: row and column counts, per-column name/dtype/sample, numeric column statistics, missing-value ratio, and a short preview.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file_path": {
						"type": "string",
						"description": "Path or filename of the dataset to read"
					},
					"sheet_name": {
						"type": "string",
						"description": "Worksheet name for spreadsheet files (defaults to the first sheet)"
					}
				},
				"required": ["file_path"]
			}`),
		},
	}
}

type readArgs struct {
	FilePath  string `json:"file_path"`
	SheetName string `json:"sheet_name,omitempty"`
}

func (t *Tool) Execute(ctx context.Context, sess *analyst.Session, name string, args json.RawMessage) (analyst.ToolResult, error) {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: "bad arguments: " + err.Error()}).Error()}, nil
	}

	// Only the session's own dataset is accessible; any spelling of its
	// name or conventional path resolves to it.
	if !refersToSessionDataset(a.FilePath, sess.Dataset) {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: fmt.Sprintf("unknown file %q; only the session dataset %q is accessible", a.FilePath, sess.Dataset.Name)}).Error()}, nil
	}

	profile, err := t.Profile(ctx, sess.Dataset, a.SheetName)
	if err != nil {
		return analyst.ToolResult{Error: err.Error()}, nil
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return analyst.ToolResult{}, fmt.Errorf("marshal profile: %w", err)
	}
	return analyst.ToolResult{Content: string(payload)}, nil
}

// refersToSessionDataset accepts the dataset's real path, its original
// filename, or the conventional sandbox name dataset.<ext>.
func refersToSessionDataset(path string, d analyst.Dataset) bool {
	if path == "" || path == d.Path {
		return true
	}
	base := filepath.Base(path)
	return base == d.Name || base == filepath.Base(d.Path) || base == "dataset."+d.Ext
}

// Profile loads the dataset and computes its structured summary.
func (t *Tool) Profile(ctx context.Context, d analyst.Dataset, sheetName string) (*analyst.DatasetProfile, error) {
	var (
		tbl   *table
		err   error
		sheet string
	)
	switch d.Ext {
	case "csv":
		tbl, err = loadCSV(d.Path)
	case "xlsx":
		tbl, sheet, err = loadXLSX(d.Path, sheetName)
	default:
		return nil, &analyst.ErrUnsupportedFormat{Ext: d.Ext}
	}
	if err != nil {
		return nil, err
	}

	profile := &analyst.DatasetProfile{
		Rows:  len(tbl.rows),
		Cols:  len(tbl.headers),
		Sheet: sheet,
	}

	totalCells := len(tbl.rows) * len(tbl.headers)
	missingTotal := 0
	numericIdx := make(map[int]bool)

	for i, h := range tbl.headers {
		col := analyst.ColumnProfile{Name: h}
		values := tbl.column(i)
		col.DType, col.Missing = inferDType(values)
		col.Sample = sampleValue(values)
		missingTotal += col.Missing
		if col.DType == "integer" || col.DType == "float" {
			numericIdx[i] = true
		}
		profile.Columns = append(profile.Columns, col)
	}
	if totalCells > 0 {
		profile.MissingRatio = float64(missingTotal) / float64(totalCells)
	}

	if len(numericIdx) > 0 {
		stats, err := numericStats(ctx, tbl, numericIdx)
		if err == nil {
			for i := range profile.Columns {
				if s, ok := stats[i]; ok {
					profile.Columns[i].Min = s.min
					profile.Columns[i].Max = s.max
					profile.Columns[i].Mean = s.mean
				}
			}
		}
		// SQL profiling is best-effort; the structural summary stands
		// without it.
	}

	profile.Preview = tbl.preview(previewRows)
	return profile, nil
}

// sampleValue returns the first non-empty value, truncated.
func sampleValue(values []string) string {
	for _, v := range values {
		if v != "" {
			if len(v) > maxCellSample {
				return v[:maxCellSample] + "…"
			}
			return v
		}
	}
	return ""
}

// preview renders the first n rows as labeled lines:
// "Header1: v1, Header2: v2".
func (t *table) preview(n int) string {
	var lines []string
	for i, row := range t.rows {
		if i >= n {
			break
		}
		var fields []string
		for j, v := range row {
			if j >= len(t.headers) || v == "" {
				continue
			}
			fields = append(fields, t.headers[j]+": "+v)
		}
		if len(fields) > 0 {
			lines = append(lines, strings.Join(fields, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	analyst "github.com/nevindra/analyst"
)

// table is the loaded, header-normalized form of a dataset.
type table struct {
	headers []string
	rows    [][]string
}

// column returns the values of column i across all rows. Short rows yield
// empty strings.
func (t *table) column(i int) []string {
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		if i < len(row) {
			out[r] = strings.TrimSpace(row[i])
		}
	}
	return out
}

// newLooseCSVReader builds a reader tolerant of real-world CSV: lazy
// quotes, leading spaces, and ragged row lengths.
func newLooseCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return cr
}

// loadCSV reads a CSV file. First row is treated as headers. Tolerates a
// UTF-8 BOM, lazy quotes, and ragged rows.
func loadCSV(path string) (*table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &analyst.ErrInvalidInput{Reason: "read dataset: " + err.Error()}
	}
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, &analyst.ErrInvalidInput{Reason: "dataset is empty"}
	}

	r := newLooseCSVReader(bytes.NewReader(content))
	headers, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &analyst.ErrInvalidInput{Reason: "dataset is empty"}
		}
		return nil, &analyst.ErrInvalidInput{Reason: "read headers: " + err.Error()}
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &analyst.ErrInvalidInput{Reason: "read row: " + err.Error()}
		}
		rows = append(rows, record)
	}
	return &table{headers: normalizeHeaders(headers), rows: rows}, nil
}

// loadXLSX reads one worksheet of a spreadsheet. An empty sheetName selects
// the first sheet. Returns the resolved sheet name.
func loadXLSX(path, sheetName string) (*table, string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", &analyst.ErrInvalidInput{Reason: "open spreadsheet: " + err.Error()}
	}
	defer f.Close()

	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, "", &analyst.ErrInvalidInput{Reason: "spreadsheet has no sheets"}
		}
		sheetName = sheets[0]
	}

	raw, err := f.GetRows(sheetName)
	if err != nil {
		return nil, "", &analyst.ErrInvalidInput{Reason: fmt.Sprintf("no such sheet %q", sheetName)}
	}
	if len(raw) == 0 {
		return nil, "", &analyst.ErrInvalidInput{Reason: "sheet is empty"}
	}
	return &table{headers: normalizeHeaders(raw[0]), rows: raw[1:]}, sheetName, nil
}

// normalizeHeaders NFC-normalizes and trims column names; blanks get a
// positional fallback.
func normalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(norm.NFC.String(h))
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		out[i] = h
	}
	return out
}

// inferDType classifies a column from its non-empty values and counts the
// empty ones. The ladder is integer → float → boolean → string; a single
// non-conforming value demotes the column.
func inferDType(values []string) (dtype string, missing int) {
	allInt, allFloat, allBool := true, true, true
	seen := 0
	for _, v := range values {
		if v == "" {
			missing++
			continue
		}
		seen++
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			switch strings.ToLower(v) {
			case "true", "false", "yes", "no":
			default:
				allBool = false
			}
		}
	}
	switch {
	case seen == 0:
		return "string", missing
	case allInt:
		return "integer", missing
	case allFloat:
		return "float", missing
	case allBool:
		return "boolean", missing
	default:
		return "string", missing
	}
}

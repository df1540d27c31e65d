package analyst

import (
	"context"
	"fmt"
	"strings"
)

// DatasetProfiler produces a structured summary of a dataset file. The
// tools/dataset package provides the concrete implementation; strategies use
// it for the initial exploration step, and the read_dataset tool reuses it
// for LLM-initiated reads.
type DatasetProfiler interface {
	Profile(ctx context.Context, d Dataset, sheetName string) (*DatasetProfile, error)
}

// ColumnProfile describes one column of a profiled dataset.
type ColumnProfile struct {
	Name    string   `json:"name"`
	DType   string   `json:"dtype"` // "integer", "float", "boolean", "string"
	Sample  string   `json:"sample"`
	Missing int      `json:"missing"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// DatasetProfile is the structured summary returned by read_dataset.
type DatasetProfile struct {
	Rows         int             `json:"total_rows"`
	Cols         int             `json:"total_columns"`
	Columns      []ColumnProfile `json:"columns"`
	MissingRatio float64         `json:"missing_ratio"`
	Preview      string          `json:"preview"`
	Sheet        string          `json:"sheet,omitempty"`
}

// Stats renders the profile as a data_explored event payload.
func (p *DatasetProfile) Stats() map[string]any {
	cols := make([]map[string]any, len(p.Columns))
	for i, c := range p.Columns {
		col := map[string]any{
			"name":   c.Name,
			"dtype":  c.DType,
			"sample": c.Sample,
		}
		if c.Min != nil {
			col["min"] = *c.Min
		}
		if c.Max != nil {
			col["max"] = *c.Max
		}
		if c.Mean != nil {
			col["mean"] = *c.Mean
		}
		cols[i] = col
	}
	return map[string]any{
		"total_rows":    p.Rows,
		"total_columns": p.Cols,
		"columns":       cols,
		"missing_ratio": p.MissingRatio,
	}
}

// Summary renders the profile as prose for the initial user message.
func (p *DatasetProfile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The dataset has %d rows and %d columns (%.1f%% missing values).\n", p.Rows, p.Cols, p.MissingRatio*100)
	b.WriteString("Columns:\n")
	for _, c := range p.Columns {
		fmt.Fprintf(&b, "- %s (%s), e.g. %s", c.Name, c.DType, c.Sample)
		if c.Mean != nil {
			fmt.Fprintf(&b, " [min=%g max=%g mean=%.4g]", *c.Min, *c.Max, *c.Mean)
		}
		b.WriteString("\n")
	}
	if p.Preview != "" {
		b.WriteString("Preview:\n")
		b.WriteString(p.Preview)
	}
	return b.String()
}

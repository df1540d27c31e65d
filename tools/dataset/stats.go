package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// colStats holds the SQL aggregates for one numeric column.
type colStats struct {
	min  *float64
	max  *float64
	mean *float64
}

// numericStats loads the numeric columns into an in-memory SQLite table and
// computes MIN/MAX/AVG per column. Unparseable cells become NULL and fall
// out of the aggregates. The database lives only for this call.
func numericStats(ctx context.Context, tbl *table, numericIdx map[int]bool) (map[int]colStats, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cols := make([]int, 0, len(numericIdx))
	for i := range numericIdx {
		cols = append(cols, i)
	}

	var defs, names, holes []string
	for _, i := range cols {
		name := "c" + strconv.Itoa(i)
		defs = append(defs, name+" REAL")
		names = append(names, name)
		holes = append(holes, "?")
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE data ("+strings.Join(defs, ", ")+")"); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO data ("+strings.Join(names, ", ")+") VALUES ("+strings.Join(holes, ", ")+")")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, row := range tbl.rows {
		vals := make([]any, len(cols))
		for j, i := range cols {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				vals[j] = f
			} else {
				vals[j] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			stmt.Close()
			tx.Rollback()
			return nil, err
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := make(map[int]colStats, len(cols))
	for _, i := range cols {
		name := "c" + strconv.Itoa(i)
		var min, max, mean sql.NullFloat64
		query := fmt.Sprintf("SELECT MIN(%s), MAX(%s), AVG(%s) FROM data", name, name, name)
		if err := db.QueryRowContext(ctx, query).Scan(&min, &max, &mean); err != nil {
			return nil, err
		}
		var s colStats
		if min.Valid {
			v := min.Float64
			s.min = &v
		}
		if max.Valid {
			v := max.Float64
			s.max = &v
		}
		if mean.Valid {
			v := mean.Float64
			s.mean = &v
		}
		out[i] = s
	}
	return out, nil
}

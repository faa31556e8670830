// Package bulkinsert plans multi-row INSERT statements sized to stay
// under an engine's parameter limit. It is pure arithmetic over
// slices, documented in DESIGN.md as the deliberately stdlib-only
// piece of the module — no available library does statement batching,
// and there is nothing here worth reaching for one.
package bulkinsert

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlbridge/sqlbridge/internal/value"
)

// DefaultLimit is the PostgreSQL parameter-count cap ($N parameters
// per statement); callers may pass a different limit for engines with
// a different practical cap.
const DefaultLimit = 60000

// KV is one column/value pair of a dictionary-style row, kept as a
// slice rather than a map so the first row's key order can be used
// verbatim as the canonical column order.
type KV struct {
	Column string
	Value  value.Value
}

// DictRow is one row expressed as ordered column/value pairs.
type DictRow []KV

// Batch is one planned INSERT statement: the rendered SQL (using
// universal "@pN" placeholders) and its ordered binds.
type Batch struct {
	SQL   string
	Binds []value.Value
}

// NormalizeDictionaries derives column order from the first row and
// pads any row missing a column with null, returning positional rows
// in that column order.
func NormalizeDictionaries(rows []DictRow) (columns []string, positional [][]value.Value) {
	if len(rows) == 0 {
		return nil, nil
	}
	for _, kv := range rows[0] {
		columns = append(columns, kv.Column)
	}
	positional = make([][]value.Value, len(rows))
	for i, row := range rows {
		byCol := make(map[string]value.Value, len(row))
		for _, kv := range row {
			byCol[kv.Column] = kv.Value
		}
		vals := make([]value.Value, len(columns))
		for j, col := range columns {
			if v, ok := byCol[col]; ok {
				vals[j] = v
			} else {
				vals[j] = value.Null()
			}
		}
		positional[i] = vals
	}
	return columns, positional
}

// Plan batches rows into statements sized so that batchSize*len(columns)
// never exceeds limit. Empty input yields no batches.
func Plan(table string, columns []string, rows [][]value.Value, limit int) []Batch {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	batchSize := limit / len(columns)
	if batchSize < 1 {
		batchSize = 1
	}

	var batches []Batch
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, buildStatement(table, columns, rows[start:end]))
	}
	return batches
}

// buildStatement renders one INSERT ... VALUES (...),(...),... statement
// over chunk, numbering placeholders sequentially across every row.
func buildStatement(table string, columns []string, chunk [][]value.Value) Batch {
	var sql strings.Builder
	fmt.Fprintf(&sql, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	binds := make([]value.Value, 0, len(chunk)*len(columns))
	n := 0
	for r, row := range chunk {
		if r > 0 {
			sql.WriteString(", ")
		}
		sql.WriteByte('(')
		for c, v := range row {
			if c > 0 {
				sql.WriteString(", ")
			}
			n++
			fmt.Fprintf(&sql, "@p%d", n)
			binds = append(binds, v)
		}
		sql.WriteByte(')')
	}

	return Batch{SQL: sql.String(), Binds: binds}
}

// Execer executes one rendered statement and returns rows affected.
type Execer func(ctx context.Context, sql string, binds []value.Value) (int64, error)

// Execute plans rows into batches and runs each through exec in order,
// returning the sum of rows affected. Empty input returns 0.
func Execute(ctx context.Context, table string, columns []string, rows [][]value.Value, limit int, exec Execer) (int64, error) {
	batches := Plan(table, columns, rows, limit)
	var total int64
	for _, b := range batches {
		n, err := exec(ctx, b.SQL, b.Binds)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

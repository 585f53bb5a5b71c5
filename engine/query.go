package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/orian/viewcount/models"
)

// Query runs sql on the open connection and materializes every row into a
// column-name-keyed map.
func (e *Engine) Query(ctx context.Context, sql string) (*models.QueryResult, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return nil, &models.StateError{Op: "query", Need: "no snapshot is open"}
	}

	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return nil, &models.FormatError{Op: "query", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &models.FormatError{Op: "query columns", Err: err}
	}

	result := &models.QueryResult{Columns: columns, Rows: []map[string]any{}}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))

	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &models.FormatError{Op: "query scan", Err: err}
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = e.convert(values[i])
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.FormatError{Op: "query", Err: err}
	}

	return result, nil
}

func (e *Engine) convert(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	if !e.opts.CastBigIntToDouble {
		return v
	}

	if f, ok := ToFloat(v); ok {
		return f
	}

	return v
}

type float64er interface {
	Float64() float64
}

// ToFloat converts numeric result values to float64. It reports false for
// anything that is not a number.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		if n == nil {
			return 0, false
		}

		f, _ := new(big.Float).SetInt(n).Float64()

		return f, true
	case float64er:
		return n.Float64(), true
	default:
		return 0, false
	}
}

// Tables lists the tables of the open snapshot.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	res, err := e.Query(ctx, "SELECT table_name FROM duckdb_tables() WHERE database_name = current_database() ORDER BY table_name")
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if name, ok := row["table_name"].(string); ok {
			tables = append(tables, name)
		}
	}

	return tables, nil
}

// TableCount returns the number of rows in table.
func (e *Engine) TableCount(ctx context.Context, table string) (int64, error) {
	res, err := e.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", QuoteIdent(table)))
	if err != nil {
		return 0, err
	}

	if len(res.Rows) == 0 {
		return 0, nil
	}

	f, _ := ToFloat(res.Rows[0]["count"])

	return int64(f), nil
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/orian/viewcount/models"
)

// Requirement is a table the viewer reads from a snapshot.
type Requirement struct {
	Table       string
	Columns     []string
	Description string
}

// Requirements returns the snapshot tables the viewer depends on.
func Requirements() []Requirement {
	return []Requirement{
		{
			Table:       "__source__",
			Columns:     []string{"db_key", "screen_name"},
			Description: "group keys and display names",
		},
		{
			Table:       "__title__",
			Columns:     []string{"youtube_id", "cleaned_title"},
			Description: "video titles",
		},
	}
}

// CheckSchema verifies the open snapshot has every required table and
// column. Missing pieces are reported together as a *models.FormatError.
func (e *Engine) CheckSchema(ctx context.Context) error {
	res, err := e.Query(ctx, `
		SELECT table_name, column_name
		FROM duckdb_columns()
		WHERE database_name = current_database()
	`)
	if err != nil {
		return err
	}

	present := make(map[string]map[string]bool)

	for _, row := range res.Rows {
		table, _ := row["table_name"].(string)
		column, _ := row["column_name"].(string)

		if present[table] == nil {
			present[table] = make(map[string]bool)
		}

		present[table][column] = true
	}

	var missing []string

	for _, req := range Requirements() {
		cols, ok := present[req.Table]
		if !ok {
			missing = append(missing, fmt.Sprintf("table %s (%s)", req.Table, req.Description))

			continue
		}

		for _, col := range req.Columns {
			if !cols[col] {
				missing = append(missing, fmt.Sprintf("column %s.%s", req.Table, col))
			}
		}
	}

	if len(missing) == 0 {
		e.logger.Debug("snapshot schema ok", "tables", len(present))

		return nil
	}

	sort.Strings(missing)

	return &models.FormatError{
		Op:  "check schema",
		Err: fmt.Errorf("missing %s", strings.Join(missing, ", ")),
	}
}

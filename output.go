package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/models"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// formatCell renders one query value for table output.
func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}

		return t.Format(time.DateTime)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)

	return table
}

// writeEncoded writes v as JSON or YAML.
func writeEncoded(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// printQueryResult writes res in the given format.
func printQueryResult(w io.Writer, format string, res *models.QueryResult) error {
	if format != formatTable {
		return writeEncoded(w, format, res)
	}

	table := newTable(w, res.Columns)

	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = formatCell(row[col])
		}

		table.Append(cells)
	}

	table.Render()

	return nil
}

// printGroups writes the group listing in the given format.
func printGroups(w io.Writer, format string, groups []models.GroupInfo) error {
	if format != formatTable {
		return writeEncoded(w, format, groups)
	}

	table := newTable(w, []string{"Group", "Name"})
	for _, g := range groups {
		table.Append([]string{g.Name, g.DisplayName})
	}

	table.Render()

	return nil
}

// chartRow is one line of the chart summary.
type chartRow struct {
	Key    string `json:"key" yaml:"key"`
	Name   string `json:"name" yaml:"name"`
	Latest string `json:"latest" yaml:"latest"`
	Delta  string `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// summarizeChart reports each series' value and change at the last day.
func summarizeChart(m *chart.Model) []chartRow {
	last := len(m.Timestamps) - 1
	rows := make([]chartRow, 0, len(m.Series))

	for _, s := range m.Series {
		row := chartRow{Key: s.Key, Name: s.Name, Latest: "-"}

		if last >= 0 && s.Values[last] != nil {
			row.Latest = chart.FormatCount(*s.Values[last])
		}

		if d, ok := m.Delta(s.Name, last); ok {
			row.Delta = chart.FormatDelta(d)
		}

		rows = append(rows, row)
	}

	return rows
}

// printChart writes the chart summary in the given format.
func printChart(w io.Writer, format string, m *chart.Model) error {
	rows := summarizeChart(m)

	if format != formatTable {
		return writeEncoded(w, format, rows)
	}

	if n := len(m.Timestamps); n > 0 {
		fmt.Fprintf(w, "%s: %d days, %s to %s\n", m.Group, n,
			chart.FormatAxisDate(m.Timestamps[0]), chart.FormatAxisDate(m.Timestamps[n-1]))
	}

	table := newTable(w, []string{"Video", "Title", "Views", "Change"})
	for _, r := range rows {
		table.Append([]string{r.Key, r.Name, r.Latest, r.Delta})
	}

	table.Render()

	return nil
}

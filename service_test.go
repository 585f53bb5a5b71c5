package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "state error",
			err:  &models.StateError{Op: "query", Need: models.MsgNoData},
			want: http.StatusConflict,
		},
		{
			name: "wrapped network error",
			err:  fmt.Errorf("check: %w", &models.NetworkError{URL: "http://example.com/date.txt", StatusCode: 503}),
			want: http.StatusBadGateway,
		},
		{
			name: "format error",
			err:  &models.FormatError{Op: "query", Err: errors.New("syntax error")},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "capability error",
			err:  &models.CapabilityError{Reason: "read-only"},
			want: http.StatusServiceUnavailable,
		},
		{
			name: "anything else",
			err:  errors.New("boom"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}
}

func TestChartCache(t *testing.T) {
	c := newChartCache()
	m := &chart.Model{Group: "morning"}

	_, ok := c.get("2024-01-05", "morning")
	assert.False(t, ok)

	c.put("2024-01-05", "morning", m)

	got, ok := c.get("2024-01-05", "morning")
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = c.get("2024-01-06", "morning")
	assert.False(t, ok, "a new snapshot must not reuse old charts")

	_, ok = c.get("2024-01-05", "angerme")
	assert.False(t, ok)

	c.reset()

	_, ok = c.get("2024-01-05", "morning")
	assert.False(t, ok)
}

func TestChartKeyIsUnambiguous(t *testing.T) {
	assert.NotEqual(t, chartKey("a/b", "c"), chartKey("a", "b/c"))
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"x", "x"},
		{float64(1234.5), "1234.5"},
		{float64(3), "3"},
		{int64(7), "7"},
		{time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "2024-01-05"},
		{time.Date(2024, 1, 5, 8, 2, 42, 0, time.UTC), "2024-01-05 08:02:42"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatCell(tt.in), "%v", tt.in)
	}
}

func TestPrintQueryResult(t *testing.T) {
	res := &models.QueryResult{
		Columns: []string{"db_key", "n"},
		Rows: []map[string]any{
			{"db_key": "morning", "n": float64(3)},
			{"db_key": "angerme", "n": nil},
		},
	}

	var table bytes.Buffer
	require.NoError(t, printQueryResult(&table, formatTable, res))
	assert.Contains(t, table.String(), "db_key")
	assert.Contains(t, table.String(), "morning")
	assert.Contains(t, table.String(), "NULL")

	var js bytes.Buffer
	require.NoError(t, printQueryResult(&js, formatJSON, res))

	var decoded models.QueryResult
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, res.Columns, decoded.Columns)

	var ym bytes.Buffer
	require.NoError(t, printQueryResult(&ym, formatYAML, res))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &out))
	assert.Contains(t, out, "columns")

	assert.Error(t, printQueryResult(&bytes.Buffer{}, "xml", res))
}

func TestSummarizeChart(t *testing.T) {
	v := func(f float64) *float64 { return &f }

	m := &chart.Model{
		Group:      "morning",
		Timestamps: []int64{1704067200000, 1704153600000},
		Series: []chart.Series{
			{Key: "vidB", Name: "Song B", Values: []*float64{v(100), v(1150)}},
			{Key: "vidC", Name: "vidC", Values: []*float64{v(10), nil}},
		},
	}

	assert.Equal(t, []chartRow{
		{Key: "vidB", Name: "Song B", Latest: "1,150", Delta: "+1,050/日"},
		{Key: "vidC", Name: "vidC", Latest: "-"},
	}, summarizeChart(m))

	var buf bytes.Buffer
	require.NoError(t, printChart(&buf, formatTable, m))
	assert.Contains(t, buf.String(), "morning: 2 days, 2024/1/1 to 2024/1/2")
	assert.Contains(t, buf.String(), "Song B")
}

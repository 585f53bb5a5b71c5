package chart

import (
	"testing"
	"time"

	"github.com/orian/viewcount/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func twoDayResult() *models.QueryResult {
	return &models.QueryResult{
		Columns: []string{"date", "A", "B"},
		Rows: []map[string]any{
			{"date": day(1), "A": int64(0), "B": int64(100)},
			{"date": day(2), "A": int64(50), "B": int64(150)},
		},
	}
}

func TestBuild(t *testing.T) {
	m, err := Build("g", twoDayResult(), map[string]string{"B": "Song B"})
	require.NoError(t, err)

	assert.Equal(t, "g", m.Group)
	assert.Equal(t, []int64{day(1).UnixMilli(), day(2).UnixMilli()}, m.Timestamps)
	assert.Equal(t, []string{"Song B", "A"}, m.Legend)

	require.Len(t, m.Series, 2)
	assert.Equal(t, "B", m.Series[0].Key)
	assert.Equal(t, "A", m.Series[1].Name, "untitled series keeps its key")

	a := m.Series[1]
	assert.Nil(t, a.Values[0], "zero is absent")
	require.NotNil(t, a.Values[1])
	assert.Equal(t, 50.0, *a.Values[1])

	d, ok := m.Delta("Song B", 1)
	require.True(t, ok)
	assert.Equal(t, "+50/日", FormatDelta(d))

	_, ok = m.Delta("A", 1)
	assert.False(t, ok, "previous point absent")

	_, ok = m.Delta("Song B", 0)
	assert.False(t, ok, "first point")
}

func TestBuildNoRows(t *testing.T) {
	_, err := Build("g", &models.QueryResult{Columns: []string{"date"}}, nil)

	var fmtErr *models.FormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Contains(t, err.Error(), models.MsgNoData)
}

func TestBuildSortIsStableAndNullsRankAsZero(t *testing.T) {
	res := &models.QueryResult{
		Columns: []string{"date", "x", "y", "z", "w"},
		Rows: []map[string]any{
			{"date": day(1), "x": nil, "y": int64(5), "z": nil, "w": int64(0)},
		},
	}

	m, err := Build("g", res, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "z", "w"}, m.Legend)
}

func TestNormalizeTimestamp(t *testing.T) {
	want := int64(1700000000000)

	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"seconds", int64(1700000000), want},
		{"milliseconds", int64(1700000000000), want},
		{"float seconds", 1700000000.0, want},
		{"numeric string", "1700000000", want},
		{"time", time.UnixMilli(want), want},
		{"date string", "2024-01-02", day(2).UnixMilli()},
		{"slash date", "2024/01/02", day(2).UnixMilli()},
		{"rfc3339", "2024-01-02T00:00:00Z", day(2).UnixMilli()},
		{"garbage", "yesterday", 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTimestamp(tt.in))
		})
	}
}

func TestDeltaAcrossGap(t *testing.T) {
	res := &models.QueryResult{
		Columns: []string{"date", "v"},
		Rows: []map[string]any{
			{"date": day(1), "v": int64(1000)},
			{"date": day(4), "v": int64(4702)},
			{"date": day(4), "v": int64(4000)},
		},
	}

	m, err := Build("g", res, nil)
	require.NoError(t, err)

	d, ok := m.Delta("v", 1)
	require.True(t, ok)
	assert.Equal(t, Delta{PerDay: 1234, Days: 3}, d)
	assert.Equal(t, "+1,234 (3日平均)", FormatDelta(d))

	d, ok = m.Delta("v", 2)
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Days, "same timestamp counts as one day")
	assert.Equal(t, "-702/日", FormatDelta(d))
}

func TestKeyForName(t *testing.T) {
	m, err := Build("g", twoDayResult(), map[string]string{"B": "Song B"})
	require.NoError(t, err)

	assert.Equal(t, "B", m.KeyForName("Song B"))
	assert.Equal(t, "A", m.KeyForName("A"))
	assert.Equal(t, "missing", m.KeyForName("missing"))
}

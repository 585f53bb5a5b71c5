package chart

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAxisValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1K"},
		{1500, "2K"},
		{2500, "3K"},
		{15000, "15K"},
		{999_999, "1000K"},
		{1_000_000, "1.0M"},
		{1_234_567, "1.2M"},
		{1_250_000, "1.3M"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAxisValue(tt.in), "%v", tt.in)
	}
}

func TestFormatDates(t *testing.T) {
	assert.Equal(t, "2024/1/2", FormatAxisDate(day(2).UnixMilli()))
	assert.Equal(t, "2024/1/2", FormatTooltipDate(day(2).UnixMilli()))
	assert.Equal(t, "", FormatTooltipDate(0))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatCount(1234567))
	assert.Equal(t, "150", FormatCount(150))
}

type fixedLookup string

func (f fixedLookup) Lookup(id string) string { return string(f) + id }

func TestTooltip(t *testing.T) {
	m, err := Build("g", twoDayResult(), map[string]string{"B": "Song B"})
	require.NoError(t, err)

	tip, ok := m.Tooltip("Song B", 1, fixedLookup("thumb:"))
	require.True(t, ok)
	assert.Equal(t, &Tooltip{
		Date:      "2024/1/2",
		Key:       "B",
		Name:      "Song B",
		Value:     "150",
		Delta:     "+50/日",
		Rising:    true,
		Thumbnail: "thumb:B",
	}, tip)

	tip, ok = m.Tooltip("Song B", 0, nil)
	require.True(t, ok)
	assert.Empty(t, tip.Delta)
	assert.Empty(t, tip.Thumbnail)

	_, ok = m.Tooltip("A", 0, nil)
	assert.False(t, ok, "absent point has no tooltip")

	_, ok = m.Tooltip("A", 5, nil)
	assert.False(t, ok)
}

func TestOptions(t *testing.T) {
	m, err := Build("g", twoDayResult(), nil)
	require.NoError(t, err)

	opts := m.Options()
	assert.Equal(t, []string{"2024/1/1", "2024/1/2"}, opts.XAxis.Labels)
	require.Len(t, opts.Series, 2)

	for _, s := range opts.Series {
		assert.True(t, s.ConnectNulls)
		assert.False(t, s.ShowSymbol)
	}

	b, err := json.Marshal(opts.Series[1].Data)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1704067200000,null],[1704153600000,50]]`, string(b))
}

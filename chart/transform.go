// Package chart turns a group table into a time-series chart model and
// formats the values shown on axes and tooltips.
package chart

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/orian/viewcount/engine"
	"github.com/orian/viewcount/models"
)

const msPerDay = 24 * 60 * 60 * 1000

// Series is one video's view-count history. Values is aligned with
// Model.Timestamps; nil marks an absent point.
type Series struct {
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

// Model is the chart for one group.
type Model struct {
	Group      string   `json:"group"`
	Timestamps []int64  `json:"timestamps"`
	Series     []Series `json:"series"`
	Legend     []string `json:"legend"`
}

// Build converts the rows of a group table into a Model. The first column
// is the date, every other column is a series. Series are ordered by their
// value in the last row, highest first. titles maps series keys to display
// names; keys without a title keep their raw key.
func Build(group string, res *models.QueryResult, titles map[string]string) (*Model, error) {
	if res == nil || len(res.Rows) == 0 || len(res.Columns) == 0 {
		return nil, &models.FormatError{Op: "build chart " + group, Err: errors.New(models.MsgNoData)}
	}

	dateColumn := res.Columns[0]
	keys := append([]string(nil), res.Columns[1:]...)

	last := res.Rows[len(res.Rows)-1]
	sort.SliceStable(keys, func(i, j int) bool {
		return rankValue(last[keys[i]]) > rankValue(last[keys[j]])
	})

	m := &Model{
		Group:      group,
		Timestamps: make([]int64, len(res.Rows)),
		Series:     make([]Series, 0, len(keys)),
		Legend:     make([]string, 0, len(keys)),
	}

	for i, row := range res.Rows {
		m.Timestamps[i] = NormalizeTimestamp(row[dateColumn])
	}

	for _, key := range keys {
		name := key
		if title, ok := titles[key]; ok && title != "" {
			name = title
		}

		values := make([]*float64, len(res.Rows))
		for i, row := range res.Rows {
			values[i] = pointValue(row[key])
		}

		m.Series = append(m.Series, Series{Key: key, Name: name, Values: values})
		m.Legend = append(m.Legend, name)
	}

	return m, nil
}

func rankValue(v any) float64 {
	f, ok := number(v)
	if !ok {
		return 0
	}

	return f
}

// pointValue treats null and zero as absent.
func pointValue(v any) *float64 {
	f, ok := number(v)
	if !ok || f == 0 {
		return nil
	}

	return &f
}

func number(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}

	if f, ok := engine.ToFloat(v); ok {
		return f, true
	}

	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)

		return f, err == nil
	}

	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
}

// NormalizeTimestamp converts a date cell to Unix milliseconds. Numbers
// below 1e12 are taken as seconds. Strings that are not numbers are parsed
// as calendar dates in UTC. Anything else is 0.
func NormalizeTimestamp(v any) int64 {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}

	if v == nil {
		return 0
	}

	if f, ok := number(v); ok {
		if f < 1e12 {
			f *= 1000
		}

		return int64(f)
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
	}

	return 0
}

// SeriesByName returns the series displayed as name.
func (m *Model) SeriesByName(name string) (*Series, bool) {
	for i := range m.Series {
		if m.Series[i].Name == name {
			return &m.Series[i], true
		}
	}

	return nil, false
}

// KeyForName maps a displayed series name back to its key. Unknown names
// map to themselves.
func (m *Model) KeyForName(name string) string {
	if s, ok := m.SeriesByName(name); ok {
		return s.Key
	}

	return name
}

// Delta is the average daily change between two consecutive points.
type Delta struct {
	PerDay int64 `json:"perDay"`
	Days   int64 `json:"days"`
}

// Delta returns the change into point i of the named series. It reports
// false for the first point or when either point is absent.
func (m *Model) Delta(name string, i int) (Delta, bool) {
	s, ok := m.SeriesByName(name)
	if !ok || i <= 0 || i >= len(s.Values) {
		return Delta{}, false
	}

	cur, prev := s.Values[i], s.Values[i-1]
	if cur == nil || prev == nil {
		return Delta{}, false
	}

	days := m.DaysBetween(i)

	return Delta{PerDay: int64(roundHalfUp((*cur - *prev) / float64(days))), Days: days}, true
}

// DaysBetween returns the whole days from point i-1 to point i, at least 1.
func (m *Model) DaysBetween(i int) int64 {
	if i <= 0 || i >= len(m.Timestamps) {
		return 1
	}

	days := int64(roundHalfUp(float64(m.Timestamps[i]-m.Timestamps[i-1]) / msPerDay))
	if days <= 0 {
		return 1
	}

	return days
}

// FormatDelta renders d as "+50/日" or "+1,234 (3日平均)".
func FormatDelta(d Delta) string {
	sign := ""
	if d.PerDay >= 0 {
		sign = "+"
	}

	label := "/日"
	if d.Days > 1 {
		label = fmt.Sprintf(" (%d日平均)", d.Days)
	}

	return sign + humanize.Comma(d.PerDay) + label
}

func roundHalfUp(f float64) float64 {
	return math.Floor(f + 0.5)
}

package chart

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Dates are rendered in UTC; snapshot dates are stored as UTC midnights.
var displayLocation = time.UTC

// FormatAxisValue abbreviates a y-axis value: 1.2M, 15K or the raw number.
func FormatAxisValue(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", roundHalfUp(v/100_000)/10)
	case v >= 1000:
		return fmt.Sprintf("%.0fK", roundHalfUp(v/1000))
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// FormatAxisDate renders an x-axis tick as year/month/day without padding.
func FormatAxisDate(ms int64) string {
	t := time.UnixMilli(ms).In(displayLocation)

	return fmt.Sprintf("%d/%d/%d", t.Year(), int(t.Month()), t.Day())
}

// FormatTooltipDate renders the tooltip date. A zero timestamp renders
// empty.
func FormatTooltipDate(ms int64) string {
	if ms == 0 {
		return ""
	}

	return FormatAxisDate(ms)
}

// FormatCount renders a view count with thousands separators.
func FormatCount(v float64) string {
	return humanize.Commaf(v)
}

// Tooltip is the content shown when hovering one point of one series.
type Tooltip struct {
	Date      string `json:"date"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	Delta     string `json:"delta,omitempty"`
	Rising    bool   `json:"rising"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ThumbnailLookup returns a displayable thumbnail URL for a video id
// without blocking.
type ThumbnailLookup interface {
	Lookup(videoID string) string
}

// Tooltip builds the tooltip for point i of the named series. It reports
// false when the point is absent. thumbs may be nil.
func (m *Model) Tooltip(name string, i int, thumbs ThumbnailLookup) (*Tooltip, bool) {
	s, ok := m.SeriesByName(name)
	if !ok || i < 0 || i >= len(s.Values) || s.Values[i] == nil {
		return nil, false
	}

	tip := &Tooltip{
		Date:  FormatTooltipDate(m.Timestamps[i]),
		Key:   s.Key,
		Name:  s.Name,
		Value: FormatCount(*s.Values[i]),
	}

	if d, ok := m.Delta(name, i); ok {
		tip.Delta = FormatDelta(d)
		tip.Rising = d.PerDay >= 0
	}

	if thumbs != nil {
		tip.Thumbnail = thumbs.Lookup(s.Key)
	}

	return tip, true
}

// Point is one [timestamp, value] pair; the value is nil when absent.
type Point [2]any

// SeriesOptions describes one line of the chart.
type SeriesOptions struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Data         []Point `json:"data"`
	ConnectNulls bool    `json:"connectNulls"`
	ShowSymbol   bool    `json:"showSymbol"`
	Emphasis     struct {
		Focus string `json:"focus"`
	} `json:"emphasis"`
}

// AxisOptions describes an axis.
type AxisOptions struct {
	Type   string   `json:"type"`
	Labels []string `json:"labels,omitempty"`
}

// LegendOptions describes the scrollable legend.
type LegendOptions struct {
	Type   string   `json:"type"`
	Orient string   `json:"orient"`
	Data   []string `json:"data"`
}

// Options is a declarative description of the chart for a renderer.
type Options struct {
	Title     string          `json:"title"`
	Animation bool            `json:"animation"`
	Legend    LegendOptions   `json:"legend"`
	XAxis     AxisOptions     `json:"xAxis"`
	YAxis     AxisOptions     `json:"yAxis"`
	Series    []SeriesOptions `json:"series"`
}

// Options returns the renderer options for m. Absent points are bridged.
func (m *Model) Options() *Options {
	opts := &Options{
		Title:  m.Group,
		Legend: LegendOptions{Type: "scroll", Orient: "vertical", Data: m.Legend},
		XAxis:  AxisOptions{Type: "time", Labels: make([]string, len(m.Timestamps))},
		YAxis:  AxisOptions{Type: "value"},
		Series: make([]SeriesOptions, 0, len(m.Series)),
	}

	for i, ts := range m.Timestamps {
		opts.XAxis.Labels[i] = FormatAxisDate(ts)
	}

	for _, s := range m.Series {
		so := SeriesOptions{
			Name:         s.Name,
			Type:         "line",
			Data:         make([]Point, len(s.Values)),
			ConnectNulls: true,
		}
		so.Emphasis.Focus = "series"

		for i, v := range s.Values {
			p := Point{m.Timestamps[i], nil}
			if v != nil {
				p[1] = *v
			}

			so.Data[i] = p
		}

		opts.Series = append(opts.Series, so)
	}

	return opts
}

package chart

import (
	"context"
	"fmt"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
)

// Loader runs the chart queries against the snapshot.
type Loader struct {
	db     models.QueryExecutor
	logger log15.Logger
}

// NewLoader creates a Loader reading through db.
func NewLoader(db models.QueryExecutor, logger log15.Logger) *Loader {
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Loader{db: db, logger: logger.New("component", "chart")}
}

// Groups returns the groups of the snapshot. Entries with an empty key or
// display name are dropped.
func (l *Loader) Groups(ctx context.Context) ([]models.GroupInfo, error) {
	res, err := l.db.Query(ctx, GroupsQuery())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", models.MsgGroupsFailed, err)
	}

	groups := make([]models.GroupInfo, 0, len(res.Rows))

	for _, row := range res.Rows {
		name, _ := row["db_key"].(string)
		display, _ := row["screen_name"].(string)

		if name == "" || display == "" {
			continue
		}

		groups = append(groups, models.GroupInfo{Name: name, DisplayName: display})
	}

	return groups, nil
}

// Stats counts the data points of a group and finds its latest date. A
// table without an "index" column has no latest date.
func (l *Loader) Stats(ctx context.Context, group string) (*models.GroupStats, error) {
	stats := &models.GroupStats{}

	res, err := l.db.Query(ctx, CountQuery(group))
	if err != nil {
		return nil, err
	}

	if len(res.Rows) > 0 {
		if n, ok := number(res.Rows[0]["count"]); ok {
			stats.TotalDataPoints = int64(n)
		}
	}

	res, err = l.db.Query(ctx, LatestDateQuery(group))
	if err != nil {
		l.logger.Debug("no latest date", "group", group, "err", err)

		return stats, nil
	}

	if len(res.Rows) > 0 {
		stats.LatestDate = formatLatest(res.Rows[0]["latest_date"])
	}

	return stats, nil
}

func formatLatest(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case time.Time:
		return FormatTooltipDate(d.UnixMilli())
	case string:
		return d
	default:
		if ms := NormalizeTimestamp(d); ms != 0 {
			return FormatTooltipDate(ms)
		}

		return fmt.Sprint(d)
	}
}

// Titles returns display titles for the given video ids.
func (l *Loader) Titles(ctx context.Context, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))

	q := TitlesQuery(ids)
	if q == "" {
		return titles, nil
	}

	res, err := l.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, row := range res.Rows {
		id := fmt.Sprint(row["youtube_id"])

		title, _ := row["cleaned_title"].(string)
		if title == "" {
			title = id
		}

		titles[id] = title
	}

	return titles, nil
}

// Load builds the chart of group.
func (l *Loader) Load(ctx context.Context, group string) (*Model, error) {
	start := time.Now()

	res, err := l.db.Query(ctx, DataQuery(group))
	if err != nil {
		return nil, err
	}

	if len(res.Rows) == 0 || len(res.Columns) == 0 {
		return nil, &models.FormatError{Op: "load chart " + group, Err: fmt.Errorf("%s", models.MsgNoData)}
	}

	titles, err := l.Titles(ctx, res.Columns[1:])
	if err != nil {
		l.logger.Warn("failed to load titles", "group", group, "err", err)

		titles = nil
	}

	m, err := Build(group, res, titles)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("chart loaded", "group", group, "series", len(m.Series), "points", len(m.Timestamps), "took", time.Since(start))

	return m, nil
}

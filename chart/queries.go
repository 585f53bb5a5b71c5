package chart

import (
	"fmt"
	"strings"

	"github.com/orian/viewcount/engine"
)

// GroupsQuery lists the groups declared in the snapshot.
func GroupsQuery() string {
	return "SELECT DISTINCT db_key, screen_name FROM __source__"
}

// DataQuery selects a group table ordered by its date column.
func DataQuery(group string) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY 1", engine.QuoteIdent(group))
}

// TitlesQuery selects the titles of the given video ids. It returns "" for
// no ids.
func TitlesQuery(ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = engine.QuoteLiteral(id)
	}

	return fmt.Sprintf("SELECT youtube_id, cleaned_title FROM __title__ WHERE youtube_id IN (%s)", strings.Join(quoted, ","))
}

// CountQuery counts the rows of a group table.
func CountQuery(group string) string {
	return fmt.Sprintf("SELECT COUNT(*) as count FROM %s", engine.QuoteIdent(group))
}

// LatestDateQuery selects the newest date of a group table.
func LatestDateQuery(group string) string {
	return fmt.Sprintf(`SELECT MAX("index") as latest_date FROM %s`, engine.QuoteIdent(group))
}

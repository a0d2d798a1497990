// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package fundsdb

import (
	"context"
	"fmt"
	"strings"
)

// SchemeMatch is one security whose scheme name matched a search.
type SchemeMatch struct {
	ISIN       string `json:"isin"`
	SchemeCode string `json:"schemeCode"`
	SchemeName string `json:"schemeName"`
}

// LatestNav is the most recent NAV observation for an ISIN.
// Date is the dataset's ISO date text (YYYY-MM-DD).
type LatestNav struct {
	ISIN string  `json:"isin"`
	NAV  float64 `json:"nav"`
	Date string  `json:"date"`
}

// LIKE is ASCII case-insensitive in sqlite; results are ordered by scheme
// name then ISIN so repeated searches page identically.
const searchByNameSQL = `
SELECT s.isin, CAST(s.scheme_code AS TEXT), sc.scheme_name
FROM securities s
JOIN schemes sc ON sc.scheme_code = s.scheme_code
WHERE sc.scheme_name LIKE ? ESCAPE '\'
ORDER BY sc.scheme_name, s.isin
LIMIT ?`

const latestNavSQLTemplate = `
SELECT n.isin, n.nav, CAST(n.date AS TEXT)
FROM nav_by_isin n
JOIN (
	SELECT isin, MAX(date) AS max_date
	FROM nav_by_isin
	WHERE isin IN (%s)
	GROUP BY isin
) latest ON latest.isin = n.isin AND latest.max_date = n.date
ORDER BY n.isin`

// SearchByName returns up to limit securities whose scheme name contains
// fragment. Wildcard characters in fragment match literally.
func (d *DB) SearchByName(ctx context.Context, fragment string, limit int) ([]SchemeMatch, error) {
	pattern := "%" + escapeLike(fragment) + "%"

	rows, err := d.db.QueryContext(ctx, searchByNameSQL, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search schemes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]SchemeMatch, 0)
	for rows.Next() {
		var m SchemeMatch
		if err := rows.Scan(&m.ISIN, &m.SchemeCode, &m.SchemeName); err != nil {
			return nil, fmt.Errorf("scan scheme match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search schemes: %w", err)
	}
	return out, nil
}

// LatestNavByISINs returns the newest NAV row for each of isins. ISINs
// with no history are absent from the result. Callers pass a distinct,
// non-empty list.
func (d *DB) LatestNavByISINs(ctx context.Context, isins []string) ([]LatestNav, error) {
	if len(isins) == 0 {
		return []LatestNav{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(isins)), ", ")
	query := fmt.Sprintf(latestNavSQLTemplate, placeholders)

	args := make([]any, len(isins))
	for i, isin := range isins {
		args[i] = isin
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest nav: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]LatestNav, 0, len(isins))
	for rows.Next() {
		var n LatestNav
		if err := rows.Scan(&n.ISIN, &n.NAV, &n.Date); err != nil {
			return nil, fmt.Errorf("scan latest nav: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest nav: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

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
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/fundsnap/testhelpers"
)

func openFixture(t *testing.T, f testhelpers.FundsFixture) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "funds.db")
	testhelpers.WriteFundsDB(t, path, f)

	db, err := Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())
	assert.NoError(t, db.Ping(t.Context()))
	assert.True(t, strings.HasSuffix(db.Path(), "funds.db"))
}

func TestOpen_PathWithSpaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache dir", "funds #1.db")
	testhelpers.WriteFundsDB(t, path, testhelpers.DefaultFundsFixture())

	db, err := Open(t.Context(), path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	got, err := db.LatestNavByISINs(t.Context(), []string{"INF1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_RejectsWrites(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	_, err := db.db.ExecContext(t.Context(), `INSERT INTO schemes (scheme_code, scheme_name) VALUES (1, 'x')`)
	assert.Error(t, err)
}

func TestOpen_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("this is not sqlite ", 512)), 0o644))

	_, err := Open(t.Context(), path)
	assert.Error(t, err)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(t.Context(), filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}

func TestOpen_MissingTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.db")
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(t.Context(), `CREATE TABLE schemes (scheme_code INTEGER, scheme_name TEXT)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(t.Context(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingTable)
	assert.Contains(t, err.Error(), TableSecurities)
	assert.Contains(t, err.Error(), TableNavByISIN)
	assert.NotContains(t, err.Error(), "missing table: "+TableSchemes)
}

func TestSearchByName(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.SearchByName(t.Context(), "HDFC", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SchemeMatch{ISIN: "INF1", SchemeCode: "200001", SchemeName: "HDFC Top 100 Fund - Growth"}, got[0])
}

func TestSearchByName_CaseInsensitive(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	lower, err := db.SearchByName(t.Context(), "icici prudential", 50)
	require.NoError(t, err)
	upper, err := db.SearchByName(t.Context(), "ICICI PRUDENTIAL", 50)
	require.NoError(t, err)

	require.Len(t, lower, 1)
	assert.Equal(t, lower, upper)
	assert.Equal(t, "INF2", lower[0].ISIN)
}

func TestSearchByName_LimitAndOrder(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.SearchByName(t.Context(), "Axis", 50)
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, m := range got {
		assert.Contains(t, m.SchemeName, "Axis")
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].SchemeName, m.SchemeName)
		}
	}
	assert.Equal(t, "Axis Growth Fund Series 00", got[0].SchemeName)
}

func TestSearchByName_WildcardsMatchLiterally(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.SearchByName(t.Context(), "50%_E", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "INF3", got[0].ISIN)

	got, err = db.SearchByName(t.Context(), "%", 50)
	require.NoError(t, err)
	require.Len(t, got, 1, "a bare percent sign must not match every scheme")

	got, err = db.SearchByName(t.Context(), "_", 50)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchByName_NoMatch(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.SearchByName(t.Context(), "Quant Small Cap", 50)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLatestNavByISINs_PicksNewestRow(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.LatestNavByISINs(t.Context(), []string{"INF1"})
	require.NoError(t, err)
	assert.Equal(t, []LatestNav{{ISIN: "INF1", NAV: 11.0, Date: "2024-02-01"}}, got)
}

func TestLatestNavByISINs_Multiple(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.LatestNavByISINs(t.Context(), []string{"INF2", "INF1", "INF3", "UNKNOWN"})
	require.NoError(t, err)
	assert.Equal(t, []LatestNav{
		{ISIN: "INF1", NAV: 11.0, Date: "2024-02-01"},
		{ISIN: "INF2", NAV: 56.25, Date: "2024-01-31"},
	}, got)
}

func TestLatestNavByISINs_Unknown(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.LatestNavByISINs(t.Context(), []string{"UNKNOWN"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLatestNavByISINs_Empty(t *testing.T) {
	db := openFixture(t, testhelpers.DefaultFundsFixture())

	got, err := db.LatestNavByISINs(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `Axis`, escapeLike("Axis"))
	assert.Equal(t, `50\%\_x`, escapeLike("50%_x"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

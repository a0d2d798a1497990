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

package testhelpers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type Scheme struct {
	Code int64
	Name string
}

type Security struct {
	ISIN       string
	SchemeCode int64
}

type NAV struct {
	ISIN string
	NAV  float64
	Date string
}

// FundsFixture is the content of a small snapshot database.
type FundsFixture struct {
	Schemes    []Scheme
	Securities []Security
	NAVs       []NAV
}

// AxisSeriesCount is how many "Axis Growth Fund Series NN" schemes the
// default fixture carries, enough to exceed a 50 row search cap.
const AxisSeriesCount = 60

// DefaultFundsFixture returns a fixture with:
//   - AxisSeriesCount Axis schemes, one security each, no NAV history
//   - INF1 (HDFC Top 100) with NAVs on 2024-01-01 (10.0) and 2024-02-01 (11.0)
//   - INF2 (ICICI Prudential Bluechip) with NAVs on 2023-12-29 and 2024-01-31
//   - INF3 (a scheme with % and _ in its name) with no NAV history
func DefaultFundsFixture() FundsFixture {
	f := FundsFixture{
		Schemes: []Scheme{
			{Code: 200001, Name: "HDFC Top 100 Fund - Growth"},
			{Code: 200002, Name: "ICICI Prudential Bluechip Fund"},
			{Code: 200003, Name: "Nippon India 50%_Equity Plan"},
		},
		Securities: []Security{
			{ISIN: "INF1", SchemeCode: 200001},
			{ISIN: "INF2", SchemeCode: 200002},
			{ISIN: "INF3", SchemeCode: 200003},
		},
		NAVs: []NAV{
			{ISIN: "INF1", NAV: 10.0, Date: "2024-01-01"},
			{ISIN: "INF1", NAV: 11.0, Date: "2024-02-01"},
			{ISIN: "INF2", NAV: 55.5, Date: "2023-12-29"},
			{ISIN: "INF2", NAV: 56.25, Date: "2024-01-31"},
		},
	}
	for i := range AxisSeriesCount {
		code := int64(100000 + i)
		f.Schemes = append(f.Schemes, Scheme{Code: code, Name: fmt.Sprintf("Axis Growth Fund Series %02d", i)})
		f.Securities = append(f.Securities, Security{ISIN: fmt.Sprintf("INFAXIS%05d", i), SchemeCode: code})
	}
	return f
}

// WriteFundsDB creates a sqlite snapshot database at path holding f.
func WriteFundsDB(t *testing.T, path string, f FundsFixture) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := t.Context()
	for _, stmt := range []string{
		`CREATE TABLE schemes (scheme_code INTEGER PRIMARY KEY, scheme_name TEXT NOT NULL)`,
		`CREATE TABLE securities (isin TEXT PRIMARY KEY, scheme_code INTEGER NOT NULL)`,
		`CREATE TABLE nav_by_isin (isin TEXT NOT NULL, nav REAL NOT NULL, date TEXT NOT NULL)`,
		`CREATE INDEX nav_by_isin_isin_date ON nav_by_isin (isin, date)`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, s := range f.Schemes {
		_, err := tx.ExecContext(ctx, `INSERT INTO schemes (scheme_code, scheme_name) VALUES (?, ?)`, s.Code, s.Name)
		require.NoError(t, err)
	}
	for _, s := range f.Securities {
		_, err := tx.ExecContext(ctx, `INSERT INTO securities (isin, scheme_code) VALUES (?, ?)`, s.ISIN, s.SchemeCode)
		require.NoError(t, err)
	}
	for _, n := range f.NAVs {
		_, err := tx.ExecContext(ctx, `INSERT INTO nav_by_isin (isin, nav, date) VALUES (?, ?, ?)`, n.ISIN, n.NAV, n.Date)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

// FundsArchive builds a database from f and returns it zstd compressed, the
// way the snapshot is published.
func FundsArchive(t *testing.T, f FundsFixture) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	WriteFundsDB(t, path, f)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return Zstd(t, raw)
}

// Zstd compresses raw as a single zstd frame.
func Zstd(t *testing.T, raw []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(raw, nil)
}

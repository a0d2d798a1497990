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

// Package fundsdb is a read-only view over the mutual fund snapshot
// database: securities keyed by ISIN, scheme metadata, and the NAV history
// per ISIN.
package fundsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	TableSecurities = "securities"
	TableSchemes    = "schemes"
	TableNavByISIN  = "nav_by_isin"
)

var requiredTables = []string{TableSecurities, TableSchemes, TableNavByISIN}

// ErrMissingTable is wrapped by Open when the file is a valid sqlite
// database that lacks one of the expected tables.
var ErrMissingTable = errors.New("missing table")

// DB is an open, read-only handle on a dataset file. It is safe for
// concurrent use.
type DB struct {
	path string
	db   *sql.DB
}

type openConfig struct {
	poolSize   int
	connMaxAge time.Duration
}

type Option func(*openConfig)

// WithPoolSize sets the maximum number of pooled connections.
func WithPoolSize(n int) Option {
	return func(cfg *openConfig) {
		if n < 1 {
			n = 1
		}
		cfg.poolSize = n
	}
}

// WithConnectionMaxAge sets how long a pooled connection may be reused.
func WithConnectionMaxAge(d time.Duration) Option {
	return func(cfg *openConfig) {
		if d < time.Minute {
			d = time.Minute
		}
		cfg.connMaxAge = d
	}
}

// Open opens the dataset at path read-only and checks that it is a sqlite
// database carrying the expected tables.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	poolSize := runtime.GOMAXPROCS(0)
	if poolSize > 8 {
		poolSize = 8
	}
	cfg := &openConfig{poolSize: poolSize, connMaxAge: 30 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, err
	}

	connector, err := newPragmaConnector(dsn, readOnlyPragmas)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.poolSize)
	db.SetMaxIdleConns(cfg.poolSize)
	db.SetConnMaxLifetime(cfg.connMaxAge)

	d := &DB{path: path, db: db}
	if err := d.verify(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("fundsdb: dataset opened",
		slog.String("path", path),
		slog.Int("poolSize", cfg.poolSize))
	return d, nil
}

func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve dataset path: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "mode=ro",
	}
	return u.String(), nil
}

// verify forces sqlite to read the file header and schema, which is where a
// corrupt or non-database file first fails.
func (d *DB) verify(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`)
	if err != nil {
		return fmt.Errorf("read dataset schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan dataset schema: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read dataset schema: %w", err)
	}

	var result *multierror.Error
	for _, t := range requiredTables {
		if !present[t] {
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrMissingTable, t))
		}
	}
	return result.ErrorOrNil()
}

// Path returns the dataset file this handle reads.
func (d *DB) Path() string { return d.path }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

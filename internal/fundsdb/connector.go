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
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// readOnlyPragmas are applied to every pooled connection. The dataset is
// never written in-process, so journaling and fsync buy nothing.
var readOnlyPragmas = []string{
	"PRAGMA journal_mode=OFF",
	"PRAGMA synchronous=OFF",
	"PRAGMA query_only=ON",
	"PRAGMA temp_store=MEMORY",
}

// pragmaConnector opens sqlite connections and runs a fixed set of
// statements on each before handing it to the pool.
type pragmaConnector struct {
	dsn     string
	drv     driver.Driver
	pragmas []string
}

var _ driver.Connector = (*pragmaConnector)(nil)

func newPragmaConnector(dsn string, pragmas []string) (*pragmaConnector, error) {
	// sql.Open does not dial; it is only used to get at the registered driver.
	probe, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("resolve %s driver: %w", driverName, err)
	}
	drv := probe.Driver()
	_ = probe.Close()

	return &pragmaConnector{dsn: dsn, drv: drv, pragmas: pragmas}, nil
}

func (c *pragmaConnector) Connect(_ context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}

	execer, ok := conn.(driver.ExecerContext)
	if !ok {
		return conn, nil
	}

	// Do not use the caller's ctx here; a cancelled request would leave a
	// pooled connection without its settings.
	ctx := context.Background()
	for _, p := range c.pragmas {
		if _, err := execer.ExecContext(ctx, p, nil); err != nil {
			slog.Warn("fundsdb: pragma failed", slog.String("pragma", p), slog.Any("error", err))
		}
	}
	return conn, nil
}

func (c *pragmaConnector) Driver() driver.Driver { return c.drv }

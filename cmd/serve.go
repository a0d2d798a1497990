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

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/fundsnap/internal/debugging"
	"github.com/cardinalhq/fundsnap/internal/fundapi"
	"github.com/cardinalhq/fundsnap/internal/healthcheck"
)

var (
	serveAddr string
	serveWarm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve scheme search and latest NAV lookups over HTTP",
	RunE: func(_ *cobra.Command, _ []string) error {
		servicename := "fundsnap-serve"
		doneCtx, doneFx, err := setupTelemetry(servicename, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer func() {
			if err := doneFx(); err != nil {
				slog.Error("Error shutting down telemetry", slog.Any("error", err))
			}
		}()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		debugging.RunPprof(doneCtx, debugging.PprofPort())

		st, err := newStack(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		health := healthcheck.New()
		health.AddReadinessProbe("dataset", st.cache.Ready)
		health.SetStatus(healthcheck.StatusHealthy)

		if serveWarm {
			go func() {
				if _, err := st.cache.Dataset(doneCtx); err != nil {
					slog.Warn("Startup warm-up failed, will retry on first request", slog.Any("error", err))
				}
			}()
		}

		return fundapi.NewServer(cfg.Server.Addr, st.service, health).Run(doneCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWarm, "warm", false, "bootstrap the dataset at startup instead of on the first request")
	rootCmd.AddCommand(serveCmd)
}

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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Download the snapshot if the local copy is missing or stale, then exit",
	RunE: func(c *cobra.Command, _ []string) error {
		return runOneShot("fundsnap-warm", func(ctx context.Context, st *stack) error {
			return runWarm(ctx, st, c.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(ctx context.Context, st *stack, out io.Writer) error {
	db, err := st.cache.Dataset(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "dataset: %s\nmodified: %s\nstate: %s\n",
		db.Path(), st.cache.DatasetModTime().UTC().Format(time.RFC3339), st.cache.State())
	return err
}

// runOneShot wires telemetry, config and the stack for a command that runs
// once and exits. Logs go to stderr so stdout stays machine readable.
func runOneShot(servicename string, fn func(context.Context, *stack) error) error {
	doneCtx, doneFx, err := setupTelemetry(servicename, os.Stderr)
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
	st, err := newStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(doneCtx, st)
}

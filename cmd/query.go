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
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/fundsnap/internal/fundquery"
)

var searchCmd = &cobra.Command{
	Use:   "search <text>...",
	Short: "Search scheme names and print matching securities as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runOneShot("fundsnap-search", func(ctx context.Context, st *stack) error {
			return runSearch(ctx, st.service, c.OutOrStdout(), args)
		})
	},
}

var navCmd = &cobra.Command{
	Use:   "nav <isin>...",
	Short: "Print the latest NAV for each ISIN as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runOneShot("fundsnap-nav", func(ctx context.Context, st *stack) error {
			return runNav(ctx, st.service, c.OutOrStdout(), args)
		})
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(navCmd)
}

// runSearch joins args with spaces so unquoted multi-word queries work.
func runSearch(ctx context.Context, svc *fundquery.Service, out io.Writer, args []string) error {
	results, err := svc.SearchByName(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printJSON(out, results)
}

func runNav(ctx context.Context, svc *fundquery.Service, out io.Writer, isins []string) error {
	results, err := svc.LatestNavByCodes(ctx, isins)
	if err != nil {
		return err
	}
	return printJSON(out, results)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

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
	"os"

	"github.com/spf13/cobra"
)

var (
	flagSnapshotURL string
	flagCacheDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fundsnap",
	Short: "Search mutual fund schemes and look up their latest NAV",
	Long: `Keep a local copy of the public mutual fund snapshot database, refreshed at
most once a day, and answer scheme name searches and latest NAV lookups from it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSnapshotURL, "url", "", "snapshot archive URL (overrides snapshot.url)")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "directory holding the downloaded dataset (overrides snapshot.cache_dir)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

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

package fundcache

import (
	"log/slog"
	"os"
	"path/filepath"
)

// sweepTempFiles removes decompression temp files a crashed process left
// next to the dataset. Only called while this process holds the bootstrap.
func sweepTempFiles(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, DatasetFileName+".*.tmp"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove leftover temp file (ignoring)", slog.String("path", path), slog.Any("error", err))
			continue
		}
		slog.Info("Removed leftover temp file", slog.String("path", path))
	}
}

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

	"golang.org/x/sys/unix"
)

// lowSpaceBytes is roughly the decompressed snapshot size plus its archive.
const lowSpaceBytes = 2 << 30

type diskSpace struct {
	TotalBytes uint64
	FreeBytes  uint64 // available to non-root users
}

func statDiskSpace(path string) (diskSpace, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return diskSpace{}, err
	}
	return diskSpace{
		TotalBytes: st.Blocks * uint64(st.Bsize),
		FreeBytes:  st.Bavail * uint64(st.Bsize),
	}, nil
}

func logFreeSpace(dir string) {
	space, err := statDiskSpace(dir)
	if err != nil {
		slog.Warn("Unable to read free space for cache directory", slog.String("dir", dir), slog.Any("error", err))
		return
	}
	attrs := []any{
		slog.String("dir", dir),
		slog.Uint64("freeBytes", space.FreeBytes),
		slog.Uint64("totalBytes", space.TotalBytes),
	}
	if space.FreeBytes < lowSpaceBytes {
		slog.Warn("Cache directory is low on space", attrs...)
		return
	}
	slog.Debug("Cache directory space", attrs...)
}

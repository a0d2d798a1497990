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

package snapshot

import (
	"os"
	"time"
)

// FreshnessTTL is how long a decompressed dataset is trusted after it was
// last written. The file's mtime is the only signal consulted.
const FreshnessTTL = 24 * time.Hour

// IsFresh reports whether the file at path exists and was modified less than
// FreshnessTTL before now. It never returns an error; anything that
// prevents a stat counts as stale.
func IsFresh(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return now.Sub(info.ModTime()) < FreshnessTTL
}

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
	"fmt"
)

// Fetch failure reasons, also used as the error_reason metric attribute.
const (
	ReasonRequest          = "request_error"
	ReasonHTTPStatus       = "http_status"
	ReasonTooManyRedirects = "too_many_redirects"
	ReasonTimeout          = "timeout"
	ReasonWrite            = "write_error"
)

// FetchError reports a failed snapshot download.
// StatusCode is zero when no terminal HTTP response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d (%s)", e.URL, e.StatusCode, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch was abandoned because its deadline passed.
func (e *FetchError) Timeout() bool { return e.Reason == ReasonTimeout }

// DecompressError reports a corrupt, truncated or unrecognized archive.
type DecompressError struct {
	Path string
	Err  error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.Path, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

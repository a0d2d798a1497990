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
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	fetchErrors       metric.Int64Counter
	fetchBytes        metric.Int64Counter
	fetchDuration     metric.Float64Histogram
	decompressErrors  metric.Int64Counter
	decompressedBytes metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/fundsnap/internal/snapshot")

	var err error

	fetchErrors, err = meter.Int64Counter(
		"fundsnap.snapshot.fetch_errors",
		metric.WithDescription("Number of snapshot fetch errors"),
	)
	if err != nil {
		log.Fatalf("failed to create snapshot.fetch_errors counter: %v", err)
	}

	fetchBytes, err = meter.Int64Counter(
		"fundsnap.snapshot.fetch_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes written to disk by snapshot downloads"),
	)
	if err != nil {
		log.Fatalf("failed to create snapshot.fetch_bytes counter: %v", err)
	}

	fetchDuration, err = meter.Float64Histogram(
		"fundsnap.snapshot.fetch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration in seconds of a snapshot download, including redirects"),
	)
	if err != nil {
		log.Fatalf("failed to create snapshot.fetch.duration histogram: %v", err)
	}

	decompressErrors, err = meter.Int64Counter(
		"fundsnap.snapshot.decompress_errors",
		metric.WithDescription("Number of snapshot decompression errors"),
	)
	if err != nil {
		log.Fatalf("failed to create snapshot.decompress_errors counter: %v", err)
	}

	decompressedBytes, err = meter.Int64Counter(
		"fundsnap.snapshot.decompressed_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes written by snapshot decompression"),
	)
	if err != nil {
		log.Fatalf("failed to create snapshot.decompressed_bytes counter: %v", err)
	}
}

func recordFetchError(reason string) {
	fetchErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("error_reason", reason),
	))
}

func recordFetch(start time.Time, n int64, outcome string) {
	fetchDuration.Record(context.Background(), time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	if n > 0 {
		fetchBytes.Add(context.Background(), n)
	}
}

func recordDecompress(format string, n int64, err error) {
	if err != nil {
		decompressErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("format", format),
		))
		return
	}
	decompressedBytes.Add(context.Background(), n, metric.WithAttributes(
		attribute.String("format", format),
	))
}

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
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bootstrapAttempts metric.Int64Counter
	bootstrapDuration metric.Float64Histogram
	bootstrapShared   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/fundsnap/internal/fundcache")

	var err error

	bootstrapAttempts, err = meter.Int64Counter(
		"fundsnap.cache.bootstrap.attempts",
		metric.WithDescription("Number of dataset bootstrap attempts, by outcome and stage"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.bootstrap.attempts counter: %v", err)
	}

	bootstrapDuration, err = meter.Float64Histogram(
		"fundsnap.cache.bootstrap.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration in seconds of a dataset bootstrap attempt"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.bootstrap.duration histogram: %v", err)
	}

	bootstrapShared, err = meter.Int64Counter(
		"fundsnap.cache.bootstrap.shared",
		metric.WithDescription("Number of callers that joined a bootstrap already in flight"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.bootstrap.shared counter: %v", err)
	}
}

func recordBootstrap(start time.Time, fetched bool, stage string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
		attribute.Bool("fetched", fetched),
	)
	bootstrapAttempts.Add(context.Background(), 1, attrs)
	bootstrapDuration.Record(context.Background(), time.Since(start).Seconds(), attrs)
}

func recordShared() {
	bootstrapShared.Add(context.Background(), 1)
}

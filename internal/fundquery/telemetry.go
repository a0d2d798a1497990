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

package fundquery

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/fundsnap/internal/fundcache"
)

var (
	tracer = otel.Tracer("github.com/cardinalhq/fundsnap/internal/fundquery")

	queryDuration   metric.Float64Histogram
	resultCacheHits metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/fundsnap/internal/fundquery")

	var err error

	queryDuration, err = meter.Float64Histogram(
		"fundsnap.query.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration in seconds of fund queries, by operation and outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create query.duration histogram: %v", err)
	}

	resultCacheHits, err = meter.Int64Counter(
		"fundsnap.query.result_cache.hits",
		metric.WithDescription("Number of fund queries answered from the result cache"),
	)
	if err != nil {
		log.Fatalf("failed to create query.result_cache.hits counter: %v", err)
	}
}

func outcomeOf(err error) string {
	var (
		ve *ValidationError
		qe *QueryError
		be *fundcache.BootstrapError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &be):
		return "bootstrap_error"
	case errors.As(err, &qe):
		return "query_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func recordQuery(op string, start time.Time, cached bool, err error) {
	queryDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcomeOf(err)),
			attribute.Bool("cached", cached),
		))
	if cached {
		resultCacheHits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

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

// Package fundquery validates fund lookups and runs them against the
// bootstrapped dataset.
package fundquery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/fundsnap/internal/fundsdb"
)

const (
	// SearchLimit caps the rows returned by SearchByName.
	SearchLimit = 50

	// DefaultMaxCodes keeps a lookup well under SQLite's bound parameter limit.
	DefaultMaxCodes = 500

	DefaultResultTTL = 5 * time.Minute

	opSearchByName     = "search_by_name"
	opLatestNavByCodes = "latest_nav_by_codes"
)

// DatasetSource hands out the open dataset, bootstrapping it on first use.
// *fundcache.Cache satisfies it.
type DatasetSource interface {
	Dataset(ctx context.Context) (*fundsdb.DB, error)
}

type Service struct {
	source   DatasetSource
	maxCodes int

	searchCache *ttlcache.Cache[string, []fundsdb.SchemeMatch]
	navCache    *ttlcache.Cache[uint64, []fundsdb.LatestNav]
}

type Option func(*serviceOptions)

type serviceOptions struct {
	maxCodes  int
	resultTTL time.Duration
}

func WithMaxCodes(n int) Option {
	return func(o *serviceOptions) {
		if n > 0 {
			o.maxCodes = n
		}
	}
}

// WithResultTTL sets how long results are memoized. Zero disables the
// result cache.
func WithResultTTL(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d >= 0 {
			o.resultTTL = d
		}
	}
}

func NewService(source DatasetSource, opts ...Option) *Service {
	o := serviceOptions{maxCodes: DefaultMaxCodes, resultTTL: DefaultResultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{source: source, maxCodes: o.maxCodes}
	if o.resultTTL > 0 {
		s.searchCache = ttlcache.New(ttlcache.WithTTL[string, []fundsdb.SchemeMatch](o.resultTTL))
		s.navCache = ttlcache.New(ttlcache.WithTTL[uint64, []fundsdb.LatestNav](o.resultTTL))
		go s.searchCache.Start()
		go s.navCache.Start()
	}
	return s
}

// Close stops the result cache janitors.
func (s *Service) Close() {
	if s.searchCache != nil {
		s.searchCache.Stop()
		s.navCache.Stop()
	}
}

// SearchByName returns up to SearchLimit schemes whose name contains the
// trimmed query, ASCII case-insensitively, ordered by scheme name then ISIN.
func (s *Service) SearchByName(ctx context.Context, query string) ([]fundsdb.SchemeMatch, error) {
	ctx, span := tracer.Start(ctx, "fundquery.search_by_name")
	defer span.End()
	start := time.Now()

	q := strings.TrimSpace(query)
	if q == "" {
		err := &ValidationError{Field: "query", Message: "must not be empty"}
		finish(span, opSearchByName, start, false, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("query_length", len(q)))

	if s.searchCache != nil {
		if item := s.searchCache.Get(q); item != nil {
			finish(span, opSearchByName, start, true, nil)
			return slices.Clone(item.Value()), nil
		}
	}

	db, err := s.source.Dataset(ctx)
	if err != nil {
		finish(span, opSearchByName, start, false, err)
		return nil, err
	}

	rows, err := db.SearchByName(ctx, q, SearchLimit)
	if err != nil {
		qerr := &QueryError{Op: opSearchByName, Err: err}
		finish(span, opSearchByName, start, false, qerr)
		return nil, qerr
	}
	span.SetAttributes(attribute.Int("result_count", len(rows)))

	if s.searchCache != nil {
		s.searchCache.Set(q, slices.Clone(rows), ttlcache.DefaultTTL)
	}
	finish(span, opSearchByName, start, false, nil)
	return rows, nil
}

// LatestNavByCodes returns the most recent NAV row for each distinct
// non-blank code. Codes with no NAV history are absent from the result.
func (s *Service) LatestNavByCodes(ctx context.Context, requested []string) ([]fundsdb.LatestNav, error) {
	ctx, span := tracer.Start(ctx, "fundquery.latest_nav_by_codes")
	defer span.End()
	start := time.Now()

	distinct := normalizeCodes(requested)
	span.SetAttributes(
		attribute.Int("requested_count", len(requested)),
		attribute.Int("distinct_count", len(distinct)),
	)
	if len(distinct) == 0 {
		err := &ValidationError{Field: "isins", Message: "at least one non-empty code is required"}
		finish(span, opLatestNavByCodes, start, false, err)
		return nil, err
	}
	if len(distinct) > s.maxCodes {
		err := &ValidationError{
			Field:   "isins",
			Message: fmt.Sprintf("at most %d distinct codes per lookup, got %d", s.maxCodes, len(distinct)),
		}
		finish(span, opLatestNavByCodes, start, false, err)
		return nil, err
	}

	key := codeSetKey(distinct)
	if s.navCache != nil {
		if item := s.navCache.Get(key); item != nil {
			finish(span, opLatestNavByCodes, start, true, nil)
			return slices.Clone(item.Value()), nil
		}
	}

	db, err := s.source.Dataset(ctx)
	if err != nil {
		finish(span, opLatestNavByCodes, start, false, err)
		return nil, err
	}

	rows, err := db.LatestNavByISINs(ctx, distinct)
	if err != nil {
		qerr := &QueryError{Op: opLatestNavByCodes, Err: err}
		finish(span, opLatestNavByCodes, start, false, qerr)
		return nil, qerr
	}
	span.SetAttributes(attribute.Int("result_count", len(rows)))

	if s.navCache != nil {
		s.navCache.Set(key, slices.Clone(rows), ttlcache.DefaultTTL)
	}
	finish(span, opLatestNavByCodes, start, false, nil)
	return rows, nil
}

// normalizeCodes trims, drops blanks, de-duplicates and sorts.
func normalizeCodes(in []string) []string {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(in))
	for _, c := range in {
		if c = strings.TrimSpace(c); c != "" {
			set.Add(c)
		}
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out
}

// codeSetKey hashes a sorted code set. The separator keeps {"AB","C"} and
// {"A","BC"} apart.
func codeSetKey(sorted []string) uint64 {
	h := xxhash.New()
	for _, c := range sorted {
		_, _ = h.WriteString(c)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func finish(span trace.Span, op string, start time.Time, cached bool, err error) {
	span.SetAttributes(attribute.Bool("cached", cached))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	recordQuery(op, start, cached, err)
}

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

// Package fundapi exposes the fund queries over HTTP.
package fundapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardinalhq/fundsnap/internal/fundsdb"
	"github.com/cardinalhq/fundsnap/internal/healthcheck"
)

// maxBodyBytes bounds a NAV lookup body; 500 ISINs fit comfortably.
const maxBodyBytes = 1 << 20

// Querier is the query surface the handlers need. *fundquery.Service
// satisfies it.
type Querier interface {
	SearchByName(ctx context.Context, query string) ([]fundsdb.SchemeMatch, error)
	LatestNavByCodes(ctx context.Context, codes []string) ([]fundsdb.LatestNav, error)
}

type Server struct {
	addr    string
	querier Querier
	health  *healthcheck.Checker
}

func NewServer(addr string, querier Querier, health *healthcheck.Checker) *Server {
	return &Server{addr: addr, querier: querier, health: health}
}

type searchResponse struct {
	Results []fundsdb.SchemeMatch `json:"results"`
}

type navRequest struct {
	ISINs []string `json:"isins"`
}

type navResponse struct {
	Results []fundsdb.LatestNav `json:"results"`
}

// Handler returns the routed API with request ID handling applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/schemes/search", s.handleSearch)
	mux.HandleFunc("/api/v1/nav/latest", s.handleLatestNav)
	if s.health != nil {
		s.health.Register(mux)
	}
	return requestIDMiddleware(mux)
}

// Run serves until doneCtx is cancelled, then shuts down gracefully.
func (s *Server) Run(doneCtx context.Context) error {
	slog.Info("Starting fund API server", slog.String("addr", s.addr))

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fund API server: %w", err)
		}
		return nil
	case <-doneCtx.Done():
	}

	slog.Info("Shutting down fund API server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown HTTP server", slog.Any("error", err))
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	results, err := s.querier.SearchByName(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeQueryError(w, r, "search_by_name", err)
		return
	}
	if results == nil {
		results = []fundsdb.SchemeMatch{}
	}
	writeJSON(w, searchResponse{Results: results})
}

func (s *Server) handleLatestNav(w http.ResponseWriter, r *http.Request) {
	var isins []string
	switch r.Method {
	case http.MethodGet:
		isins = r.URL.Query()["isin"]
	case http.MethodPost:
		var req navRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, ErrInvalidRequest, "malformed JSON body: "+err.Error())
			return
		}
		isins = req.ISINs
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
		return
	}

	results, err := s.querier.LatestNavByCodes(r.Context(), isins)
	if err != nil {
		writeQueryError(w, r, "latest_nav_by_codes", err)
		return
	}
	if results == nil {
		results = []fundsdb.LatestNav{}
	}
	writeJSON(w, navResponse{Results: results})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

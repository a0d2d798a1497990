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
	"fmt"
	"log/slog"

	"github.com/cardinalhq/fundsnap/config"
	"github.com/cardinalhq/fundsnap/internal/fundcache"
	"github.com/cardinalhq/fundsnap/internal/fundquery"
	"github.com/cardinalhq/fundsnap/internal/snapshot"
)

// loadConfig reads config and applies the root command's flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg, flagSnapshotURL, flagCacheDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, url, cacheDir string) error {
	if url != "" {
		cfg.Snapshot.URL = url
	}
	if cacheDir != "" {
		cfg.Snapshot.CacheDir = cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// stack is the cache and query service every command runs against.
type stack struct {
	cache   *fundcache.Cache
	service *fundquery.Service
}

func newStack(cfg *config.Config) (*stack, error) {
	fetcher := snapshot.NewFetcher(
		snapshot.WithTimeout(cfg.Snapshot.FetchTimeout),
		snapshot.WithMaxRedirects(cfg.Snapshot.MaxRedirects),
	)
	cache, err := fundcache.New(
		fundcache.Config{
			SourceURL: cfg.Snapshot.URL,
			CacheDir:  cfg.Snapshot.CacheDir,
		},
		fundcache.WithFetcher(fetcher),
		fundcache.WithDecompressor(snapshot.NewDecompressor(cfg.Snapshot.MaxDecodedBytes)),
	)
	if err != nil {
		return nil, err
	}

	service := fundquery.NewService(cache,
		fundquery.WithMaxCodes(cfg.Query.MaxCodes),
		fundquery.WithResultTTL(cfg.Query.ResultCacheTTL),
	)

	slog.Debug("Fund stack configured",
		slog.String("url", cfg.Snapshot.URL),
		slog.String("cacheDir", cfg.Snapshot.CacheDir),
		slog.Duration("fetchTimeout", cfg.Snapshot.FetchTimeout),
		slog.Duration("resultCacheTTL", cfg.Query.ResultCacheTTL))

	return &stack{cache: cache, service: service}, nil
}

func (s *stack) Close() {
	s.service.Close()
	if err := s.cache.Close(); err != nil {
		slog.Warn("Failed to close fund dataset", slog.Any("error", err))
	}
}

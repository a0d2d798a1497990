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

// Package fundcache owns the on-disk copy of the fund snapshot and the
// single read-only handle opened on it.
//
// The first call to Dataset downloads and decompresses the snapshot when
// the local copy is missing or older than snapshot.FreshnessTTL, then opens
// it. Concurrent callers share that one attempt. A failed attempt is not
// remembered: the next call starts over. Once ready the handle is kept for
// the life of the Cache; a stale dataset is only replaced by a new process.
package fundcache

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/fundsnap/internal/fundsdb"
	"github.com/cardinalhq/fundsnap/internal/snapshot"
)

const (
	ArchiveFileName = "funds.db.zst"
	DatasetFileName = "funds.db"

	bootstrapKey = "bootstrap"
)

// Fetcher downloads the snapshot archive.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Decompressor turns the archive into a dataset file.
type Decompressor interface {
	Decompress(srcPath, destPath string) error
}

type Config struct {
	SourceURL string
	CacheDir  string
}

type Cache struct {
	sourceURL   string
	cacheDir    string
	archivePath string
	datasetPath string

	fetcher      Fetcher
	decompressor Decompressor
	openOpts     []fundsdb.Option
	now          func() time.Time

	group singleflight.Group
	state atomic.Int32

	mu     sync.RWMutex
	db     *fundsdb.DB
	closed bool
}

type Option func(*Cache)

func WithFetcher(f Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

func WithDecompressor(d Decompressor) Option {
	return func(c *Cache) { c.decompressor = d }
}

// WithClock replaces time.Now for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithOpenOptions(opts ...fundsdb.Option) Option {
	return func(c *Cache) { c.openOpts = append(c.openOpts, opts...) }
}

// New creates a cache rooted at cfg.CacheDir. Nothing is fetched or
// opened until the first call to Dataset.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.SourceURL == "" {
		return nil, errors.New("fundcache: source URL is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("fundcache: cache directory is required")
	}

	c := &Cache{
		sourceURL:   cfg.SourceURL,
		cacheDir:    cfg.CacheDir,
		archivePath: filepath.Join(cfg.CacheDir, ArchiveFileName),
		datasetPath: filepath.Join(cfg.CacheDir, DatasetFileName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = snapshot.NewFetcher()
	}
	if c.decompressor == nil {
		c.decompressor = snapshot.NewDecompressor(0)
	}
	return c, nil
}

// Dataset returns the open dataset, bootstrapping it first if needed.
//
// The bootstrap itself is detached from ctx so that one caller giving up
// does not fail everyone else waiting on it; ctx only bounds how long this
// caller waits.
func (c *Cache) Dataset(ctx context.Context) (*fundsdb.DB, error) {
	if db, err := c.current(); db != nil || err != nil {
		return db, err
	}

	ch := c.group.DoChan(bootstrapKey, func() (any, error) {
		if db, err := c.current(); db != nil || err != nil {
			return db, err
		}
		return c.bootstrap(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			recordShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fundsdb.DB), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) current() (*fundsdb.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.db, nil
}

func (c *Cache) bootstrap(ctx context.Context) (*fundsdb.DB, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.state.Store(int32(StateInitializing))
	c.mu.Unlock()

	start := time.Now()
	db, fetched, err := c.load(ctx)

	stage := "done"
	var be *BootstrapError
	if errors.As(err, &be) {
		stage = be.Stage
	}
	recordBootstrap(start, fetched, stage, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if !c.closed {
			c.state.Store(int32(StateFailed))
		}
		slog.Error("Fund dataset bootstrap failed",
			slog.String("stage", stage),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return nil, err
	}

	if c.closed {
		_ = db.Close()
		return nil, ErrClosed
	}

	c.db = db
	c.state.Store(int32(StateReady))
	slog.Info("Fund dataset ready",
		slog.String("path", c.datasetPath),
		slog.Bool("fetched", fetched),
		slog.Duration("duration", time.Since(start)))
	return db, nil
}

// load runs prepare, fetch, decompress and open. Fetch and decompress are
// skipped while the dataset on disk is fresh.
func (c *Cache) load(ctx context.Context) (*fundsdb.DB, bool, error) {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return nil, false, &BootstrapError{Stage: StagePrepare, Err: err}
	}
	sweepTempFiles(c.cacheDir)
	logFreeSpace(c.cacheDir)

	fetched := false
	if snapshot.IsFresh(c.datasetPath, c.now()) {
		slog.Info("Using cached fund dataset",
			slog.String("path", c.datasetPath),
			slog.Time("modified", c.DatasetModTime()))
	} else {
		fetched = true
		slog.Info("Fund dataset missing or stale, fetching snapshot",
			slog.String("url", c.sourceURL),
			slog.String("archive", c.archivePath))

		if err := c.fetcher.Fetch(ctx, c.sourceURL, c.archivePath); err != nil {
			return nil, fetched, &BootstrapError{Stage: StageFetch, Err: err}
		}
		if err := c.decompressor.Decompress(c.archivePath, c.datasetPath); err != nil {
			return nil, fetched, &BootstrapError{Stage: StageDecompress, Err: err}
		}
	}

	db, err := fundsdb.Open(ctx, c.datasetPath, c.openOpts...)
	if err != nil {
		// An unopenable file would otherwise pass the freshness check and
		// block refetching until it ages out.
		c.discardDataset()
		return nil, fetched, &BootstrapError{Stage: StageOpen, Err: err}
	}
	return db, fetched, nil
}

func (c *Cache) discardDataset() {
	if err := os.Remove(c.datasetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to remove unusable dataset (ignoring)",
			slog.String("path", c.datasetPath),
			slog.Any("error", err))
		return
	}
	slog.Info("Removed unusable dataset", slog.String("path", c.datasetPath))
}

// State reports where the cache is in its lifecycle.
func (c *Cache) State() State {
	return State(c.state.Load())
}

// Ready reports whether Dataset will return without bootstrapping.
func (c *Cache) Ready() bool {
	return c.State() == StateReady
}

// DatasetPath is the decompressed dataset location.
func (c *Cache) DatasetPath() string { return c.datasetPath }

// ArchivePath is where the downloaded archive is kept.
func (c *Cache) ArchivePath() string { return c.archivePath }

// DatasetModTime returns the dataset file's mtime, or the zero time if it
// does not exist.
func (c *Cache) DatasetModTime() time.Time {
	info, err := os.Stat(c.datasetPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Close releases the dataset handle. Later calls to Dataset return
// ErrClosed. The files on disk are left in place for the next process.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state.Store(int32(StateClosed))

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

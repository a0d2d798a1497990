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
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/fundsnap/internal/fundsdb"
	"github.com/cardinalhq/fundsnap/internal/snapshot"
	"github.com/cardinalhq/fundsnap/testhelpers"
)

type snapshotServer struct {
	*httptest.Server
	hits atomic.Int32
}

// newSnapshotServer serves bodies[i] for the i-th request, repeating the
// last one once they run out. A nil body answers 500.
func newSnapshotServer(t *testing.T, bodies ...[]byte) *snapshotServer {
	t.Helper()
	s := &snapshotServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1)) - 1
		if n >= len(bodies) {
			n = len(bodies) - 1
		}
		if bodies[n] == nil {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(bodies[n])
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestCache(t *testing.T, url, dir string, opts ...Option) *Cache {
	t.Helper()
	c, err := New(Config{SourceURL: url, CacheDir: dir}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{CacheDir: t.TempDir()})
	assert.Error(t, err)

	_, err = New(Config{SourceURL: "http://example.invalid/funds.db.zst"})
	assert.Error(t, err)

	c, err := New(Config{SourceURL: "http://example.invalid/funds.db.zst", CacheDir: "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, c.State())
	assert.Equal(t, "/tmp/x/funds.db", c.DatasetPath())
	assert.Equal(t, "/tmp/x/funds.db.zst", c.ArchivePath())
}

func TestDataset_FetchesWhenMissing(t *testing.T) {
	srv := newSnapshotServer(t, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c := newTestCache(t, srv.URL, dir)

	db, err := c.Dataset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.Ready())
	assert.FileExists(t, c.ArchivePath())
	assert.FileExists(t, c.DatasetPath())

	navs, err := db.LatestNavByISINs(t.Context(), []string{"INF1"})
	require.NoError(t, err)
	assert.Equal(t, []fundsdb.LatestNav{{ISIN: "INF1", NAV: 11.0, Date: "2024-02-01"}}, navs)

	again, err := c.Dataset(t.Context())
	require.NoError(t, err)
	assert.Same(t, db, again)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestDataset_SingleFlight(t *testing.T) {
	archive := testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture())
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	c := newTestCache(t, srv.URL, t.TempDir())

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*fundsdb.DB, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Dataset(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateInitializing, c.State())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestDataset_FreshCacheSkipsFetch(t *testing.T) {
	srv := newSnapshotServer(t, nil)
	dir := t.TempDir()
	testhelpers.WriteFundsDB(t, filepath.Join(dir, DatasetFileName), testhelpers.DefaultFundsFixture())

	c := newTestCache(t, srv.URL, dir)
	db, err := c.Dataset(t.Context())
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Equal(t, int32(0), srv.hits.Load())
}

func TestDataset_SweepsLeftoverTempFiles(t *testing.T) {
	srv := newSnapshotServer(t, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	dir := t.TempDir()
	leftover := filepath.Join(dir, DatasetFileName+".12345.tmp")
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(leftover, []byte("half a database"), 0o644))
	require.NoError(t, os.WriteFile(unrelated, []byte("keep me"), 0o644))

	c := newTestCache(t, srv.URL, dir)
	_, err := c.Dataset(t.Context())
	require.NoError(t, err)

	assert.NoFileExists(t, leftover)
	assert.FileExists(t, unrelated)
}

func TestDataset_StaleCacheRefetches(t *testing.T) {
	dir := t.TempDir()
	datasetPath := filepath.Join(dir, DatasetFileName)
	testhelpers.WriteFundsDB(t, datasetPath, testhelpers.FundsFixture{
		Schemes:    []testhelpers.Scheme{{Code: 1, Name: "Old Scheme"}},
		Securities: []testhelpers.Security{{ISIN: "OLD1", SchemeCode: 1}},
	})
	now := time.Now()
	old := now.Add(-snapshot.FreshnessTTL - time.Hour)
	require.NoError(t, os.Chtimes(datasetPath, old, old))

	srv := newSnapshotServer(t, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	c := newTestCache(t, srv.URL, dir, WithClock(func() time.Time { return now }))

	db, err := c.Dataset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.hits.Load())

	got, err := db.SearchByName(t.Context(), "HDFC", 50)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = db.SearchByName(t.Context(), "Old Scheme", 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, c.DatasetModTime().After(old))
}

func TestDataset_FailureIsNotCached(t *testing.T) {
	srv := newSnapshotServer(t, nil, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	c := newTestCache(t, srv.URL, t.TempDir())

	_, err := c.Dataset(t.Context())
	require.Error(t, err)

	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, StageFetch, be.Stage)

	var fe *snapshot.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, StateFailed, c.State())

	db, err := c.Dataset(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestDataset_DecompressFailure(t *testing.T) {
	srv := newSnapshotServer(t, []byte("definitely not an archive"), testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	c := newTestCache(t, srv.URL, t.TempDir())

	_, err := c.Dataset(t.Context())
	require.Error(t, err)

	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, StageDecompress, be.Stage)
	assert.ErrorIs(t, err, snapshot.ErrUnknownFormat)
	assert.NoFileExists(t, c.DatasetPath())

	_, err = c.Dataset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestDataset_OpenFailure(t *testing.T) {
	srv := newSnapshotServer(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatasetFileName), []byte(strings.Repeat("corrupt ", 1024)), 0o644))

	c := newTestCache(t, srv.URL, dir)
	_, err := c.Dataset(t.Context())
	require.Error(t, err)

	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, StageOpen, be.Stage)
	assert.Equal(t, int32(0), srv.hits.Load())
	assert.NoFileExists(t, c.DatasetPath())

	_, err = c.Dataset(t.Context())
	require.Error(t, err)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestDataset_OpenFailureRefetchesOnRetry(t *testing.T) {
	srv := newSnapshotServer(t,
		testhelpers.Zstd(t, []byte(strings.Repeat("not a database ", 1024))),
		testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()),
	)
	c := newTestCache(t, srv.URL, t.TempDir())

	_, err := c.Dataset(t.Context())
	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, StageOpen, be.Stage)
	assert.Equal(t, StateFailed, c.State())
	assert.NoFileExists(t, c.DatasetPath())

	db, err := c.Dataset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load())
	assert.Equal(t, StateReady, c.State())

	navs, err := db.LatestNavByISINs(t.Context(), []string{"INF1"})
	require.NoError(t, err)
	assert.Len(t, navs, 1)
}

func TestDataset_PrepareFailure(t *testing.T) {
	srv := newSnapshotServer(t, nil)
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := newTestCache(t, srv.URL, filepath.Join(blocker, "cache"))
	_, err := c.Dataset(t.Context())

	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, StagePrepare, be.Stage)
}

func TestDataset_CallerCancelDoesNotAbortBootstrap(t *testing.T) {
	archive := testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		started <- struct{}{}
		<-release
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	c := newTestCache(t, srv.URL, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Dataset(ctx)
		firstErr <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan error, 1)
	go func() {
		_, err := c.Dataset(context.Background())
		second <- err
	}()
	close(release)

	require.NoError(t, <-second)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, StateReady, c.State())
}

func TestClose(t *testing.T) {
	srv := newSnapshotServer(t, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	c := newTestCache(t, srv.URL, t.TempDir())

	_, err := c.Dataset(t.Context())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Close())

	_, err = c.Dataset(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
	assert.FileExists(t, c.DatasetPath())
}

func TestCloseBeforeBootstrap(t *testing.T) {
	srv := newSnapshotServer(t, testhelpers.FundsArchive(t, testhelpers.DefaultFundsFixture()))
	c := newTestCache(t, srv.URL, t.TempDir())

	require.NoError(t, c.Close())
	_, err := c.Dataset(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(0), srv.hits.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBootstrapError(t *testing.T) {
	inner := errors.New("disk full")
	err := &BootstrapError{Stage: StageDecompress, Err: inner}
	assert.Equal(t, "bootstrap decompress: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
}

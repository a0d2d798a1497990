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

package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStarting, "starting"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
		{Status(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func get(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, resp
}

func TestEndpoints(t *testing.T) {
	c := New()
	mux := http.NewServeMux()
	c.Register(mux)

	var datasetReady atomic.Bool
	c.AddReadinessProbe("dataset", datasetReady.Load)

	code, resp := get(t, mux, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", resp.Status)

	code, _ = get(t, mux, "/livez")
	assert.Equal(t, http.StatusOK, code)

	c.SetStatus(StatusHealthy)
	code, _ = get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, resp = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []string{"dataset"}, resp.Failing)

	datasetReady.Store(true)
	code, resp = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)
	assert.Empty(t, resp.Failing)

	c.SetStatus(StatusUnhealthy)
	code, _ = get(t, mux, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_FailingSortedAndRemovable(t *testing.T) {
	c := New()
	c.SetStatus(StatusHealthy)
	c.AddReadinessProbe("zeta", func() bool { return false })
	c.AddReadinessProbe("alpha", func() bool { return false })
	c.AddReadinessProbe("ok", func() bool { return true })

	ready, failing := c.Ready()
	assert.False(t, ready)
	assert.Equal(t, []string{"alpha", "zeta"}, failing)

	c.RemoveReadinessProbe("alpha")
	c.RemoveReadinessProbe("zeta")
	ready, failing = c.Ready()
	assert.True(t, ready)
	assert.Empty(t, failing)
}

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
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy bool     `json:"healthy"`
	Status  string   `json:"status"`
	Failing []string `json:"failing,omitempty"`
}

// Probe reports whether one readiness condition currently holds.
type Probe func() bool

// Checker serves /healthz, /livez and /readyz. The process is ready when
// its status is healthy and every registered probe passes.
type Checker struct {
	status atomic.Int32
	probes sync.Map // name -> Probe
}

func New() *Checker {
	return &Checker{}
}

func (c *Checker) SetStatus(status Status) {
	c.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (c *Checker) Status() Status {
	return Status(c.status.Load())
}

// AddReadinessProbe registers p under name, replacing any previous probe
// with that name.
func (c *Checker) AddReadinessProbe(name string, p Probe) {
	c.probes.Store(name, p)
}

func (c *Checker) RemoveReadinessProbe(name string) {
	c.probes.Delete(name)
}

// Ready returns whether the process is ready and, if not, the names of the
// probes that failed in sorted order.
func (c *Checker) Ready() (bool, []string) {
	var failing []string
	c.probes.Range(func(key, value any) bool {
		if !value.(Probe)() {
			failing = append(failing, key.(string))
		}
		return true
	})
	slices.Sort(failing)
	return c.Status() == StatusHealthy && len(failing) == 0, failing
}

// Register mounts the health endpoints on mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", c.healthzHandler)
	mux.HandleFunc("/readyz", c.readyzHandler)
	mux.HandleFunc("/livez", c.livezHandler)
}

func (c *Checker) healthzHandler(w http.ResponseWriter, r *http.Request) {
	status := c.Status()
	writeResponse(w, Response{Healthy: status == StatusHealthy, Status: status.String()})
}

func (c *Checker) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ready, failing := c.Ready()
	writeResponse(w, Response{Healthy: ready, Status: c.Status().String(), Failing: failing})
}

// livezHandler only fails once the process has declared itself unhealthy,
// so a slow bootstrap never gets the process restarted.
func (c *Checker) livezHandler(w http.ResponseWriter, r *http.Request) {
	status := c.Status()
	writeResponse(w, Response{Healthy: status != StatusUnhealthy, Status: status.String()})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

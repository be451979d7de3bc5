// Package health reports liveness for every pool bound in a Registry by
// running a lightweight probe statement through each one, the same
// shape as the teacher proxy's multi-component checker but narrowed to
// the one infrastructure dependency this core actually owns: the pool.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidelock/xapool/internal/pool"
)

// Status is the health verdict for one component or the overall report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is one pool's probe result.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report is the aggregate health response.
type Report struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// Checker probes every pool bound in a Registry.
type Checker struct {
	registry *pool.Registry
	probeSQL string
}

// NewChecker builds a Checker against registry, running probeSQL
// (typically "SELECT 1") through each bound pool's CheckConnection: on
// an idle connection, or on a scratch connection when none is idle.
func NewChecker(registry *pool.Registry, probeSQL string) *Checker {
	return &Checker{registry: registry, probeSQL: probeSQL}
}

// Check runs the probe against every bound pool concurrently.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	names := c.registry.Names()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components []ComponentHealth
	)

	for _, name := range names {
		wg.Add(1)
		go func(poolName string) {
			defer wg.Done()
			ch := c.checkPool(ctx, poolName)
			mu.Lock()
			components = append(components, ch)
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	report.Components = components
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

func (c *Checker) checkPool(ctx context.Context, name string) ComponentHealth {
	start := time.Now()

	p, ok := c.registry.Lookup(name)
	if !ok {
		return ComponentHealth{Name: name, Status: StatusUnhealthy, Message: "not bound", Latency: time.Since(start).String()}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.CheckConnection(ctx, c.probeSQL); err != nil {
		return ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("probe failed: %v", err),
			Latency: time.Since(start).String(),
		}
	}

	return ComponentHealth{Name: name, Status: StatusHealthy, Message: "ok", Latency: time.Since(start).String()}
}

// ServeHTTP serves the aggregate health report as JSON, answering 503
// if any pool is unhealthy.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

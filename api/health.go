package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"property-feed-sync/utils"
)

// Pinger is any dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]componentCheck `json:"checks"`
}

type componentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports the state of the service's dependencies.
type HealthChecker struct {
	deps      map[string]Pinger
	timeout   time.Duration
	startTime time.Time
	logger    *utils.Logger
}

// NewHealthChecker creates a HealthChecker. deps may be empty.
func NewHealthChecker(deps map[string]Pinger, logger *utils.Logger) *HealthChecker {
	return &HealthChecker{
		deps:      deps,
		timeout:   3 * time.Second,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HandleHealth always answers 200; the body tells whether every dependency
// is up.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, hc.logger, http.StatusOK, hc.check(r.Context()))
}

// HandleReadiness answers 503 when any dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := hc.check(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, hc.logger, code, status)
}

func (hc *HealthChecker) check(ctx context.Context) healthStatus {
	names := make([]string, 0, len(hc.deps))
	for name := range hc.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := "healthy"
	checks := make(map[string]componentCheck, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, hc.timeout)
		start := time.Now()
		err := hc.deps[name].Ping(cctx)
		cancel()

		c := componentCheck{Status: "up", Latency: time.Since(start).Round(time.Microsecond).String()}
		if err != nil {
			c.Status = "down"
			c.Message = err.Error()
			overall = "unhealthy"
		}
		checks[name] = c
	}

	return healthStatus{
		Status: overall,
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	}
}

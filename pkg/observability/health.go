package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of a process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is a single named probe. A failing critical check makes the
// process unhealthy; a failing non-critical one only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs the registered checks for one process role.
type HealthChecker struct {
	mu     sync.RWMutex
	role   string
	checks map[string]*HealthCheck
}

// HealthResponse is the JSON body served on /health.
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Role       string                 `json:"role,omitempty"`
	Version    string                 `json:"version"`
	Timestamp  time.Time              `json:"timestamp"`
	Uptime     string                 `json:"uptime"`
	Goroutines int                    `json:"goroutines"`
	Checks     map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the outcome of one check.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

var (
	globalChecker  *HealthChecker
	startTime      = time.Now()
	version        = "dev"
	initHealthOnce sync.Once
)

// InitHealthChecker initializes the global health checker
func InitHealthChecker() *HealthChecker {
	initHealthOnce.Do(func() {
		globalChecker = NewHealthChecker("")
	})
	return globalChecker
}

// GetHealthChecker returns the global health checker
func GetHealthChecker() *HealthChecker {
	return InitHealthChecker()
}

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	version = v
}

// NewHealthChecker creates an empty checker for role.
func NewHealthChecker(role string) *HealthChecker {
	return &HealthChecker{
		role:   role,
		checks: make(map[string]*HealthCheck),
	}
}

// SetRole sets the role reported by health responses.
func (hc *HealthChecker) SetRole(role string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.role = role
}

// RegisterCheck adds or replaces a check by name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	role := hc.role
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy
	for _, check := range checks {
		status := runCheck(ctx, check)
		results[check.Name] = status

		switch {
		case status.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case status.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	return HealthResponse{
		Status:     overall,
		Role:       role,
		Version:    version,
		Timestamp:  time.Now(),
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
}

func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check.CheckFunc(checkCtx)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{
		Status:   HealthStatusHealthy,
		Message:  "OK",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		status.Status = HealthStatusDegraded
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		}
		status.Message = err.Error()
	}
	return status
}

// HealthHandler returns an HTTP handler for health checks
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := GetHealthChecker().Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// LivenessHandler returns a simple liveness probe handler
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready only while every check passes.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := GetHealthChecker().Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
	}
}

// RegistryCheck fails when the coordinator registry is empty.
func RegistryCheck(size func() int) *HealthCheck {
	return &HealthCheck{
		Name: "registry",
		CheckFunc: func(ctx context.Context) error {
			if size() == 0 {
				return errors.New("registry is empty")
			}
			return nil
		},
		Timeout:  1 * time.Second,
		Critical: true,
	}
}

// LoopCheck reports a long-running loop as degraded once it has not made
// progress for longer than stall.
func LoopCheck(name string, lastProgress func() time.Time, stall time.Duration) *HealthCheck {
	return &HealthCheck{
		Name: name,
		CheckFunc: func(ctx context.Context) error {
			if since := time.Since(lastProgress()); since > stall {
				return fmt.Errorf("no progress for %s", since.Round(time.Second))
			}
			return nil
		},
		Timeout:  1 * time.Second,
		Critical: false,
	}
}

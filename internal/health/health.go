// Package health reports liveness and readiness of the analysis service.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// slowThreshold marks a passing check as degraded.
const slowThreshold = 2 * time.Second

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Details   interface{}   `json:"details,omitempty"`
}

// Pinger is anything that can confirm its backing resource is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModeFunc names the active explanation variant.
type ModeFunc func() string

// StatsFunc reports counters of an in-process component.
type StatsFunc func() map[string]interface{}

// Checker performs health checks
type Checker struct {
	store      Pinger
	mode       ModeFunc
	cacheStats StatsFunc
	logger     *zap.Logger
}

// New creates a new health checker
func New(store Pinger, mode ModeFunc, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		store:  store,
		mode:   mode,
		logger: logger.Named("health"),
	}
}

// WithCacheStats adds a cache check reporting fn's counters.
func (c *Checker) WithCacheStats(fn StatsFunc) *Checker {
	c.cacheStats = fn
	return c
}

// CheckAll performs all health checks
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{
		c.checkStore(ctx),
		c.checkExplainer(),
	}
	if c.cacheStats != nil {
		checks = append(checks, c.checkCache())
	}

	// Determine overall status
	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

// checkStore verifies the run store answers
func (c *Checker) checkStore(ctx context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "store",
		Timestamp: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if c.store == nil {
		err = fmt.Errorf("no store configured")
	} else {
		err = c.store.Ping(checkCtx)
	}
	check.Duration = time.Since(start)

	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Store unreachable: %v", err)
		c.logger.Warn("Health check failed: store",
			zap.Error(err),
			zap.Duration("duration", check.Duration),
		)
	case check.Duration > slowThreshold:
		check.Status = StatusDegraded
		check.Message = "Store responding slowly"
	default:
		check.Status = StatusHealthy
		check.Message = "Store reachable"
		c.logger.Debug("Health check passed: store",
			zap.Duration("duration", check.Duration),
		)
	}

	return check
}

// checkExplainer reports which explanation variant is active. Fallback-only
// operation is a valid configuration, so it never fails readiness.
func (c *Checker) checkExplainer() Check {
	check := Check{
		Name:      "explainer",
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	mode := "unknown"
	if c.mode != nil {
		mode = c.mode()
	}
	if strings.HasPrefix(mode, "generative:") {
		check.Message = "Generator configured (" + strings.TrimPrefix(mode, "generative:") + ")"
	} else {
		check.Message = "Deterministic fallback explanations only"
	}
	return check
}

// checkCache reports detail cache usage. The cache is an optimization, so
// it never fails readiness.
func (c *Checker) checkCache() Check {
	stats := c.cacheStats()
	check := Check{
		Name:      "cache",
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Details:   stats,
	}
	if enabled, _ := stats["enabled"].(bool); !enabled {
		check.Message = "Detail cache disabled"
		return check
	}
	check.Message = fmt.Sprintf("Detail cache holding %v entries", stats["entries"])
	return check
}

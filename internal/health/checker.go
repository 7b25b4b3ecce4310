package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ukpulse/pulseboard/internal/metrics"
)

// Checker periodically probes the relay with an OPTIONS request. Pre-flight
// is part of the relay contract and never reaches the agent, so the probe
// is free.
type Checker struct {
	relayURL      string
	checkInterval time.Duration
	timeout       time.Duration
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	lastError     atomic.Value // string
	metrics       *metrics.Metrics
	logger        *slog.Logger
	client        *http.Client
	stopCh        chan struct{}
}

// NewChecker creates a new relay health checker and starts probing.
func NewChecker(relayURL string, checkInterval, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Checker {
	c := &Checker{
		relayURL:      relayURL,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       m,
		logger:        logger,
		client: &http.Client{
			Timeout: timeout,
		},
		stopCh: make(chan struct{}),
	}

	// Initialize as unhealthy until first check
	c.healthy.Store(false)

	// Start background checker
	go c.run()

	return c
}

// run performs periodic health checks.
func (c *Checker) run() {
	// Perform initial check immediately
	c.check()

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.check()
		case <-c.stopCh:
			return
		}
	}
}

// check performs a single probe.
func (c *Checker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.relayURL, nil)
	if err != nil {
		c.updateHealth(false, err.Error())
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.updateHealth(false, err.Error())
		return
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.updateHealth(true, "")
	} else {
		c.updateHealth(false, fmt.Sprintf("status code: %d", resp.StatusCode))
	}
}

// updateHealth updates the health status and metrics.
func (c *Checker) updateHealth(healthy bool, errMsg string) {
	c.healthy.Store(healthy)
	c.lastCheck.Store(time.Now())
	if errMsg != "" {
		c.lastError.Store(errMsg)
		if c.logger != nil {
			c.logger.Debug("relay health check failed", "error", errMsg)
		}
	} else {
		c.lastError.Store("")
	}

	c.metrics.UpdateRelayHealth(healthy)
}

// Healthy returns whether the relay is currently reachable.
func (c *Checker) Healthy() bool {
	return c.healthy.Load()
}

// LastCheck returns the time of the last probe.
func (c *Checker) LastCheck() time.Time {
	if v := c.lastCheck.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// LastError returns the last error message, if any.
func (c *Checker) LastError() string {
	if v := c.lastError.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Shutdown stops the health checker.
func (c *Checker) Shutdown() {
	close(c.stopCh)
}

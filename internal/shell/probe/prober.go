// Package probe polls readiness endpoints until a step is confirmed
// healthy or its timeout budget is spent. This is part of the Imperative
// Shell - it performs HTTP I/O against the deployed units.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

// =============================================================================
// Probe Results and Errors
// =============================================================================

// Result is the outcome of a single probe attempt.
type Result string

const (
	Healthy     Result = "healthy"
	Unhealthy   Result = "unhealthy"
	Unreachable Result = "unreachable"
)

var (
	// ErrReadinessTimeout is returned when the timeout budget is spent
	// without a Healthy result. Always fatal, never transient.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrUnknownCheckType is returned for a check type the prober does
	// not implement.
	ErrUnknownCheckType = errors.New("unknown readiness check type")
)

// ReadinessTimeoutError reports which endpoint timed out and after how long.
type ReadinessTimeoutError struct {
	Endpoint string
	Timeout  time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("readiness timeout: %s not healthy after %s", e.Endpoint, e.Timeout)
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return ErrReadinessTimeout
}

// =============================================================================
// HTTP Prober
// =============================================================================

// Config configures the HTTP prober.
type Config struct {
	// RequestTimeout bounds a single probe request.
	// Default: 5 seconds.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default prober configuration.
func DefaultConfig() Config {
	return Config{RequestTimeout: 5 * time.Second}
}

// HTTPProber polls HTTP health endpoints. A step is ready after one
// Healthy result, or for aggregate checks once every sub-check has
// reported Healthy.
type HTTPProber struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber creates a prober.
func NewHTTPProber(cfg Config, logger *slog.Logger) *HTTPProber {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With("component", "prober"),
	}
}

// WaitReady blocks until the check passes, the check's timeout budget is
// spent (ReadinessTimeoutError), or ctx is cancelled.
func (p *HTTPProber) WaitReady(ctx context.Context, check plan.ReadinessCheck) error {
	switch check.Type {
	case plan.CheckNone, "":
		return nil
	case plan.CheckHTTP:
		return p.wait(ctx, check, []string{check.Endpoint})
	case plan.CheckAggregate:
		return p.wait(ctx, check, check.Checks)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCheckType, check.Type)
	}
}

// wait polls every endpoint in the set until all are healthy within the
// shared timeout budget. Endpoints drop out of the pending set as they
// report Healthy; a later Unhealthy does not resurrect them.
func (p *HTTPProber) wait(ctx context.Context, check plan.ReadinessCheck, endpoints []string) error {
	if check.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(check.InitialDelay):
		}
	}

	interval := check.Interval
	if interval <= 0 {
		interval = plan.DefaultProbeInterval
	}
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = plan.DefaultProbeTimeout
	}

	budget, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := append([]string(nil), endpoints...)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending = p.probePending(budget, pending)
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-budget.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ReadinessTimeoutError{Endpoint: pending[0], Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// probePending probes every pending endpoint once and returns those still
// not healthy.
func (p *HTTPProber) probePending(ctx context.Context, pending []string) []string {
	remaining := pending[:0]
	for _, endpoint := range pending {
		result := p.probeOnce(ctx, endpoint)
		p.logger.Debug("probe attempt", "endpoint", endpoint, "result", result)
		if result != Healthy {
			remaining = append(remaining, endpoint)
		}
	}
	return remaining
}

// probeOnce performs a single GET against the endpoint. Any 2xx status is
// Healthy, other statuses are Unhealthy, transport errors are Unreachable.
func (p *HTTPProber) probeOnce(ctx context.Context, endpoint string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Unreachable
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Unreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Healthy
	}
	return Unhealthy
}

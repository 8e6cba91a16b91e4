package activity

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceHealth is the result of probing one collaborator.
type ServiceHealth struct {
	Service string        `json:"service"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckAll probes every service concurrently, each bounded by timeout, and
// returns results sorted by service name. A failing probe never cancels the
// others.
func CheckAll(ctx context.Context, hc HealthChecker, services []string, timeout time.Duration) []ServiceHealth {
	results := make([]ServiceHealth, len(services))

	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			pctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			start := time.Now()
			err := hc.Health(pctx, svc)
			res := ServiceHealth{Service: svc, Healthy: err == nil, Latency: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })
	return results
}

// AllHealthy reports whether every result is healthy.
func AllHealthy(results []ServiceHealth) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

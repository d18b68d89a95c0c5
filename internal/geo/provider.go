package geo

import (
	"context"
	"fmt"
	"sync"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// Provider fetches the boundary on first use and serves the cached copy for
// the rest of its lifetime. Failed fetches are not cached.
type Provider struct {
	fetcher BoundaryFetcher
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	mu       sync.Mutex
	boundary *Boundary
}

// NewProvider creates a provider backed by fetcher.
func NewProvider(fetcher BoundaryFetcher, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Provider {
	return &Provider{
		fetcher: fetcher,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// LoadBoundary returns the cached boundary, fetching it first if needed.
// Concurrent first callers wait for a single fetch. Errors wrap
// models.ErrBoundaryFetch.
func (p *Provider) LoadBoundary(ctx context.Context) (*Boundary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.boundary != nil {
		return p.boundary, nil
	}

	timer := p.metrics.NewTimer(p.metrics.BoundaryFetchDuration)
	b, err := p.fetcher.FetchBoundary(ctx)
	duration := timer.ObserveDuration()
	if err != nil {
		p.logger.Error(ctx, "[GEO_BOUNDARY_ERROR] Failed to load country boundary", logging.Fields{
			"duration_ms": duration.Milliseconds(),
		}, err)
		return nil, fmt.Errorf("%w: %w", models.ErrBoundaryFetch, err)
	}

	p.logger.Info(ctx, "[GEO_BOUNDARY_LOADED] Country boundary cached", logging.Fields{
		"polygons":    len(b.Shape()),
		"valid":       b.Valid(),
		"duration_ms": duration.Milliseconds(),
	})
	p.boundary = b
	return b, nil
}

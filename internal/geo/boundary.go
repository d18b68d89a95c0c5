// Package geo decides whether a coordinate lies inside the national
// boundary. The boundary is fetched once from a WFS endpoint and shared
// read-only afterwards.
//
// Every check fails open: a missing or malformed boundary, or an unexpected
// failure during the test, accepts the point rather than dropping the row.
package geo

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Boundary is a national boundary in WGS84 lon/lat order.
type Boundary struct {
	shape orb.MultiPolygon
	bound orb.Bound
}

// NewBoundary wraps mp. The shape is not copied and must not be modified
// afterwards.
func NewBoundary(mp orb.MultiPolygon) *Boundary {
	return &Boundary{shape: mp, bound: mp.Bound()}
}

// BoundaryFetcher obtains the national boundary from an external service.
type BoundaryFetcher interface {
	FetchBoundary(ctx context.Context) (*Boundary, error)
}

// Shape returns the underlying multipolygon.
func (b *Boundary) Shape() orb.MultiPolygon {
	return b.shape
}

// Valid reports whether the boundary can take part in a containment test:
// at least one polygon, every ring closed with four or more points.
func (b *Boundary) Valid() bool {
	if b == nil || len(b.shape) == 0 {
		return false
	}
	for _, poly := range b.shape {
		if len(poly) == 0 {
			return false
		}
		for _, ring := range poly {
			if len(ring) < 4 || !ring.Closed() {
				return false
			}
		}
	}
	return true
}

// Contains reports whether (lat, lon) falls inside b. An unusable boundary,
// or a panic inside the test, yields true.
func Contains(lat, lon float64, b *Boundary) (inside bool) {
	if !b.Valid() {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			inside = true
		}
	}()

	p := orb.Point{lon, lat}
	if !b.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(b.shape, p)
}

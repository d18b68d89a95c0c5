package geo

import (
	"context"
	"fmt"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// Confidence qualifies an accepted result.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Reasons reported by ValidateInCountry.
const (
	ReasonInside          = "inside country"
	ReasonOutOfRange      = "coordinates out of global range"
	ReasonOutsideBBox     = "outside country bounding box"
	ReasonOutsideBoundary = "outside country boundary"
	ReasonBBoxOnly        = "inside bounding box, boundary check disabled"
	ReasonUnavailable     = "validation unavailable, assumed valid"
)

// Result is the outcome of a country check.
type Result struct {
	Valid      bool
	Reason     string
	Confidence Confidence
}

// DefaultBBox covers the mainland, the Balearic and Canary Islands, Ceuta and
// Melilla.
var DefaultBBox = models.BBox{South: 27, West: -19, North: 44, East: 5}

// Validator gates coordinates in three stages: global range, bounding box,
// then the polygon test. A nil provider skips the polygon stage.
type Validator struct {
	bbox     models.BBox
	provider *Provider
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewValidator creates a validator.
func NewValidator(bbox models.BBox, provider *Provider, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Validator {
	return &Validator{
		bbox:     bbox,
		provider: provider,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ValidateInCountry reports whether (lat, lon) lies inside the country. It
// never returns an error: infrastructure failures are accepted with low
// confidence.
func (v *Validator) ValidateInCountry(ctx context.Context, lat, lon float64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn(ctx, "[GEO_CHECK_PANIC] Country check panicked, accepting point", logging.Fields{
				"latitude":  lat,
				"longitude": lon,
				"panic":     fmt.Sprint(r),
			})
			res = v.failOpen()
		}
	}()

	if !models.ValidLatLon(lat, lon) {
		v.metrics.RecordGeoCheck("outside_range")
		return Result{Reason: ReasonOutOfRange, Confidence: ConfidenceHigh}
	}
	if !v.bbox.Contains(lat, lon) {
		v.metrics.RecordGeoCheck("outside_bbox")
		return Result{Reason: ReasonOutsideBBox, Confidence: ConfidenceHigh}
	}
	if v.provider == nil {
		v.metrics.RecordGeoCheck("inside")
		return Result{Valid: true, Reason: ReasonBBoxOnly, Confidence: ConfidenceHigh}
	}

	b, err := v.provider.LoadBoundary(ctx)
	if err != nil || !b.Valid() {
		v.logger.Warn(ctx, "[GEO_CHECK_DEGRADED] Boundary unavailable, accepting point", logging.Fields{
			"latitude":  lat,
			"longitude": lon,
		})
		return v.failOpen()
	}

	if !Contains(lat, lon, b) {
		v.metrics.RecordGeoCheck("outside_boundary")
		return Result{Reason: ReasonOutsideBoundary, Confidence: ConfidenceHigh}
	}
	v.metrics.RecordGeoCheck("inside")
	return Result{Valid: true, Reason: ReasonInside, Confidence: ConfidenceHigh}
}

func (v *Validator) failOpen() Result {
	v.metrics.RecordGeoCheck("fail_open")
	return Result{Valid: true, Reason: ReasonUnavailable, Confidence: ConfidenceLow}
}

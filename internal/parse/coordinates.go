// Package parse turns raw spreadsheet fields into typed values.
package parse

import (
	"math"
	"strconv"
	"strings"

	"envsignal-platform/internal/models"
)

// CoordinatePrecision is the number of decimals coordinates are rounded to
// before validation, so dedup comparisons see stable values.
const CoordinatePrecision = models.CoordinateDecimals

// ParseCoordinates parses a "lat,lon" pair.
func ParseCoordinates(raw string) (lat, lon float64, err error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, invalidCoordinates(raw, "expected exactly two comma-separated values")
	}

	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, invalidCoordinates(raw, "latitude is not a number")
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, invalidCoordinates(raw, "longitude is not a number")
	}

	lat = round(lat, CoordinatePrecision)
	lon = round(lon, CoordinatePrecision)

	// NaN fails both comparisons and is rejected here.
	if !models.ValidLatLon(lat, lon) {
		return 0, 0, invalidCoordinates(raw, "outside [-90,90]x[-180,180]")
	}
	return lat, lon, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func invalidCoordinates(raw, msg string) error {
	return &models.ValidationError{
		Field:   "coordinates",
		Value:   raw,
		Message: msg,
		Err:     models.ErrInvalidCoordinates,
	}
}

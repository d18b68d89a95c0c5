package models

import (
	"math"
	"time"
)

// Deduplication window: two reports describe the same measurement event when
// every difference is strictly below these tolerances and the operator matches.
const (
	CoordinateTolerance = 1e-8
	TimeTolerance       = 60 * time.Second
)

// CoordinateDecimals is the grid coordinates are rounded to on input. Dedup
// distances are measured in whole grid steps so a difference of exactly one
// tolerance never drifts below it through float subtraction.
const CoordinateDecimals = 8

var coordinateScale = math.Pow10(CoordinateDecimals)

// gridSteps returns |a-b| in units of the coordinate grid.
func gridSteps(a, b float64) float64 {
	return math.Abs(math.Round(a*coordinateScale) - math.Round(b*coordinateScale))
}

// MeasurementSession is one physical measurement event to which signal and
// pollutant facts attach. RecordedAt is a naive wall-clock value: its
// location is always UTC and carries no meaning.
type MeasurementSession struct {
	ID         int64     `json:"id" db:"id"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	RecordedAt time.Time `json:"timestamp_recorded" db:"timestamp_recorded"`
	OperatorID int64     `json:"operator_id" db:"operator_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// SessionKey is the dedup signature of a report.
type SessionKey struct {
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
	OperatorID int64
}

// Key returns the dedup signature of an existing session.
func (s *MeasurementSession) Key() SessionKey {
	return SessionKey{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		RecordedAt: s.RecordedAt,
		OperatorID: s.OperatorID,
	}
}

// Matches reports whether other falls inside the dedup window of k.
func (k SessionKey) Matches(other SessionKey) bool {
	if k.OperatorID != other.OperatorID {
		return false
	}
	tolerance := math.Round(CoordinateTolerance * coordinateScale)
	if gridSteps(k.Latitude, other.Latitude) >= tolerance {
		return false
	}
	if gridSteps(k.Longitude, other.Longitude) >= tolerance {
		return false
	}
	dt := k.RecordedAt.Sub(other.RecordedAt)
	if dt < 0 {
		dt = -dt
	}
	return dt < TimeTolerance
}

// NewSession builds an unsaved session for key.
func NewSession(key SessionKey) *MeasurementSession {
	return &MeasurementSession{
		Latitude:   key.Latitude,
		Longitude:  key.Longitude,
		RecordedAt: key.RecordedAt,
		OperatorID: key.OperatorID,
	}
}

// ValidLatLon reports whether the pair lies in the WGS84 range.
func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

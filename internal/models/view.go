package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BBox is a south/west/north/east rectangle in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether the point lies inside or on the rectangle.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Valid reports whether south < north and west < east.
func (b BBox) Valid() bool {
	return b.South < b.North && b.West < b.East
}

// SignalView is a signal fact joined with its catalog label.
type SignalView struct {
	SessionID   int64     `json:"-" db:"session_id"`
	SignalType  string    `json:"signal_type" db:"signal_type"`
	StrengthDBm int       `json:"signal_strength_dbm" db:"signal_strength_dbm"`
	QualityFlag string    `json:"quality_flag" db:"quality_flag"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PollutantView is a pollutant fact joined with its catalog code.
type PollutantView struct {
	SessionID     int64           `json:"-" db:"session_id"`
	Pollutant     string          `json:"pollutant" db:"pollutant"`
	Concentration decimal.Decimal `json:"concentration" db:"concentration"`
	QualityFlag   string          `json:"quality_flag" db:"quality_flag"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// SessionView is a session with its operator name and attached facts, the
// shape served by the read API.
type SessionView struct {
	MeasurementSession
	Operator   string          `json:"operator" db:"operator"`
	Signals    []SignalView    `json:"signals"`
	Pollutants []PollutantView `json:"pollutants"`
}

// SessionFilter narrows read-side session queries. Zero values mean no filter.
type SessionFilter struct {
	SignalType string
	Pollution  bool
	Operators  []string
	Pollutants []string
	BBox       *BBox
	Since      *time.Time
	Limit      int
}

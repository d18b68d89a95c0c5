package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Physical bounds for signal strength readings, in dBm, inclusive.
const (
	MinSignalDBm = -150
	MaxSignalDBm = 0
)

// Quality flags and provenance tags stamped on measurement facts.
const (
	QualityValid = "valid"

	DataSourceForms = "forms"

	MethodMobile         = "mobile"
	MethodDomesticSensor = "domestic_sensor"
)

// SignalMeasurement is a signal-strength fact, unique per (session, signal type).
type SignalMeasurement struct {
	ID                int64     `json:"id" db:"id"`
	SessionID         int64     `json:"session_id" db:"session_id"`
	SignalTypeID      int64     `json:"signal_type_id" db:"signal_type_id"`
	StrengthDBm       int       `json:"signal_strength_dbm" db:"signal_strength_dbm"`
	QualityFlag       string    `json:"quality_flag" db:"quality_flag"`
	DataSource        string    `json:"data_source" db:"data_source"`
	MeasurementMethod string    `json:"measurement_method" db:"measurement_method"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// PollutantMeasurement is a pollutant-concentration fact, unique per
// (session, pollutant type). Concentration keeps the exact decimal value read
// from the source.
type PollutantMeasurement struct {
	ID                int64           `json:"id" db:"id"`
	SessionID         int64           `json:"session_id" db:"session_id"`
	PollutantTypeID   int64           `json:"pollutant_type_id" db:"pollutant_type_id"`
	Concentration     decimal.Decimal `json:"concentration" db:"concentration"`
	QualityFlag       string          `json:"quality_flag" db:"quality_flag"`
	DataSource        string          `json:"data_source" db:"data_source"`
	MeasurementMethod string          `json:"measurement_method" db:"measurement_method"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// SignalInRange reports whether dbm is an acceptable signal reading.
func SignalInRange(dbm int) bool {
	return dbm >= MinSignalDBm && dbm <= MaxSignalDBm
}

// NewSignalMeasurement returns a fact for a freshly accepted reading.
func NewSignalMeasurement(sessionID, signalTypeID int64, dbm int) *SignalMeasurement {
	return &SignalMeasurement{
		SessionID:         sessionID,
		SignalTypeID:      signalTypeID,
		StrengthDBm:       dbm,
		QualityFlag:       QualityValid,
		DataSource:        DataSourceForms,
		MeasurementMethod: MethodMobile,
	}
}

// NewPollutantMeasurement returns a fact for a freshly accepted concentration.
func NewPollutantMeasurement(sessionID, pollutantTypeID int64, c decimal.Decimal) *PollutantMeasurement {
	return &PollutantMeasurement{
		SessionID:         sessionID,
		PollutantTypeID:   pollutantTypeID,
		Concentration:     c,
		QualityFlag:       QualityValid,
		DataSource:        DataSourceForms,
		MeasurementMethod: MethodDomesticSensor,
	}
}

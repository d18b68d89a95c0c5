package models

import "time"

// MaxDiagnostics bounds how many rejected rows a run keeps for reporting.
const MaxDiagnostics = 1000

// RunStatus classifies a finished run by its success rate.
type RunStatus string

const (
	RunSucceeded            RunStatus = "success"
	RunSucceededWithWarning RunStatus = "success_with_warnings"
	RunDegraded             RunStatus = "degraded"
)

// RowDiagnostic describes one rejected row.
type RowDiagnostic struct {
	Row     int    `json:"row"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Statistics tallies the outcome of a batch.
type Statistics struct {
	TotalRows          int `json:"total_rows"`
	Processed          int `json:"processed"`
	NewSessions        int `json:"new_sessions"`
	ExistingSessions   int `json:"existing_sessions"`
	SkippedIncomplete  int `json:"skipped_incomplete"`
	InvalidTimestamp   int `json:"invalid_timestamp"`
	InvalidCoordinates int `json:"invalid_coordinates"`
	OutsideCountry     int `json:"outside_country"`
	UnknownOperator    int `json:"unknown_operator"`
	DatabaseErrors     int `json:"database_errors"`
	TotalSignals       int `json:"total_signals"`
	TotalPollutants    int `json:"total_pollutants"`
	RejectedSignals    int `json:"rejected_signals"`
	RejectedPollutants int `json:"rejected_pollutants"`
	LowConfidenceGeo   int `json:"low_confidence_geo"`

	Duration    time.Duration   `json:"duration"`
	Diagnostics []RowDiagnostic `json:"diagnostics,omitempty"`
}

// CountRow adds a terminal row outcome.
func (s *Statistics) CountRow(reason Reason) {
	switch reason {
	case ReasonProcessed:
		s.Processed++
	case ReasonIncomplete:
		s.SkippedIncomplete++
	case ReasonInvalidTimestamp:
		s.InvalidTimestamp++
	case ReasonUnknownOperator:
		s.UnknownOperator++
	case ReasonInvalidCoordinates:
		s.InvalidCoordinates++
	case ReasonOutsideCountry:
		s.OutsideCountry++
	default:
		s.DatabaseErrors++
	}
}

// AddDiagnostic keeps d unless the diagnostics buffer is full.
func (s *Statistics) AddDiagnostic(d RowDiagnostic) {
	if len(s.Diagnostics) < MaxDiagnostics {
		s.Diagnostics = append(s.Diagnostics, d)
	}
}

// AsMap returns the outcome-category to count mapping.
func (s *Statistics) AsMap() map[string]int {
	return map[string]int{
		"processed":           s.Processed,
		"new_sessions":        s.NewSessions,
		"existing_sessions":   s.ExistingSessions,
		"skipped_incomplete":  s.SkippedIncomplete,
		"invalid_timestamp":   s.InvalidTimestamp,
		"invalid_coordinates": s.InvalidCoordinates,
		"outside_country":     s.OutsideCountry,
		"unknown_operator":    s.UnknownOperator,
		"database_errors":     s.DatabaseErrors,
		"total_signals":       s.TotalSignals,
		"total_pollutants":    s.TotalPollutants,
	}
}

// RejectedRows is the number of rows that did not reach the processed state.
func (s *Statistics) RejectedRows() int {
	return s.SkippedIncomplete + s.InvalidTimestamp + s.InvalidCoordinates +
		s.OutsideCountry + s.UnknownOperator + s.DatabaseErrors
}

// SuccessRate is the processed share of all rows, in percent.
func (s *Statistics) SuccessRate() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.TotalRows) * 100
}

// Status classifies the run: >=95% success, >=80% success with warnings,
// anything lower degraded.
func (s *Statistics) Status() RunStatus {
	rate := s.SuccessRate()
	switch {
	case rate >= 95:
		return RunSucceeded
	case rate >= 80:
		return RunSucceededWithWarning
	default:
		return RunDegraded
	}
}

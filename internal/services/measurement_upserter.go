package services

import (
	"context"
	"errors"
	"fmt"

	"envsignal-platform/internal/models"
	"envsignal-platform/internal/parse"
	"envsignal-platform/internal/reference"
	"envsignal-platform/internal/repository"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

const (
	kindSignal    = "signal"
	kindPollutant = "pollutant"
)

// MeasurementUpserter validates raw readings and writes them as facts.
//
// Both upsert methods report false with a *models.ValidationError when the
// reading is rejected, and false with an error wrapping models.ErrStore when
// the write itself fails. Only the latter should abandon the row.
type MeasurementUpserter struct {
	repo     repository.MeasurementRepository
	resolver *reference.Resolver
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewMeasurementUpserter creates a new measurement upserter
func NewMeasurementUpserter(repo repository.MeasurementRepository, resolver *reference.Resolver, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MeasurementUpserter {
	return &MeasurementUpserter{
		repo:     repo,
		resolver: resolver,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// UpsertSignal writes a signal-strength reading for sessionID.
func (u *MeasurementUpserter) UpsertSignal(ctx context.Context, sessionID int64, code, raw string) (bool, error) {
	typeID, ok := u.resolver.ResolveSignalType(code)
	if !ok {
		return u.reject(ctx, kindSignal, &models.ValidationError{
			Field:   "signal_type",
			Value:   code,
			Message: "not in catalog",
			Err:     models.ErrUnrecognizedMeasurementType,
		})
	}

	dbm, err := parse.ParseStrength(raw)
	if err != nil {
		return u.reject(ctx, kindSignal, err)
	}
	if !models.SignalInRange(dbm) {
		return u.reject(ctx, kindSignal, &models.ValidationError{
			Field:   "signal_strength_dbm",
			Value:   raw,
			Message: fmt.Sprintf("outside [%d, %d] dBm", models.MinSignalDBm, models.MaxSignalDBm),
			Err:     models.ErrOutOfRangeValue,
		})
	}

	if err := u.repo.UpsertSignal(ctx, models.NewSignalMeasurement(sessionID, typeID, dbm)); err != nil {
		return false, err
	}
	u.metrics.RecordFactWritten(kindSignal)
	return true, nil
}

// UpsertPollutant writes a pollutant-concentration reading for sessionID.
// Only negative or non-numeric values are rejected; there is no upper bound.
func (u *MeasurementUpserter) UpsertPollutant(ctx context.Context, sessionID int64, code, raw string) (bool, error) {
	typeID, ok := u.resolver.ResolvePollutantType(code)
	if !ok {
		return u.reject(ctx, kindPollutant, &models.ValidationError{
			Field:   "pollutant_type",
			Value:   code,
			Message: "not in catalog",
			Err:     models.ErrUnrecognizedMeasurementType,
		})
	}

	c, err := parse.ParseConcentration(raw)
	if err != nil {
		return u.reject(ctx, kindPollutant, err)
	}
	if c.IsNegative() {
		return u.reject(ctx, kindPollutant, &models.ValidationError{
			Field:   "concentration",
			Value:   raw,
			Message: "negative concentration",
			Err:     models.ErrOutOfRangeValue,
		})
	}

	if err := u.repo.UpsertPollutant(ctx, models.NewPollutantMeasurement(sessionID, typeID, c)); err != nil {
		return false, err
	}
	u.metrics.RecordFactWritten(kindPollutant)
	return true, nil
}

func (u *MeasurementUpserter) reject(ctx context.Context, kind string, err error) (bool, error) {
	reason := models.ReasonFor(err)
	u.metrics.RecordFactRejected(kind, string(reason))

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		u.logger.Warn(ctx, "[FACT_REJECTED] Measurement dropped", logging.Fields{
			"kind":   kind,
			"reason": string(reason),
			"field":  ve.Field,
			"value":  ve.Value,
		})
	}
	return false, err
}

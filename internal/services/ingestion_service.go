package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"envsignal-platform/internal/geo"
	"envsignal-platform/internal/models"
	"envsignal-platform/internal/parse"
	"envsignal-platform/internal/reference"
	"envsignal-platform/internal/repository"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// CountryValidator gates coordinates on the national boundary.
type CountryValidator interface {
	ValidateInCountry(ctx context.Context, lat, lon float64) geo.Result
}

// IngestionService runs survey rows through the validation pipeline and
// writes sessions and measurement facts.
type IngestionService struct {
	mapping   models.ColumnMapping
	resolver  *reference.Resolver
	validator CountryValidator
	matcher   *SessionMatcher
	upserter  *MeasurementUpserter
	workers   int
	clock     clockwork.Clock
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// IngestionOption customizes an IngestionService.
type IngestionOption func(*IngestionService)

// WithWorkers processes up to n rows concurrently. n <= 1 keeps rows strictly
// sequential.
func WithWorkers(n int) IngestionOption {
	return func(s *IngestionService) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}

// WithColumnMapping overrides the source column names.
func WithColumnMapping(m models.ColumnMapping) IngestionOption {
	return func(s *IngestionService) { s.mapping = m }
}

// WithClock sets the clock used to time runs.
func WithClock(c clockwork.Clock) IngestionOption {
	return func(s *IngestionService) { s.clock = c }
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	store repository.Store,
	resolver *reference.Resolver,
	validator CountryValidator,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	opts ...IngestionOption,
) *IngestionService {
	s := &IngestionService{
		mapping:   models.DefaultColumnMapping(),
		resolver:  resolver,
		validator: validator,
		matcher:   NewSessionMatcher(store, logger, metricsCollector),
		upserter:  NewMeasurementUpserter(store, resolver, logger, metricsCollector),
		workers:   1,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metricsCollector,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rowOutcome is everything one row contributes to the run statistics.
type rowOutcome struct {
	row    int
	reason models.Reason
	err    error

	sessionResolved bool
	sessionCreated  bool
	lowConfidence   bool

	signals            int
	pollutants         int
	rejectedSignals    int
	rejectedPollutants int
	factDiagnostics    []models.RowDiagnostic
}

// ProcessBatch runs every row through the pipeline. A failing row never stops
// the batch. If ctx is cancelled the remaining rows are skipped and the
// statistics gathered so far are returned along with ctx.Err().
func (s *IngestionService) ProcessBatch(ctx context.Context, rows []models.RawRow) (*models.Statistics, error) {
	start := s.clock.Now()
	stats := &models.Statistics{}

	s.logger.Info(ctx, "[INGEST_START] Starting batch", logging.Fields{
		"rows":    len(rows),
		"workers": s.workers,
		"stage":   "INITIALIZATION",
	})
	s.metrics.IngestionBatchSize.Observe(float64(len(rows)))

	var mu sync.Mutex
	record := func(o rowOutcome) {
		mu.Lock()
		defer mu.Unlock()
		s.apply(stats, o)
	}

	if s.workers <= 1 {
		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}
			record(s.processRow(ctx, row))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.workers)
		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				record(s.processRow(ctx, row))
				return nil
			})
		}
		_ = g.Wait()
	}

	stats.Duration = s.clock.Since(start)
	s.metrics.IngestionDuration.Observe(stats.Duration.Seconds())

	fields := logging.Fields{
		"total_rows":       stats.TotalRows,
		"processed":        stats.Processed,
		"new_sessions":     stats.NewSessions,
		"total_signals":    stats.TotalSignals,
		"total_pollutants": stats.TotalPollutants,
		"rejected_rows":    stats.RejectedRows(),
		"duration_seconds": stats.Duration.Seconds(),
		"status":           string(stats.Status()),
		"stage":            "COMPLETE",
	}

	if err := ctx.Err(); err != nil {
		fields["remaining_rows"] = len(rows) - stats.TotalRows
		s.logger.Warn(ctx, "[INGEST_CANCELLED] Batch interrupted", fields)
		return stats, err
	}

	s.logger.Info(ctx, "[INGEST_COMPLETE] Batch completed", fields)
	return stats, nil
}

// apply folds o into stats. Callers hold the stats lock.
func (s *IngestionService) apply(stats *models.Statistics, o rowOutcome) {
	stats.TotalRows++
	stats.CountRow(o.reason)
	s.metrics.RecordRowOutcome(string(o.reason))

	if o.sessionResolved {
		if o.sessionCreated {
			stats.NewSessions++
		} else {
			stats.ExistingSessions++
		}
	}
	if o.lowConfidence {
		stats.LowConfidenceGeo++
	}
	stats.TotalSignals += o.signals
	stats.TotalPollutants += o.pollutants
	stats.RejectedSignals += o.rejectedSignals
	stats.RejectedPollutants += o.rejectedPollutants

	for _, d := range o.factDiagnostics {
		stats.AddDiagnostic(d)
	}
	if o.err != nil {
		stats.AddDiagnostic(models.RowDiagnostic{
			Row:     o.row,
			Reason:  o.reason,
			Message: o.err.Error(),
		})
	}
}

// processRow takes one row through the gates, stopping at the first failure.
// Panics are converted into a database/processing error for the row.
func (s *IngestionService) processRow(ctx context.Context, row models.RawRow) (out rowOutcome) {
	out.row = row.Number
	ctx = logging.WithRow(ctx, row.Number)

	defer func() {
		if r := recover(); r != nil {
			out.reason = models.ReasonDatabaseError
			out.err = fmt.Errorf("panic while processing row: %v", r)
			s.logger.Error(ctx, "[ROW_PANIC] Row processing panicked", logging.Fields{
				"row": row.Number,
			}, out.err)
		}
	}()

	fail := func(err error) rowOutcome {
		out.reason = models.ReasonFor(err)
		out.err = &models.RowError{Row: row.Number, Reason: out.reason, Err: err}
		if out.reason == models.ReasonDatabaseError {
			s.logger.Error(ctx, "[ROW_STORE_ERROR] Row abandoned", logging.Fields{
				"reason": string(out.reason),
			}, err)
		} else {
			s.logger.Debug(ctx, "[ROW_REJECTED] Row skipped", logging.Fields{
				"reason": string(out.reason),
				"error":  err.Error(),
			})
		}
		return out
	}

	if missing := s.mapping.MissingRequired(row); len(missing) > 0 {
		return fail(fmt.Errorf("%w: %s", models.ErrMissingRequiredField, strings.Join(missing, ", ")))
	}
	if !s.mapping.HasMeasurement(row) {
		return fail(fmt.Errorf("%w: no measurement column", models.ErrMissingRequiredField))
	}

	rawTS, _ := row.Value(s.mapping.Timestamp)
	ts, err := parse.ParseTimestamp(rawTS)
	if err != nil {
		return fail(err)
	}

	rawOperator, _ := row.Value(s.mapping.Operator)
	operatorID, ok := s.resolver.ResolveOperator(rawOperator)
	if !ok {
		return fail(&models.ValidationError{Field: "operator", Value: rawOperator, Message: "not in catalog", Err: models.ErrUnknownOperator})
	}

	rawCoords, _ := row.Value(s.mapping.Coordinates)
	lat, lon, err := parse.ParseCoordinates(rawCoords)
	if err != nil {
		return fail(err)
	}

	check := s.validator.ValidateInCountry(ctx, lat, lon)
	if !check.Valid {
		return fail(&models.ValidationError{Field: "coordinates", Value: rawCoords, Message: check.Reason, Err: models.ErrOutsideCountry})
	}
	out.lowConfidence = check.Confidence == geo.ConfidenceLow

	sessionID, created, err := s.matcher.GetOrCreateSession(ctx, lat, lon, ts, operatorID)
	if err != nil {
		return fail(err)
	}
	out.sessionResolved = true
	out.sessionCreated = created

	seen := make(map[string]bool)
	for _, b := range s.mapping.Signals {
		raw, ok := row.Value(b.Column)
		if !ok || seen[kindSignal+b.Code] {
			continue
		}
		seen[kindSignal+b.Code] = true

		written, err := s.upserter.UpsertSignal(ctx, sessionID, b.Code, raw)
		switch {
		case written:
			out.signals++
		case errors.Is(err, models.ErrStore):
			return fail(err)
		default:
			out.rejectedSignals++
			out.factDiagnostics = append(out.factDiagnostics, factDiagnostic(row.Number, b.Column, err))
		}
	}

	for _, b := range s.mapping.Pollutants {
		raw, ok := row.Value(b.Column)
		if !ok || seen[kindPollutant+b.Code] {
			continue
		}
		seen[kindPollutant+b.Code] = true

		written, err := s.upserter.UpsertPollutant(ctx, sessionID, b.Code, raw)
		switch {
		case written:
			out.pollutants++
		case errors.Is(err, models.ErrStore):
			return fail(err)
		default:
			out.rejectedPollutants++
			out.factDiagnostics = append(out.factDiagnostics, factDiagnostic(row.Number, b.Column, err))
		}
	}

	out.reason = models.ReasonProcessed
	return out
}

func factDiagnostic(row int, column string, err error) models.RowDiagnostic {
	return models.RowDiagnostic{
		Row:     row,
		Reason:  models.ReasonFor(err),
		Message: fmt.Sprintf("%s: %v", column, err),
	}
}

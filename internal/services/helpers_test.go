package services

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"envsignal-platform/internal/geo"
	"envsignal-platform/internal/models"
	"envsignal-platform/internal/reference"
	"envsignal-platform/internal/repository"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

var surveyTime = time.Date(2025, 7, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	repo     *repository.MemoryRepository
	clock    *clockwork.FakeClock
	resolver *reference.Resolver
	metrics  *metrics.Collector
	logger   *logging.StructuredLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(surveyTime.Add(24 * time.Hour))
	repo := repository.NewMemoryRepository(clock).SeedDefaults()

	cat, err := reference.Load(context.Background(), repo)
	require.NoError(t, err)

	return &fixture{
		repo:     repo,
		clock:    clock,
		resolver: reference.NewResolver(cat),
		metrics:  metrics.NewNopCollector(),
		logger:   logging.NewNopLogger(),
	}
}

// bboxValidator gates on the bounding box only.
func (f *fixture) bboxValidator() CountryValidator {
	return geo.NewValidator(geo.DefaultBBox, nil, f.logger, f.metrics)
}

func (f *fixture) service(store repository.Store, validator CountryValidator, opts ...IngestionOption) *IngestionService {
	if store == nil {
		store = f.repo
	}
	if validator == nil {
		validator = f.bboxValidator()
	}
	opts = append([]IngestionOption{WithClock(f.clock)}, opts...)
	return NewIngestionService(store, f.resolver, validator, f.logger, f.metrics, opts...)
}

func madridRow(n int) models.RawRow {
	return models.RawRow{Number: n, Fields: map[string]string{
		"Marca temporal":       "15/07/2025 10:30",
		"OPERADOR":             "movistar",
		"COORDENADAS_LIMPIAS":  "40.4168,-3.7038",
		"Intensidad 4G":        "-85",
		"Concentración PM 2.5": "12.3",
	}}
}

func withFields(row models.RawRow, kv ...string) models.RawRow {
	fields := make(map[string]string, len(row.Fields))
	for k, v := range row.Fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "<delete>" {
			delete(fields, kv[i])
			continue
		}
		fields[kv[i]] = kv[i+1]
	}
	return models.RawRow{Number: row.Number, Fields: fields}
}

// faultyStore injects failures into an in-memory store.
type faultyStore struct {
	*repository.MemoryRepository
	sessionErr   error
	noSessionID  bool
	signalErr    error
	pollutantErr error
}

func (s *faultyStore) GetOrCreateSession(ctx context.Context, key models.SessionKey) (*models.MeasurementSession, bool, error) {
	if s.sessionErr != nil {
		return nil, false, s.sessionErr
	}
	if s.noSessionID {
		return &models.MeasurementSession{}, true, nil
	}
	return s.MemoryRepository.GetOrCreateSession(ctx, key)
}

func (s *faultyStore) UpsertSignal(ctx context.Context, m *models.SignalMeasurement) error {
	if s.signalErr != nil {
		return s.signalErr
	}
	return s.MemoryRepository.UpsertSignal(ctx, m)
}

func (s *faultyStore) UpsertPollutant(ctx context.Context, m *models.PollutantMeasurement) error {
	if s.pollutantErr != nil {
		return s.pollutantErr
	}
	return s.MemoryRepository.UpsertPollutant(ctx, m)
}

// stubValidator returns a fixed result, or panics when panicMsg is set.
type stubValidator struct {
	result   geo.Result
	panicMsg string
	onCall   func()
}

func (v *stubValidator) ValidateInCountry(context.Context, float64, float64) geo.Result {
	if v.onCall != nil {
		v.onCall()
	}
	if v.panicMsg != "" {
		panic(v.panicMsg)
	}
	return v.result
}

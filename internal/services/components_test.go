package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envsignal-platform/internal/models"
	"envsignal-platform/internal/parse"
)

func TestSessionMatcher(t *testing.T) {
	f := newFixture(t)
	m := NewSessionMatcher(f.repo, f.logger, f.metrics)
	ctx := context.Background()

	_, found, err := m.FindExistingSession(ctx, 40.4168, -3.7038, surveyTime, 1)
	require.NoError(t, err)
	assert.False(t, found)

	id, created, err := m.GetOrCreateSession(ctx, 40.4168, -3.7038, surveyTime, 1)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.GetOrCreateSession(ctx, 40.4168+2e-9, -3.7038-2e-9, surveyTime.Add(59*time.Second), 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	foundID, found, err := m.FindExistingSession(ctx, 40.4168, -3.7038, surveyTime.Add(-30*time.Second), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, foundID)
}

func TestSessionMatcher_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		ts       time.Time
		operator int64
	}{
		{"latitude past tolerance", 40.4168 + 1.5e-8, -3.7038, surveyTime, 1},
		{"longitude past tolerance", 40.4168, -3.7038 + 1.5e-8, surveyTime, 1},
		{"sixty seconds later", 40.4168, -3.7038, surveyTime.Add(60 * time.Second), 1},
		{"sixty seconds earlier", 40.4168, -3.7038, surveyTime.Add(-60 * time.Second), 1},
		{"other operator", 40.4168, -3.7038, surveyTime, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := NewSessionMatcher(f.repo, f.logger, f.metrics)
			ctx := context.Background()

			first, _, err := m.GetOrCreateSession(ctx, 40.4168, -3.7038, surveyTime, 1)
			require.NoError(t, err)

			second, created, err := m.GetOrCreateSession(ctx, tt.lat, tt.lon, tt.ts, tt.operator)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEqual(t, first, second)
		})
	}
}

// Coordinates one grid step apart, as parsed from the sheet, always open a new
// session even when their float difference rounds just under the tolerance.
func TestSessionMatcher_ExactToleranceFromParsedCoordinates(t *testing.T) {
	tests := []struct {
		name         string
		first, other string
	}{
		{"longitude step", "40.4168,-3.7038", "40.4168,-3.70380001"},
		{"latitude step", "28.12345678,-15.4", "28.12345679,-15.4"},
		{"latitude step upwards", "40.4168,-3.7038", "40.41680001,-3.7038"},
		{"negative longitude step", "28.12345678,-15.40000001", "28.12345678,-15.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := NewSessionMatcher(f.repo, f.logger, f.metrics)
			ctx := context.Background()

			lat, lon, err := parse.ParseCoordinates(tt.first)
			require.NoError(t, err)
			first, _, err := m.GetOrCreateSession(ctx, lat, lon, surveyTime, 1)
			require.NoError(t, err)

			lat, lon, err = parse.ParseCoordinates(tt.other)
			require.NoError(t, err)
			second, created, err := m.GetOrCreateSession(ctx, lat, lon, surveyTime, 1)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEqual(t, first, second)
		})
	}
}

func TestSessionMatcher_StoreError(t *testing.T) {
	f := newFixture(t)
	store := &faultyStore{MemoryRepository: f.repo, sessionErr: models.StoreError("tx", errors.New("deadlock"))}
	m := NewSessionMatcher(store, f.logger, f.metrics)

	_, _, err := m.GetOrCreateSession(context.Background(), 40.4168, -3.7038, surveyTime, 1)
	assert.ErrorIs(t, err, models.ErrStore)
}

func TestMeasurementUpserter_SignalRange(t *testing.T) {
	tests := []struct {
		raw     string
		want    bool
		wantErr error
	}{
		{"0", true, nil},
		{"-150", true, nil},
		{"-85", true, nil},
		{"-150.9", true, nil},
		{"1", false, models.ErrOutOfRangeValue},
		{"-151", false, models.ErrOutOfRangeValue},
		{"", false, models.ErrMissingValue},
		{"n/a", false, models.ErrMissingValue},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f := newFixture(t)
			u := NewMeasurementUpserter(f.repo, f.resolver, f.logger, f.metrics)

			ok, err := u.UpsertSignal(context.Background(), 1, "4G", tt.raw)
			assert.Equal(t, tt.want, ok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.repo.Signals())
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.repo.Signals(), 1)
		})
	}
}

func TestMeasurementUpserter_PollutantRange(t *testing.T) {
	tests := []struct {
		raw     string
		want    bool
		wantErr error
	}{
		{"0", true, nil},
		{"12.3", true, nil},
		{"100000.123456789", true, nil},
		{"-0.001", false, models.ErrOutOfRangeValue},
		{"NaN", false, models.ErrMissingValue},
		{"", false, models.ErrMissingValue},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f := newFixture(t)
			u := NewMeasurementUpserter(f.repo, f.resolver, f.logger, f.metrics)

			ok, err := u.UpsertPollutant(context.Background(), 1, "pm10", tt.raw)
			assert.Equal(t, tt.want, ok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			facts := f.repo.Pollutants()
			require.Len(t, facts, 1)
			assert.Equal(t, tt.raw, facts[0].Concentration.String())
		})
	}
}

func TestMeasurementUpserter_UnknownCodes(t *testing.T) {
	f := newFixture(t)
	u := NewMeasurementUpserter(f.repo, f.resolver, f.logger, f.metrics)

	ok, err := u.UpsertSignal(context.Background(), 1, "3G", "-80")
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrUnrecognizedMeasurementType)

	ok, err = u.UpsertPollutant(context.Background(), 1, "no2", "4")
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrUnrecognizedMeasurementType)
}

func TestMeasurementUpserter_UpsertIdempotence(t *testing.T) {
	f := newFixture(t)
	u := NewMeasurementUpserter(f.repo, f.resolver, f.logger, f.metrics)
	ctx := context.Background()

	ok, err := u.UpsertSignal(ctx, 7, "5g", "-90")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = u.UpsertSignal(ctx, 7, "5G", "-70")
	require.NoError(t, err)
	require.True(t, ok)

	facts := f.repo.Signals()
	require.Len(t, facts, 1)
	assert.Equal(t, -70, facts[0].StrengthDBm)
	assert.Equal(t, models.QualityValid, facts[0].QualityFlag)
}

func TestMeasurementUpserter_StoreError(t *testing.T) {
	f := newFixture(t)
	store := &faultyStore{MemoryRepository: f.repo, signalErr: models.StoreError("upsert signal", errors.New("timeout"))}
	u := NewMeasurementUpserter(store, f.resolver, f.logger, f.metrics)

	ok, err := u.UpsertSignal(context.Background(), 1, "4G", "-80")
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrStore)
}

func TestReport(t *testing.T) {
	stats := &models.Statistics{
		TotalRows:         1234,
		Processed:         1200,
		NewSessions:       1100,
		ExistingSessions:  100,
		SkippedIncomplete: 34,
		TotalSignals:      2345,
		Duration:          1500 * time.Millisecond,
		Diagnostics: []models.RowDiagnostic{
			{Row: 9, Reason: models.ReasonIncomplete, Message: "missing required field: OPERADOR"},
			{Row: 3, Reason: models.ReasonIncomplete, Message: "missing required field: COORDENADAS_LIMPIAS"},
		},
	}
	r := NewReport("run-1", "survey.csv", true, stats)

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))
	out := buf.String()

	assert.Equal(t, models.RunSucceeded, r.Status())
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "2,345")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "97.2%")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("row 3 ")), bytes.Index(buf.Bytes(), []byte("row 9 ")))
}

func TestReport_Summary(t *testing.T) {
	tests := []struct {
		processed int
		want      string
	}{
		{100, "successfully"},
		{85, "with warnings"},
		{10, "degraded"},
	}
	for _, tt := range tests {
		r := NewReport("", "", false, &models.Statistics{TotalRows: 100, Processed: tt.processed})
		assert.Contains(t, r.Summary(), tt.want)
	}
	assert.Contains(t, NewReport("", "", false, nil).Summary(), "degraded")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestReport_WriteError(t *testing.T) {
	err := NewReport("r", "s", false, &models.Statistics{}).WriteReport(failingWriter{})
	assert.EqualError(t, err, "disk full")
}

func TestSessionQueryService(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(nil, nil).ProcessBatch(context.Background(), []models.RawRow{madridRow(1)})
	require.NoError(t, err)

	q := NewSessionQueryService(f.repo, f.logger, f.metrics)

	sessions, err := q.ListSessions(context.Background(), models.SessionFilter{SignalType: "4G"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Movistar", sessions[0].Operator)

	md, err := q.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"4G", "5G", "pollution"}, md.Categories)
	assert.Len(t, md.Operators, 6)
	assert.Len(t, md.Pollutants, 4)
}

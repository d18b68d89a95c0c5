package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"envsignal-platform/internal/models"
)

type factKey struct {
	sessionID int64
	typeID    int64
}

// MemoryRepository is an in-process Store used for dry runs and tests. It
// applies the same dedup and upsert rules as the PostgreSQL store.
type MemoryRepository struct {
	clock clockwork.Clock

	mu         sync.Mutex
	sessionSeq int64
	factSeq    int64
	catalogs   map[string][]models.CatalogEntry
	sessions   []*models.MeasurementSession
	signals    map[factKey]*models.SignalMeasurement
	pollutants map[factKey]*models.PollutantMeasurement
}

// NewMemoryRepository creates an empty store stamping times from clock.
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRepository{
		clock:      clock,
		catalogs:   make(map[string][]models.CatalogEntry),
		signals:    make(map[factKey]*models.SignalMeasurement),
		pollutants: make(map[factKey]*models.PollutantMeasurement),
	}
}

// DefaultCatalog mirrors the reference rows seeded by the schema migration.
func DefaultCatalog() map[models.CatalogTable][]models.CatalogEntry {
	return map[models.CatalogTable][]models.CatalogEntry{
		models.OperatorsCatalog: {
			{Label: "Movistar", ID: 1},
			{Label: "Vodafone", ID: 2},
			{Label: "Orange", ID: 3},
			{Label: "Yoigo", ID: 4},
			{Label: "Digi", ID: 5},
			{Label: "O2", ID: 6},
		},
		models.SignalTypesCatalog: {
			{Label: "4G", ID: 1},
			{Label: "5G", ID: 2},
		},
		models.PollutantsCatalog: {
			{Label: "pm25", ID: 1},
			{Label: "pm10", ID: 2},
			{Label: "co", ID: 3},
			{Label: "co2", ID: 4},
		},
	}
}

// SeedCatalog replaces the active entries of table.
func (r *MemoryRepository) SeedCatalog(table models.CatalogTable, entries ...models.CatalogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs[table.Name] = append([]models.CatalogEntry(nil), entries...)
}

// SeedDefaults loads DefaultCatalog.
func (r *MemoryRepository) SeedDefaults() *MemoryRepository {
	for table, entries := range DefaultCatalog() {
		r.SeedCatalog(table, entries...)
	}
	return r
}

func (r *MemoryRepository) ListActive(_ context.Context, table models.CatalogTable) ([]models.CatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, ok := r.catalogs[table.Name]
	if !ok {
		return nil, fmt.Errorf("failed to list %s: unknown table", table.Name)
	}
	return append([]models.CatalogEntry(nil), entries...), nil
}

func (r *MemoryRepository) FindSession(_ context.Context, key models.SessionKey) (*models.MeasurementSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.findLocked(key); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, sessionNotFound(key)
}

// findLocked scans in creation order, so the oldest match wins.
func (r *MemoryRepository) findLocked(key models.SessionKey) *models.MeasurementSession {
	for _, s := range r.sessions {
		if s.Key().Matches(key) {
			return s
		}
	}
	return nil
}

func (r *MemoryRepository) createLocked(s *models.MeasurementSession) {
	now := r.clock.Now().UTC()
	r.sessionSeq++
	s.ID = r.sessionSeq
	s.CreatedAt = now
	s.UpdatedAt = now

	cp := *s
	r.sessions = append(r.sessions, &cp)
}

func (r *MemoryRepository) GetOrCreateSession(_ context.Context, key models.SessionKey) (*models.MeasurementSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.findLocked(key); s != nil {
		cp := *s
		return &cp, false, nil
	}
	s := models.NewSession(key)
	r.createLocked(s)
	return s, true, nil
}

func (r *MemoryRepository) UpsertSignal(_ context.Context, m *models.SignalMeasurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	k := factKey{m.SessionID, m.SignalTypeID}
	if cur, ok := r.signals[k]; ok {
		cur.StrengthDBm = m.StrengthDBm
		cur.QualityFlag = m.QualityFlag
		cur.UpdatedAt = now
		*m = *cur
		return nil
	}

	r.factSeq++
	m.ID = r.factSeq
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	r.signals[k] = &cp
	return nil
}

func (r *MemoryRepository) UpsertPollutant(_ context.Context, m *models.PollutantMeasurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	k := factKey{m.SessionID, m.PollutantTypeID}
	if cur, ok := r.pollutants[k]; ok {
		cur.Concentration = m.Concentration
		cur.QualityFlag = m.QualityFlag
		cur.UpdatedAt = now
		*m = *cur
		return nil
	}

	r.factSeq++
	m.ID = r.factSeq
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	r.pollutants[k] = &cp
	return nil
}

// Sessions returns a snapshot of all sessions in creation order.
func (r *MemoryRepository) Sessions() []models.MeasurementSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.MeasurementSession, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = *s
	}
	return out
}

// Signals returns a snapshot of all signal facts ordered by ID.
func (r *MemoryRepository) Signals() []models.SignalMeasurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SignalMeasurement, 0, len(r.signals))
	for _, m := range r.signals {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pollutants returns a snapshot of all pollutant facts ordered by ID.
func (r *MemoryRepository) Pollutants() []models.PollutantMeasurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.PollutantMeasurement, 0, len(r.pollutants))
	for _, m := range r.pollutants {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) labelsLocked(table models.CatalogTable) map[int64]string {
	out := make(map[int64]string)
	for _, e := range r.catalogs[table.Name] {
		out[e.ID] = e.Label
	}
	return out
}

// ListSessions applies filter the way the PostgreSQL query does.
func (r *MemoryRepository) ListSessions(_ context.Context, filter models.SessionFilter) ([]*models.SessionView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	operators := r.labelsLocked(models.OperatorsCatalog)
	signalTypes := r.labelsLocked(models.SignalTypesCatalog)
	pollutantTypes := r.labelsLocked(models.PollutantsCatalog)

	wantOperator := toSet(filter.Operators)
	wantPollutant := toSet(filter.Pollutants)

	signalsBySession := make(map[int64][]models.SignalView)
	if !filter.Pollution {
		for _, m := range r.signals {
			label := signalTypes[m.SignalTypeID]
			if filter.SignalType != "" && label != filter.SignalType {
				continue
			}
			signalsBySession[m.SessionID] = append(signalsBySession[m.SessionID], models.SignalView{
				SessionID:   m.SessionID,
				SignalType:  label,
				StrengthDBm: m.StrengthDBm,
				QualityFlag: m.QualityFlag,
				UpdatedAt:   m.UpdatedAt,
			})
		}
	}

	pollutantsBySession := make(map[int64][]models.PollutantView)
	if filter.SignalType == "" {
		for _, m := range r.pollutants {
			code := pollutantTypes[m.PollutantTypeID]
			if filter.Pollution && len(wantPollutant) > 0 && !wantPollutant[code] {
				continue
			}
			pollutantsBySession[m.SessionID] = append(pollutantsBySession[m.SessionID], models.PollutantView{
				SessionID:     m.SessionID,
				Pollutant:     code,
				Concentration: m.Concentration,
				QualityFlag:   m.QualityFlag,
				UpdatedAt:     m.UpdatedAt,
			})
		}
	}

	var out []*models.SessionView
	for _, s := range r.sessions {
		op := operators[s.OperatorID]
		if len(wantOperator) > 0 && !wantOperator[op] {
			continue
		}
		if filter.BBox != nil && !filter.BBox.Contains(s.Latitude, s.Longitude) {
			continue
		}
		if filter.Since != nil && s.RecordedAt.Before(*filter.Since) {
			continue
		}
		if filter.SignalType != "" && len(signalsBySession[s.ID]) == 0 {
			continue
		}
		if filter.Pollution && len(pollutantsBySession[s.ID]) == 0 {
			continue
		}

		v := &models.SessionView{
			MeasurementSession: *s,
			Operator:           op,
			Signals:            signalsBySession[s.ID],
			Pollutants:         pollutantsBySession[s.ID],
		}
		sort.Slice(v.Signals, func(i, j int) bool { return v.Signals[i].SignalType < v.Signals[j].SignalType })
		sort.Slice(v.Pollutants, func(i, j int) bool { return v.Pollutants[i].Pollutant < v.Pollutants[j].Pollutant })
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) HealthCheck(context.Context) error {
	return nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

var _ Store = (*MemoryRepository)(nil)

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"envsignal-platform/internal/models"
	"envsignal-platform/internal/repository"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// ErrNoSessionID is returned when the store accepted a session insert but
// produced no identifier.
var ErrNoSessionID = errors.New("session insert returned no id")

// SessionMatcher maps reports onto measurement sessions, reusing any session
// inside the dedup window.
type SessionMatcher struct {
	repo    repository.SessionRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	// mu serializes find-or-create within the process; the store serializes
	// across processes.
	mu sync.Mutex
}

// NewSessionMatcher creates a new session matcher
func NewSessionMatcher(repo repository.SessionRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SessionMatcher {
	return &SessionMatcher{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func sessionKey(lat, lon float64, ts time.Time, operatorID int64) models.SessionKey {
	return models.SessionKey{
		Latitude:   lat,
		Longitude:  lon,
		RecordedAt: ts,
		OperatorID: operatorID,
	}
}

// FindExistingSession returns the ID of a session matching the report. When
// several match, the oldest wins.
func (m *SessionMatcher) FindExistingSession(ctx context.Context, lat, lon float64, ts time.Time, operatorID int64) (int64, bool, error) {
	s, err := m.repo.FindSession(ctx, sessionKey(lat, lon, ts, operatorID))
	if repository.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return s.ID, true, nil
}

// GetOrCreateSession returns the matching session ID, creating the session
// when none exists.
func (m *SessionMatcher) GetOrCreateSession(ctx context.Context, lat, lon float64, ts time.Time, operatorID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, created, err := m.repo.GetOrCreateSession(ctx, sessionKey(lat, lon, ts, operatorID))
	if err != nil {
		return 0, false, err
	}
	if s == nil || s.ID == 0 {
		return 0, false, models.StoreError("create session", ErrNoSessionID)
	}

	m.metrics.RecordSession(created)
	if created {
		m.logger.Debug(ctx, "[SESSION_CREATED] New measurement session", logging.Fields{
			"session_id":  s.ID,
			"operator_id": operatorID,
		})
	}
	return s.ID, created, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"envsignal-platform/internal/models"
)

// CatalogRepository lists the active entries of a reference catalog.
type CatalogRepository interface {
	ListActive(ctx context.Context, table models.CatalogTable) ([]models.CatalogEntry, error)
}

// SessionRepository provides dedup-aware access to measurement sessions.
type SessionRepository interface {
	// FindSession returns the oldest session matching key within the dedup
	// tolerances, or a *NotFoundError.
	FindSession(ctx context.Context, key models.SessionKey) (*models.MeasurementSession, error)
	// GetOrCreateSession finds a matching session or creates one, atomically
	// with respect to other callers using the same operator.
	GetOrCreateSession(ctx context.Context, key models.SessionKey) (*models.MeasurementSession, bool, error)
}

// MeasurementRepository writes measurement facts, one per (session, type).
type MeasurementRepository interface {
	UpsertSignal(ctx context.Context, m *models.SignalMeasurement) error
	UpsertPollutant(ctx context.Context, m *models.PollutantMeasurement) error
}

// QueryRepository serves the read API.
type QueryRepository interface {
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.SessionView, error)
}

// Store is the full persistence surface used by the ingester and the API.
type Store interface {
	CatalogRepository
	SessionRepository
	MeasurementRepository
	QueryRepository

	HealthCheck(ctx context.Context) error
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func sessionNotFound(key models.SessionKey) *NotFoundError {
	return &NotFoundError{
		Resource: "measurement_session",
		ID: fmt.Sprintf("op=%d lat=%.8f lon=%.8f at=%s",
			key.OperatorID, key.Latitude, key.Longitude, key.RecordedAt.Format("2006-01-02 15:04:05")),
	}
}

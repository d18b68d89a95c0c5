package services

import (
	"context"
	"fmt"

	"envsignal-platform/internal/models"
	"envsignal-platform/internal/repository"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// Categories accepted by the session listing.
const (
	Category4G        = "4G"
	Category5G        = "5G"
	CategoryPollution = "pollution"
)

// Metadata describes the filter values the read API accepts.
type Metadata struct {
	Categories  []string              `json:"categories"`
	Operators   []models.CatalogEntry `json:"operators"`
	SignalTypes []models.CatalogEntry `json:"signal_types"`
	Pollutants  []models.CatalogEntry `json:"pollutants"`
}

// QueryRepository is the read side of the store.
type QueryRepository interface {
	repository.QueryRepository
	repository.CatalogRepository
}

// SessionQueryService serves stored sessions to the read API.
type SessionQueryService struct {
	repo    QueryRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSessionQueryService creates a new session query service
func NewSessionQueryService(repo QueryRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SessionQueryService {
	return &SessionQueryService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListSessions retrieves sessions with their facts
func (s *SessionQueryService) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.SessionView, error) {
	return s.repo.ListSessions(ctx, filter)
}

// Metadata lists the active catalogs.
func (s *SessionQueryService) Metadata(ctx context.Context) (*Metadata, error) {
	md := &Metadata{Categories: []string{Category4G, Category5G, CategoryPollution}}

	targets := []struct {
		table models.CatalogTable
		dst   *[]models.CatalogEntry
	}{
		{models.OperatorsCatalog, &md.Operators},
		{models.SignalTypesCatalog, &md.SignalTypes},
		{models.PollutantsCatalog, &md.Pollutants},
	}
	for _, t := range targets {
		entries, err := s.repo.ListActive(ctx, t.table)
		if err != nil {
			return nil, fmt.Errorf("failed to load metadata: %w", err)
		}
		*t.dst = entries
	}
	return md, nil
}

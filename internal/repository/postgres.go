package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/database"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

var coordinateDecimals = strconv.Itoa(models.CoordinateDecimals)

const sessionColumns = `id, latitude, longitude, timestamp_recorded, operator_id, created_at, updated_at`

// findSessionQuery matches the dedup window. Coordinates are compared as
// exact decimals on the input grid, mirroring models.SessionKey.Matches. $3 is
// cast so the naive timestamp column is never compared against a zoned value.
var findSessionQuery = `
	SELECT ` + sessionColumns + `
	FROM measurement_sessions
	WHERE ABS(ROUND(latitude::numeric, ` + coordinateDecimals + `) - ROUND($1::numeric, ` + coordinateDecimals + `)) < $5::numeric
	  AND ABS(ROUND(longitude::numeric, ` + coordinateDecimals + `) - ROUND($2::numeric, ` + coordinateDecimals + `)) < $5::numeric
	  AND ABS(EXTRACT(EPOCH FROM (timestamp_recorded - $3::timestamp))) < $6
	  AND operator_id = $4
	ORDER BY id
	LIMIT 1
`

const insertSessionQuery = `
	INSERT INTO measurement_sessions
		(location, latitude, longitude, timestamp_recorded, operator_id, created_at, updated_at)
	VALUES (ST_SetSRID(ST_MakePoint($2, $1), 4326), $1, $2, $3::timestamp, $4, NOW(), NOW())
	RETURNING id, created_at, updated_at
`

// postgresRepository implements Store on PostgreSQL with PostGIS.
type postgresRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPostgresRepository creates a new PostgreSQL-backed store
func NewPostgresRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) Store {
	return &postgresRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListActive returns the active (label, id) pairs of table.
func (r *postgresRepository) ListActive(ctx context.Context, table models.CatalogTable) ([]models.CatalogEntry, error) {
	query := fmt.Sprintf(`SELECT %s AS label, id FROM %s WHERE is_active ORDER BY id`,
		pq.QuoteIdentifier(table.LabelCol), pq.QuoteIdentifier(table.Name))

	var entries []models.CatalogEntry
	if err := r.db.SelectContext(ctx, "list_catalog", &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table.Name, err)
	}

	r.logger.Debug(ctx, "[REPO_CATALOG] Catalog loaded", logging.Fields{
		"table":   table.Name,
		"entries": len(entries),
	})
	return entries, nil
}

func findArgs(key models.SessionKey) []interface{} {
	return []interface{}{
		key.Latitude,
		key.Longitude,
		key.RecordedAt,
		key.OperatorID,
		models.CoordinateTolerance,
		models.TimeTolerance.Seconds(),
	}
}

// FindSession returns the oldest session inside the dedup window of key.
func (r *postgresRepository) FindSession(ctx context.Context, key models.SessionKey) (*models.MeasurementSession, error) {
	var s models.MeasurementSession
	err := r.db.GetContext(ctx, "find_session", &s, findSessionQuery, findArgs(key)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessionNotFound(key)
	}
	if err != nil {
		return nil, models.StoreError("find session", err)
	}
	return &s, nil
}

// GetOrCreateSession runs find-then-insert in one transaction holding an
// advisory lock on the operator, so concurrent writers cannot create twin
// sessions for the same dedup key.
func (r *postgresRepository) GetOrCreateSession(ctx context.Context, key models.SessionKey) (*models.MeasurementSession, bool, error) {
	var (
		s       models.MeasurementSession
		created bool
	)

	err := r.db.InTx(ctx, "get_or_create_session", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key.OperatorID); err != nil {
			return fmt.Errorf("lock operator %d: %w", key.OperatorID, err)
		}

		err := tx.GetContext(ctx, &s, findSessionQuery, findArgs(key)...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find session: %w", err)
		}

		s = *models.NewSession(key)
		if err := tx.GetContext(ctx, &s, insertSessionQuery,
			s.Latitude, s.Longitude, s.RecordedAt, s.OperatorID); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, models.StoreError("get or create session", err)
	}

	if created {
		r.logger.Debug(ctx, "[REPO_SESSION_CREATED] Measurement session created", logging.Fields{
			"session_id":  s.ID,
			"operator_id": s.OperatorID,
		})
	}
	return &s, created, nil
}

// UpsertSignal writes m, overwriting the strength of an existing
// (session, signal type) fact and resetting its quality flag.
func (r *postgresRepository) UpsertSignal(ctx context.Context, m *models.SignalMeasurement) error {
	query := `
		INSERT INTO signal_measurements
			(session_id, signal_type_id, signal_strength_dbm, created_at, updated_at,
			 data_source, measurement_method, quality_flag)
		VALUES ($1, $2, $3, NOW(), NOW(), $4, $5, $6)
		ON CONFLICT (session_id, signal_type_id) DO UPDATE SET
			signal_strength_dbm = EXCLUDED.signal_strength_dbm,
			updated_at = NOW(),
			quality_flag = EXCLUDED.quality_flag
		RETURNING id, created_at, updated_at
	`

	err := r.db.GetContext(ctx, "upsert_signal", m, query,
		m.SessionID,
		m.SignalTypeID,
		m.StrengthDBm,
		m.DataSource,
		m.MeasurementMethod,
		m.QualityFlag,
	)
	if err != nil {
		return models.StoreError("upsert signal", err)
	}
	return nil
}

// UpsertPollutant writes m, overwriting the concentration of an existing
// (session, pollutant) fact and resetting its quality flag.
func (r *postgresRepository) UpsertPollutant(ctx context.Context, m *models.PollutantMeasurement) error {
	query := `
		INSERT INTO pollution_measurements
			(session_id, pollutant_type_id, concentration, created_at, updated_at,
			 data_source, measurement_method, quality_flag)
		VALUES ($1, $2, $3, NOW(), NOW(), $4, $5, $6)
		ON CONFLICT (session_id, pollutant_type_id) DO UPDATE SET
			concentration = EXCLUDED.concentration,
			updated_at = NOW(),
			quality_flag = EXCLUDED.quality_flag
		RETURNING id, created_at, updated_at
	`

	err := r.db.GetContext(ctx, "upsert_pollutant", m, query,
		m.SessionID,
		m.PollutantTypeID,
		m.Concentration,
		m.DataSource,
		m.MeasurementMethod,
		m.QualityFlag,
	)
	if err != nil {
		return models.StoreError("upsert pollutant", err)
	}
	return nil
}

// buildSessionQuery renders the session listing for filter.
func buildSessionQuery(filter models.SessionFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT s.id, s.latitude, s.longitude, s.timestamp_recorded, s.operator_id,
		       s.created_at, s.updated_at, o.display_name AS operator
		FROM measurement_sessions s
		JOIN operators o ON o.id = s.operator_id
		WHERE 1=1`)

	args := []interface{}{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Operators) > 0 {
		fmt.Fprintf(&sb, " AND o.display_name = ANY(%s)", next(pq.Array(filter.Operators)))
	}
	if filter.BBox != nil {
		b := filter.BBox
		fmt.Fprintf(&sb, " AND s.location && ST_MakeEnvelope(%s, %s, %s, %s, 4326)",
			next(b.West), next(b.South), next(b.East), next(b.North))
	}
	if filter.Since != nil {
		fmt.Fprintf(&sb, " AND s.timestamp_recorded >= %s::timestamp", next(*filter.Since))
	}
	switch {
	case filter.SignalType != "":
		fmt.Fprintf(&sb, ` AND EXISTS (
			SELECT 1 FROM signal_measurements sm
			JOIN signal_types st ON st.id = sm.signal_type_id
			WHERE sm.session_id = s.id AND st.display_name = %s)`, next(filter.SignalType))
	case filter.Pollution:
		sb.WriteString(` AND EXISTS (
			SELECT 1 FROM pollution_measurements pm
			JOIN pollutant_types pt ON pt.id = pm.pollutant_type_id
			WHERE pm.session_id = s.id`)
		if len(filter.Pollutants) > 0 {
			fmt.Fprintf(&sb, " AND pt.code = ANY(%s)", next(pq.Array(filter.Pollutants)))
		}
		sb.WriteString(")")
	}

	sb.WriteString(" ORDER BY s.timestamp_recorded DESC, s.id DESC")
	if filter.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", next(filter.Limit))
	}
	return sb.String(), args
}

// ListSessions returns sessions matching filter with their facts attached.
func (r *postgresRepository) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.SessionView, error) {
	query, args := buildSessionQuery(filter)

	var sessions []*models.SessionView
	if err := r.db.SelectContext(ctx, "list_sessions", &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]int64, len(sessions))
	byID := make(map[int64]*models.SessionView, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	if !filter.Pollution {
		signalQuery := `
			SELECT sm.session_id, st.display_name AS signal_type, sm.signal_strength_dbm,
			       sm.quality_flag, sm.updated_at
			FROM signal_measurements sm
			JOIN signal_types st ON st.id = sm.signal_type_id
			WHERE sm.session_id = ANY($1) AND ($2::text = '' OR st.display_name = $2)
			ORDER BY sm.session_id, st.display_name
		`
		var signals []models.SignalView
		if err := r.db.SelectContext(ctx, "list_session_signals", &signals, signalQuery,
			pq.Array(ids), filter.SignalType); err != nil {
			return nil, fmt.Errorf("failed to list signals: %w", err)
		}
		for _, sv := range signals {
			byID[sv.SessionID].Signals = append(byID[sv.SessionID].Signals, sv)
		}
	}

	if filter.SignalType == "" {
		pollutantQuery := `
			SELECT pm.session_id, pt.code AS pollutant, pm.concentration,
			       pm.quality_flag, pm.updated_at
			FROM pollution_measurements pm
			JOIN pollutant_types pt ON pt.id = pm.pollutant_type_id
			WHERE pm.session_id = ANY($1) AND (COALESCE(cardinality($2::text[]), 0) = 0 OR pt.code = ANY($2))
			ORDER BY pm.session_id, pt.code
		`
		pollutants := []string{}
		if filter.Pollution {
			pollutants = append(pollutants, filter.Pollutants...)
		}
		var facts []models.PollutantView
		if err := r.db.SelectContext(ctx, "list_session_pollutants", &facts, pollutantQuery,
			pq.Array(ids), pq.Array(pollutants)); err != nil {
			return nil, fmt.Errorf("failed to list pollutants: %w", err)
		}
		for _, pv := range facts {
			byID[pv.SessionID].Pollutants = append(byID[pv.SessionID].Pollutants, pv)
		}
	}

	return sessions, nil
}

// HealthCheck performs a repository health check
func (r *postgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

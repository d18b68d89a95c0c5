package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"envsignal-platform/internal/models"
	"envsignal-platform/internal/reference"
	"envsignal-platform/internal/services"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

const (
	defaultSessionLimit = 1000
	maxSessionLimit     = 5000
	maxDaysBack         = 365
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionHandler handles the measurement read API
type SessionHandler struct {
	queries *services.SessionQueryService
	health  HealthChecker
	clock   clockwork.Clock
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	queries *services.SessionQueryService,
	health HealthChecker,
	clock clockwork.Clock,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SessionHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionHandler{
		queries: queries,
		health:  health,
		clock:   clock,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// parseSessionFilter validates the query string of GET /api/sessions.
func (h *SessionHandler) parseSessionFilter(r *http.Request) (models.SessionFilter, error) {
	q := r.URL.Query()
	filter := models.SessionFilter{Limit: defaultSessionLimit}

	switch category := strings.TrimSpace(q.Get("category")); strings.ToLower(category) {
	case "":
	case "4g":
		filter.SignalType = services.Category4G
	case "5g":
		filter.SignalType = services.Category5G
	case services.CategoryPollution:
		filter.Pollution = true
	default:
		return filter, fmt.Errorf("invalid category %q, expected 4G, 5G or pollution", category)
	}

	for _, op := range splitList(q.Get("operators")) {
		filter.Operators = append(filter.Operators, reference.NormalizeOperator(op))
	}
	for _, code := range splitList(q.Get("pollutants")) {
		filter.Pollutants = append(filter.Pollutants, strings.ToLower(code))
	}

	if raw := q.Get("bbox"); raw != "" {
		bbox, err := parseBBox(raw)
		if err != nil {
			return filter, err
		}
		filter.BBox = bbox
	}

	if raw := q.Get("days_back"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxDaysBack {
			return filter, fmt.Errorf("invalid days_back, expected integer between 1 and %d", maxDaysBack)
		}
		since := h.clock.Now().UTC().AddDate(0, 0, -days)
		filter.Since = &since
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxSessionLimit {
			return filter, fmt.Errorf("invalid limit, expected integer between 1 and %d", maxSessionLimit)
		}
		filter.Limit = limit
	}

	return filter, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBBox reads "south,west,north,east".
func parseBBox(raw string) (*models.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid bbox, expected south,west,north,east")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q", p)
		}
		v[i] = f
	}
	b := &models.BBox{South: v[0], West: v[1], North: v[2], East: v[3]}
	if !b.Valid() || !models.ValidLatLon(b.South, b.West) || !models.ValidLatLon(b.North, b.East) {
		return nil, fmt.Errorf("invalid bbox, expected south < north and west < east within WGS84 range")
	}
	return b, nil
}

// toFeatureCollection renders sessions as GeoJSON points.
func toFeatureCollection(sessions []*models.SessionView, filter models.SessionFilter) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range sessions {
		f := geojson.NewFeature(orb.Point{s.Longitude, s.Latitude})
		f.ID = s.ID
		f.Properties["session_id"] = s.ID
		f.Properties["operator"] = s.Operator
		f.Properties["timestamp"] = s.RecordedAt.Format("2006-01-02T15:04:05")

		signals := s.Signals
		if signals == nil {
			signals = []models.SignalView{}
		}
		pollutants := s.Pollutants
		if pollutants == nil {
			pollutants = []models.PollutantView{}
		}
		f.Properties["signals"] = signals
		f.Properties["pollutants"] = pollutants
		fc.Append(f)
	}

	category := "all"
	switch {
	case filter.SignalType != "":
		category = filter.SignalType
	case filter.Pollution:
		category = services.CategoryPollution
	}
	fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]interface{}{
			"count":    len(sessions),
			"category": category,
			"limit":    filter.Limit,
		},
	}
	return fc
}

// GetSessions handles GET /api/sessions
func (h *SessionHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/sessions").Observe(duration.Seconds())
	}()

	filter, err := h.parseSessionFilter(r)
	if err != nil {
		h.metrics.RecordAPIError("bad_request", "/api/sessions")
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := h.queries.ListSessions(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SESSIONS_ERROR] Failed to list sessions", logging.Fields{
			"category":  filter.SignalType,
			"pollution": filter.Pollution,
			"operators": filter.Operators,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sessions")
		h.sendError(w, r, "failed to retrieve sessions", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/sessions", "GET", "200")
	h.sendJSON(w, toFeatureCollection(sessions, filter), http.StatusOK, "application/geo+json")
}

// GetMetadata handles GET /api/metadata
func (h *SessionHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/metadata").Observe(duration.Seconds())
	}()

	md, err := h.queries.Metadata(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_METADATA_ERROR] Failed to load metadata", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/metadata")
		h.sendError(w, r, "failed to retrieve metadata", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/metadata", "GET", "200")
	h.sendJSON(w, md, http.StatusOK, "application/json")
}

// HealthCheck handles GET /health
func (h *SessionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Dependency unhealthy", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.sendJSON(w, status, code, "application/json")
}

// sendJSON sends a JSON response
func (h *SessionHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *SessionHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode, "application/json")
}

// RegisterRoutes registers all read API routes
func (h *SessionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/sessions", h.GetSessions).Methods("GET")
	router.HandleFunc("/api/metadata", h.GetMetadata).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

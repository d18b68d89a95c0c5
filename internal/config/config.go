package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBoundaryURL = "https://contenido.ign.es/wfs-inspire/unidades-administrativas" +
		"?service=WFS&request=GetFeature&COUNT=1&version=2.0.0" +
		"&TYPENAME=au:AdministrativeUnit" +
		"&resourceid=AU_ADMINISTRATIVEUNIT_34000000000" +
		"&srsName=EPSG:4326&outputFormat=application/json"
)

// Config holds runtime configuration for the ingester, API server and migrator.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Ingest   IngestConfig
	Geo      GeoConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ServerConfig holds HTTP server settings for the read API.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string
}

// IngestConfig holds batch ingestion settings.
type IngestConfig struct {
	SourceURL    string
	FetchTimeout time.Duration
	Workers      int
	DryRun       bool
}

// GeoConfig holds country-boundary settings. The bounding box is the cheap
// pre-filter applied before the polygon test.
type GeoConfig struct {
	Enabled      bool
	BoundaryURL  string
	FetchTimeout time.Duration
	MinLat       float64
	MaxLat       float64
	MinLon       float64
	MaxLon       float64
}

// LoadConfig reads configuration from environment variables, loading a .env
// file from the working directory first when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	var errs []error
	p := &parser{errs: &errs}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            envOrDefault("DB_HOST", "localhost"),
			Port:            p.int("DB_PORT", 5432),
			User:            envOrDefault("DB_USER", "postgres"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        envOrDefault("DB_NAME", "envsignal"),
			SSLMode:         envOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: p.duration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Host:         envOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         p.int("SERVER_PORT", 8080),
			ReadTimeout:  p.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: p.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  p.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level: envOrDefault("LOG_LEVEL", "info"),
		},
		Ingest: IngestConfig{
			SourceURL:    strings.TrimSpace(os.Getenv("SOURCE_URL")),
			FetchTimeout: p.duration("SOURCE_FETCH_TIMEOUT", 30*time.Second),
			Workers:      p.int("INGEST_WORKERS", 1),
			DryRun:       p.bool("DRY_RUN", false),
		},
		Geo: GeoConfig{
			Enabled:      p.bool("GEO_ENABLED", true),
			BoundaryURL:  envOrDefault("GEO_BOUNDARY_URL", defaultBoundaryURL),
			FetchTimeout: p.duration("GEO_FETCH_TIMEOUT", 30*time.Second),
			MinLat:       p.float("GEO_BBOX_MIN_LAT", 27),
			MaxLat:       p.float("GEO_BBOX_MAX_LAT", 44),
			MinLon:       p.float("GEO_BBOX_MIN_LON", -19),
			MaxLon:       p.float("GEO_BBOX_MAX_LON", 5),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that parsing alone cannot catch.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT out of range: %d", c.Database.Port))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be >= 1, got %d", c.Ingest.Workers))
	}
	if c.Geo.Enabled && c.Geo.BoundaryURL == "" {
		errs = append(errs, errors.New("GEO_BOUNDARY_URL is required when GEO_ENABLED is true"))
	}
	if c.Geo.MinLat >= c.Geo.MaxLat || c.Geo.MinLon >= c.Geo.MaxLon {
		errs = append(errs, errors.New("geo bounding box must satisfy min < max on both axes"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs *[]error
}

func (p *parser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %q", key, v))
		return fallback
	}
	return d
}

func (p *parser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

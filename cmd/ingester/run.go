package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"envsignal-platform/internal/config"
	"envsignal-platform/internal/geo"
	"envsignal-platform/internal/models"
	"envsignal-platform/internal/reference"
	"envsignal-platform/internal/repository"
	"envsignal-platform/internal/services"
	"envsignal-platform/internal/source"
	"envsignal-platform/pkg/database"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

const version = "1.0.0"

type runOptions struct {
	source      string
	workers     int
	dryRun      bool
	skipGeo     bool
	metricsFile string
	logOutput   io.Writer
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a survey export and store its sessions and measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("source") {
				cfg.Ingest.SourceURL = opts.source
			}
			if cmd.Flags().Changed("workers") {
				cfg.Ingest.Workers = opts.workers
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Ingest.DryRun = opts.dryRun
			}
			if opts.skipGeo {
				cfg.Geo.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runIngest(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "CSV export to ingest, an http(s) URL or a file path (default: SOURCE_URL)")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Rows processed concurrently")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate against an in-memory store instead of PostgreSQL")
	cmd.Flags().BoolVar(&opts.skipGeo, "skip-geo", false, "Skip the boundary polygon and gate on the bounding box only")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")

	return cmd
}

// runIngest wires one ingestion run. Catalogs and the boundary are loaded
// before any row is read; failing either aborts the run.
func runIngest(ctx context.Context, cfg *config.Config, opts runOptions, out io.Writer) error {
	if cfg.Ingest.SourceURL == "" {
		return errors.New("no source given: set SOURCE_URL or pass --source")
	}

	logger := logging.NewStructuredLogger("envsignal-ingester", version, logging.ParseLevel(cfg.Logging.Level))
	if opts.logOutput != nil {
		logger.SetOutput(opts.logOutput)
	} else {
		logger.SetOutput(os.Stderr)
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewCollectorWithRegistry("envsignal_ingester", registry)

	logger.Info(ctx, "[INGESTER_START] Starting survey ingestion", logging.Fields{
		"version": version,
		"source":  cfg.Ingest.SourceURL,
		"workers": cfg.Ingest.Workers,
		"dry_run": cfg.Ingest.DryRun,
		"geo":     cfg.Geo.Enabled,
	})

	store, closeStore, err := openStore(cfg, logger, metricsCollector)
	if err != nil {
		return err
	}
	defer closeStore()

	catalogs, err := reference.Load(ctx, store)
	if err != nil {
		logger.Error(ctx, "[INGESTER_ERROR] Reference catalogs unavailable", logging.Fields{}, err)
		return err
	}
	resolver := reference.NewResolver(catalogs)

	validator, err := newValidator(ctx, cfg, logger, metricsCollector)
	if err != nil {
		logger.Error(ctx, "[INGESTER_ERROR] Country boundary unavailable", logging.Fields{
			"url": cfg.Geo.BoundaryURL,
		}, err)
		return err
	}

	loader := source.NewLoader(&http.Client{Timeout: cfg.Ingest.FetchTimeout}, logger, metricsCollector)
	ds, err := loader.Load(ctx, cfg.Ingest.SourceURL)
	if err != nil {
		logger.Error(ctx, "[INGESTER_ERROR] Source unavailable", logging.Fields{
			"source": cfg.Ingest.SourceURL,
		}, err)
		return err
	}

	svc := services.NewIngestionService(store, resolver, validator, logger, metricsCollector,
		services.WithWorkers(cfg.Ingest.Workers))
	stats, runErr := svc.ProcessBatch(ctx, ds.Rows)

	report := services.NewReport(runID, cfg.Ingest.SourceURL, cfg.Ingest.DryRun, stats)
	if err := report.WriteReport(out); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	report.Log(ctx, logger)

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			logger.Error(ctx, "[INGESTER_METRICS_ERROR] Failed to write metrics file", logging.Fields{
				"path": opts.metricsFile,
			}, err)
		}
	}

	return runErr
}

// openStore returns the in-memory store for dry runs and PostgreSQL otherwise.
func openStore(cfg *config.Config, logger *logging.StructuredLogger, m *metrics.Collector) (repository.Store, func(), error) {
	if cfg.Ingest.DryRun {
		return repository.NewMemoryRepository(nil).SeedDefaults(), func() {}, nil
	}

	db, err := database.NewPostgresDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	return repository.NewPostgresRepository(db, logger, m), func() { db.Close() }, nil
}

func countryBBox(cfg *config.Config) models.BBox {
	return models.BBox{
		South: cfg.Geo.MinLat,
		West:  cfg.Geo.MinLon,
		North: cfg.Geo.MaxLat,
		East:  cfg.Geo.MaxLon,
	}
}

// newValidator preloads the boundary when geo checks are enabled so a fetch
// failure stops the run before any row is written.
func newValidator(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, m *metrics.Collector) (*geo.Validator, error) {
	bbox := countryBBox(cfg)
	if !cfg.Geo.Enabled {
		logger.Warn(ctx, "[GEO_DISABLED] Boundary polygon skipped, bounding box only", logging.Fields{
			"bbox": bbox,
		})
		return geo.NewValidator(bbox, nil, logger, m), nil
	}

	provider := geo.NewProvider(geo.NewWFSClient(cfg.Geo.BoundaryURL, cfg.Geo.FetchTimeout, logger), logger, m)
	if _, err := provider.LoadBoundary(ctx); err != nil {
		return nil, err
	}
	return geo.NewValidator(bbox, provider, logger, m), nil
}

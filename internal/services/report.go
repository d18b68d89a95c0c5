package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/logging"
)

// maxReportedDiagnostics caps the diagnostics printed in a report; the full
// bounded list stays in the statistics.
const maxReportedDiagnostics = 20

// Report summarizes a finished run for operators.
type Report struct {
	RunID  string
	Source string
	DryRun bool
	Stats  *models.Statistics
}

// NewReport creates a report for stats.
func NewReport(runID, source string, dryRun bool, stats *models.Statistics) *Report {
	if stats == nil {
		stats = &models.Statistics{}
	}
	return &Report{RunID: runID, Source: source, DryRun: dryRun, Stats: stats}
}

// Status classifies the run by its success rate.
func (r *Report) Status() models.RunStatus {
	return r.Stats.Status()
}

// Summary is the one-line verdict shown at the end of a run.
func (r *Report) Summary() string {
	rate := humanize.CommafWithDigits(r.Stats.SuccessRate(), 1)
	switch r.Status() {
	case models.RunSucceeded:
		return fmt.Sprintf("import completed successfully (%s%% of rows processed)", rate)
	case models.RunSucceededWithWarning:
		return fmt.Sprintf("import completed with warnings (%s%% of rows processed)", rate)
	default:
		return fmt.Sprintf("import significantly degraded (%s%% of rows processed)", rate)
	}
}

// WriteReport renders the report as plain text.
func (r *Report) WriteReport(w io.Writer) error {
	s := r.Stats
	ew := &errWriter{w: w}

	ew.printf("Ingestion report\n")
	ew.printf("  run:    %s\n", r.RunID)
	ew.printf("  source: %s\n", r.Source)
	if r.DryRun {
		ew.printf("  mode:   dry run, nothing was written\n")
	}
	ew.printf("  took:   %s\n\n", s.Duration.Round(time.Millisecond))

	counts := s.AsMap()
	keys := []string{
		"processed", "new_sessions", "existing_sessions", "total_signals", "total_pollutants",
		"skipped_incomplete", "invalid_timestamp", "unknown_operator", "invalid_coordinates",
		"outside_country", "database_errors",
	}
	ew.printf("  %-22s %10s\n", "rows", humanize.Comma(int64(s.TotalRows)))
	for _, k := range keys {
		ew.printf("  %-22s %10s\n", k, humanize.Comma(int64(counts[k])))
	}
	ew.printf("  %-22s %10s\n", "rejected_signals", humanize.Comma(int64(s.RejectedSignals)))
	ew.printf("  %-22s %10s\n", "rejected_pollutants", humanize.Comma(int64(s.RejectedPollutants)))
	ew.printf("  %-22s %10s\n", "low_confidence_geo", humanize.Comma(int64(s.LowConfidenceGeo)))

	if len(s.Diagnostics) > 0 {
		diags := append([]models.RowDiagnostic(nil), s.Diagnostics...)
		sort.SliceStable(diags, func(i, j int) bool { return diags[i].Row < diags[j].Row })

		ew.printf("\nDiagnostics (%s recorded)\n", humanize.Comma(int64(len(diags))))
		for i, d := range diags {
			if i == maxReportedDiagnostics {
				ew.printf("  ... %s more\n", humanize.Comma(int64(len(diags)-i)))
				break
			}
			ew.printf("  row %-6d %-20s %s\n", d.Row, d.Reason, d.Message)
		}
	}

	ew.printf("\n%s: %s\n", r.Status(), r.Summary())
	return ew.err
}

// Log emits the report as a single structured entry.
func (r *Report) Log(ctx context.Context, logger *logging.StructuredLogger) {
	fields := logging.Fields{
		"source":       r.Source,
		"dry_run":      r.DryRun,
		"total_rows":   r.Stats.TotalRows,
		"success_rate": r.Stats.SuccessRate(),
		"status":       string(r.Status()),
		"diagnostics":  len(r.Stats.Diagnostics),
	}
	for k, v := range r.Stats.AsMap() {
		fields[k] = v
	}

	switch r.Status() {
	case models.RunSucceeded:
		logger.Info(ctx, "[INGEST_REPORT] "+r.Summary(), fields)
	default:
		logger.Warn(ctx, "[INGEST_REPORT] "+r.Summary(), fields)
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

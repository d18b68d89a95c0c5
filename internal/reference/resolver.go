// Package reference resolves free-text operator names and measurement codes
// against the reference catalogs loaded once before a run.
package reference

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"envsignal-platform/internal/models"
)

// CatalogSource lists the active (label, id) pairs of a reference table.
type CatalogSource interface {
	ListActive(ctx context.Context, table models.CatalogTable) ([]models.CatalogEntry, error)
}

// Catalogs maps normalized labels to catalog IDs. It is never mutated after
// Load returns.
type Catalogs struct {
	Operators   map[string]int64
	SignalTypes map[string]int64
	Pollutants  map[string]int64
}

// Load reads all three catalogs from src. Any failure aborts the load.
func Load(ctx context.Context, src CatalogSource) (*Catalogs, error) {
	operators, err := loadTable(ctx, src, models.OperatorsCatalog)
	if err != nil {
		return nil, err
	}
	signalTypes, err := loadTable(ctx, src, models.SignalTypesCatalog)
	if err != nil {
		return nil, err
	}
	pollutants, err := loadTable(ctx, src, models.PollutantsCatalog)
	if err != nil {
		return nil, err
	}

	return &Catalogs{
		Operators:   operators,
		SignalTypes: signalTypes,
		Pollutants:  pollutants,
	}, nil
}

func loadTable(ctx context.Context, src CatalogSource, table models.CatalogTable) (map[string]int64, error) {
	entries, err := src.ListActive(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s catalog: %w", table.Name, err)
	}

	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		out[e.Label] = e.ID
	}
	return out, nil
}

// Resolver looks up catalog IDs. Misses are reported through the boolean,
// never as errors.
type Resolver struct {
	catalogs *Catalogs
}

// NewResolver creates a resolver over catalogs.
func NewResolver(catalogs *Catalogs) *Resolver {
	if catalogs == nil {
		catalogs = &Catalogs{}
	}
	return &Resolver{catalogs: catalogs}
}

// Catalogs returns the catalogs the resolver reads from.
func (r *Resolver) Catalogs() *Catalogs {
	return r.catalogs
}

// ResolveOperator title-cases the trimmed name before lookup. Blank names
// never reach the catalog.
func (r *Resolver) ResolveOperator(name string) (int64, bool) {
	name = NormalizeOperator(name)
	if name == "" {
		return 0, false
	}
	id, ok := r.catalogs.Operators[name]
	return id, ok
}

// ResolveSignalType upper-cases code before lookup.
func (r *Resolver) ResolveSignalType(code string) (int64, bool) {
	id, ok := r.catalogs.SignalTypes[strings.ToUpper(strings.TrimSpace(code))]
	return id, ok
}

// ResolvePollutantType lower-cases code before lookup.
func (r *Resolver) ResolvePollutantType(code string) (int64, bool) {
	id, ok := r.catalogs.Pollutants[strings.ToLower(strings.TrimSpace(code))]
	return id, ok
}

// NormalizeOperator trims name and capitalizes the first letter of each word,
// lower-casing the rest.
func NormalizeOperator(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Title(language.Und).String(name)
}

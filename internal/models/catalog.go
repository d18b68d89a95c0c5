package models

// CatalogTable identifies a reference table and the column its labels come from.
type CatalogTable struct {
	Name     string
	LabelCol string
}

// Reference catalogs. Operators and signal types are keyed by display name,
// pollutants by their short code.
var (
	OperatorsCatalog   = CatalogTable{Name: "operators", LabelCol: "display_name"}
	SignalTypesCatalog = CatalogTable{Name: "signal_types", LabelCol: "display_name"}
	PollutantsCatalog  = CatalogTable{Name: "pollutant_types", LabelCol: "code"}
)

// CatalogEntry is one active (label, id) pair of a reference table.
type CatalogEntry struct {
	Label string `json:"label" db:"label"`
	ID    int64  `json:"id" db:"id"`
}

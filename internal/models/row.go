package models

import "strings"

// RawRow is one decoded record of the tabular source: column name to raw text.
// Number is the 1-based position of the record among data rows.
type RawRow struct {
	Number int
	Fields map[string]string
}

// Value returns the trimmed value of column and whether it is present and
// non-blank.
func (r RawRow) Value(column string) (string, bool) {
	v, ok := r.Fields[column]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "nan") {
		return "", false
	}
	return v, true
}

// ColumnBinding ties a source column to a catalog code.
type ColumnBinding struct {
	Column string
	Code   string
}

// ColumnMapping names the source columns the pipeline reads.
type ColumnMapping struct {
	Timestamp   string
	Operator    string
	Coordinates string
	Signals     []ColumnBinding
	Pollutants  []ColumnBinding
}

// DefaultColumnMapping returns the column layout of the survey spreadsheet,
// including the mis-encoded pollutant headers produced when the sheet is
// exported as UTF-8 but read back as Latin-1.
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		Timestamp:   "Marca temporal",
		Operator:    "OPERADOR",
		Coordinates: "COORDENADAS_LIMPIAS",
		Signals: []ColumnBinding{
			{Column: "Intensidad 4G", Code: "4G"},
			{Column: "Intensidad 5G", Code: "5G"},
		},
		Pollutants: []ColumnBinding{
			{Column: "Concentración PM 2.5", Code: "pm25"},
			{Column: "ConcentraciÃ³n PM 2.5", Code: "pm25"},
			{Column: "Concentración PM 10", Code: "pm10"},
			{Column: "ConcentraciÃ³n PM 10", Code: "pm10"},
			{Column: "Concentración CO", Code: "co"},
			{Column: "ConcentraciÃ³n CO", Code: "co"},
			{Column: "Concentración CO2", Code: "co2"},
			{Column: "ConcentraciÃ³n CO2", Code: "co2"},
		},
	}
}

// Required returns the mandatory columns.
func (m ColumnMapping) Required() []string {
	return []string{m.Timestamp, m.Operator, m.Coordinates}
}

// MissingRequired lists the mandatory columns absent or blank in row.
func (m ColumnMapping) MissingRequired(row RawRow) []string {
	var missing []string
	for _, col := range m.Required() {
		if _, ok := row.Value(col); !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// HasMeasurement reports whether row carries at least one non-blank signal or
// pollutant column.
func (m ColumnMapping) HasMeasurement(row RawRow) bool {
	for _, b := range m.Signals {
		if _, ok := row.Value(b.Column); ok {
			return true
		}
	}
	for _, b := range m.Pollutants {
		if _, ok := row.Value(b.Column); ok {
			return true
		}
	}
	return false
}

package reference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envsignal-platform/internal/models"
)

type fakeSource struct {
	entries map[string][]models.CatalogEntry
	failOn  string
	calls   []string
}

func (f *fakeSource) ListActive(_ context.Context, table models.CatalogTable) ([]models.CatalogEntry, error) {
	f.calls = append(f.calls, table.Name)
	if table.Name == f.failOn {
		return nil, errors.New("relation does not exist")
	}
	return f.entries[table.Name], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{entries: map[string][]models.CatalogEntry{
		"operators": {
			{Label: "Movistar", ID: 1},
			{Label: "Vodafone", ID: 2},
			{Label: "Mas Movil", ID: 7},
		},
		"signal_types": {
			{Label: "4G", ID: 10},
			{Label: "5G", ID: 11},
		},
		"pollutant_types": {
			{Label: "pm25", ID: 20},
			{Label: "co2", ID: 23},
		},
	}}
}

func TestLoad(t *testing.T) {
	src := newFakeSource()

	cat, err := Load(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, []string{"operators", "signal_types", "pollutant_types"}, src.calls)
	assert.Len(t, cat.Operators, 3)
	assert.Equal(t, int64(11), cat.SignalTypes["5G"])
	assert.Equal(t, int64(23), cat.Pollutants["co2"])
}

func TestLoad_FailureIsFatal(t *testing.T) {
	src := newFakeSource()
	src.failOn = "signal_types"

	cat, err := Load(context.Background(), src)
	require.Error(t, err)
	assert.Nil(t, cat)
	assert.Contains(t, err.Error(), "signal_types")
}

func TestResolver_ResolveOperator(t *testing.T) {
	cat, err := Load(context.Background(), newFakeSource())
	require.NoError(t, err)
	r := NewResolver(cat)

	tests := []struct {
		name   string
		input  string
		wantID int64
		wantOK bool
	}{
		{"lower case", "movistar", 1, true},
		{"upper case", "VODAFONE", 2, true},
		{"padded", "  Movistar \t", 1, true},
		{"multi word", "MAS movil", 7, true},
		{"unknown", "Telefonica", 0, false},
		{"empty", "", 0, false},
		{"whitespace only", "   ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := r.ResolveOperator(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestResolver_Codes(t *testing.T) {
	cat, err := Load(context.Background(), newFakeSource())
	require.NoError(t, err)
	r := NewResolver(cat)

	id, ok := r.ResolveSignalType("4g")
	assert.True(t, ok)
	assert.Equal(t, int64(10), id)

	_, ok = r.ResolveSignalType("3G")
	assert.False(t, ok)

	id, ok = r.ResolvePollutantType("PM25")
	assert.True(t, ok)
	assert.Equal(t, int64(20), id)

	_, ok = r.ResolvePollutantType("no2")
	assert.False(t, ok)
}

func TestResolver_NilCatalogs(t *testing.T) {
	r := NewResolver(nil)
	_, ok := r.ResolveOperator("movistar")
	assert.False(t, ok)
}

func TestNormalizeOperator(t *testing.T) {
	assert.Equal(t, "Movistar", NormalizeOperator("mOVISTAR"))
	assert.Equal(t, "Mas Movil", NormalizeOperator(" mas movil "))
	assert.Equal(t, "", NormalizeOperator("  "))
}

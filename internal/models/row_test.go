package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawRow_Value(t *testing.T) {
	row := RawRow{Fields: map[string]string{
		"a": "  x ",
		"b": "   ",
		"c": "NaN",
	}}

	v, ok := row.Value("a")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = row.Value("b")
	assert.False(t, ok)
	_, ok = row.Value("c")
	assert.False(t, ok)
	_, ok = row.Value("missing")
	assert.False(t, ok)
}

func TestColumnMapping_Required(t *testing.T) {
	m := DefaultColumnMapping()

	row := RawRow{Fields: map[string]string{
		"Marca temporal": "15/07/2025 10:30",
		"OPERADOR":       " ",
	}}
	assert.Equal(t, []string{"OPERADOR", "COORDENADAS_LIMPIAS"}, m.MissingRequired(row))
}

func TestColumnMapping_HasMeasurement(t *testing.T) {
	m := DefaultColumnMapping()

	assert.False(t, m.HasMeasurement(RawRow{Fields: map[string]string{"Intensidad 4G": ""}}))
	assert.True(t, m.HasMeasurement(RawRow{Fields: map[string]string{"Intensidad 5G": "-90"}}))
	assert.True(t, m.HasMeasurement(RawRow{Fields: map[string]string{"ConcentraciÃ³n CO": "0.4"}}))
}

func TestBBox(t *testing.T) {
	b := BBox{South: 36, West: -10, North: 44, East: 4}
	assert.True(t, b.Valid())
	assert.True(t, b.Contains(40.4, -3.7))
	assert.False(t, b.Contains(0, 0))
	assert.False(t, BBox{South: 44, North: 36, West: -10, East: 4}.Valid())
}

package parse

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"envsignal-platform/internal/models"
)

// normalizeNumber trims the value and accepts a comma as decimal separator,
// as typed on Spanish locales.
func normalizeNumber(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return s
}

// ParseStrength coerces a signal reading to whole dBm, truncating any
// fractional part toward zero.
func ParseStrength(raw string) (int, error) {
	s := normalizeNumber(raw)
	if s == "" {
		return 0, &models.ValidationError{Field: "signal_strength", Value: raw, Message: "empty value", Err: models.ErrMissingValue}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, &models.ValidationError{Field: "signal_strength", Value: raw, Message: "not a number", Err: models.ErrMissingValue}
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, &models.ValidationError{Field: "signal_strength", Value: raw, Message: "magnitude too large", Err: models.ErrOutOfRangeValue}
	}
	return int(t), nil
}

// ParseConcentration reads a concentration as an exact decimal.
func ParseConcentration(raw string) (decimal.Decimal, error) {
	s := normalizeNumber(raw)
	if s == "" {
		return decimal.Zero, &models.ValidationError{Field: "concentration", Value: raw, Message: "empty value", Err: models.ErrMissingValue}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &models.ValidationError{Field: "concentration", Value: raw, Message: "not a number", Err: models.ErrMissingValue}
	}
	return d, nil
}

package parse

import (
	"strings"
	"time"

	"envsignal-platform/internal/models"
)

// timestampLayouts are tried in order; day-first layouts come before ISO ones
// because the survey form exports day/month/year.
var timestampLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2-1-2006 15:04:05",
	"2-1-2006 15:04",
}

// ParseTimestamp parses a naive local timestamp. The result is expressed in
// UTC only as a neutral container; no zone conversion happens.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &models.ValidationError{
		Field:   "timestamp",
		Value:   raw,
		Message: "no supported layout matched",
		Err:     models.ErrInvalidTimestamp,
	}
}

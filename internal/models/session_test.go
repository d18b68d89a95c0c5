package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey_Matches(t *testing.T) {
	base := SessionKey{
		Latitude:   40.4168,
		Longitude:  -3.7038,
		RecordedAt: time.Date(2025, 7, 15, 10, 30, 0, 0, time.UTC),
		OperatorID: 1,
	}

	tests := []struct {
		name   string
		mutate func(k SessionKey) SessionKey
		want   bool
	}{
		{"identical", func(k SessionKey) SessionKey { return k }, true},
		{"latitude below grid step", func(k SessionKey) SessionKey { k.Latitude += 2e-9; return k }, true},
		{"longitude below grid step", func(k SessionKey) SessionKey { k.Longitude -= 2e-9; return k }, true},
		{"longitude exactly one step", func(k SessionKey) SessionKey { k.Longitude = -3.70380001; return k }, false},
		{"latitude exactly one step", func(k SessionKey) SessionKey { k.Latitude = 40.41680001; return k }, false},
		{"latitude beyond tolerance", func(k SessionKey) SessionKey { k.Latitude += 2e-8; return k }, false},
		{"longitude beyond tolerance", func(k SessionKey) SessionKey { k.Longitude += 1e-7; return k }, false},
		{"59 seconds later", func(k SessionKey) SessionKey { k.RecordedAt = k.RecordedAt.Add(59 * time.Second); return k }, true},
		{"59 seconds earlier", func(k SessionKey) SessionKey { k.RecordedAt = k.RecordedAt.Add(-59 * time.Second); return k }, true},
		{"exactly 60 seconds", func(k SessionKey) SessionKey { k.RecordedAt = k.RecordedAt.Add(60 * time.Second); return k }, false},
		{"exactly -60 seconds", func(k SessionKey) SessionKey { k.RecordedAt = k.RecordedAt.Add(-60 * time.Second); return k }, false},
		{"different operator", func(k SessionKey) SessionKey { k.OperatorID = 2; return k }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Matches(tt.mutate(base)))
		})
	}
}

// Pairs one grid step apart whose float difference falls just under 1e-8.
func TestSessionKey_MatchesExactToleranceStep(t *testing.T) {
	ts := time.Date(2025, 7, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b SessionKey
	}{
		{"longitude", SessionKey{Latitude: 40.4168, Longitude: -3.7038, RecordedAt: ts, OperatorID: 1},
			SessionKey{Latitude: 40.4168, Longitude: -3.70380001, RecordedAt: ts, OperatorID: 1}},
		{"latitude", SessionKey{Latitude: 28.12345678, Longitude: -15.4, RecordedAt: ts, OperatorID: 1},
			SessionKey{Latitude: 28.12345679, Longitude: -15.4, RecordedAt: ts, OperatorID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.a.Matches(tt.b))
			assert.False(t, tt.b.Matches(tt.a))
		})
	}
}

func TestSessionKey_RoundTrip(t *testing.T) {
	key := SessionKey{Latitude: 1, Longitude: 2, RecordedAt: time.Unix(0, 0).UTC(), OperatorID: 3}
	assert.Equal(t, key, NewSession(key).Key())
}

func TestValidLatLon(t *testing.T) {
	assert.True(t, ValidLatLon(90, 180))
	assert.True(t, ValidLatLon(-90, -180))
	assert.False(t, ValidLatLon(90.0000001, 0))
	assert.False(t, ValidLatLon(0, -180.5))
}

func TestSignalInRange(t *testing.T) {
	assert.True(t, SignalInRange(0))
	assert.True(t, SignalInRange(-150))
	assert.False(t, SignalInRange(1))
	assert.False(t, SignalInRange(-151))
}

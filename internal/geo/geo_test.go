package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// mainland is a coarse rectangle around the Iberian mainland in lon/lat.
var mainland = orb.Ring{{-9.5, 36}, {3.3, 36}, {3.3, 43.8}, {-9.5, 43.8}, {-9.5, 36}}

const (
	madridLat, madridLon     = 40.4168, -3.7038
	tenerifeLat, tenerifeLon = 28.3, -16.5
)

func mainlandBoundary() *Boundary {
	return NewBoundary(orb.MultiPolygon{{mainland}})
}

func featureCollection(crs string, ring orb.Ring) []byte {
	coords, _ := json.Marshal([][]orb.Point{[]orb.Point(ring)})
	crsMember := ""
	if crs != "" {
		crsMember = fmt.Sprintf(`"crs":{"type":"name","properties":{"name":%q}},`, crs)
	}
	return []byte(fmt.Sprintf(`{"type":"FeatureCollection",%s"features":[{"type":"Feature","properties":{"nameunit":"España"},"geometry":{"type":"Polygon","coordinates":%s}}]}`,
		crsMember, coords))
}

func TestContains(t *testing.T) {
	b := mainlandBoundary()

	assert.True(t, Contains(madridLat, madridLon, b))
	assert.False(t, Contains(tenerifeLat, tenerifeLon, b))
	assert.False(t, Contains(0, 0, b))
}

func TestContains_WithHole(t *testing.T) {
	hole := orb.Ring{{-4, 40}, {-3, 40}, {-3, 41}, {-4, 41}, {-4, 40}}
	b := NewBoundary(orb.MultiPolygon{{mainland, hole}})

	assert.False(t, Contains(madridLat+0.2, madridLon, b))
	assert.True(t, Contains(37.39, -5.98, b))
}

func TestContains_FailsOpen(t *testing.T) {
	tests := []struct {
		name string
		b    *Boundary
	}{
		{"nil boundary", nil},
		{"empty multipolygon", NewBoundary(orb.MultiPolygon{})},
		{"polygon without rings", NewBoundary(orb.MultiPolygon{orb.Polygon{}})},
		{"degenerate ring", NewBoundary(orb.MultiPolygon{{orb.Ring{{0, 0}, {1, 1}}}})},
		{"open ring", NewBoundary(orb.MultiPolygon{{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.b.Valid())
			assert.True(t, Contains(0, 0, tt.b))
		})
	}
}

func TestDecodeBoundary_CRS(t *testing.T) {
	swapped := make(orb.Ring, len(mainland))
	for i, p := range mainland {
		swapped[i] = orb.Point{p[1], p[0]}
	}
	mercator := make(orb.Ring, len(mainland))
	for i, p := range mainland {
		mercator[i] = project.WGS84.ToMercator(p)
	}

	tests := []struct {
		name string
		crs  string
		ring orb.Ring
	}{
		{"no crs", "", mainland},
		{"epsg 4326", "EPSG:4326", mainland},
		{"crs84", "urn:ogc:def:crs:OGC:1.3:CRS84", mainland},
		{"authority axis order", "urn:ogc:def:crs:EPSG::4326", swapped},
		{"web mercator", "EPSG:3857", mercator},
		{"legacy google mercator", "EPSG:900913", mercator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := DecodeBoundary(featureCollection(tt.crs, tt.ring))
			require.NoError(t, err)
			require.True(t, b.Valid())

			assert.True(t, Contains(madridLat, madridLon, b))
			assert.False(t, Contains(tenerifeLat, tenerifeLon, b))
		})
	}
}

func TestDecodeBoundary_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `<gml:FeatureCollection/>`},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`},
		{"no polygon", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`},
		{"unsupported crs", string(featureCollection("EPSG:25830", mainland))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBoundary([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestWFSClient_FetchBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GetFeature", r.URL.Query().Get("request"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(featureCollection("EPSG:4326", mainland))
	}))
	defer srv.Close()

	c := NewWFSClient(srv.URL+"?service=WFS&request=GetFeature", time.Second, logging.NewNopLogger())
	b, err := c.FetchBoundary(context.Background())
	require.NoError(t, err)
	assert.True(t, Contains(madridLat, madridLon, b))
}

func TestWFSClient_Errors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewWFSClient(srv.URL, time.Second, logging.NewNopLogger()).FetchBoundary(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		start := time.Now()
		_, err := NewWFSClient(srv.URL, 50*time.Millisecond, logging.NewNopLogger()).FetchBoundary(context.Background())
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

type fakeFetcher struct {
	calls    atomic.Int32
	boundary *Boundary
	err      error
	panicMsg string
	delay    time.Duration
}

func (f *fakeFetcher) FetchBoundary(ctx context.Context) (*Boundary, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.boundary, f.err
}

func newTestProvider(f BoundaryFetcher) *Provider {
	return NewProvider(f, logging.NewNopLogger(), metrics.NewNopCollector())
}

func TestProvider_CachesSuccess(t *testing.T) {
	f := &fakeFetcher{boundary: mainlandBoundary()}
	p := newTestProvider(f)

	for i := 0; i < 3; i++ {
		b, err := p.LoadBoundary(context.Background())
		require.NoError(t, err)
		assert.Same(t, f.boundary, b)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestProvider_ConcurrentFirstCallsShareOneFetch(t *testing.T) {
	f := &fakeFetcher{boundary: mainlandBoundary(), delay: 20 * time.Millisecond}
	p := newTestProvider(f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.LoadBoundary(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestProvider_FailureNotCached(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	p := newTestProvider(f)

	_, err := p.LoadBoundary(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBoundaryFetch)

	f.err = nil
	f.boundary = mainlandBoundary()
	b, err := p.LoadBoundary(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, int32(2), f.calls.Load())
}

func newTestValidator(f BoundaryFetcher) (*Validator, *metrics.Collector) {
	m := metrics.NewNopCollector()
	var p *Provider
	if f != nil {
		p = NewProvider(f, logging.NewNopLogger(), m)
	}
	return NewValidator(DefaultBBox, p, logging.NewNopLogger(), m), m
}

func TestValidator_Stages(t *testing.T) {
	v, _ := newTestValidator(&fakeFetcher{boundary: mainlandBoundary()})
	ctx := context.Background()

	tests := []struct {
		name     string
		lat, lon float64
		want     Result
	}{
		{"madrid", madridLat, madridLon, Result{Valid: true, Reason: ReasonInside, Confidence: ConfidenceHigh}},
		{"mid atlantic", 0, 0, Result{Reason: ReasonOutsideBBox, Confidence: ConfidenceHigh}},
		{"paris", 48.8566, 2.3522, Result{Reason: ReasonOutsideBBox, Confidence: ConfidenceHigh}},
		{"inside bbox outside polygon", tenerifeLat, tenerifeLon, Result{Reason: ReasonOutsideBoundary, Confidence: ConfidenceHigh}},
		{"out of global range", 91, 0, Result{Reason: ReasonOutOfRange, Confidence: ConfidenceHigh}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.ValidateInCountry(ctx, tt.lat, tt.lon))
		})
	}
}

func TestValidator_BBoxRejectionSkipsBoundary(t *testing.T) {
	f := &fakeFetcher{boundary: mainlandBoundary()}
	v, _ := newTestValidator(f)

	res := v.ValidateInCountry(context.Background(), 0, 0)
	assert.False(t, res.Valid)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestValidator_FailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{"fetch error", &fakeFetcher{err: errors.New("dns failure")}},
		{"fetch panic", &fakeFetcher{panicMsg: "nil geometry"}},
		{"invalid geometry", &fakeFetcher{boundary: NewBoundary(orb.MultiPolygon{{orb.Ring{{0, 0}, {1, 1}}}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(tt.fetcher)

			// A point inside the bounding box but outside the real country.
			res := v.ValidateInCountry(context.Background(), tenerifeLat, tenerifeLon)
			assert.True(t, res.Valid)
			assert.Equal(t, ConfidenceLow, res.Confidence)
			assert.Equal(t, ReasonUnavailable, res.Reason)
		})
	}
}

func TestValidator_WithoutProvider(t *testing.T) {
	v, _ := newTestValidator(nil)

	res := v.ValidateInCountry(context.Background(), tenerifeLat, tenerifeLon)
	assert.True(t, res.Valid)
	assert.Equal(t, ReasonBBoxOnly, res.Reason)

	res = v.ValidateInCountry(context.Background(), 0, 0)
	assert.False(t, res.Valid)
}

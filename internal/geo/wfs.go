package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"envsignal-platform/pkg/logging"
)

const maxBoundaryBytes = 64 << 20

// WFSClient fetches the boundary as a GeoJSON FeatureCollection from a WFS
// GetFeature URL.
type WFSClient struct {
	url    string
	client *http.Client
	logger *logging.StructuredLogger
}

// NewWFSClient creates a client for url. timeout bounds the whole request.
func NewWFSClient(url string, timeout time.Duration, logger *logging.StructuredLogger) *WFSClient {
	return &WFSClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// FetchBoundary downloads the boundary and reprojects it to WGS84 lon/lat.
func (c *WFSClient) FetchBoundary(ctx context.Context) (*Boundary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build boundary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch boundary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boundary service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBoundaryBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary response: %w", err)
	}

	b, err := DecodeBoundary(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "[GEO_WFS_FETCHED] Boundary document decoded", logging.Fields{
		"bytes":    len(body),
		"polygons": len(b.shape),
	})
	return b, nil
}

// crsEnvelope picks the legacy "crs" member, which orb's decoder ignores.
type crsEnvelope struct {
	CRS *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// DecodeBoundary parses a GeoJSON FeatureCollection and returns the first
// polygonal feature in WGS84 lon/lat order.
func DecodeBoundary(data []byte) (*Boundary, error) {
	var env crsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid boundary document: %w", err)
	}
	crs := ""
	if env.CRS != nil {
		crs = env.CRS.Properties.Name
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("invalid boundary feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("boundary feature collection is empty")
	}

	var shape orb.MultiPolygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			shape = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			shape = g
		}
		if len(shape) > 0 {
			break
		}
	}
	if len(shape) == 0 {
		return nil, errors.New("boundary feature collection has no polygon")
	}

	proj, err := projectionFor(crs)
	if err != nil {
		return nil, err
	}
	if proj != nil {
		shape = project.MultiPolygon(shape, proj)
	}

	return NewBoundary(shape), nil
}

// projectionFor returns the projection that brings coordinates in crs to
// WGS84 lon/lat, or nil when they already are.
func projectionFor(crs string) (orb.Projection, error) {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "", "EPSG:4326", "CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "URN:OGC:DEF:CRS:OGC::CRS84":
		return nil, nil
	case "URN:OGC:DEF:CRS:EPSG::4326", "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/0/4326":
		// Authority axis order is lat/lon.
		return swapAxes, nil
	case "EPSG:3857", "EPSG:900913", "URN:OGC:DEF:CRS:EPSG::3857":
		return project.Mercator.ToWGS84, nil
	default:
		return nil, fmt.Errorf("unsupported boundary CRS %q", crs)
	}
}

func swapAxes(p orb.Point) orb.Point {
	return orb.Point{p[1], p[0]}
}

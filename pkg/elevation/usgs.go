package elevation

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// USGS Elevation Point Query Service defaults.
const (
	USGSEndpoint    = "https://epqs.nationalmap.gov/v1/json"
	usgsNoData      = -1000000
	usgsDatum       = "NAVD88"
	usgsResolutionM = 10.0
)

// USGS queries the 3DEP Elevation Point Query Service. Coverage is the
// United States and its territories.
type USGS struct {
	base
	datum      string
	resolution float64
}

// NewUSGS creates a USGS provider.
func NewUSGS(hc *httpcache.Client, cfg Config) *USGS {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = USGSEndpoint
	}
	p := &USGS{base: newBase(NameUSGS, endpoint, hc, cfg), datum: usgsDatum, resolution: usgsResolutionM}
	if cfg.VerticalDatum != "" {
		p.datum = cfg.VerticalDatum
	}
	if cfg.DefaultResolutionM > 0 {
		p.resolution = cfg.DefaultResolutionM
	}
	return p
}

type usgsResponse struct {
	Value      number `json:"value"`
	Resolution number `json:"resolution"`
	Location   struct {
		X number `json:"x"`
		Y number `json:"y"`
	} `json:"location"`
}

// Fetch implements Provider.
func (p *USGS) Fetch(ctx context.Context, lat, lon float64, o FetchOptions) Result {
	resp, err := p.do(ctx, httpcache.Request{
		URL: p.endpoint,
		Params: map[string]any{
			"x":           lon,
			"y":           lat,
			"wkid":        4326,
			"units":       "Meters",
			"includeDate": "true",
		},
	}, o)
	if err != nil {
		return failure(resp, err)
	}

	if bytes.Contains(bytes.ToLower(resp.Body), []byte("failed")) {
		return failure(resp, eris.New("elevation: usgs has no data at this location"))
	}

	var data usgsResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return failure(resp, eris.Wrap(err, "elevation: usgs parse response"))
	}
	if !data.Value.set {
		return failure(resp, eris.New("elevation: usgs returned no value"))
	}
	if data.Value.v == usgsNoData {
		zap.L().Debug("elevation: usgs no-data sentinel",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return failure(resp, eris.New("elevation: usgs has no data at this location"))
	}

	loc := model.GeoPoint{Lat: lat, Lon: lon, PrecisionDigits: model.DefaultPrecisionDigits}
	if data.Location.X.set && data.Location.Y.set {
		loc.Lat, loc.Lon = data.Location.Y.v, data.Location.X.v
	}
	// EPQS reports resolution in raster units; only trust plausible metre values.
	res := p.resolution
	if data.Resolution.set && data.Resolution.v >= 1 {
		res = data.Resolution.v
	}

	return Result{
		Elevation:     data.Value.ptr(),
		Location:      &loc,
		ResolutionM:   model.Float(res),
		VerticalDatum: p.datum,
		Raw:           resp.Body,
		FromCache:     resp.FromCache,
	}
}

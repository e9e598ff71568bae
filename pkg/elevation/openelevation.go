package elevation

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// Open-Elevation defaults. The public instance serves SRTM 90 m.
const (
	OpenElevationEndpoint    = "https://api.open-elevation.com/api/v1/lookup"
	openElevationDatum       = "EGM96"
	openElevationResolutionM = 90.0
)

// OpenElevation queries an Open-Elevation server, registered as "osm".
type OpenElevation struct {
	base
	datum      string
	resolution float64
}

// NewOpenElevation creates an Open-Elevation provider.
func NewOpenElevation(hc *httpcache.Client, cfg Config) *OpenElevation {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = OpenElevationEndpoint
	}
	p := &OpenElevation{
		base:       newBase(NameOSM, endpoint, hc, cfg),
		datum:      openElevationDatum,
		resolution: openElevationResolutionM,
	}
	if cfg.VerticalDatum != "" {
		p.datum = cfg.VerticalDatum
	}
	if cfg.DefaultResolutionM > 0 {
		p.resolution = cfg.DefaultResolutionM
	}
	return p
}

type openElevationPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type openElevationResponse struct {
	Results []struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// Fetch implements Provider.
func (p *OpenElevation) Fetch(ctx context.Context, lat, lon float64, o FetchOptions) Result {
	body, err := json.Marshal(map[string][]openElevationPoint{
		"locations": {{Latitude: lat, Longitude: lon}},
	})
	if err != nil {
		return failure(nil, eris.Wrap(err, "elevation: osm encode request"))
	}

	resp, err := p.do(ctx, httpcache.Request{Method: "POST", URL: p.endpoint, Body: body}, o)
	if err != nil {
		return failure(resp, err)
	}

	var data openElevationResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return failure(resp, eris.Wrap(err, "elevation: osm parse response"))
	}
	if len(data.Results) == 0 || data.Results[0].Elevation == nil {
		return failure(resp, eris.New("elevation: osm returned no elevation"))
	}

	first := data.Results[0]
	loc := model.GeoPoint{Lat: lat, Lon: lon, PrecisionDigits: model.DefaultPrecisionDigits}
	if first.Latitude != nil && first.Longitude != nil {
		loc.Lat, loc.Lon = *first.Latitude, *first.Longitude
	}
	return Result{
		Elevation:     model.Float(*first.Elevation),
		Location:      &loc,
		ResolutionM:   model.Float(p.resolution),
		VerticalDatum: p.datum,
		Raw:           resp.Body,
		FromCache:     resp.FromCache,
	}
}

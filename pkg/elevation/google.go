package elevation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// GoogleEndpoint is the Google Maps Elevation API.
const (
	GoogleEndpoint = "https://maps.googleapis.com/maps/api/elevation/json"
	googleDatum    = "EGM96"
)

// Google queries the Google Maps Elevation API. It requires an API key.
type Google struct {
	base
	apiKey string
	datum  string
}

// NewGoogle creates a Google provider. It returns an error when no API key
// is configured.
func NewGoogle(hc *httpcache.Client, cfg Config) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("elevation: google api key not configured")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = GoogleEndpoint
	}
	p := &Google{base: newBase(NameGoogle, endpoint, hc, cfg), apiKey: cfg.APIKey, datum: googleDatum}
	if cfg.VerticalDatum != "" {
		p.datum = cfg.VerticalDatum
	}
	return p, nil
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Elevation  *float64 `json:"elevation"`
		Resolution *float64 `json:"resolution"`
		Location   *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"results"`
}

// Fetch implements Provider.
func (p *Google) Fetch(ctx context.Context, lat, lon float64, o FetchOptions) Result {
	resp, err := p.do(ctx, httpcache.Request{
		URL: p.endpoint,
		Params: map[string]any{
			"locations": fmt.Sprintf("%v,%v", lat, lon),
			"key":       p.apiKey,
		},
	}, o)
	if err != nil {
		return failure(resp, err)
	}

	var data googleResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return failure(resp, eris.Wrap(err, "elevation: google parse response"))
	}
	if data.Status != "OK" {
		msg := data.ErrorMessage
		if msg == "" {
			msg = "api returned status " + data.Status
		}
		return failure(resp, eris.Errorf("elevation: google %s", msg))
	}
	if len(data.Results) == 0 || data.Results[0].Elevation == nil {
		return failure(resp, eris.New("elevation: google returned no elevation"))
	}

	first := data.Results[0]
	loc := model.GeoPoint{Lat: lat, Lon: lon, PrecisionDigits: model.DefaultPrecisionDigits}
	if first.Location != nil {
		loc.Lat, loc.Lon = first.Location.Lat, first.Location.Lng
	}
	return Result{
		Elevation:     model.Float(*first.Elevation),
		Location:      &loc,
		ResolutionM:   first.Resolution,
		VerticalDatum: p.datum,
		Raw:           resp.Body,
		FromCache:     resp.FromCache,
	}
}

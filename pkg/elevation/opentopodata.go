package elevation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// Open Topo Data defaults. DatasetAuto picks a dataset per point.
const (
	OpenTopoDataEndpoint = "https://api.opentopodata.org/v1"
	DefaultDataset       = "srtm30m"
	DatasetAuto          = "auto"
)

// DatasetInfo is the native resolution and vertical datum of a DEM.
type DatasetInfo struct {
	ResolutionM   float64
	VerticalDatum string
}

// Datasets lists the Open Topo Data DEMs we know the metadata for.
var Datasets = map[string]DatasetInfo{
	"srtm30m":  {30, "EGM96"},
	"srtm90m":  {90, "EGM96"},
	"aster30m": {30, "EGM96"},
	"eudem25m": {25, "EVRS2000"},
	"mapzen":   {30, "EGM96"},
	"ned10m":   {10, "NAVD88"},
}

// LookupDataset returns metadata for name, defaulting to SRTM 30 m values.
func LookupDataset(name string) DatasetInfo {
	if d, ok := Datasets[name]; ok {
		return d
	}
	return Datasets[DefaultDataset]
}

// SelectDataset chooses a DEM by location: EU-DEM over Europe, ASTER beyond
// SRTM's latitude coverage, SRTM 30 m elsewhere.
func SelectDataset(lat, lon float64) string {
	switch {
	case lat >= 35 && lat <= 65 && lon >= -15 && lon <= 40:
		return "eudem25m"
	case lat > 60 || lat < -60:
		return "aster30m"
	default:
		return DefaultDataset
	}
}

// OpenTopoData queries an Open Topo Data server.
type OpenTopoData struct {
	base
	dataset string
}

// NewOpenTopoData creates an Open Topo Data provider. An empty dataset uses
// DefaultDataset.
func NewOpenTopoData(hc *httpcache.Client, cfg Config) *OpenTopoData {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = OpenTopoDataEndpoint
	}
	dataset := cfg.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}
	return &OpenTopoData{base: newBase(NameOpenTopoData, endpoint, hc, cfg), dataset: dataset}
}

// Dataset returns the dataset used at (lat, lon).
func (p *OpenTopoData) Dataset(lat, lon float64) string {
	if p.dataset == DatasetAuto {
		return SelectDataset(lat, lon)
	}
	return p.dataset
}

type openTopoDataResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Results []struct {
		Dataset   string   `json:"dataset"`
		Elevation *float64 `json:"elevation"`
		Location  *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"results"`
}

// Fetch implements Provider.
func (p *OpenTopoData) Fetch(ctx context.Context, lat, lon float64, o FetchOptions) Result {
	dataset := p.Dataset(lat, lon)
	resp, err := p.do(ctx, httpcache.Request{
		URL:    p.endpoint + "/" + dataset,
		Params: map[string]any{"locations": fmt.Sprintf("%v,%v", lat, lon)},
	}, o)
	if err != nil {
		return failure(resp, err)
	}

	var data openTopoDataResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return failure(resp, eris.Wrap(err, "elevation: open_topo_data parse response"))
	}
	if data.Status != "OK" {
		msg := data.Error
		if msg == "" {
			msg = "unknown api error"
		}
		return failure(resp, eris.Errorf("elevation: open_topo_data %s", msg))
	}
	if len(data.Results) == 0 || data.Results[0].Elevation == nil {
		return failure(resp, eris.Errorf("elevation: open_topo_data %s has no elevation at this location", dataset))
	}

	first := data.Results[0]
	loc := model.GeoPoint{Lat: lat, Lon: lon, PrecisionDigits: model.DefaultPrecisionDigits}
	if first.Location != nil {
		loc.Lat, loc.Lon = first.Location.Lat, first.Location.Lng
	}
	info := LookupDataset(dataset)
	return Result{
		Elevation:     model.Float(*first.Elevation),
		Location:      &loc,
		ResolutionM:   model.Float(info.ResolutionM),
		VerticalDatum: info.VerticalDatum,
		Raw:           resp.Body,
		FromCache:     resp.FromCache,
	}
}

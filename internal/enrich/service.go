// Package enrich orchestrates elevation providers for a coordinate: it
// classifies the point, orders providers, queries them one at a time, and
// selects the best observation.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/geo"
	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/elevation"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// UnitMeters is the SI unit recorded on elevation observations.
const UnitMeters = "m"

// Classifier classifies a coordinate for provider routing.
type Classifier interface {
	Classify(ctx context.Context, lat, lon float64) model.CoordinateClassification
}

// Request is one elevation lookup.
type Request struct {
	Lat, Lon           float64
	PreferredProviders []string
	// Timeout bounds each provider call; zero uses the provider default.
	Timeout       time.Duration
	ReadFromCache bool
	WriteToCache  bool
}

// NewRequest returns a Request that reads and writes the cache.
func NewRequest(lat, lon float64) Request {
	return Request{Lat: lat, Lon: lon, ReadFromCache: true, WriteToCache: true}
}

// Report is an envelope plus the routing and selection that produced it.
type Report struct {
	model.OutputEnvelope `yaml:",inline"`
	Classification       model.CoordinateClassification `json:"classification" yaml:"classification"`
	Providers            []string                       `json:"providers" yaml:"providers"`
	Best                 *model.ElevationResult         `json:"best" yaml:"best"`
}

// Service runs elevation lookups.
type Service struct {
	classifier  Classifier
	registry    *elevation.Registry
	toolVersion string
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithToolVersion sets the version recorded in run metadata.
func WithToolVersion(v string) Option {
	return func(s *Service) { s.toolVersion = v }
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. A nil classifier uses the offline boxes.
func NewService(classifier Classifier, registry *elevation.Registry, opts ...Option) *Service {
	if classifier == nil {
		classifier = geo.NewClassifier(nil)
	}
	s := &Service{
		classifier:  classifier,
		registry:    registry,
		toolVersion: "dev",
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the provider registry.
func (s *Service) Registry() *elevation.Registry { return s.registry }

// Classify classifies a coordinate with the configured classifier.
func (s *Service) Classify(ctx context.Context, lat, lon float64) model.CoordinateClassification {
	return s.classifier.Classify(ctx, lat, lon)
}

// Plan validates the request and returns its classification and provider
// order without contacting any provider. The request's cache flags apply to
// an online classifier too.
func (s *Service) Plan(ctx context.Context, req Request) (model.GeoPoint, model.CoordinateClassification, []string, error) {
	pt, err := model.NewGeoPoint(req.Lat, req.Lon)
	if err != nil {
		return model.GeoPoint{}, model.CoordinateClassification{}, nil, eris.Wrap(err, "enrich: validate request")
	}
	class := s.classifier.Classify(httpcache.WithCacheFlags(ctx, req.ReadFromCache, req.WriteToCache), pt.Lat, pt.Lon)
	return pt, class, SelectProviders(class, req.PreferredProviders, s.registry), nil
}

// GetObservations queries every selected provider in order and returns one
// observation per provider. The only error is an invalid coordinate.
func (s *Service) GetObservations(ctx context.Context, req Request) ([]model.Observation, error) {
	pt, _, names, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.observeAll(ctx, pt, names, req), nil
}

// Lookup runs a full request and wraps the result in an envelope.
func (s *Service) Lookup(ctx context.Context, req Request, subjectID string) (*Report, error) {
	run := model.NewRun(s.now(), s.toolVersion, req.ReadFromCache, req.WriteToCache)

	pt, class, names, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	obs := s.observeAll(ctx, pt, names, req)

	return &Report{
		OutputEnvelope: model.NewEnvelope(subjectID, run, s.now(), obs),
		Classification: class,
		Providers:      names,
		Best:           PickBest(obs),
	}, nil
}

func (s *Service) observeAll(ctx context.Context, pt model.GeoPoint, names []string, req Request) []model.Observation {
	opts := elevation.FetchOptions{
		ReadFromCache: req.ReadFromCache,
		WriteToCache:  req.WriteToCache,
		Timeout:       req.Timeout,
	}
	out := make([]model.Observation, 0, len(names))
	for _, name := range names {
		p := s.registry.Get(name)
		if p == nil {
			continue
		}
		o := s.observe(ctx, p, pt, opts)
		zap.L().Debug("enrich: provider done",
			zap.String("provider", name),
			zap.String("status", string(o.Status)),
			zap.Bool("cache_used", o.CacheUsed),
		)
		out = append(out, o)
	}
	return out
}

// observe turns one provider fetch into an observation. A panicking provider
// yields an ERROR observation like any other failure.
func (s *Service) observe(ctx context.Context, p elevation.Provider, pt model.GeoPoint, opts elevation.FetchOptions) (obs model.Observation) {
	obs = model.Observation{
		Variable:        model.VariableElevation,
		Status:          model.StatusError,
		Provider:        p.Ref(),
		RequestLocation: pt,
		Unit:            UnitMeters,
		RequestID:       model.RequestID(p.Name(), pt.Lat, pt.Lon),
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("enrich: provider panicked", zap.String("provider", p.Name()), zap.Any("panic", r))
			obs.Status = model.StatusError
			obs.ValueNumeric = nil
			obs.ErrorMessage = model.String(fmt.Sprintf("provider panic: %v", r))
			obs.CreatedAt = s.now().UTC()
		}
	}()

	res := p.Fetch(ctx, pt.Lat, pt.Lon, opts)
	obs.CreatedAt = s.now().UTC()
	obs.CacheUsed = res.FromCache
	obs.RawPayloadHash = model.PayloadHash(res.Raw)

	if !res.OK() {
		msg := "no elevation returned"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		obs.ErrorMessage = model.String(msg)
		return obs
	}

	obs.Status = model.StatusOK
	obs.ValueNumeric = model.Float(*res.Elevation)
	obs.SpatialResolutionM = res.ResolutionM
	if res.VerticalDatum != "" {
		obs.VerticalDatum = model.String(res.VerticalDatum)
	}
	if res.Location != nil {
		loc := *res.Location
		obs.MeasurementLocation = &loc
		obs.DistanceToInputM = model.Float(geo.HaversineM(pt.Lat, pt.Lon, loc.Lat, loc.Lon))
	}
	return obs
}

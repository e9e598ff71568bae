package geo

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/model"
)

// Confidence levels for each classification path.
const (
	BoxConfidence      = 0.95
	LookupConfidence   = 0.95
	OceanConfidence    = 0.9
	FallbackConfidence = 0.7
)

// Classification methods.
const (
	MethodBoundingBox    = "bounding_box"
	MethodReverseLookup  = "reverse_geocode"
	MethodLookupFallback = "bounding_box_fallback"
)

// TerritoryCountryCode is the ISO country whose subdivisions are boxed.
const TerritoryCountryCode = "us"

// CountryLookup resolves the country at a point. found is false when the
// point has no jurisdiction (open water).
type CountryLookup interface {
	LookupCountry(ctx context.Context, lat, lon float64) (code string, found bool, err error)
}

// Classifier maps coordinates to a CoordinateClassification. With a
// CountryLookup it tries the online path first and falls back to boxes.
type Classifier struct {
	lookup CountryLookup
}

// NewClassifier creates a Classifier. lookup may be nil for offline use.
func NewClassifier(lookup CountryLookup) *Classifier {
	return &Classifier{lookup: lookup}
}

// Classify never fails. Invalid coordinates yield an unknown classification.
func (c *Classifier) Classify(ctx context.Context, lat, lon float64) model.CoordinateClassification {
	if err := model.ValidateCoordinates(lat, lon); err != nil {
		return model.CoordinateClassification{Confidence: FallbackConfidence, Method: MethodBoundingBox}
	}

	if c == nil || c.lookup == nil {
		return ClassifyBoxes(lat, lon)
	}

	code, found, err := c.lookup.LookupCountry(ctx, lat, lon)
	if err != nil {
		zap.L().Debug("geo: reverse lookup failed, using bounding boxes",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err),
		)
		out := ClassifyBoxes(lat, lon)
		out.Confidence = FallbackConfidence
		out.Method = MethodLookupFallback
		return out
	}

	if !found {
		return model.CoordinateClassification{
			IsLand:     model.Bool(false),
			Confidence: OceanConfidence,
			Method:     MethodReverseLookup,
		}
	}

	out := model.CoordinateClassification{
		IsKnownTerritory: strings.EqualFold(code, TerritoryCountryCode),
		IsLand:           model.Bool(true),
		Confidence:       LookupConfidence,
		CountryCode:      strings.ToUpper(code),
		Method:           MethodReverseLookup,
	}
	if out.IsKnownTerritory {
		if region, ok := TerritoryRegion(lat, lon); ok {
			out.RegionCode = model.String(region)
		}
	}
	return out
}

// ClassifyBoxes is the offline heuristic: territory boxes for jurisdiction and
// ocean/landmass boxes for the tri-state land flag.
func ClassifyBoxes(lat, lon float64) model.CoordinateClassification {
	out := model.CoordinateClassification{
		IsLand:     IsLand(lat, lon),
		Confidence: BoxConfidence,
		Method:     MethodBoundingBox,
	}
	if region, ok := TerritoryRegion(lat, lon); ok {
		out.IsKnownTerritory = true
		out.RegionCode = model.String(region)
		out.CountryCode = strings.ToUpper(TerritoryCountryCode)
	}
	return out
}

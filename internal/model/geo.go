package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidCoordinate is returned when a latitude or longitude falls
// outside the WGS84 range.
var ErrInvalidCoordinate = eris.New("invalid coordinate")

// DefaultPrecisionDigits is the number of decimals kept for request locations.
const DefaultPrecisionDigits = 6

// GeoPoint is an immutable WGS84 coordinate.
type GeoPoint struct {
	Lat             float64 `json:"lat" yaml:"lat"`
	Lon             float64 `json:"lon" yaml:"lon"`
	PrecisionDigits int     `json:"precision_digits,omitempty" yaml:"precision_digits,omitempty"`
}

// NewGeoPoint validates lat/lon and returns a GeoPoint. Out-of-range values
// are rejected, never clamped.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{Lat: lat, Lon: lon, PrecisionDigits: DefaultPrecisionDigits}, nil
}

// ValidateCoordinates reports whether lat ∈ [-90,90] and lon ∈ [-180,180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// CoordinateClassification describes where a point falls for provider routing.
// IsLand is nil when land/ocean could not be determined.
type CoordinateClassification struct {
	IsKnownTerritory bool    `json:"is_known_territory" yaml:"is_known_territory"`
	RegionCode       *string `json:"region_code" yaml:"region_code"`
	IsLand           *bool   `json:"is_land" yaml:"is_land"`
	Confidence       float64 `json:"confidence" yaml:"confidence"`
	CountryCode      string  `json:"country_code,omitempty" yaml:"country_code,omitempty"`
	Method           string  `json:"method,omitempty" yaml:"method,omitempty"`
}

// Region returns the region code or "" when unset.
func (c CoordinateClassification) Region() string {
	if c.RegionCode == nil {
		return ""
	}
	return *c.RegionCode
}

// LikelyLand is true only when land was positively determined.
func (c CoordinateClassification) LikelyLand() bool {
	return c.IsLand != nil && *c.IsLand
}

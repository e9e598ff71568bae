// Package geo classifies coordinates by jurisdiction and land/ocean for
// provider routing.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Region codes for the primary territory.
const (
	RegionCONUS = "CONUS"
	RegionAK    = "AK"
	RegionHI    = "HI"
	RegionPR    = "PR"
	RegionVI    = "VI"
	RegionGU    = "GU"
	RegionAS    = "AS"
	RegionMP    = "MP"
)

// Region is a named set of lat/lon boxes. A point inside any box is inside
// the region.
type Region struct {
	Code  string
	Name  string
	boxes []*geom.Bounds
}

// Contains reports whether (lat, lon) falls in any of the region's boxes.
// Box edges are inclusive.
func (r Region) Contains(lat, lon float64) bool {
	c := geom.Coord{lon, lat}
	for _, b := range r.boxes {
		if b.OverlapsPoint(geom.XY, c) {
			return true
		}
	}
	return false
}

// Bounds returns the region's boxes.
func (r Region) Bounds() []*geom.Bounds {
	return r.boxes
}

func box(minLat, maxLat, minLon, maxLon float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(minLon, minLat, maxLon, maxLat)
}

// Territories is the ordered US subdivision list; first match wins.
// Alaska's Aleutian chain crosses the antimeridian, so it is split into a
// western box (lon ≥ 172) and an eastern box (lon ≤ -129).
var Territories = []Region{
	{Code: RegionCONUS, Name: "Contiguous United States", boxes: []*geom.Bounds{
		box(24.396308, 49.384358, -125.0, -66.93457),
	}},
	{Code: RegionAK, Name: "Alaska", boxes: []*geom.Bounds{
		box(54.0, 71.5, -180.0, -129.0),
		box(51.0, 55.5, 172.0, 180.0),
		box(51.0, 55.5, -180.0, -129.0),
	}},
	{Code: RegionHI, Name: "Hawaii", boxes: []*geom.Bounds{
		box(18.0, 22.5, -161.0, -154.0),
	}},
	{Code: RegionPR, Name: "Puerto Rico", boxes: []*geom.Bounds{
		box(17.8, 18.6, -67.5, -65.0),
	}},
	{Code: RegionVI, Name: "U.S. Virgin Islands", boxes: []*geom.Bounds{
		box(17.6, 18.5, -65.2, -64.5),
	}},
	{Code: RegionGU, Name: "Guam", boxes: []*geom.Bounds{
		box(13.2, 13.7, 144.6, 145.0),
	}},
	{Code: RegionAS, Name: "American Samoa", boxes: []*geom.Bounds{
		box(-14.7, -14.0, -171.2, -169.4),
	}},
	{Code: RegionMP, Name: "Northern Mariana Islands", boxes: []*geom.Bounds{
		box(14.0, 20.6, 144.8, 146.1),
	}},
}

// Oceans are large mid-ocean rectangles far from any coastline.
var Oceans = []Region{
	{Code: "central_pacific", Name: "Central Pacific", boxes: []*geom.Bounds{
		box(-30.0, 30.0, -180.0, -130.0),
	}},
	{Code: "central_atlantic", Name: "Central Atlantic", boxes: []*geom.Bounds{
		box(-40.0, 40.0, -50.0, -10.0),
	}},
	{Code: "southern", Name: "Southern Ocean", boxes: []*geom.Bounds{
		box(-90.0, math.Nextafter(-60.0, -90.0), -180.0, 180.0),
	}},
	{Code: "indian", Name: "Indian Ocean", boxes: []*geom.Bounds{
		box(-30.0, 10.0, 60.0, 90.0),
	}},
}

// Landmasses are conservative continental interiors.
var Landmasses = []Region{
	{Code: "north_america", Name: "North America", boxes: []*geom.Bounds{box(30.0, 60.0, -120.0, -75.0)}},
	{Code: "south_america", Name: "South America", boxes: []*geom.Bounds{box(-40.0, 10.0, -75.0, -35.0)}},
	{Code: "africa", Name: "Africa", boxes: []*geom.Bounds{box(-30.0, 30.0, 10.0, 45.0)}},
	{Code: "europe", Name: "Europe", boxes: []*geom.Bounds{box(35.0, 65.0, -5.0, 40.0)}},
	{Code: "asia", Name: "Asia", boxes: []*geom.Bounds{box(20.0, 65.0, 60.0, 140.0)}},
	{Code: "australia", Name: "Australia", boxes: []*geom.Bounds{box(-40.0, -15.0, 115.0, 150.0)}},
}

// firstMatch returns the first region containing the point.
func firstMatch(regions []Region, lat, lon float64) (Region, bool) {
	for _, r := range regions {
		if r.Contains(lat, lon) {
			return r, true
		}
	}
	return Region{}, false
}

// TerritoryRegion returns the territory subdivision code for a point.
func TerritoryRegion(lat, lon float64) (string, bool) {
	r, ok := firstMatch(Territories, lat, lon)
	return r.Code, ok
}

// IsLand returns true inside a landmass box, false inside an ocean box and
// nil (unknown) everywhere else. Ocean boxes win over landmass boxes.
func IsLand(lat, lon float64) *bool {
	if _, ok := firstMatch(Oceans, lat, lon); ok {
		v := false
		return &v
	}
	if _, ok := firstMatch(Landmasses, lat, lon); ok {
		v := true
		return &v
	}
	return nil
}

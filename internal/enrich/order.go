package enrich

import (
	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/elevation"
)

// Default provider orders by classification.
var (
	territoryLandOrder    = []string{elevation.NameUSGS, elevation.NameGoogle, elevation.NameOpenTopoData, elevation.NameOSM}
	territoryNonLandOrder = []string{elevation.NameGoogle, elevation.NameOpenTopoData, elevation.NameOSM, elevation.NameUSGS}
	globalOrder           = []string{elevation.NameGoogle, elevation.NameOpenTopoData, elevation.NameOSM}
)

// DefaultOrder returns the classification-driven provider order. The
// territory-local provider leads only for points known to be on land inside
// the territory; outside it is not tried at all.
func DefaultOrder(c model.CoordinateClassification) []string {
	var order []string
	switch {
	case c.IsKnownTerritory && c.LikelyLand():
		order = territoryLandOrder
	case c.IsKnownTerritory:
		order = territoryNonLandOrder
	default:
		order = globalOrder
	}
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// registered is the subset of the registry ordering needs.
type registered interface {
	Has(name string) bool
}

// SelectProviders puts the caller's registered preferences first, in their
// order, then the remaining default-order providers. Unregistered names are
// dropped and no name appears twice.
func SelectProviders(c model.CoordinateClassification, preferred []string, reg registered) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] || !reg.Has(name) {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, name := range preferred {
		add(name)
	}
	for _, name := range DefaultOrder(c) {
		add(name)
	}
	return out
}

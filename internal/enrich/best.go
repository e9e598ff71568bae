package enrich

import (
	"sort"

	"github.com/sells-group/biosample-enricher/internal/model"
)

// noResolution sorts observations without a resolution after all others.
const noResolution = 999999.0

// PickBest returns the OK observation closest to the input, finer resolution
// breaking ties. A missing distance counts as zero. Returns nil when no
// observation succeeded.
func PickBest(obs []model.Observation) *model.ElevationResult {
	var ok []model.Observation
	for _, o := range obs {
		if o.OK() {
			ok = append(ok, o)
		}
	}
	if len(ok) == 0 {
		return nil
	}

	sort.SliceStable(ok, func(i, j int) bool {
		di, dj := orDefault(ok[i].DistanceToInputM, 0), orDefault(ok[j].DistanceToInputM, 0)
		if di != dj {
			return di < dj
		}
		return orDefault(ok[i].SpatialResolutionM, noResolution) < orDefault(ok[j].SpatialResolutionM, noResolution)
	})

	best := ok[0]
	return &model.ElevationResult{
		ElevationMeters:    *best.ValueNumeric,
		Provider:           best.Provider.Name,
		DistanceToInputM:   best.DistanceToInputM,
		SpatialResolutionM: best.SpatialResolutionM,
		VerticalDatum:      best.VerticalDatum,
		Location:           best.MeasurementLocation,
		CacheUsed:          best.CacheUsed,
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

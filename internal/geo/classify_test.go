package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	code  string
	found bool
	err   error
	calls int
}

func (s *stubLookup) LookupCountry(context.Context, float64, float64) (string, bool, error) {
	s.calls++
	return s.code, s.found, s.err
}

func TestClassifyBoxes_Territories(t *testing.T) {
	tests := []struct {
		name   string
		lat    float64
		lon    float64
		region string
	}{
		{"mount rushmore", 43.8791, -103.4591, RegionCONUS},
		{"san francisco", 37.7749, -122.4194, RegionCONUS},
		{"anchorage", 61.2181, -149.9003, RegionAK},
		{"adak west of antimeridian", 51.88, -176.66, RegionAK},
		{"attu east of antimeridian", 52.9, 173.2, RegionAK},
		{"honolulu", 21.3069, -157.8583, RegionHI},
		{"san juan", 18.4655, -66.1057, RegionPR},
		{"st thomas", 18.3381, -64.8941, RegionVI},
		{"hagatna", 13.4443, 144.7937, RegionGU},
		{"pago pago", -14.2756, -170.702, RegionAS},
		{"saipan", 15.1850, 145.7467, RegionMP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyBoxes(tt.lat, tt.lon)
			assert.True(t, c.IsKnownTerritory)
			require.NotNil(t, c.RegionCode)
			assert.Equal(t, tt.region, *c.RegionCode)
			assert.GreaterOrEqual(t, c.Confidence, 0.9)
			assert.Equal(t, MethodBoundingBox, c.Method)
		})
	}
}

func TestClassifyBoxes_Outside(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"london", 51.5074, -0.1278},
		{"tokyo", 35.6762, 139.6503},
		{"sydney", -33.8688, 151.2093},
		{"mid atlantic", 0, -30},
		{"vancouver", 49.2827, -123.1207 - 2}, // west of the CONUS box
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyBoxes(tt.lat, tt.lon)
			assert.False(t, c.IsKnownTerritory)
			assert.Nil(t, c.RegionCode)
		})
	}
}

func TestIsLand(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
		want *bool
	}{
		{"central pacific", 0, -150, boolPtr(false)},
		{"pacific east of cutoff", 0, -125, nil},
		{"central atlantic", 10, -30, boolPtr(false)},
		{"southern ocean", -65, 0, boolPtr(false)},
		{"southern ocean edge", -60, 0, nil},
		{"indian ocean", -10, 75, boolPtr(false)},
		{"kansas", 38.5, -98, boolPtr(true)},
		{"brazil", -10, -50, boolPtr(true)},
		{"kenya", 0, 37, boolPtr(true)},
		{"germany", 51, 10, boolPtr(true)},
		{"mongolia", 47, 105, boolPtr(true)},
		{"central australia", -25, 134, boolPtr(true)},
		{"near coast unknown", 40.7, -73.9, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsLand(tt.lat, tt.lon)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestClassifier_OfflineMatchesBoxes(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify(context.Background(), 43.8791, -103.4591)
	assert.Equal(t, ClassifyBoxes(43.8791, -103.4591), got)
	assert.True(t, got.LikelyLand())

	london := c.Classify(context.Background(), 51.5074, -0.1278)
	assert.False(t, london.IsKnownTerritory)
}

func TestClassifier_LookupSuccess(t *testing.T) {
	lookup := &stubLookup{code: "us", found: true}
	c := NewClassifier(lookup)

	got := c.Classify(context.Background(), 61.2181, -149.9003)
	assert.True(t, got.IsKnownTerritory)
	require.NotNil(t, got.RegionCode)
	assert.Equal(t, RegionAK, *got.RegionCode)
	assert.True(t, got.LikelyLand())
	assert.Equal(t, "US", got.CountryCode)
	assert.InDelta(t, LookupConfidence, got.Confidence, 1e-9)
	assert.Equal(t, MethodReverseLookup, got.Method)
	assert.Equal(t, 1, lookup.calls)
}

func TestClassifier_LookupForeign(t *testing.T) {
	c := NewClassifier(&stubLookup{code: "gb", found: true})

	got := c.Classify(context.Background(), 51.5074, -0.1278)
	assert.False(t, got.IsKnownTerritory)
	assert.Nil(t, got.RegionCode)
	assert.Equal(t, "GB", got.CountryCode)
	assert.True(t, got.LikelyLand())
}

func TestClassifier_LookupOcean(t *testing.T) {
	c := NewClassifier(&stubLookup{found: false})

	got := c.Classify(context.Background(), 30.0, -40.0)
	assert.False(t, got.IsKnownTerritory)
	require.NotNil(t, got.IsLand)
	assert.False(t, *got.IsLand)
	assert.InDelta(t, OceanConfidence, got.Confidence, 1e-9)
}

func TestClassifier_LookupFailureFallsBack(t *testing.T) {
	c := NewClassifier(&stubLookup{err: errors.New("503 service unavailable")})

	got := c.Classify(context.Background(), 43.8791, -103.4591)
	assert.True(t, got.IsKnownTerritory)
	require.NotNil(t, got.RegionCode)
	assert.Equal(t, RegionCONUS, *got.RegionCode)
	assert.InDelta(t, FallbackConfidence, got.Confidence, 1e-9)
	assert.Equal(t, MethodLookupFallback, got.Method)
}

func TestClassifier_InvalidCoordinates(t *testing.T) {
	lookup := &stubLookup{code: "us", found: true}
	c := NewClassifier(lookup)

	got := c.Classify(context.Background(), 123, 0)
	assert.False(t, got.IsKnownTerritory)
	assert.Nil(t, got.RegionCode)
	assert.Nil(t, got.IsLand)
	assert.Equal(t, 0, lookup.calls)
}

func TestServiceLimiter_SpacesCallsPerService(t *testing.T) {
	l := NewServiceLimiter(80 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "nominatim"))
	require.NoError(t, l.Wait(ctx, "other"))
	assert.Less(t, time.Since(start), 60*time.Millisecond, "distinct services do not block each other")

	require.NoError(t, l.Throttle("nominatim")(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestServiceLimiter_ContextCancel(t *testing.T) {
	l := NewServiceLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, "svc"))
	cancel()
	assert.Error(t, l.Wait(ctx, "svc"))
}

package aoi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func radiusAOI(id string) AOI {
	return AOI{
		POIID:        id,
		Country:      "US",
		City:         "Austin",
		Latitude:     30.27,
		Longitude:    -97.74,
		RadiusMeters: 500,
	}
}

func polygonAOI(id string) AOI {
	return AOI{
		POIID:     id,
		Country:   "CA",
		City:      "Toronto",
		Latitude:  43.65,
		Longitude: -79.38,
		Polygon: []Point{
			{-79.40, 43.64}, {-79.36, 43.64}, {-79.36, 43.67}, {-79.40, 43.64},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AOI)
		base    AOI
		wantErr error
	}{
		{name: "valid radius", base: radiusAOI("a"), mutate: func(a *AOI) {}},
		{name: "valid polygon", base: polygonAOI("b"), mutate: func(a *AOI) {}},
		{
			name: "no geometry", base: radiusAOI("c"),
			mutate:  func(a *AOI) { a.RadiusMeters = 0 },
			wantErr: ErrNoGeometry,
		},
		{
			name: "both geometries", base: radiusAOI("d"),
			mutate:  func(a *AOI) { a.Polygon = polygonAOI("x").Polygon },
			wantErr: ErrAmbiguousGeometry,
		},
		{
			name: "negative radius", base: radiusAOI("e"),
			mutate:  func(a *AOI) { a.RadiusMeters = -10 },
			wantErr: ErrInvalidRadius,
		},
		{
			name: "latitude out of range", base: radiusAOI("f"),
			mutate:  func(a *AOI) { a.Latitude = 91 },
			wantErr: ErrInvalidCoordinates,
		},
		{
			name: "longitude out of range", base: radiusAOI("g"),
			mutate:  func(a *AOI) { a.Longitude = -181 },
			wantErr: ErrInvalidCoordinates,
		},
		{
			name: "too few polygon vertices", base: polygonAOI("h"),
			mutate:  func(a *AOI) { a.Polygon = a.Polygon[:3] },
			wantErr: ErrInvalidPolygon,
		},
		{
			name: "unclosed polygon ring", base: polygonAOI("i"),
			mutate: func(a *AOI) {
				a.Polygon = append([]Point{}, a.Polygon...)
				a.Polygon[len(a.Polygon)-1] = Point{-79.30, 43.60}
			},
			wantErr: ErrInvalidPolygon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.base
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateRequiredFields(t *testing.T) {
	a := radiusAOI("a")
	a.POIID = "  "
	require.Error(t, a.Validate())

	a = radiusAOI("a")
	a.City = ""
	require.Error(t, a.Validate())
}

func TestKind(t *testing.T) {
	r := radiusAOI("a")
	assert.Equal(t, KindRadius, r.Kind())

	p := polygonAOI("b")
	assert.Equal(t, KindPolygon, p.Kind())
}

func TestPathSegments(t *testing.T) {
	a := AOI{Country: "US", StateProvince: "New South Wales", City: "Logan City"}
	country, state, city := a.PathSegments()
	assert.Equal(t, "us", country)
	assert.Equal(t, "new_south_wales", state)
	assert.Equal(t, "logan_city", city)

	a = AOI{Country: "CA", City: "Toronto"}
	_, state, _ = a.PathSegments()
	assert.Equal(t, "", state)
}

func TestFileRegistryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"poi_id": "austin-dt", "country": "US", "state_province": "TX", "city": "Austin",
   "latitude": 30.27, "longitude": -97.74, "radius_meters": 1500}
]`), 0o644))

	aois, err := NewFileRegistry(path).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, aois, 1)
	assert.Equal(t, "austin-dt", aois[0].POIID)
	assert.Equal(t, 1500.0, aois[0].RadiusMeters)
}

func TestFileRegistryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`- poi_id: portland-dt
  country: US
  state_province: OR
  city: Portland
  latitude: 45.52
  longitude: -122.68
  radius_meters: 1200
`), 0o644))

	aois, err := NewFileRegistry(path).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, aois, 1)
	assert.Equal(t, "portland-dt", aois[0].POIID)
}

func TestFileRegistryRejectsInvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"poi_id": "ok", "country": "US", "city": "Austin",
   "latitude": 30.27, "longitude": -97.74, "radius_meters": 500},
  {"poi_id": "broken", "country": "US", "city": "Austin",
   "latitude": 30.27, "longitude": -97.74}
]`), 0o644))

	_, err := NewFileRegistry(path).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1")
	assert.True(t, errors.Is(err, ErrNoGeometry))
}

func TestFileRegistryMissingFile(t *testing.T) {
	_, err := NewFileRegistry(filepath.Join(t.TempDir(), "nope.json")).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStaticRegistryReturnsCopy(t *testing.T) {
	reg := StaticRegistry{radiusAOI("a")}
	snap, err := reg.Snapshot(context.Background())
	require.NoError(t, err)

	snap[0].POIID = "mutated"
	assert.Equal(t, "a", reg[0].POIID)
}

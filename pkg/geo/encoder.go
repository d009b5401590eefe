// Package geo converts AOIs into the vendor's wire geometry descriptors.
//
// The vendor accepts two descriptor lists per job: geo_radius for circles and
// geo_json for polygons. Encoding is a pure function over the AOI list; all
// I/O stays in the job client.
package geo

import (
	"fmt"

	"github.com/qolidata/mobsync/pkg/aoi"
)

// RadiusDescriptor is one geo_radius entry.
type RadiusDescriptor struct {
	POIID            string  `json:"poi_id"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	DistanceInMeters float64 `json:"distance_in_meters"`
}

// PolygonGeometry is a GeoJSON Polygon geometry object.
type PolygonGeometry struct {
	Type        string        `json:"type"`
	Coordinates [][]aoi.Point `json:"coordinates"`
}

// PolygonDescriptor is one geo_json entry.
type PolygonDescriptor struct {
	POIID   string          `json:"poi_id"`
	GeoJSON PolygonGeometry `json:"geo_json"`
}

// Geometries carries the encoded descriptor lists for one vendor job.
// Either list may be empty; both empty means the chunk had no AOIs, which the
// partitioner never produces.
type Geometries struct {
	Radius  []RadiusDescriptor  `json:"geo_radius,omitempty"`
	Polygon []PolygonDescriptor `json:"geo_json,omitempty"`
}

// Count returns the total number of descriptors.
func (g *Geometries) Count() int {
	return len(g.Radius) + len(g.Polygon)
}

// Encode converts an AOI list to vendor descriptors.
//
// Each AOI yields exactly one descriptor: radius AOIs become geo_radius
// entries, polygon AOIs become geo_json entries. Duplicate poi_ids within the
// list fail encoding since the vendor uses poi_id to tag output rows.
func Encode(aois []aoi.AOI) (*Geometries, error) {
	out := &Geometries{}
	seen := make(map[string]struct{}, len(aois))

	for i := range aois {
		a := &aois[i]
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[a.POIID]; dup {
			return nil, fmt.Errorf("duplicate poi_id %q", a.POIID)
		}
		seen[a.POIID] = struct{}{}

		switch a.Kind() {
		case aoi.KindRadius:
			out.Radius = append(out.Radius, RadiusDescriptor{
				POIID:            a.POIID,
				Latitude:         a.Latitude,
				Longitude:        a.Longitude,
				DistanceInMeters: a.RadiusMeters,
			})
		case aoi.KindPolygon:
			out.Polygon = append(out.Polygon, PolygonDescriptor{
				POIID: a.POIID,
				GeoJSON: PolygonGeometry{
					Type:        "Polygon",
					Coordinates: [][]aoi.Point{a.Polygon},
				},
			})
		}
	}

	return out, nil
}

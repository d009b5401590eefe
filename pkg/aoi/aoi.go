// Package aoi defines areas of interest and the registry they are read from.
//
// An AOI is a geographic area (circle or polygon) for which mobility data is
// requested from the vendor. The engine treats the registry as an external
// collaborator: it reads a snapshot at run start and never writes back.
package aoi

import (
	"errors"
	"fmt"
	"strings"
)

// GeometryKind identifies how an AOI's boundary is described.
type GeometryKind string

const (
	// KindRadius is a circle: center point plus radius in meters.
	KindRadius GeometryKind = "radius"

	// KindPolygon is an arbitrary closed ring of lon/lat vertices.
	KindPolygon GeometryKind = "polygon"
)

// Point is a single polygon vertex in lon/lat order (GeoJSON convention).
type Point [2]float64

// Lon returns the longitude component.
func (p Point) Lon() float64 { return p[0] }

// Lat returns the latitude component.
func (p Point) Lat() float64 { return p[1] }

// AOI is one area of interest from the city registry.
//
// Exactly one of RadiusMeters/Polygon is set. POIID tags the AOI in vendor
// requests and is echoed back in output rows; it must be unique within a run.
type AOI struct {
	POIID         string  `json:"poi_id" yaml:"poi_id"`
	Country       string  `json:"country" yaml:"country"`
	StateProvince string  `json:"state_province,omitempty" yaml:"state_province,omitempty"`
	City          string  `json:"city" yaml:"city"`
	Latitude      float64 `json:"latitude" yaml:"latitude"`
	Longitude     float64 `json:"longitude" yaml:"longitude"`

	// RadiusMeters is set iff the AOI is a circle.
	RadiusMeters float64 `json:"radius_meters,omitempty" yaml:"radius_meters,omitempty"`

	// Polygon is set iff the AOI is a polygon. It is a closed ring: the
	// first and last vertex are equal.
	Polygon []Point `json:"polygon,omitempty" yaml:"polygon,omitempty"`
}

// Validation errors.
var (
	// ErrNoGeometry indicates neither radius nor polygon is set.
	ErrNoGeometry = errors.New("aoi has no geometry")

	// ErrAmbiguousGeometry indicates both radius and polygon are set.
	ErrAmbiguousGeometry = errors.New("aoi has both radius and polygon")

	// ErrInvalidCoordinates indicates lat/lon outside valid ranges.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrInvalidRadius indicates a non-positive radius.
	ErrInvalidRadius = errors.New("radius must be positive")

	// ErrInvalidPolygon indicates an empty or unclosed polygon ring.
	ErrInvalidPolygon = errors.New("invalid polygon ring")
)

// Kind returns the geometry kind. Call Validate first; Kind on an AOI with
// both or neither geometry is undefined (polygon wins).
func (a *AOI) Kind() GeometryKind {
	if len(a.Polygon) > 0 {
		return KindPolygon
	}
	return KindRadius
}

// Validate checks the AOI invariants described in the package doc.
func (a *AOI) Validate() error {
	if strings.TrimSpace(a.POIID) == "" {
		return fmt.Errorf("aoi %s/%s: poi_id is required", a.Country, a.City)
	}
	if strings.TrimSpace(a.Country) == "" || strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("aoi %q: country and city are required", a.POIID)
	}
	if a.Latitude < -90 || a.Latitude > 90 || a.Longitude < -180 || a.Longitude > 180 {
		return fmt.Errorf("aoi %q: %w: lat=%v lon=%v", a.POIID, ErrInvalidCoordinates, a.Latitude, a.Longitude)
	}

	hasRadius := a.RadiusMeters != 0
	hasPolygon := len(a.Polygon) > 0
	switch {
	case hasRadius && hasPolygon:
		return fmt.Errorf("aoi %q: %w", a.POIID, ErrAmbiguousGeometry)
	case !hasRadius && !hasPolygon:
		return fmt.Errorf("aoi %q: %w", a.POIID, ErrNoGeometry)
	case hasRadius && a.RadiusMeters < 0:
		return fmt.Errorf("aoi %q: %w: %v", a.POIID, ErrInvalidRadius, a.RadiusMeters)
	case hasPolygon:
		if len(a.Polygon) < 4 {
			return fmt.Errorf("aoi %q: %w: need at least 4 vertices, got %d", a.POIID, ErrInvalidPolygon, len(a.Polygon))
		}
		if a.Polygon[0] != a.Polygon[len(a.Polygon)-1] {
			return fmt.Errorf("aoi %q: %w: ring is not closed", a.POIID, ErrInvalidPolygon)
		}
	}
	return nil
}

// PathSegments returns the normalized destination path components for this
// AOI: country, state/province (may be empty), city. Names are lowercased
// with spaces replaced by underscores so they are stable S3 key segments.
func (a *AOI) PathSegments() (country, state, city string) {
	return normalizeSegment(a.Country), normalizeSegment(a.StateProvince), normalizeSegment(a.City)
}

func normalizeSegment(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.ReplaceAll(s, " ", "_")
}

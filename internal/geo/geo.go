// Package geo selects leads that fall inside an area drawn on the map.
//
// Selection runs in two passes: a cheap bounding-box filter shrinks the
// candidate set, then an exact even-odd point-in-polygon test decides.
// Points lying exactly on an edge or vertex count as inside.
package geo

import (
	"math"

	"scouter/internal/model"
)

// Vertex is a polygon corner.
type Vertex = model.Coordinate

const edgeEpsilon = 1e-12

// Bounds is an axis-aligned rectangle in degrees.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether the coordinate lies in b, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.South && lat <= b.North && lng >= b.West && lng <= b.East
}

// BoundsOf returns the bounding box of vertices. Empty input yields zero Bounds.
func BoundsOf(vertices []Vertex) Bounds {
	if len(vertices) == 0 {
		return Bounds{}
	}
	b := Bounds{
		South: vertices[0].Lat, North: vertices[0].Lat,
		West: vertices[0].Lng, East: vertices[0].Lng,
	}
	for _, v := range vertices[1:] {
		b.South = math.Min(b.South, v.Lat)
		b.North = math.Max(b.North, v.Lat)
		b.West = math.Min(b.West, v.Lng)
		b.East = math.Max(b.East, v.Lng)
	}
	return b
}

// Area is a shape drawn by an operator. It is immutable once created.
type Area struct {
	ID       string
	Kind     model.AreaKind
	Vertices []Vertex
	Bounds   Bounds
}

// NewArea builds a polygon area. A repeated closing vertex is dropped.
func NewArea(id string, vertices []Vertex) Area {
	ring := openRing(vertices)
	return Area{
		ID:       id,
		Kind:     model.AreaPolygon,
		Vertices: ring,
		Bounds:   BoundsOf(ring),
	}
}

// NewRectangle builds a rectangle area from its bounds.
func NewRectangle(id string, b Bounds) Area {
	return Area{
		ID:   id,
		Kind: model.AreaRectangle,
		Vertices: []Vertex{
			{Lat: b.South, Lng: b.West},
			{Lat: b.North, Lng: b.West},
			{Lat: b.North, Lng: b.East},
			{Lat: b.South, Lng: b.East},
		},
		Bounds: b,
	}
}

// Valid reports whether the area can select anything.
func (a Area) Valid() bool {
	if len(a.Vertices) < 3 {
		return false
	}
	for _, v := range a.Vertices {
		if !finite(v.Lat) || !finite(v.Lng) {
			return false
		}
	}
	return true
}

// FromModel restores an area loaded from storage.
func FromModel(m model.Area) Area {
	return Area{
		ID:       m.ID,
		Kind:     m.Kind,
		Vertices: openRing(m.Vertices),
		Bounds:   Bounds{South: m.South, West: m.West, North: m.North, East: m.East},
	}
}

// ToModel converts the area into its persisted form.
func (a Area) ToModel(owner, name string) model.Area {
	return model.Area{
		ID:       a.ID,
		Owner:    owner,
		Name:     name,
		Kind:     a.Kind,
		Vertices: append([]Vertex(nil), a.Vertices...),
		South:    a.Bounds.South,
		West:     a.Bounds.West,
		North:    a.Bounds.North,
		East:     a.Bounds.East,
	}
}

// Selection is the set of leads matched by an area.
type Selection struct {
	AreaID  string
	Matched []model.Lead
}

// Eligible reports whether a lead can take part in spatial filtering.
func Eligible(l model.Lead) bool {
	return l.HasLocation()
}

// BBoxFilter returns the leads inside b, preserving input order.
// Leads without a usable geotag are skipped.
func BBoxFilter(leads []model.Lead, b Bounds) []model.Lead {
	out := make([]model.Lead, 0)
	for _, l := range leads {
		if !Eligible(l) {
			continue
		}
		if b.Contains(*l.Lat, *l.Lng) {
			out = append(out, l)
		}
	}
	return out
}

// PointsInPolygon returns the candidates inside polygon, preserving order.
// A polygon with fewer than 3 vertices selects nothing.
func PointsInPolygon(candidates []model.Lead, polygon []Vertex) []model.Lead {
	out := make([]model.Lead, 0)
	ring := openRing(polygon)
	if len(ring) < 3 {
		return out
	}
	for _, l := range candidates {
		if !Eligible(l) {
			continue
		}
		if Contains(ring, Vertex{Lat: *l.Lat, Lng: *l.Lng}) {
			out = append(out, l)
		}
	}
	return out
}

// Select runs the bounding-box pre-filter followed by the exact test.
func Select(a Area, leads []model.Lead) Selection {
	sel := Selection{AreaID: a.ID, Matched: make([]model.Lead, 0)}
	if !a.Valid() {
		return sel
	}
	candidates := BBoxFilter(leads, a.Bounds)
	if a.Kind == model.AreaRectangle {
		sel.Matched = candidates
		return sel
	}
	sel.Matched = PointsInPolygon(candidates, a.Vertices)
	return sel
}

// Contains reports whether p lies inside ring using the even-odd rule.
// Edges and vertices are inside.
func Contains(ring []Vertex, p Vertex) bool {
	ring = openRing(ring)
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p Vertex) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng)-edgeEpsilon && p.Lng <= math.Max(a.Lng, b.Lng)+edgeEpsilon &&
		p.Lat >= math.Min(a.Lat, b.Lat)-edgeEpsilon && p.Lat <= math.Max(a.Lat, b.Lat)+edgeEpsilon
}

func openRing(vertices []Vertex) []Vertex {
	ring := append([]Vertex(nil), vertices...)
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

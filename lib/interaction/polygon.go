package interaction

import (
	"flaketransfer/lib/geometry"

	"github.com/golang/geo/r2"
)

// Profile is the derived summary of a closed polygon.
type Profile struct {
	Center r2.Point
	Points []r2.Point
	Edges  []float64
	Angle  float64
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	p.Points = append([]r2.Point(nil), p.Points...)
	p.Edges = append([]float64(nil), p.Edges...)
	return p
}

func newProfile(ring []r2.Point, angle float64) Profile {
	pts := append([]r2.Point(nil), ring...)
	return Profile{
		Center: geometry.Centroid(pts),
		Points: pts,
		Edges:  geometry.EdgeLengths(pts),
		Angle:  angle,
	}
}

// VertexResult reports what a click did to an open polygon.
type VertexResult int

const (
	VertexIgnored VertexResult = iota
	VertexAdded
	PolygonClosed
)

// Polygon is a user-drawn outline in frame coordinates. Once closed the last
// vertex repeats the first and the polygon only moves as a rigid body.
type Polygon struct {
	vertices []r2.Point
	closed   bool
	angle    float64
	profile  Profile
}

func (p *Polygon) Empty() bool  { return len(p.vertices) == 0 }
func (p *Polygon) Closed() bool { return p.closed }
func (p *Polygon) Len() int     { return len(p.vertices) }

// Vertices returns a copy of the vertex list, closing vertex included.
func (p *Polygon) Vertices() []r2.Point {
	return append([]r2.Point(nil), p.vertices...)
}

// Ring returns the distinct vertices of the polygon.
func (p *Polygon) Ring() []r2.Point {
	if p.closed {
		return append([]r2.Point(nil), p.vertices[:len(p.vertices)-1]...)
	}
	return p.Vertices()
}

// Profile returns a copy of the current profile. Open polygons have an
// empty profile.
func (p *Polygon) Profile() Profile {
	return p.profile.Clone()
}

// ClosesAt reports whether a click at pt would close the polygon.
func (p *Polygon) ClosesAt(pt r2.Point, radius float64) bool {
	return !p.closed && len(p.vertices) >= 3 && geometry.WithinAttraction(pt, p.vertices[0], radius)
}

// AddVertex applies a click to an open polygon. Closing takes priority over
// every other rule; a click near any existing vertex is ignored.
func (p *Polygon) AddVertex(pt r2.Point, radius float64) VertexResult {
	if p.closed {
		return VertexIgnored
	}
	if p.ClosesAt(pt, radius) {
		p.vertices = append(p.vertices, p.vertices[0])
		p.closed = true
		p.angle = 0
		p.refresh()
		return PolygonClosed
	}
	if _, near := geometry.Nearest(p.vertices, pt, radius); near {
		return VertexIgnored
	}
	p.vertices = append(p.vertices, pt)
	return VertexAdded
}

// Contains reports whether pt is inside the closed polygon.
func (p *Polygon) Contains(pt r2.Point) bool {
	return p.closed && geometry.Contains(p.vertices, pt)
}

// Translate moves every vertex by d.
func (p *Polygon) Translate(d r2.Point) {
	p.vertices = geometry.Translate(p.vertices, d)
	p.refresh()
}

// Rotate turns a closed polygon about its center and accumulates the angle.
func (p *Polygon) Rotate(degrees float64) {
	if !p.closed {
		return
	}
	p.vertices = geometry.Rotate(p.vertices, p.profile.Center, degrees)
	// both copies of the first vertex rotate identically, keep them equal
	p.vertices[len(p.vertices)-1] = p.vertices[0]
	p.angle += degrees
	p.refresh()
}

// Reset empties the polygon.
func (p *Polygon) Reset() {
	*p = Polygon{}
}

// Clone returns an independent copy.
func (p *Polygon) Clone() Polygon {
	return Polygon{
		vertices: p.Vertices(),
		closed:   p.closed,
		angle:    p.angle,
		profile:  p.profile.Clone(),
	}
}

func (p *Polygon) refresh() {
	if !p.closed {
		p.profile = Profile{}
		return
	}
	p.profile = newProfile(p.Ring(), p.angle)
}

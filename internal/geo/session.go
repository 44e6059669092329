package geo

import (
	"errors"

	"scouter/internal/model"
)

// DefaultLiveLimit is the dataset size above which live previews skip the
// exact polygon test and show bounding-box candidates only.
const DefaultLiveLimit = 5000

// Draw session errors.
var (
	ErrNotDrawing     = errors.New("no drawing in progress")
	ErrAlreadyDrawing = errors.New("drawing already in progress")
	ErrTooFewVertices = errors.New("an area needs at least 3 vertices")
)

// State is the phase of a draw interaction.
type State int

// Draw states.
const (
	StateIdle State = iota
	StateDrawing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateDrawing:
		return "drawing"
	case StateFinalized:
		return "finalized"
	default:
		return "idle"
	}
}

// Preview is the live feedback shown while vertices are being added.
type Preview struct {
	Vertices   int
	Bounds     Bounds
	Candidates []model.Lead
	// Exact is false when Candidates is only the bounding-box approximation.
	Exact bool
	Heat  []HeatPoint
}

// Session tracks one draw interaction over a fixed set of leads.
// It is not safe for concurrent use.
type Session struct {
	state     State
	vertices  []Vertex
	points    []model.Lead
	liveLimit int
	cellSize  float64
}

// NewSession creates an idle session. Leads without a geotag are dropped
// up front. A non-positive liveLimit means DefaultLiveLimit.
func NewSession(leads []model.Lead, liveLimit int) *Session {
	if liveLimit <= 0 {
		liveLimit = DefaultLiveLimit
	}
	points := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if Eligible(l) {
			points = append(points, l)
		}
	}
	return &Session{
		points:    points,
		liveLimit: liveLimit,
		cellSize:  DefaultCellSize,
	}
}

// State returns the current phase.
func (s *Session) State() State { return s.state }

// Vertices returns a copy of the vertices drawn so far.
func (s *Session) Vertices() []Vertex {
	return append([]Vertex(nil), s.vertices...)
}

// Points returns the number of geotagged leads the session selects from.
func (s *Session) Points() int { return len(s.points) }

// Start begins a new drawing, discarding any previous finalized one.
func (s *Session) Start() error {
	if s.state == StateDrawing {
		return ErrAlreadyDrawing
	}
	s.state = StateDrawing
	s.vertices = nil
	return nil
}

// AddVertex appends a vertex and returns the updated preview.
func (s *Session) AddVertex(v Vertex) (Preview, error) {
	if s.state != StateDrawing {
		return Preview{}, ErrNotDrawing
	}
	s.vertices = append(s.vertices, v)
	return s.preview(), nil
}

// Undo removes the last vertex.
func (s *Session) Undo() (Preview, error) {
	if s.state != StateDrawing {
		return Preview{}, ErrNotDrawing
	}
	if len(s.vertices) > 0 {
		s.vertices = s.vertices[:len(s.vertices)-1]
	}
	return s.preview(), nil
}

// Finish closes the polygon and runs the exact selection. With fewer than
// 3 vertices the session stays in the drawing state.
func (s *Session) Finish(id string) (Area, Selection, error) {
	if s.state != StateDrawing {
		return Area{}, Selection{}, ErrNotDrawing
	}
	area := NewArea(id, s.vertices)
	if len(area.Vertices) < 3 {
		return Area{}, Selection{}, ErrTooFewVertices
	}
	s.state = StateFinalized
	return area, Select(area, s.points), nil
}

// Cancel discards the drawing in progress. Nothing is selected.
func (s *Session) Cancel() error {
	if s.state != StateDrawing {
		return ErrNotDrawing
	}
	s.state = StateIdle
	s.vertices = nil
	return nil
}

func (s *Session) preview() Preview {
	p := Preview{Vertices: len(s.vertices)}
	if len(s.vertices) == 0 {
		p.Candidates = make([]model.Lead, 0)
		return p
	}
	p.Bounds = BoundsOf(s.vertices)
	p.Candidates = BBoxFilter(s.points, p.Bounds)
	if len(s.vertices) >= 3 && len(s.points) <= s.liveLimit {
		p.Candidates = PointsInPolygon(p.Candidates, s.vertices)
		p.Exact = true
	}
	p.Heat = Heat(p.Candidates, s.cellSize)
	return p
}

// LivePreview computes a one-shot preview for an in-progress polygon
// without keeping session state.
func LivePreview(leads []model.Lead, vertices []Vertex, liveLimit int) Preview {
	s := NewSession(leads, liveLimit)
	s.state = StateDrawing
	s.vertices = append([]Vertex(nil), vertices...)
	return s.preview()
}
